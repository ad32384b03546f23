package vault

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/forest6511/facevault/pkg/audit"
	"github.com/forest6511/facevault/pkg/session"
	"github.com/forest6511/facevault/pkg/store"
)

// ImportBatch is a set of records created together by Import.
type ImportBatch struct {
	WebAccounts []WebAccountInput
	Notes       []NoteInput
}

// ImportStats counts the records Import created.
type ImportStats struct {
	WebAccounts int
	Notes       int
}

// Import creates every record of b in one transaction: either all of them
// are stored or none. Each record gets its own create event, followed by
// one summary event for the import.
func (v *Vault) Import(ctx context.Context, b ImportBatch) (ImportStats, error) {
	for i, in := range b.WebAccounts {
		if err := in.validate(); err != nil {
			return ImportStats{}, fmt.Errorf("web account %d: %w", i+1, err)
		}
	}
	for i, in := range b.Notes {
		if err := in.validate(); err != nil {
			return ImportStats{}, fmt.Errorf("note %d: %w", i+1, err)
		}
	}

	var stats ImportStats
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		stats = ImportStats{}
		for _, in := range b.WebAccounts {
			if _, err := v.insertWebAccount(ctx, tx, p, in); err != nil {
				return err
			}
			stats.WebAccounts++
		}
		for _, in := range b.Notes {
			if _, err := v.insertNote(ctx, tx, p, in); err != nil {
				return err
			}
			stats.Notes++
		}
		detail := fmt.Sprintf("%s web_accounts=%d notes=%d", audit.OpImport, stats.WebAccounts, stats.Notes)
		return v.record(ctx, tx, p, detail)
	})
	if err != nil {
		return ImportStats{}, err
	}

	v.log.Info("import complete",
		zap.Int("web_accounts", stats.WebAccounts), zap.Int("notes", stats.Notes))
	return stats, nil
}
