package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// RequiredTables lists every table the vault schema must contain.
var RequiredTables = []string{
	"users",
	"notes",
	"web_account",
	"bank_account",
	"bank_card",
	"contact_book",
	"contact",
	"logs",
}

// IntegrityCheckResult holds the outcome of CheckIntegrity.
type IntegrityCheckResult struct {
	Valid            bool     `json:"valid"`
	DBExists         bool     `json:"db_exists"`
	DBIntegrity      bool     `json:"db_integrity"`
	PermissionsValid bool     `json:"permissions_valid"`
	Errors           []string `json:"errors,omitempty"`
}

// CheckIntegrity verifies:
//  1. Directory and database file permissions (0700 / 0600)
//  2. SQLite PRAGMA integrity_check
//  3. Presence of every required table
//  4. No rows violating foreign keys
//
// Problems are reported in the result; the error is reserved for failures
// to run the checks at all.
func (s *Store) CheckIntegrity(ctx context.Context) (*IntegrityCheckResult, error) {
	result := &IntegrityCheckResult{
		Valid:            true,
		PermissionsValid: true,
	}
	fail := func(msg string) {
		result.Valid = false
		result.Errors = append(result.Errors, msg)
	}

	if info, err := os.Stat(s.dir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			result.PermissionsValid = false
			fail(fmt.Sprintf("vault directory has insecure permissions: %04o (expected 0700)", perm))
		}
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		fail("database file not found: " + s.Path())
		return result, nil
	}
	result.DBExists = true
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		result.PermissionsValid = false
		fail(fmt.Sprintf("database file has insecure permissions: %04o (expected 0600)", perm))
	}

	// Opened without migrations so a damaged schema is reported, not repaired.
	db, err := sql.Open(driverName, s.Path()+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrUnavailable, err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		fail("database integrity check failed: " + err.Error())
		return result, nil
	}
	if integrity != "ok" {
		fail("database integrity check returned: " + integrity)
		return result, nil
	}

	tablesOK := true
	for _, table := range RequiredTables {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			tablesOK = false
			fail("required table not found: " + table)
		}
	}

	if tablesOK {
		rows, err := db.QueryContext(ctx, "PRAGMA foreign_key_check")
		if err != nil {
			fail("foreign key check failed: " + err.Error())
		} else {
			orphans := 0
			for rows.Next() {
				orphans++
			}
			rows.Close()
			if orphans > 0 {
				tablesOK = false
				fail(fmt.Sprintf("%d rows reference a missing parent", orphans))
			}
		}
	}

	result.DBIntegrity = tablesOK
	return result, nil
}
