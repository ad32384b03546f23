// Package audit provides the encrypted, append-only event trail stored in
// the vault's logs table.
//
// Every row carries its timestamp and detail sealed under the actor's
// session key, plus an HMAC chain (sequence, previous MAC, MAC) per actor so
// that removed, reordered or edited rows are detected by Verify. The chain
// key is derived from the session key with HKDF and covers the ciphertext,
// so verification never needs to decrypt.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/facevault/pkg/crypto"
	"github.com/forest6511/facevault/pkg/store"
)

// Event details written by the vault.
const (
	OpLogin  = "Login"
	OpLogout = "Logout"

	OpNoteCreate = "note.create"
	OpNoteList   = "note.list"
	OpNoteUpdate = "note.update"
	OpNoteDelete = "note.delete"

	OpWebAccountCreate = "web_account.create"
	OpWebAccountList   = "web_account.list"
	OpWebAccountUpdate = "web_account.update"
	OpWebAccountDelete = "web_account.delete"

	OpBankAccountCreate = "bank_account.create"
	OpBankAccountList   = "bank_account.list"
	OpBankAccountUpdate = "bank_account.update"
	OpBankAccountDelete = "bank_account.delete"

	OpBankCardCreate = "bank_card.create"
	OpBankCardList   = "bank_card.list"
	OpBankCardUpdate = "bank_card.update"
	OpBankCardDelete = "bank_card.delete"

	OpContactBookCreate = "contact_book.create"
	OpContactBookList   = "contact_book.list"
	OpContactBookUpdate = "contact_book.update"
	OpContactBookDelete = "contact_book.delete"

	OpContactCreate = "contact.create"
	OpContactList   = "contact.list"
	OpContactUpdate = "contact.update"
	OpContactDelete = "contact.delete"

	OpAuditList   = "audit.list"
	OpAuditExport = "audit.export"
	OpImport      = "vault.import"
)

const (
	hmacInfo   = "audit-log-v1"
	genesisMAC = "genesis"
	timeLayout = time.RFC3339Nano
	formatJSON = "json"
	formatCSV  = "csv"
)

var (
	ErrHMACKey           = errors.New("audit: failed to derive HMAC key")
	ErrUnsupportedFormat = errors.New("audit: unsupported format")
)

// Actor identifies who an event is recorded for.
type Actor struct {
	ID        int64  // identity id
	SessionID string // login session that produced the event
}

// Entry is one decrypted audit row. When the row could not be opened with
// the supplied key, Err is set and Timestamp/Detail are zero.
type Entry struct {
	ID        int64     `json:"id"`
	Seq       int64     `json:"seq"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail"`
	Err       error     `json:"-"`
}

// MarshalJSON adds the row error as a string.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(e)}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return json.Marshal(out)
}

// Detail formats an operation with the id of the record it touched.
func Detail(op string, id int64) string {
	return fmt.Sprintf("%s #%d", op, id)
}

// Logger writes and reads audit rows through a caller-supplied transaction,
// so each event commits or rolls back together with the change it describes.
type Logger struct {
	now func() time.Time
	log *zap.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithZap sets the diagnostic logger.
func WithZap(z *zap.Logger) Option {
	return func(l *Logger) {
		if z != nil {
			l.log = z
		}
	}
}

// NewLogger creates a new audit logger.
func NewLogger(opts ...Option) *Logger {
	l := &Logger{
		now: time.Now,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record seals detail and the current time under key and appends a row for
// actor. Apart from an invalid key, it fails only when the store does.
func (l *Logger) Record(ctx context.Context, tx store.DBTX, actor Actor, key []byte, detail string) error {
	macKey, err := crypto.DeriveSubkey(key, hmacInfo)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHMACKey, err)
	}
	defer crypto.SecureWipe(macKey)

	ts := l.now().UTC().Format(timeLayout)
	tsBlob, err := crypto.EncryptField(key, ts)
	if err != nil {
		return fmt.Errorf("audit: failed to encrypt timestamp: %w", err)
	}
	detailBlob, err := crypto.EncryptField(key, detail)
	if err != nil {
		return fmt.Errorf("audit: failed to encrypt detail: %w", err)
	}

	seq, prev, err := chainHead(ctx, tx, actor.ID)
	if err != nil {
		return err
	}
	seq++

	mac := computeMAC(macKey, actor.ID, seq, actor.SessionID, tsBlob, detailBlob, prev)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO logs(event_user, session_id, event_timestamp, event_detail, seq, prev_mac, mac)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		actor.ID, actor.SessionID, tsBlob, detailBlob, seq, prev, mac)
	if err != nil {
		return fmt.Errorf("audit: failed to append event: %w", err)
	}

	l.log.Debug("audit event recorded", zap.Int64("actor", actor.ID), zap.Int64("seq", seq))
	return nil
}

// chainHead returns the last sequence number and MAC for an actor.
func chainHead(ctx context.Context, tx store.DBTX, actorID int64) (int64, string, error) {
	var seq int64
	var mac string
	err := tx.QueryRowContext(ctx,
		"SELECT seq, mac FROM logs WHERE event_user = ? ORDER BY seq DESC LIMIT 1",
		actorID).Scan(&seq, &mac)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, genesisMAC, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("audit: failed to read chain head: %w", err)
	}
	return seq, mac, nil
}

// computeMAC covers every stored column of a row except its id.
func computeMAC(macKey []byte, actorID, seq int64, sessionID string, tsBlob, detailBlob []byte, prev string) string {
	data := fmt.Sprintf("%d|%d|%s|%s|%s|%s",
		actorID,
		seq,
		sessionID,
		hex.EncodeToString(tsBlob),
		hex.EncodeToString(detailBlob),
		prev,
	)
	m := hmac.New(sha256.New, macKey)
	m.Write([]byte(data))
	return hex.EncodeToString(m.Sum(nil))
}

type row struct {
	id         int64
	sessionID  string
	tsBlob     []byte
	detailBlob []byte
	seq        int64
	prev       string
	mac        string
}

func readRows(ctx context.Context, tx store.DBTX, actorID int64) ([]row, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id_log, session_id, event_timestamp, event_detail, seq, prev_mac, mac
		 FROM logs WHERE event_user = ? ORDER BY seq`, actorID)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.sessionID, &r.tsBlob, &r.detailBlob, &r.seq, &r.prev, &r.mac); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}
	return out, nil
}

// List decrypts every event recorded for actorID in sequence order. Rows
// that do not open under key are returned with Err set; they never abort
// the listing.
func (l *Logger) List(ctx context.Context, tx store.DBTX, actorID int64, key []byte) ([]Entry, error) {
	rows, err := readRows(ctx, tx, actorID)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	failed := 0
	for _, r := range rows {
		e := Entry{ID: r.id, Seq: r.seq, SessionID: r.sessionID}
		if err := openRow(key, r, &e); err != nil {
			e.Err = fmt.Errorf("audit: event %d: %w", r.id, err)
			failed++
		}
		entries = append(entries, e)
	}

	if failed > 0 {
		l.log.Warn("audit events could not be decrypted",
			zap.Int64("actor", actorID), zap.Int("failed", failed))
	}
	return entries, nil
}

func openRow(key []byte, r row, e *Entry) error {
	ts, err := crypto.DecryptField(key, r.tsBlob)
	if err != nil {
		return err
	}
	detail, err := crypto.DecryptField(key, r.detailBlob)
	if err != nil {
		return err
	}
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return fmt.Errorf("audit: invalid timestamp: %w", err)
	}
	e.Timestamp = t
	e.Detail = detail
	return nil
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify checks the HMAC chain of an actor's events.
func (l *Logger) Verify(ctx context.Context, tx store.DBTX, actorID int64, key []byte) (*VerifyResult, error) {
	macKey, err := crypto.DeriveSubkey(key, hmacInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHMACKey, err)
	}
	defer crypto.SecureWipe(macKey)

	rows, err := readRows(ctx, tx, actorID)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesisMAC
	var expectedSeq int64 = 1

	for _, r := range rows {
		result.RecordsTotal++
		ok := true

		if r.seq != expectedSeq {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at event %d: expected %d, got %d", r.id, expectedSeq, r.seq))
		}
		if r.prev != expectedPrev {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at event %d: previous MAC does not match", r.id))
		}
		want := computeMAC(macKey, actorID, r.seq, r.sessionID, r.tsBlob, r.detailBlob, r.prev)
		if !hmac.Equal([]byte(want), []byte(r.mac)) {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at event %d: possible tampering", r.id))
		}

		if ok {
			result.RecordsVerified++
		} else {
			result.Valid = false
		}
		expectedPrev = r.mac
		expectedSeq = r.seq + 1
	}

	return result, nil
}
