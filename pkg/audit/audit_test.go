package audit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/facevault/pkg/crypto"
	"github.com/forest6511/facevault/pkg/store"
)

type fixture struct {
	store  *store.Store
	logger *Logger
	actor  Actor
	key    []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s := store.New(filepath.Join(t.TempDir(), "vault"))
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	var id int64
	err := s.Do(ctx, func(ctx context.Context, tx store.DBTX) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO users(username, kdf_salt, encoding) VALUES(?, ?, ?)",
			[]byte("n"), []byte("s"), []byte("e"))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		t.Fatalf("insert user failed: %v", err)
	}

	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	return &fixture{
		store:  s,
		logger: NewLogger(),
		actor:  Actor{ID: id, SessionID: "session-1"},
		key:    key,
	}
}

func (f *fixture) record(t *testing.T, details ...string) {
	t.Helper()
	for _, d := range details {
		err := f.store.Do(context.Background(), func(ctx context.Context, tx store.DBTX) error {
			return f.logger.Record(ctx, tx, f.actor, f.key, d)
		})
		if err != nil {
			t.Fatalf("Record(%q) failed: %v", d, err)
		}
	}
}

func (f *fixture) list(t *testing.T, key []byte) []Entry {
	t.Helper()
	var entries []Entry
	err := f.store.Do(context.Background(), func(ctx context.Context, tx store.DBTX) error {
		var err error
		entries, err = f.logger.List(ctx, tx, f.actor.ID, key)
		return err
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	return entries
}

func (f *fixture) verify(t *testing.T) *VerifyResult {
	t.Helper()
	var result *VerifyResult
	err := f.store.Do(context.Background(), func(ctx context.Context, tx store.DBTX) error {
		var err error
		result, err = f.logger.Verify(ctx, tx, f.actor.ID, f.key)
		return err
	})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	return result
}

func TestRecordAndList(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.logger = NewLogger(WithClock(func() time.Time { return fixed }))

	f.record(t, OpLogin, Detail(OpNoteCreate, 1), OpLogout)

	entries := f.list(t, f.key)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []string{OpLogin, "note.create #1", OpLogout}
	for i, e := range entries {
		if e.Err != nil {
			t.Fatalf("entry %d: unexpected error %v", i, e.Err)
		}
		if e.Detail != want[i] {
			t.Errorf("entry %d: detail = %q, want %q", i, e.Detail, want[i])
		}
		if e.Seq != int64(i+1) {
			t.Errorf("entry %d: seq = %d, want %d", i, e.Seq, i+1)
		}
		if !e.Timestamp.Equal(fixed) {
			t.Errorf("entry %d: timestamp = %v, want %v", i, e.Timestamp, fixed)
		}
		if e.SessionID != "session-1" {
			t.Errorf("entry %d: session = %q", i, e.SessionID)
		}
	}
}

func TestRecordStoresCiphertextOnly(t *testing.T) {
	f := newFixture(t)
	f.record(t, "Private note succesfully saved")

	err := f.store.Do(context.Background(), func(ctx context.Context, tx store.DBTX) error {
		var detail, ts []byte
		if err := tx.QueryRowContext(ctx,
			"SELECT event_detail, event_timestamp FROM logs").Scan(&detail, &ts); err != nil {
			return err
		}
		if strings.Contains(string(detail), "Private note") {
			t.Error("event detail stored in plaintext")
		}
		if strings.Contains(string(ts), time.Now().UTC().Format("2006-01-02")) {
			t.Error("event timestamp stored in plaintext")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
}

// TestListWrongKey checks that rows sealed under another key are reported
// per row instead of failing the whole listing.
func TestListWrongKey(t *testing.T) {
	f := newFixture(t)
	f.record(t, OpLogin, OpLogout)

	other := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(other); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	entries := f.list(t, other)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if !errors.Is(e.Err, crypto.ErrDecryptionFailed) {
			t.Errorf("entry %d: err = %v, want %v", i, e.Err, crypto.ErrDecryptionFailed)
		}
		if e.Detail != "" {
			t.Errorf("entry %d: detail leaked %q", i, e.Detail)
		}
	}
}

func TestListOtherActorIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.record(t, OpLogin)

	var entries []Entry
	err := f.store.Do(context.Background(), func(ctx context.Context, tx store.DBTX) error {
		var err error
		entries, err = f.logger.List(ctx, tx, f.actor.ID+1, f.key)
		return err
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries for other actor, got %d", len(entries))
	}
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")

	err := f.store.Do(context.Background(), func(ctx context.Context, tx store.DBTX) error {
		if err := f.logger.Record(ctx, tx, f.actor, f.key, OpLogin); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(f.list(t, f.key)); n != 0 {
		t.Errorf("expected rolled back event, got %d entries", n)
	}
}

func TestRecordInvalidKey(t *testing.T) {
	f := newFixture(t)

	err := f.store.Do(context.Background(), func(ctx context.Context, tx store.DBTX) error {
		return f.logger.Record(ctx, tx, f.actor, []byte("short"), OpLogin)
	})
	if !errors.Is(err, ErrHMACKey) {
		t.Errorf("expected ErrHMACKey, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	f.record(t, OpLogin, OpNoteList, OpLogout)

	result := f.verify(t)
	if !result.Valid {
		t.Errorf("expected valid chain, errors: %v", result.Errors)
	}
	if result.RecordsTotal != 3 || result.RecordsVerified != 3 {
		t.Errorf("expected 3/3 records, got %d/%d", result.RecordsVerified, result.RecordsTotal)
	}
}

func TestVerifyEmpty(t *testing.T) {
	f := newFixture(t)

	result := f.verify(t)
	if !result.Valid || result.RecordsTotal != 0 {
		t.Errorf("expected empty valid result, got %+v", result)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	testCases := []struct {
		name   string
		tamper string
	}{
		{"deleted row", "DELETE FROM logs WHERE seq = 2"},
		{"swapped detail", "UPDATE logs SET event_detail = (SELECT event_detail FROM logs WHERE seq = 1) WHERE seq = 3"},
		{"changed session", "UPDATE logs SET session_id = 'forged' WHERE seq = 2"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.record(t, OpLogin, OpNoteList, OpLogout)

			err := f.store.Do(context.Background(), func(ctx context.Context, tx store.DBTX) error {
				_, err := tx.ExecContext(ctx, tc.tamper)
				return err
			})
			if err != nil {
				t.Fatalf("tamper failed: %v", err)
			}

			result := f.verify(t)
			if result.Valid {
				t.Error("expected tampering to be detected")
			}
			if len(result.Errors) == 0 {
				t.Error("expected verification errors")
			}
		})
	}
}

func TestFilter(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{ID: 1, Timestamp: base},
		{ID: 2, Timestamp: base.Add(24 * time.Hour)},
		{ID: 3, Timestamp: base.Add(48 * time.Hour)},
		{ID: 4, Err: crypto.ErrDecryptionFailed},
	}

	if got := Filter(entries, time.Time{}, time.Time{}); len(got) != 4 {
		t.Errorf("unbounded filter: got %d entries, want 4", len(got))
	}

	got := Filter(entries, base.Add(time.Hour), base.Add(47*time.Hour))
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("bounded filter: got %+v", got)
	}
}

func TestExportJSON(t *testing.T) {
	entries := []Entry{
		{ID: 1, Seq: 1, SessionID: "s", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Detail: OpLogin},
		{ID: 2, Seq: 2, SessionID: "s", Err: crypto.ErrDecryptionFailed},
	}

	data, err := Export(entries, "json")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 records, got %d", len(decoded))
	}
	if decoded[0]["detail"] != OpLogin {
		t.Errorf("detail = %v", decoded[0]["detail"])
	}
	if _, ok := decoded[0]["error"]; ok {
		t.Error("successful entry should have no error field")
	}
	if decoded[1]["error"] != crypto.ErrDecryptionFailed.Error() {
		t.Errorf("error = %v", decoded[1]["error"])
	}

	empty, err := Export(nil, "json")
	if err != nil || strings.TrimSpace(string(empty)) != "[]" {
		t.Errorf("empty export = %q, %v", empty, err)
	}
}

func TestExportCSV(t *testing.T) {
	entries := []Entry{
		{ID: 1, Seq: 1, SessionID: "s", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Detail: "=cmd|' /C calc'!A0"},
		{ID: 2, Seq: 2, SessionID: "s", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Detail: `say "hi", ok`},
	}

	data, err := Export(entries, "csv")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "id,seq,timestamp,session_id,detail,error" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], `"=cmd|' /C calc'!A0"`) {
		t.Errorf("formula not quoted: %q", lines[1])
	}
	if !strings.Contains(lines[2], `"say ""hi"", ok"`) {
		t.Errorf("quotes not escaped: %q", lines[2])
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	if _, err := Export(nil, "xml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestCSVEscape(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"plain", "plain"},
		{"with,comma", `"with,comma"`},
		{"+1", `"+1"`},
		{"-1", `"-1"`},
		{"@sum", `"@sum"`},
		{"line\nbreak", "\"line\nbreak\""},
	}

	for _, tc := range testCases {
		if got := csvEscape(tc.input); got != tc.want {
			t.Errorf("csvEscape(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
