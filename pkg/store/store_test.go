package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "vault"))
	require.NoError(t, s.Init(context.Background()))
	return s
}

func insertUser(t *testing.T, s *Store) int64 {
	t.Helper()
	var id int64
	err := s.Do(context.Background(), func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO users(username, kdf_salt, encoding) VALUES(?, ?, ?)",
			[]byte("name"), []byte("salt"), []byte("enc"))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	require.NoError(t, err)
	return id
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	err := s.Do(context.Background(), func(ctx context.Context, tx DBTX) error {
		return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	})
	require.NoError(t, err)
	return n
}

func TestInit(t *testing.T) {
	s := newTestStore(t)

	assert.True(t, s.Exists())
	if runtime.GOOS != "windows" {
		info, err := os.Stat(s.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(FileMode), info.Mode().Perm())

		dirInfo, err := os.Stat(s.Dir())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(DirMode), dirInfo.Mode().Perm())
	}

	err := s.Init(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDoNotInitialized(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing"))

	err := s.Do(context.Background(), func(ctx context.Context, tx DBTX) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDoUnavailable(t *testing.T) {
	dir := t.TempDir()
	// A directory where the database file should be cannot be opened.
	require.NoError(t, os.Mkdir(filepath.Join(dir, DBFileName), 0700))
	s := New(dir)

	err := s.Do(context.Background(), func(ctx context.Context, tx DBTX) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDoLockedFileIsUnavailable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A second connection takes the write lock and keeps it.
	other, err := sql.Open(driverName, s.Path())
	require.NoError(t, err)
	defer other.Close()
	conn, err := other.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
	require.NoError(t, err)

	err = s.Do(ctx, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users(username, kdf_salt, encoding) VALUES(?, ?, ?)",
			[]byte("n"), []byte("s"), []byte("e")); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)
	assert.Equal(t, 0, countRows(t, s, "users"))
	insertUser(t, s)
}

func TestDoCommitAndRollback(t *testing.T) {
	s := newTestStore(t)
	insertUser(t, s)
	assert.Equal(t, 1, countRows(t, s, "users"))

	boom := errors.New("boom")
	err := s.Do(context.Background(), func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users(username, kdf_salt, encoding) VALUES(?, ?, ?)",
			[]byte("n"), []byte("s"), []byte("e")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, countRows(t, s, "users"), "failed group must not leave rows behind")
}

func TestDoPanicRollsBack(t *testing.T) {
	s := newTestStore(t)

	assert.Panics(t, func() {
		_ = s.Do(context.Background(), func(ctx context.Context, tx DBTX) error {
			_, _ = tx.ExecContext(ctx,
				"INSERT INTO users(username, kdf_salt, encoding) VALUES(?, ?, ?)",
				[]byte("n"), []byte("s"), []byte("e"))
			panic("mid-operation")
		})
	})
	assert.Equal(t, 0, countRows(t, s, "users"))
}

func TestForeignKeysEnforced(t *testing.T) {
	s := newTestStore(t)

	err := s.Do(context.Background(), func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO notes(id_user, title, content, note_timestamp) VALUES(?, ?, ?, ?)",
			999, []byte("t"), []byte("c"), []byte("ts"))
		return err
	})
	require.Error(t, err, "note for a missing user must be rejected")
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	userID := insertUser(t, s)

	err := s.Do(context.Background(), func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO bank_account(id_user, bank_name, detail, username, password, pin, cbu, alias)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, []byte("b"), []byte("d"), []byte("u"), []byte("p"), []byte("1"), []byte("c"), []byte("a"))
		if err != nil {
			return err
		}
		accountID, _ := res.LastInsertId()
		for i := 0; i < 3; i++ {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bank_card(id_account, entity, type, card_number, security_code, detail)
				 VALUES(?, ?, ?, ?, ?, ?)`,
				accountID, []byte("e"), []byte("t"), []byte("n"), []byte("s"), []byte("d")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, countRows(t, s, "bank_card"))

	err = s.Do(context.Background(), func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM bank_account")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, countRows(t, s, "bank_card"))
}

func TestReopenKeepsData(t *testing.T) {
	s := newTestStore(t)
	insertUser(t, s)

	reopened := New(s.Dir())
	assert.Equal(t, 1, countRows(t, reopened, "users"))
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	insertUser(t, s)

	dest := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, s.Snapshot(context.Background(), dest))

	snapDir := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, os.MkdirAll(snapDir, DirMode))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(snapDir, DBFileName), data, FileMode))

	assert.Equal(t, 1, countRows(t, New(snapDir), "users"))

	err = s.Snapshot(context.Background(), dest)
	assert.Error(t, err, "existing target must not be overwritten")
}

func TestCheckIntegrity(t *testing.T) {
	s := newTestStore(t)
	insertUser(t, s)

	result, err := s.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.True(t, result.DBExists)
	assert.True(t, result.DBIntegrity)
}

func TestCheckIntegrityMissingDB(t *testing.T) {
	s := New(t.TempDir())

	result, err := s.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.DBExists)
}

func TestCheckDiskSpace(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "not-yet-created"))

	info, err := s.CheckDiskSpace()
	require.NoError(t, err)
	assert.NotZero(t, info.Total)
	assert.GreaterOrEqual(t, info.UsedPct, 0)
	assert.LessOrEqual(t, info.UsedPct, 100)
}
