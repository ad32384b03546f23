// Package store owns the SQLite file behind a vault.
//
// The database is opened for one logical operation group at a time:
// Do opens the file, applies pending migrations, runs the callback inside a
// single transaction, commits and closes. No connection outlives the call,
// so the file can be reopened safely after a restart.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/forest6511/facevault/pkg/store/migrations"
)

const (
	DBFileName = "vault.db"
	FileMode   = 0600 // Owner read/write only
	DirMode    = 0700 // Owner read/write/execute only

	driverName = "sqlite"
	dsnParams  = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	// Disk capacity thresholds
	MinDiskSpaceBytes  = 10 * 1024 * 1024 // 10 MB minimum free space
	DiskWarningPercent = 90               // Warn when disk is 90% full
)

var (
	// ErrUnavailable marks failures to reach the database file. Callers may
	// retry these; nothing else returned by Do is an environment fault.
	ErrUnavailable = errors.New("store: unavailable")

	ErrNotInitialized   = errors.New("store: vault not initialized")
	ErrAlreadyExists    = errors.New("store: vault already exists at this path")
	ErrInsufficientDisk = errors.New("store: insufficient disk space")
)

// DBTX is the subset of database/sql used by repositories.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFunc is the body of one operation group.
type TxFunc func(ctx context.Context, tx DBTX) error

// goose keeps its dialect, filesystem and logger in package globals.
var gooseMu sync.Mutex

// Store manages the vault database file in a directory.
type Store struct {
	dir    string
	file   string
	logger *zap.Logger

	mu       sync.Mutex
	migrated bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for warnings and migration output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFileName overrides DBFileName. Empty names are ignored.
func WithFileName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.file = name
		}
	}
}

// New returns a Store for the vault directory dir. Nothing is opened.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		file:   DBFileName,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the vault directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the database file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.file)
}

// Exists reports whether the database file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Init creates the vault directory and an empty, fully migrated database.
func (s *Store) Init(ctx context.Context) error {
	if s.Exists() {
		return ErrAlreadyExists
	}

	// Require at least 1MB for init
	if err := s.checkDiskSpaceForWrite(1024 * 1024); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, DirMode); err != nil {
		return fmt.Errorf("store: failed to create vault directory: %w", err)
	}

	db, err := s.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := os.Chmod(s.Path(), FileMode); err != nil {
		return fmt.Errorf("store: failed to set database permissions: %w", err)
	}

	s.logger.Info("vault initialized", zap.String("path", s.Path()))
	return nil
}

// Do runs fn inside one transaction on a freshly opened database. The
// transaction commits when fn returns nil and rolls back otherwise; a
// panic in fn rolls back and is rethrown.
func (s *Store) Do(ctx context.Context, fn TxFunc) error {
	if !s.Exists() {
		return ErrNotInitialized
	}

	db, err := s.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return withTx(ctx, db, fn)
}

func withTx(ctx context.Context, db *sql.DB, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrUnavailable, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("%w: commit: %w", ErrUnavailable, cerr)
		}
	}()

	err = fn(ctx, tx)
	if isBusy(err) {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// isBusy reports whether err is SQLite BUSY or LOCKED, extended codes
// included: another connection holds the file.
func isBusy(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// openDB opens and pings the database and applies migrations the first
// time this Store touches it.
func (s *Store) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(driverName, s.Path()+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrUnavailable, err)
	}
	// Pragmas are per connection; one connection keeps them uniform.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}

	if err := s.migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %w", ErrUnavailable, err)
	}

	s.checkAndWarnPermissions()
	return db, nil
}

func (s *Store) migrate(ctx context.Context, db *sql.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrated {
		return nil
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{s.logger.Sugar()})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}

	s.migrated = true
	return nil
}

// gooseLogger routes goose output through zap at debug level.
type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.s.Debugf(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.s.Errorf(format, v...)
}

// checkAndWarnPermissions logs a warning when the vault directory or
// database file is readable by group or others. Advisory only.
func (s *Store) checkAndWarnPermissions() {
	if info, err := os.Stat(s.dir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			s.logger.Warn("vault directory has insecure permissions",
				zap.String("path", s.dir),
				zap.String("mode", fmt.Sprintf("%04o", perm)),
				zap.String("expected", "0700"))
		}
	}
	if info, err := os.Stat(s.Path()); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			s.logger.Warn("database file has insecure permissions",
				zap.String("path", s.Path()),
				zap.String("mode", fmt.Sprintf("%04o", perm)),
				zap.String("expected", "0600"))
		}
	}
}

// Snapshot writes a consistent copy of the database to dest using
// VACUUM INTO. dest must not exist.
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	if !s.Exists() {
		return ErrNotInitialized
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("store: snapshot target already exists: %s", dest)
	}

	db, err := s.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("%w: snapshot: %w", ErrUnavailable, err)
	}
	if err := os.Chmod(dest, FileMode); err != nil {
		return fmt.Errorf("store: failed to set snapshot permissions: %w", err)
	}
	return nil
}

// DiskSpaceInfo contains disk usage information
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// checkDiskSpaceForWrite verifies sufficient disk space before write operations
func (s *Store) checkDiskSpaceForWrite(dataSize int) error {
	info, err := s.CheckDiskSpace()
	if err != nil {
		s.logger.Warn("failed to check disk space", zap.Error(err))
		return nil
	}

	// Need at least MinDiskSpaceBytes or 2x the data size, whichever is larger
	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}

	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk,
			info.Available/(1024*1024),
			required/(1024*1024))
	}

	if info.UsedPct >= DiskWarningPercent {
		s.logger.Warn("disk is nearly full", zap.Int("used_pct", info.UsedPct))
	}
	return nil
}

func usedPercent(total, free uint64) int {
	if total == 0 {
		return 0
	}
	return int(100 * (total - free) / total)
}
