// Package backup provides vault backup and restore functionality.
//
// A backup is a consistent copy of the vault database taken with
// VACUUM INTO. Field values inside it stay sealed under each identity's
// key; the backup adds a second layer:
//
//	magic (8) || header length (4) || header JSON
//	|| ciphertext length (4) || nonce || ciphertext || tag
//	|| HMAC-SHA256 over everything before it
//
// Keys come from Argon2id over a backup passphrase with a fresh salt per
// file, or from a 32-byte key file. HKDF separates the encryption and MAC
// keys.
package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/forest6511/facevault/pkg/crypto"
	"github.com/forest6511/facevault/pkg/store"
)

// BackupOptions configures the backup operation.
type BackupOptions struct {
	// Output is the destination writer for the backup.
	Output io.Writer
	// Passphrase for encryption.
	Passphrase []byte
	// KeyFile path for encryption key (overrides Passphrase).
	KeyFile string
}

// RestoreOptions configures the restore operation.
type RestoreOptions struct {
	// Force replaces an existing vault database.
	Force bool
	// VerifyOnly only verifies backup integrity.
	VerifyOnly bool
	// Passphrase for decryption.
	Passphrase []byte
	// KeyFile path for decryption key (overrides Passphrase).
	KeyFile string
}

// RestoreResult contains the result of a restore operation.
type RestoreResult struct {
	// IdentityCount is the number of identities in the restored vault.
	IdentityCount int
	// Replaced indicates an existing vault database was overwritten.
	Replaced bool
	// DryRun indicates nothing was written.
	DryRun bool
}

// VerifyResult contains the result of a verify operation.
type VerifyResult struct {
	// Valid indicates the backup passed all integrity checks.
	Valid bool
	// Version is the backup format version.
	Version int
	// CreatedAt is when the backup was created.
	CreatedAt time.Time
	// IdentityCount is the number of identities in the backup.
	IdentityCount int
	// Error is set if verification failed.
	Error string
}

// Backup writes an encrypted snapshot of the vault in s to opts.Output.
func Backup(ctx context.Context, s *store.Store, opts BackupOptions) (*Header, error) {
	if opts.Output == nil {
		return nil, fmt.Errorf("output writer is required")
	}

	var keys *keySet
	header := &Header{
		Version:      FormatVersion,
		CreatedAt:    time.Now().UTC(),
		ChecksumAlgo: "sha256",
	}

	switch {
	case opts.KeyFile != "":
		k, err := fileKeys(opts.KeyFile)
		if err != nil {
			return nil, err
		}
		keys = k
		header.EncryptionMode = EncryptionModeKey
	case opts.Passphrase != nil:
		// Generate fresh salt for backup
		salt, err := GenerateSalt()
		if err != nil {
			return nil, err
		}
		enc, mac, err := DeriveBackupKeys(opts.Passphrase, salt)
		if err != nil {
			return nil, err
		}
		keys = &keySet{enc: enc, mac: mac}
		header.EncryptionMode = EncryptionModePassphrase
		header.KDFParams = currentKDF(salt)
	default:
		return nil, ErrNoKey
	}
	defer keys.wipe()

	db, identities, err := snapshot(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot vault: %w", err)
	}
	defer crypto.SecureWipe(db)
	header.IdentityCount = identities
	header.DatabaseSize = int64(len(db))

	ciphertext, err := EncryptPayload(db, keys.enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	// Write to buffer first (for HMAC calculation)
	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext))); err != nil {
		return nil, err
	}
	buf.Write(ciphertext)

	mac := ComputeHMAC(buf.Bytes(), keys.mac)

	if _, err := opts.Output.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	if _, err := opts.Output.Write(mac); err != nil {
		return nil, fmt.Errorf("failed to write HMAC: %w", err)
	}

	return header, nil
}

// snapshot copies the database into a private temp directory and returns
// its bytes and the number of enrolled identities.
func snapshot(ctx context.Context, s *store.Store) ([]byte, int, error) {
	tempDir, err := os.MkdirTemp("", "facevault-backup-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)
	if err := os.Chmod(tempDir, store.DirMode); err != nil {
		return nil, 0, fmt.Errorf("failed to set temp directory permissions: %w", err)
	}

	snap := store.New(tempDir)
	if err := s.Snapshot(ctx, snap.Path()); err != nil {
		return nil, 0, err
	}

	count, err := countIdentities(ctx, snap)
	if err != nil {
		return nil, 0, err
	}

	data, err := os.ReadFile(snap.Path())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, count, nil
}

func countIdentities(ctx context.Context, s *store.Store) (int, error) {
	var n int
	err := s.Do(ctx, func(ctx context.Context, tx store.DBTX) error {
		return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	})
	return n, err
}

// Restore writes the vault database from backupPath into target.
//
// The database is staged next to the target and checked before it is
// renamed into place, so a failed restore leaves the target untouched.
func Restore(ctx context.Context, backupPath string, target *store.Store, opts RestoreOptions) (*RestoreResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}

	header, db, err := verifyAndDecrypt(data, opts.Passphrase, opts.KeyFile)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(db)

	if opts.VerifyOnly {
		return &RestoreResult{IdentityCount: header.IdentityCount, DryRun: true}, nil
	}

	replaced := target.Exists()
	if replaced && !opts.Force {
		return nil, fmt.Errorf("%w: %s (use --force to replace it)", ErrStoreExists, target.Path())
	}

	if err := os.MkdirAll(target.Dir(), store.DirMode); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	// Staged inside the vault directory so the final rename stays on one filesystem.
	stageDir, err := os.MkdirTemp(target.Dir(), ".restore-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stageDir)
	if err := os.Chmod(stageDir, store.DirMode); err != nil {
		return nil, fmt.Errorf("failed to set staging directory permissions: %w", err)
	}

	staged := store.New(stageDir)
	if err := os.WriteFile(staged.Path(), db, store.FileMode); err != nil {
		return nil, fmt.Errorf("failed to write staged database: %w", err)
	}

	check, err := staged.CheckIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	if !check.DBExists || !check.DBIntegrity {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, check.Errors)
	}

	if err := os.Rename(staged.Path(), target.Path()); err != nil {
		return nil, fmt.Errorf("failed to restore vault: %w", err)
	}

	return &RestoreResult{
		IdentityCount: header.IdentityCount,
		Replaced:      replaced,
	}, nil
}

// Verify checks backup integrity without restoring.
func Verify(backupPath string, passphrase []byte, keyFile string) (*VerifyResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}

	header, db, err := verifyAndDecrypt(data, passphrase, keyFile)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}
	crypto.SecureWipe(db)

	return &VerifyResult{
		Valid:         true,
		Version:       header.Version,
		CreatedAt:     header.CreatedAt,
		IdentityCount: header.IdentityCount,
	}, nil
}

// verifyAndDecrypt verifies the backup integrity and decrypts the database.
func verifyAndDecrypt(data []byte, passphrase []byte, keyFile string) (*Header, []byte, error) {
	if len(data) < len(MagicNumber)+4+HMACLength {
		return nil, nil, ErrInvalidMagic
	}

	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	headerEnd := len(data) - reader.Len()

	var ciphertextLen uint32
	if err := binary.Read(reader, binary.BigEndian, &ciphertextLen); err != nil {
		return nil, nil, fmt.Errorf("%w: missing ciphertext length", ErrTruncated)
	}
	if uint64(reader.Len()) < uint64(ciphertextLen)+HMACLength {
		return nil, nil, ErrTruncated
	}

	bodyEnd := headerEnd + 4 + int(ciphertextLen)
	ciphertext := data[headerEnd+4 : bodyEnd]
	storedHMAC := data[bodyEnd : bodyEnd+HMACLength]

	keys, err := keysFor(header, passphrase, keyFile)
	if err != nil {
		return nil, nil, err
	}
	defer keys.wipe()

	// Verify HMAC (header + ciphertext length + ciphertext)
	if !VerifyHMAC(data[:bodyEnd], storedHMAC, keys.mac) {
		return nil, nil, ErrIntegrityFailed
	}

	db, err := DecryptPayload(ciphertext, keys.enc)
	if err != nil {
		return nil, nil, err
	}
	return header, db, nil
}
