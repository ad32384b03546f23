package backup

import "errors"

// Backup/Restore errors
var (
	// ErrInvalidMagic indicates the backup file has an invalid magic number.
	ErrInvalidMagic = errors.New("invalid backup file: magic number mismatch")

	// ErrUnsupportedVersion indicates the backup format version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported backup format version")

	// ErrUnsupportedKDF indicates the header names KDF parameters this build does not use.
	ErrUnsupportedKDF = errors.New("unsupported backup key derivation parameters")

	// ErrTruncated indicates the file ends before the declared payload and HMAC.
	ErrTruncated = errors.New("backup file truncated")

	// ErrIntegrityFailed indicates the HMAC verification failed.
	ErrIntegrityFailed = errors.New("backup integrity check failed: HMAC mismatch")

	// ErrDecryptionFailed indicates decryption failed due to invalid passphrase or corruption.
	ErrDecryptionFailed = errors.New("backup decryption failed: invalid passphrase or corrupted data")

	// ErrCorruptSnapshot indicates the decrypted database failed its integrity check.
	ErrCorruptSnapshot = errors.New("backup contains a damaged vault database")

	// ErrStoreExists indicates restore would overwrite an existing vault.
	ErrStoreExists = errors.New("vault already exists at the restore target")

	// ErrInvalidKeyFile indicates the key file is invalid or wrong size.
	ErrInvalidKeyFile = errors.New("invalid key file: must be exactly 32 bytes")

	// ErrEmptyPassphrase indicates an empty passphrase was provided.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

	// ErrNoKey indicates neither a passphrase nor a key file was given.
	ErrNoKey = errors.New("passphrase or key file is required")
)
