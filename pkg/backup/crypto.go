package backup

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/forest6511/facevault/pkg/crypto"
)

const (
	// SaltLength is the length of the backup salt in bytes.
	SaltLength = 32

	// HMACLength is the length of the HMAC-SHA256 in bytes.
	HMACLength = 32

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = crypto.KeyLength
)

// HKDF info strings for key derivation.
const (
	hkdfInfoEncryption = "facevault-backup-encryption"
	hkdfInfoMAC        = "facevault-backup-mac"
)

// GenerateSalt generates a cryptographically secure random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveBackupKeys derives encryption and MAC keys from a passphrase and salt.
func DeriveBackupKeys(passphrase, salt []byte) (encKey, macKey []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, ErrEmptyPassphrase
	}

	// Same Argon2id parameters as identity keys; the salt is per backup.
	masterKey := crypto.DeriveKey(passphrase, salt)
	defer crypto.SecureWipe(masterKey)

	encKey, err = crypto.DeriveSubkey(masterKey, hkdfInfoEncryption)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	macKey, err = crypto.DeriveSubkey(masterKey, hkdfInfoMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("failed to derive MAC key: %w", err)
	}

	return encKey, macKey, nil
}

// keySet holds the pair of keys protecting one backup file.
type keySet struct {
	enc, mac []byte
}

func (k *keySet) wipe() {
	crypto.SecureWipe(k.enc)
	crypto.SecureWipe(k.mac)
}

// fileKeys uses the key file as the encryption key and derives the MAC key from it.
func fileKeys(path string) (*keySet, error) {
	enc, err := ReadKeyFile(path)
	if err != nil {
		return nil, err
	}
	mac, err := crypto.DeriveSubkey(enc, hkdfInfoMAC)
	if err != nil {
		crypto.SecureWipe(enc)
		return nil, fmt.Errorf("failed to derive MAC key: %w", err)
	}
	return &keySet{enc: enc, mac: mac}, nil
}

// currentKDF returns the parameters DeriveBackupKeys uses with salt.
func currentKDF(salt []byte) *KDFParams {
	return &KDFParams{
		Salt:        salt,
		Memory:      crypto.Argon2Memory,
		Iterations:  crypto.Argon2Time,
		Parallelism: crypto.Argon2Threads,
	}
}

// keysFor derives the keys needed to open a backup with header.
func keysFor(header *Header, passphrase []byte, keyFile string) (*keySet, error) {
	if keyFile != "" {
		return fileKeys(keyFile)
	}
	if header.EncryptionMode != EncryptionModePassphrase || header.KDFParams == nil {
		return nil, fmt.Errorf("backup was written with a key file: %w", ErrNoKey)
	}
	p := header.KDFParams
	want := currentKDF(p.Salt)
	if p.Memory != want.Memory || p.Iterations != want.Iterations || p.Parallelism != want.Parallelism {
		return nil, ErrUnsupportedKDF
	}
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	enc, mac, err := DeriveBackupKeys(passphrase, p.Salt)
	if err != nil {
		return nil, err
	}
	return &keySet{enc: enc, mac: mac}, nil
}

// EncryptPayload encrypts the payload using AES-256-GCM.
// Returns nonce prepended to ciphertext.
func EncryptPayload(plaintext, key []byte) ([]byte, error) {
	blob, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}
	return blob, nil
}

// DecryptPayload decrypts the payload using AES-256-GCM.
// Expects nonce prepended to ciphertext.
func DecryptPayload(data, key []byte) ([]byte, error) {
	plaintext, err := crypto.Decrypt(key, data)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidKeyLength) {
			return nil, err
		}
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ComputeHMAC computes HMAC-SHA256 over the given data.
func ComputeHMAC(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// VerifyHMAC verifies the HMAC-SHA256 of the given data.
func VerifyHMAC(data, expectedMAC, key []byte) bool {
	return hmac.Equal(ComputeHMAC(data, key), expectedMAC)
}

// ReadKeyFile reads a 32-byte encryption key from a file.
func ReadKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	if len(key) != KeyLength {
		crypto.SecureWipe(key)
		return nil, ErrInvalidKeyFile
	}

	return key, nil
}

// GenerateKeyFile generates a random 32-byte key and writes it to a new
// file. An existing file is never overwritten.
func GenerateKeyFile(path string) error {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	defer crypto.SecureWipe(key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return f.Close()
}
