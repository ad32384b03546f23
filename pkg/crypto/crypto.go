// Package crypto provides the field codec used by facevault.
//
// Every sensitive column is sealed independently with AES-256-GCM under a
// key derived from the identity's passphrase with Argon2id. A sealed field
// is a single blob laid out as:
//
//	nonce (12 bytes) || ciphertext || GCM tag (16 bytes)
//
// # Example Usage
//
//	salt, _ := crypto.NewSalt()
//	key := crypto.DeriveKey([]byte("correcthorse1"), salt)
//	defer crypto.SecureWipe(key)
//
//	blob, err := crypto.EncryptField(key, "my secret note")
//	text, err := crypto.DecryptField(key, blob)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of per-identity KDF salts.
	SaltLength = 16

	// TagLength is the GCM authentication tag size.
	TagLength = 16
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrDecryptionFailed indicates the blob could not be opened under the key:
	// wrong key, tampered data or a truncated blob.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")

	// ErrCiphertextTooShort indicates the blob cannot hold a nonce and tag.
	ErrCiphertextTooShort = fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
)

// DeriveKey derives a 256-bit field key from a passphrase using Argon2id.
// The same passphrase and salt always yield the same key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength)
}

// NewSalt returns SaltLength bytes from crypto/rand.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveSubkey expands key into an independent 32-byte key bound to info.
// Used for MAC keys that must not share material with the field cipher.
func DeriveSubkey(key []byte, info string) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	sub := make([]byte, KeyLength)
	r := hkdf.New(sha256.New, key, nil, []byte(info))
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("crypto: failed to derive subkey: %w", err)
	}
	return sub, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with a fresh random nonce and returns
// nonce || ciphertext || tag.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceLength, NonceLength+len(plaintext)+gcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// Seal appends to nonce, so the result is the full blob.
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Authentication failures and
// truncated input both report ErrDecryptionFailed.
func Decrypt(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < NonceLength+gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, blob[:NonceLength], blob[NonceLength:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// EncryptField seals a text column value.
func EncryptField(key []byte, plaintext string) ([]byte, error) {
	return Encrypt(key, []byte(plaintext))
}

// DecryptField opens a text column value. An empty string with a nil error
// means the stored plaintext was empty; it is never returned on failure.
func DecryptField(key, blob []byte) (string, error) {
	plaintext, err := Decrypt(key, blob)
	if err != nil {
		return "", err
	}
	s := string(plaintext)
	SecureWipe(plaintext)
	return s, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
