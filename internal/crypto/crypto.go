// Package crypto holds the pure cryptographic primitives the rest of the
// engine builds on: PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM
// sealing. Nothing here touches the network, the clock, or storage — every
// function is deterministic in its inputs, which is what keeps the envelope
// and master-key layers on top of it easy to reason about.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/vaultsync/enginecore/internal/vaulterr"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// SaltSize is the PBKDF2 salt length in bytes.
	SaltSize = 32
	// IVSize is the GCM nonce length in bytes (96 bits).
	IVSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// MinIterations is the lowest PBKDF2 iteration count the engine will
	// accept; anything lower is rejected as vaulterr.WeakKdfParams.
	MinIterations = 100_000
	// DefaultIterations is used for every new master-key config and every
	// freshly encrypted envelope unless a caller has negotiated otherwise.
	DefaultIterations = 600_000
)

// Key is a derived 256-bit AES key. It is a fixed-size array so that
// zeroing it (see Zero) overwrites the only copy of the bytes the caller
// holds, not a slice header pointing at memory someone else might still
// reference.
type Key [KeySize]byte

// Zero overwrites k's bytes in place. Call this as soon as a key is no
// longer needed (on Lock, after a single encrypt/decrypt call).
func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over password and salt. iterations must
// be at least MinIterations or DeriveKey fails fast rather than produce a
// key an attacker could brute-force cheaply.
func DeriveKey(password []byte, salt []byte, iterations int) (Key, error) {
	var key Key
	if iterations < MinIterations {
		return key, vaulterr.New(vaulterr.WeakKdfParams,
			fmt.Sprintf("kdf iterations %d below minimum %d", iterations, MinIterations))
	}
	derived := pbkdf2.Key(password, salt, iterations, KeySize, sha256.New)
	copy(key[:], derived)
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM under key and iv, returning
// ciphertext||tag. iv must be exactly IVSize bytes and MUST be freshly
// generated by the caller via RandomBytes for every call — Seal does not
// generate or validate freshness itself, it only enforces length.
func Seal(key Key, iv []byte, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: iv must be %d bytes, got %d", gcm.NonceSize(), len(iv))
	}
	return gcm.Seal(nil, iv, plaintext, nil), nil
}

// Open decrypts ciphertextWithTag (as produced by Seal) with key and iv. A
// failed authentication check (wrong key, wrong iv, or tampered bytes)
// returns vaulterr.MacMismatch, never a raw cipher error, so callers never
// have to know GCM's error type to handle the wrong-password case.
func Open(key Key, iv []byte, ciphertextWithTag []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, vaulterr.New(vaulterr.MalformedFile,
			fmt.Sprintf("iv must be %d bytes, got %d", gcm.NonceSize(), len(iv)))
	}
	plaintext, err := gcm.Open(nil, iv, ciphertextWithTag, nil)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.MacMismatch, "authentication failed", err)
	}
	return plaintext, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SHA256 returns the 32-byte digest of b.
func SHA256(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// RandomBytes returns n cryptographically random bytes read from rng
// (production callers pass crypto/rand.Reader).
func RandomBytes(rng io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rng, buf); err != nil {
		return nil, fmt.Errorf("crypto: reading random bytes: %w", err)
	}
	return buf, nil
}

// DefaultRandom is the production CSPRNG, exposed so callers that do not
// need to inject a test double can avoid importing crypto/rand themselves.
var DefaultRandom io.Reader = rand.Reader

// Base64Encode returns the standard (padded) base64 encoding of b.
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode decodes standard, padded base64. Non-alphabet input is
// rejected rather than silently truncated.
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information about where they first differ. Used for verification-hash
// comparisons so an attacker profiling unlock() latency cannot recover the
// hash byte by byte.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
