package crypto

import (
	"bytes"
	"testing"

	"github.com/vaultsync/enginecore/internal/vaulterr"
)

func TestDeriveKeyRejectsWeakIterations(t *testing.T) {
	_, err := DeriveKey([]byte("hunter2"), make([]byte, SaltSize), 1000)
	if !vaulterr.Of(err, vaulterr.WeakKdfParams) {
		t.Fatalf("expected WeakKdfParams, got %v", err)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0x42}, SaltSize)
	k1, err := DeriveKey([]byte("correct horse battery staple"), salt, MinIterations)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := DeriveKey([]byte("correct horse battery staple"), salt, MinIterations)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatal("expected identical derivation for identical inputs")
	}

	k3, err := DeriveKey([]byte("wrong password"), salt, MinIterations)
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k3 {
		t.Fatal("expected different keys for different passwords")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key Key
	copy(key[:], bytes.Repeat([]byte{0x07}, KeySize))
	iv, err := RandomBytes(DefaultRandom, IVSize)
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte(`{"hosts":[{"id":"h1"}]}`)

	ct, err := Seal(key, iv, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(ct) != len(plaintext)+TagSize {
		t.Fatalf("expected ciphertext length %d, got %d", len(plaintext)+TagSize, len(ct))
	}

	pt, err := Open(key, iv, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch: got %q", pt)
	}
}

func TestOpenTamperedCiphertextFailsMac(t *testing.T) {
	var key Key
	copy(key[:], bytes.Repeat([]byte{0x09}, KeySize))
	iv, _ := RandomBytes(DefaultRandom, IVSize)
	ct, err := Seal(key, iv, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xFF

	if _, err := Open(key, iv, tampered); !vaulterr.Of(err, vaulterr.MacMismatch) {
		t.Fatalf("expected MacMismatch, got %v", err)
	}
}

func TestOpenTamperedIVFailsMac(t *testing.T) {
	var key Key
	copy(key[:], bytes.Repeat([]byte{0x0a}, KeySize))
	iv, _ := RandomBytes(DefaultRandom, IVSize)
	ct, err := Seal(key, iv, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	tamperedIV := append([]byte(nil), iv...)
	tamperedIV[0] ^= 0xFF

	if _, err := Open(key, tamperedIV, ct); !vaulterr.Of(err, vaulterr.MacMismatch) {
		t.Fatalf("expected MacMismatch, got %v", err)
	}
}

func TestRandomBytesAreFresh(t *testing.T) {
	a, err := RandomBytes(DefaultRandom, IVSize)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RandomBytes(DefaultRandom, IVSize)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected two independent random draws to differ")
	}
}

func TestBase64RoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0xFF, 0x7F}
	enc := Base64Encode(data)
	dec, err := Base64Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, data) {
		t.Fatalf("round trip mismatch: got %v want %v", dec, data)
	}
}

func TestBase64DecodeRejectsInvalidAlphabet(t *testing.T) {
	if _, err := Base64Decode("not valid base64!!"); err == nil {
		t.Fatal("expected error decoding invalid base64")
	}
}
