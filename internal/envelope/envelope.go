// Package envelope composes and parses the on-wire SyncedFile: the
// metadata-plus-ciphertext JSON document every provider adapter uploads and
// downloads. Providers never see anything but this shape —
// the payload inside is opaque ciphertext to them.
package envelope

import (
	"encoding/json"
	"io"

	"github.com/vaultsync/enginecore/internal/crypto"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

const (
	// AlgorithmAES256GCM is the only accepted value of Meta.Algorithm.
	AlgorithmAES256GCM = "AES-256-GCM"
	// KDFPBKDF2 is the only accepted value of Meta.KDF.
	KDFPBKDF2 = "PBKDF2"
)

// Meta is the plaintext metadata half of a SyncedFile.
type Meta struct {
	Version       uint64 `json:"version"`
	UpdatedAt     int64  `json:"updatedAt"`
	DeviceID      string `json:"deviceId"`
	DeviceName    string `json:"deviceName"`
	AppVersion    string `json:"appVersion"`
	IV            string `json:"iv"`
	Salt          string `json:"salt"`
	Algorithm     string `json:"algorithm"`
	KDF           string `json:"kdf"`
	KDFIterations uint64 `json:"kdfIterations"`
}

// SyncedFile is the complete on-wire document a provider container holds.
type SyncedFile struct {
	Meta    Meta   `json:"meta"`
	Payload string `json:"payload"`
}

// ParseSyncedFile decodes and structurally validates raw provider bytes.
// Go's encoding/json already emits struct fields in declaration order,
// which keeps field order and encoding stable across devices — no custom marshaling
// is needed to get a stable wire shape.
func ParseSyncedFile(raw []byte) (*SyncedFile, error) {
	var file SyncedFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, vaulterr.Wrap(vaulterr.MalformedFile, "invalid JSON", err)
	}
	if err := validateMeta(file.Meta); err != nil {
		return nil, err
	}
	return &file, nil
}

func validateMeta(m Meta) error {
	if m.Algorithm != AlgorithmAES256GCM {
		return vaulterr.New(vaulterr.MalformedFile, "unsupported algorithm: "+m.Algorithm)
	}
	if m.KDF != KDFPBKDF2 {
		return vaulterr.New(vaulterr.MalformedFile, "unsupported kdf: "+m.KDF)
	}
	if m.KDFIterations < crypto.MinIterations {
		return vaulterr.New(vaulterr.WeakKdfParams, "remote file kdfIterations below minimum")
	}
	ivBytes, err := crypto.Base64Decode(m.IV)
	if err != nil || len(ivBytes) != crypto.IVSize {
		return vaulterr.New(vaulterr.MalformedFile, "invalid iv")
	}
	saltBytes, err := crypto.Base64Decode(m.Salt)
	if err != nil || len(saltBytes) != crypto.SaltSize {
		return vaulterr.New(vaulterr.MalformedFile, "invalid salt")
	}
	return nil
}

// EncryptPayload seals a plaintext payload into a SyncedFile. payload is
// marshaled to UTF-8 JSON, sealed under a freshly derived key (fresh salt,
// fresh iv — never the master-key config's salt), and
// wrapped in a SyncedFile whose version is priorVersion+1.
func EncryptPayload(
	rng io.Reader,
	now int64,
	payload any,
	password []byte,
	iterations int,
	deviceID, deviceName, appVersion string,
	priorVersion uint64,
) (*SyncedFile, error) {
	salt, err := crypto.RandomBytes(rng, crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	iv, err := crypto.RandomBytes(rng, crypto.IVSize)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKey(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.MalformedFile, "marshaling payload", err)
	}

	ciphertext, err := crypto.Seal(key, iv, plaintext)
	if err != nil {
		return nil, err
	}

	return &SyncedFile{
		Meta: Meta{
			Version:       priorVersion + 1,
			UpdatedAt:     now,
			DeviceID:      deviceID,
			DeviceName:    deviceName,
			AppVersion:    appVersion,
			IV:            crypto.Base64Encode(iv),
			Salt:          crypto.Base64Encode(salt),
			Algorithm:     AlgorithmAES256GCM,
			KDF:           KDFPBKDF2,
			KDFIterations: uint64(iterations),
		},
		Payload: crypto.Base64Encode(ciphertext),
	}, nil
}

// DecryptPayload opens a SyncedFile back into a plaintext payload, unmarshaling the
// recovered plaintext JSON into out (a pointer). A MAC failure — including
// the case of a wrong password — surfaces as vaulterr.WrongPassword, since
// from the caller's perspective that is the only actionable distinction.
func DecryptPayload(file *SyncedFile, password []byte, out any) error {
	if err := validateMeta(file.Meta); err != nil {
		return err
	}
	salt, err := crypto.Base64Decode(file.Meta.Salt)
	if err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "decoding salt", err)
	}
	iv, err := crypto.Base64Decode(file.Meta.IV)
	if err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "decoding iv", err)
	}
	ciphertext, err := crypto.Base64Decode(file.Payload)
	if err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "decoding payload", err)
	}

	key, err := crypto.DeriveKey(password, salt, int(file.Meta.KDFIterations))
	if err != nil {
		return err
	}
	defer key.Zero()

	plaintext, err := crypto.Open(key, iv, ciphertext)
	if err != nil {
		if vaulterr.Of(err, vaulterr.MacMismatch) {
			return vaulterr.Wrap(vaulterr.WrongPassword, "password does not match this file", err)
		}
		return err
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "unmarshaling decrypted payload", err)
	}
	return nil
}

// VerifyFile reports whether password successfully opens file, discarding
// the plaintext. Used to confirm a password against a provider-side copy
// without needing a typed destination to decode into.
func VerifyFile(file *SyncedFile, password []byte) bool {
	var discard json.RawMessage
	return DecryptPayload(file, password, &discard) == nil
}
