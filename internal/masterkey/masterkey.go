// Package masterkey implements the master-key manager: the
// only place in the engine that ever holds a derived key or cached
// password, and the sole authority on the security state machine
// NO_KEY -> LOCKED -> UNLOCKED.
package masterkey

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vaultsync/enginecore/internal/crypto"
	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

// StorageKey is the secret-store key under which Config is persisted.
const StorageKey = "master_key_config"

// State is the security-axis state machine.
type State int

const (
	NoKey State = iota
	Locked
	Unlocked
)

func (s State) String() string {
	switch s {
	case NoKey:
		return "NO_KEY"
	case Locked:
		return "LOCKED"
	case Unlocked:
		return "UNLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Config is the persisted, non-secret master-key configuration.
// It never holds the password or the derived key.
type Config struct {
	Salt             string    `json:"salt"`
	KDF              string    `json:"kdf"`
	Iterations       int       `json:"kdfIterations"`
	VerificationHash string    `json:"verificationHash"`
	CreatedAt        time.Time `json:"createdAt"`
}

// unlocked is the in-memory-only session state. It is never
// serialized and Zero wipes every byte of both the key and the password.
type unlocked struct {
	key        crypto.Key
	password   []byte
	salt       []byte
	unlockedAt time.Time
}

func (u *unlocked) zero() {
	if u == nil {
		return
	}
	u.key.Zero()
	for i := range u.password {
		u.password[i] = 0
	}
	u.password = nil
}

// Manager owns the security state machine. All methods are safe for
// concurrent use; callers needing to coordinate a sync operation with the
// unlocked key should use Borrow, which holds the manager's lock for the
// duration of fn so the key cannot be zeroed mid-operation by a concurrent
// Lock call.
type Manager struct {
	store ports.SecretStore
	clock ports.Clock
	rng   ports.RandomSource

	mu       sync.Mutex
	config   *Config
	unlocked *unlocked
}

// New constructs a Manager and loads any previously persisted Config.
func New(ctx context.Context, store ports.SecretStore, clock ports.Clock, rng ports.RandomSource) (*Manager, error) {
	m := &Manager{store: store, clock: clock, rng: rng}
	raw, ok, err := store.Get(ctx, StorageKey)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.StorageUnavailable, "loading master key config", err)
	}
	if ok {
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err == nil {
			m.config = &cfg
		}
	}
	return m, nil
}

// SecurityState reports the current position on the NO_KEY/LOCKED/UNLOCKED
// axis.
func (m *Manager) SecurityState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case m.config == nil:
		return NoKey
	case m.unlocked != nil:
		return Unlocked
	default:
		return Locked
	}
}

// Setup creates the master-key config and unlocks with password in one
// step. Fails with AlreadyInitialized if a config already
// exists.
func (m *Manager) Setup(ctx context.Context, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config != nil {
		return vaulterr.New(vaulterr.AlreadyInitialized, "master key already configured")
	}

	salt, err := crypto.RandomBytes(m.rng, crypto.SaltSize)
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKey([]byte(password), salt, crypto.DefaultIterations)
	if err != nil {
		return err
	}
	hash := crypto.SHA256(key[:])
	key.Zero()

	cfg := &Config{
		Salt:             crypto.Base64Encode(salt),
		KDF:              "PBKDF2-HMAC-SHA256",
		Iterations:       crypto.DefaultIterations,
		VerificationHash: crypto.Base64Encode(hash[:]),
		CreatedAt:        m.clock.Now(),
	}
	if err := m.persistConfigLocked(ctx, cfg); err != nil {
		return err
	}
	m.config = cfg

	return m.unlockLocked(ctx, password)
}

// Unlock re-derives the key from the stored salt/iterations and compares
// its hash to VerificationHash. Returns WrongPassword on mismatch, leaving
// the state at LOCKED.
func (m *Manager) Unlock(ctx context.Context, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockLocked(ctx, password)
}

func (m *Manager) unlockLocked(ctx context.Context, password string) error {
	if m.config == nil {
		return vaulterr.New(vaulterr.NoMasterKey, "no master key configured")
	}
	salt, err := crypto.Base64Decode(m.config.Salt)
	if err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "decoding master key salt", err)
	}
	iterations := m.config.Iterations
	key, err := crypto.DeriveKey([]byte(password), salt, iterations)
	if err != nil {
		return err
	}
	hash := crypto.SHA256(key[:])
	wantHash, err := crypto.Base64Decode(m.config.VerificationHash)
	if err != nil {
		key.Zero()
		return vaulterr.Wrap(vaulterr.MalformedFile, "decoding verification hash", err)
	}
	if !crypto.ConstantTimeEqual(hash[:], wantHash) {
		key.Zero()
		return vaulterr.New(vaulterr.WrongPassword, "password does not match master key")
	}

	m.unlocked.zero()
	pwCopy := []byte(password)
	m.unlocked = &unlocked{key: key, password: pwCopy, salt: salt, unlockedAt: m.clock.Now()}
	return nil
}

// Lock zeroizes the in-memory key and cached password, returning security
// state to LOCKED (or NO_KEY if no config was ever created).
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocked.zero()
	m.unlocked = nil
}

// VerifyPassword performs a non-mutating check equivalent to what Unlock
// would do, without changing state.
func (m *Manager) VerifyPassword(password string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return false, vaulterr.New(vaulterr.NoMasterKey, "no master key configured")
	}
	salt, err := crypto.Base64Decode(m.config.Salt)
	if err != nil {
		return false, vaulterr.Wrap(vaulterr.MalformedFile, "decoding master key salt", err)
	}
	key, err := crypto.DeriveKey([]byte(password), salt, m.config.Iterations)
	if err != nil {
		return false, err
	}
	defer key.Zero()
	hash := crypto.SHA256(key[:])
	wantHash, err := crypto.Base64Decode(m.config.VerificationHash)
	if err != nil {
		return false, vaulterr.Wrap(vaulterr.MalformedFile, "decoding verification hash", err)
	}
	return crypto.ConstantTimeEqual(hash[:], wantHash), nil
}

// ChangePassword verifies old, replaces Config with a freshly salted one
// derived from new (same iteration count), and re-unlocks. Re-uploading
// already-synced data with the new password is the orchestrator's
// responsibility.
func (m *Manager) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return vaulterr.New(vaulterr.NoMasterKey, "no master key configured")
	}
	salt, err := crypto.Base64Decode(m.config.Salt)
	if err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "decoding master key salt", err)
	}
	oldKey, err := crypto.DeriveKey([]byte(oldPassword), salt, m.config.Iterations)
	if err != nil {
		return err
	}
	oldHash := crypto.SHA256(oldKey[:])
	oldKey.Zero()
	wantHash, err := crypto.Base64Decode(m.config.VerificationHash)
	if err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "decoding verification hash", err)
	}
	if !crypto.ConstantTimeEqual(oldHash[:], wantHash) {
		return vaulterr.New(vaulterr.WrongPassword, "current password does not match")
	}

	newSalt, err := crypto.RandomBytes(m.rng, crypto.SaltSize)
	if err != nil {
		return err
	}
	newKey, err := crypto.DeriveKey([]byte(newPassword), newSalt, m.config.Iterations)
	if err != nil {
		return err
	}
	newHash := crypto.SHA256(newKey[:])
	newKey.Zero()

	cfg := &Config{
		Salt:             crypto.Base64Encode(newSalt),
		KDF:              "PBKDF2-HMAC-SHA256",
		Iterations:       m.config.Iterations,
		VerificationHash: crypto.Base64Encode(newHash[:]),
		CreatedAt:        m.clock.Now(),
	}
	if err := m.persistConfigLocked(ctx, cfg); err != nil {
		return err
	}
	m.config = cfg

	return m.unlockLocked(ctx, newPassword)
}

func (m *Manager) persistConfigLocked(ctx context.Context, cfg *Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "marshaling master key config", err)
	}
	if err := m.store.Put(ctx, StorageKey, raw); err != nil {
		return vaulterr.Wrap(vaulterr.StorageUnavailable, "persisting master key config", err)
	}
	return nil
}

// Iterations reports the iteration count new envelopes are encrypted with:
// the count stored in the master-key config, or crypto.DefaultIterations
// when no config exists. It is not negotiated from remote envelopes;
// decryption uses each envelope's own kdfIterations (DESIGN.md documents
// the decision behind this).
func (m *Manager) Iterations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return crypto.DefaultIterations
	}
	return m.config.Iterations
}

// Borrow calls fn with the currently unlocked password, under the
// manager's lock so Lock cannot zero it out mid-call. Returns
// vaulterr.VaultLocked if the vault is not currently unlocked. The password
// byte slice is borrowed, not copied; fn must not retain it past return.
func (m *Manager) Borrow(fn func(password []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlocked == nil {
		return vaulterr.New(vaulterr.VaultLocked, "master key is locked")
	}
	return fn(m.unlocked.password)
}
