// Package orchestrator implements the engine's public command surface
// the one place that sequences master-key operations,
// provider adapters, conflict detection, and persistence into the
// commands a host embeds (setup, unlock, push, pull, resolve...).
package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/vaultsync/enginecore/internal/conflict"
	"github.com/vaultsync/enginecore/internal/masterkey"
)

// EventKind classifies a Subscribe notification.
type EventKind int

const (
	SecurityStateChanged EventKind = iota
	AuthCompleted
	SyncStarted
	ConflictDetected
	ConflictResolved
	SyncCompleted
	SyncError
)

func (k EventKind) String() string {
	switch k {
	case SecurityStateChanged:
		return "security_state_changed"
	case AuthCompleted:
		return "auth_completed"
	case SyncStarted:
		return "sync_started"
	case ConflictDetected:
		return "conflict_detected"
	case ConflictResolved:
		return "conflict_resolved"
	case SyncCompleted:
		return "sync_completed"
	case SyncError:
		return "sync_error"
	default:
		return "unknown"
	}
}

// Event is delivered to every Subscribe callback.
type Event struct {
	Kind     EventKind
	Provider string // empty for engine-wide events such as SecurityStateChanged
	Err      error  // set only for SyncError
}

// SyncState is the per-provider sync-axis state machine:
// IDLE -> SYNCING -> {CONFLICT, ERROR} -> IDLE. It is tracked independently
// of masterkey.State's security axis.
type SyncState int

const (
	Idle SyncState = iota
	Syncing
	Conflict
	SyncErrorState
)

func (s SyncState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Syncing:
		return "SYNCING"
	case Conflict:
		return "CONFLICT"
	case SyncErrorState:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// HistoryEntry is one row of the bounded sync-history ring buffer
// (key namespace: sync_history).
type HistoryEntry struct {
	Timestamp time.Time
	Provider  string
	Action    string // "push", "pull", "resolve"
	Result    string // "ok", "conflict", "error"
	Detail    string
}

// HistoryLimit bounds the in-memory and persisted sync-history ring buffer.
const HistoryLimit = 50

// ProviderSnapshot is one provider's observable state.
type ProviderSnapshot struct {
	Provider        string
	Connected       bool
	Account         string
	SyncState       SyncState
	LastSync        *time.Time
	LastSyncVersion uint64
	Conflict        *conflict.Info
}

// Snapshot is the full engine state GetState returns — a deep copy safe to
// read without holding any lock.
type Snapshot struct {
	Security  masterkey.State
	Providers map[string]ProviderSnapshot
	AutoSync  time.Duration // 0 means disabled
}

// PushResult is Push/PushQueued's outcome.
type PushResult struct {
	Pushed   bool
	Conflict *conflict.Info
}

// PullResult is Pull's outcome.
type PullResult struct {
	Applied bool
}

// ResolveResult is ResolveConflict's outcome. Payload carries the decrypted
// remote payload when Choice is conflict.UseRemote (the host already
// received it via PayloadProvider.Apply; this lets callers that only
// inspect the return value see it too) and is nil for conflict.UseLocal.
type ResolveResult struct {
	Choice  conflict.Choice
	Payload json.RawMessage
}

// PayloadProvider is the host's bridge into whatever application data is
// actually being synced (how the engine gets the
// secret payload without knowing its shape). Snapshot returns the current
// data to encrypt and upload; Apply is called with the decrypted remote
// payload after a successful pull so the host can merge it into its own
// storage.
type PayloadProvider interface {
	Snapshot() (any, error)
	Apply(payload json.RawMessage) error
}
