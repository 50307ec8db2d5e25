// Package provider declares the uniform adapter contract every cloud
// backend implements: authenticate, initialize a sync
// container, upload, download, sign out. Concrete adapters live in the
// gist and drive subpackages.
package provider

import (
	"context"
	"time"

	"github.com/vaultsync/enginecore/internal/envelope"
)

// Status is the provider connection's closed status enum.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Syncing
	Error
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Syncing:
		return "syncing"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Tokens is the OAuth credential set. Treated as secret at rest.
type Tokens struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	TokenType    string     `json:"tokenType"`
	Scope        string     `json:"scope,omitempty"`
}

// NeedsRefresh reports whether the token should be refreshed before the
// next request, per the 60-second refresh lookahead.
func (t *Tokens) NeedsRefresh(now time.Time) bool {
	if t == nil || t.ExpiresAt == nil {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-60 * time.Second))
}

// Account is the cached authenticated-user identity.
type Account struct {
	Login string `json:"login"`
	ID    string `json:"id"`
}

// Connection is the persisted per-provider state.
type Connection struct {
	Provider        string     `json:"provider"`
	Status          Status     `json:"status"`
	Tokens          *Tokens    `json:"tokens,omitempty"`
	Account         *Account   `json:"account,omitempty"`
	ResourceID      string     `json:"resourceId,omitempty"`
	LastSync        *time.Time `json:"lastSync,omitempty"`
	LastSyncVersion uint64     `json:"lastSyncVersion,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// PersistedStatus collapses the transient statuses (connecting, syncing,
// error) to what should actually be written to storage:
// "connected" whenever tokens exist, "disconnected" otherwise.
func (c Connection) PersistedStatus() Status {
	if c.Tokens != nil {
		return Connected
	}
	return Disconnected
}

// AuthStart is a tagged-variant sum type used in place of a
// loosely typed union: exactly one of DeviceCode or Pkce is non-nil.
type AuthStart struct {
	DeviceCode *DeviceCodeStart
	Pkce       *PkceStart
}

// DeviceCodeStart is returned by device-flow adapters.
type DeviceCodeStart struct {
	UserCode        string
	VerificationURI string
	Interval        time.Duration
	ExpiresAt       time.Time
}

// PkceStart is returned by PKCE adapters.
type PkceStart struct {
	AuthURL     string
	RedirectURI string
	State       string
}

// AuthEvidence carries whichever fields CompleteAuth needs for the flow
// StartAuth began: DeviceCode for device-flow, Code+RedirectURI+State for
// PKCE.
type AuthEvidence struct {
	DeviceCode  string
	Code        string
	RedirectURI string
	State       string
}

// AuthOptions parameterizes StartAuth; RedirectURI is required for PKCE
// adapters and ignored by device-flow adapters.
type AuthOptions struct {
	RedirectURI string
}

// Adapter is the uniform contract every provider backend implements.
type Adapter interface {
	// Name returns the adapter's stable provider identifier ("gist",
	// "driveA", "driveB").
	Name() string

	// StartAuth begins the provider's OAuth flow.
	StartAuth(ctx context.Context, opts AuthOptions) (*AuthStart, error)

	// CompleteAuth exchanges evidence collected from the user/browser for
	// tokens and the authenticated account identity.
	CompleteAuth(ctx context.Context, evidence AuthEvidence) (*Tokens, *Account, error)

	// InitializeSync locates or creates the provider's well-known
	// container and returns its opaque resource id.
	InitializeSync(ctx context.Context, tokens *Tokens) (resourceID string, refreshed *Tokens, err error)

	// Upload writes file's JSON representation to the container.
	Upload(ctx context.Context, tokens *Tokens, resourceID string, file *envelope.SyncedFile) (refreshed *Tokens, err error)

	// Download reads and parses the container's current content. found is
	// false (with a nil file and nil error) when the container has no
	// content yet.
	Download(ctx context.Context, tokens *Tokens, resourceID string) (file *envelope.SyncedFile, found bool, refreshed *Tokens, err error)

	// SignOut revokes/drops tokens. Best-effort: local state is always
	// cleared by the caller regardless of this method's error.
	SignOut(ctx context.Context, tokens *Tokens) error
}
