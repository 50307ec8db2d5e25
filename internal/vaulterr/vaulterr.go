// Package vaulterr defines the closed set of error kinds the engine can
// surface. Failures classified by the engine are returned as an *Error
// wrapping one of these kinds so callers can branch with errors.As instead
// of string-matching; a few argument and state errors (no registered
// PayloadProvider, an unknown conflict choice, a PKCE state mismatch) are
// plain errors.
package vaulterr

import (
	"errors"
	"fmt"
)

// Kind is a matchable, closed error category.
type Kind string

const (
	NoMasterKey         Kind = "no_master_key"
	AlreadyInitialized  Kind = "already_initialized"
	VaultLocked         Kind = "vault_locked"
	WrongPassword       Kind = "wrong_password"
	WeakKdfParams       Kind = "weak_kdf_params"
	MalformedFile       Kind = "malformed_file"
	MacMismatch         Kind = "mac_mismatch"
	ProviderNotConnected Kind = "provider_not_connected"
	ReauthRequired      Kind = "reauth_required"
	ProviderRateLimited Kind = "provider_rate_limited"
	ProviderTransient   Kind = "provider_transient"
	ProviderBadRequest  Kind = "provider_bad_request"
	NotFound            Kind = "not_found"
	Busy                Kind = "busy"
	CancelledByCaller   Kind = "cancelled_by_caller"
	Timeout             Kind = "timeout"
	StorageUnavailable  Kind = "storage_unavailable"
)

// Error is the engine's user-visible failure type. Detail MAY contain
// debugging context but MUST NOT contain secrets (passwords, derived keys,
// token values) — callers constructing an Error are responsible for that.
type Error struct {
	Kind     Kind
	Provider string // empty when not provider-scoped
	Reason   string // short, stable, user-displayable tag
	Detail   string // longer debug context, never a secret
	Err      error  // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (provider=%s)", e.Kind, e.Reason, e.Provider)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, vaulterr.New(kind, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Kind == e.Kind
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an *Error wrapping cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// WithProvider returns a copy of e scoped to the given provider name.
func (e *Error) WithProvider(provider string) *Error {
	clone := *e
	clone.Provider = provider
	return &clone
}

// Of reports whether err (or something it wraps) is a *Error of kind k.
func Of(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}
