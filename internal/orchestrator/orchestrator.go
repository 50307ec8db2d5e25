package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vaultsync/enginecore/internal/conflict"
	"github.com/vaultsync/enginecore/internal/deviceid"
	"github.com/vaultsync/enginecore/internal/envelope"
	"github.com/vaultsync/enginecore/internal/masterkey"
	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/provider"
	"github.com/vaultsync/enginecore/internal/provider/httpclient"
	"github.com/vaultsync/enginecore/internal/secretstore"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

type providerState struct {
	adapter provider.Adapter
	conn    provider.Connection
	state   SyncState
	lastErr error
}

// Engine is the engine's public command surface.
type Engine struct {
	store ports.SecretStore
	clock ports.Clock
	rng   ports.RandomSource
	hints ports.PlatformHints

	deviceID  string
	masterKey *masterkey.Manager

	// cmdMu serializes Push, PushQueued, Pull and ResolveConflict, and is
	// what gives Push and Pull their Busy semantics (TryLock) and
	// PushQueued its blocking semantics (Lock) — see the Busy/PushQueued
	// pair. Connection commands (auth, Disconnect) do not take it.
	cmdMu sync.Mutex

	providersMu sync.Mutex
	providers   map[string]*providerState

	historyMu sync.Mutex
	history   []HistoryEntry

	subsMu      sync.Mutex
	subscribers map[int]func(Event)
	nextSub     int

	payloadMu sync.Mutex
	payload   PayloadProvider

	autoSync *autoSyncLoop
}

// New constructs an Engine, loading any previously persisted master-key
// config, device identifier, and per-provider connection state. adapters
// maps a provider name ("gist", "driveA", "driveB") to the concrete
// Adapter the host wants that name backed by.
func New(ctx context.Context, store ports.SecretStore, clock ports.Clock, rng ports.RandomSource, hints ports.PlatformHints, adapters map[string]provider.Adapter) (*Engine, error) {
	deviceID, err := deviceid.Ensure(ctx, store)
	if err != nil {
		return nil, err
	}
	mk, err := masterkey.New(ctx, store, clock, rng)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:       store,
		clock:       clock,
		rng:         rng,
		hints:       hints,
		deviceID:    deviceID,
		masterKey:   mk,
		providers:   make(map[string]*providerState),
		subscribers: make(map[int]func(Event)),
	}

	for name, adapter := range adapters {
		ps := &providerState{adapter: adapter}
		if err := e.loadConnectionLocked(ctx, name, ps); err != nil {
			return nil, err
		}
		e.providers[name] = ps
	}
	if err := e.loadHistory(ctx); err != nil {
		return nil, err
	}

	e.autoSync = newAutoSyncLoop(e)
	e.autoSync.loadPersisted(ctx)
	return e, nil
}

func (e *Engine) loadConnectionLocked(ctx context.Context, name string, ps *providerState) error {
	raw, ok, err := e.store.Get(ctx, secretstore.ProviderKey(name))
	if err != nil {
		return vaulterr.Wrap(vaulterr.StorageUnavailable, "loading provider connection", err)
	}
	if !ok {
		ps.conn = provider.Connection{Provider: name, Status: provider.Disconnected}
		return nil
	}
	var conn provider.Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "decoding provider connection", err)
	}
	ps.conn = conn
	return nil
}

func (e *Engine) persistConnection(ctx context.Context, name string, conn provider.Connection) error {
	conn.Status = conn.PersistedStatus()
	raw, err := json.Marshal(conn)
	if err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "marshaling provider connection", err)
	}
	if err := e.store.Put(ctx, secretstore.ProviderKey(name), raw); err != nil {
		return vaulterr.Wrap(vaulterr.StorageUnavailable, "persisting provider connection", err)
	}
	return nil
}

func (e *Engine) providerState(name string) (*providerState, error) {
	e.providersMu.Lock()
	defer e.providersMu.Unlock()
	ps, ok := e.providers[name]
	if !ok {
		return nil, vaulterr.New(vaulterr.NotFound, "unknown provider "+name)
	}
	return ps, nil
}

// SetupMasterKey creates the master key and unlocks in one step.
func (e *Engine) SetupMasterKey(ctx context.Context, password string) error {
	if err := e.masterKey.Setup(ctx, password); err != nil {
		return err
	}
	e.autoSync.resume()
	e.emit(Event{Kind: SecurityStateChanged})
	return nil
}

// Unlock unlocks the vault with password.
func (e *Engine) Unlock(ctx context.Context, password string) error {
	if err := e.masterKey.Unlock(ctx, password); err != nil {
		return err
	}
	e.autoSync.resume()
	e.emit(Event{Kind: SecurityStateChanged})
	return nil
}

// Lock zeroizes the in-memory key and stops auto-sync.
func (e *Engine) Lock() {
	e.autoSync.stop()
	e.masterKey.Lock()
	e.emit(Event{Kind: SecurityStateChanged})
}

// ChangeMasterKey re-keys the vault. Existing provider copies remain
// encrypted under the old per-file keys until the next successful push
// with the new password — callers typically follow this with
// a Push per connected provider.
func (e *Engine) ChangeMasterKey(ctx context.Context, oldPassword, newPassword string) error {
	if err := e.masterKey.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		return err
	}
	e.emit(Event{Kind: SecurityStateChanged})
	return nil
}

// RegisterPayloadProvider wires the host's application-data bridge into
// the engine. Must be called before the first Push/Pull.
func (e *Engine) RegisterPayloadProvider(p PayloadProvider) {
	e.payloadMu.Lock()
	defer e.payloadMu.Unlock()
	e.payload = p
}

func (e *Engine) payloadProviderOrErr() (PayloadProvider, error) {
	e.payloadMu.Lock()
	defer e.payloadMu.Unlock()
	if e.payload == nil {
		return nil, fmt.Errorf("orchestrator: no PayloadProvider registered")
	}
	return e.payload, nil
}

// StartProviderAuth begins a provider's OAuth flow.
func (e *Engine) StartProviderAuth(ctx context.Context, providerName string, opts provider.AuthOptions) (*provider.AuthStart, error) {
	ps, err := e.providerState(providerName)
	if err != nil {
		return nil, err
	}
	return ps.adapter.StartAuth(ctx, opts)
}

// CompleteProviderAuth finishes the OAuth flow, initializes the provider's
// sync container, and persists the connection.
func (e *Engine) CompleteProviderAuth(ctx context.Context, providerName string, evidence provider.AuthEvidence) error {
	ps, err := e.providerState(providerName)
	if err != nil {
		return err
	}

	tokens, account, err := ps.adapter.CompleteAuth(ctx, evidence)
	if err != nil {
		return err
	}
	resourceID, refreshed, err := ps.adapter.InitializeSync(ctx, tokens)
	if err != nil {
		return err
	}
	if refreshed != nil {
		tokens = refreshed
	}

	e.providersMu.Lock()
	ps.conn = provider.Connection{
		Provider:   providerName,
		Status:     provider.Connected,
		Tokens:     tokens,
		Account:    account,
		ResourceID: resourceID,
	}
	conn := ps.conn
	e.providersMu.Unlock()

	if err := e.persistConnection(ctx, providerName, conn); err != nil {
		return err
	}
	e.emit(Event{Kind: AuthCompleted, Provider: providerName})
	return nil
}

// Disconnect signs out of providerName and clears its stored tokens.
// Sign-out is best-effort: local state is always cleared, so a revoke
// failure never strands the user connected in the UI when they asked to
// disconnect.
func (e *Engine) Disconnect(ctx context.Context, providerName string) error {
	ps, err := e.providerState(providerName)
	if err != nil {
		return err
	}

	e.providersMu.Lock()
	tokens := ps.conn.Tokens
	e.providersMu.Unlock()

	if tokens != nil {
		_ = ps.adapter.SignOut(ctx, tokens)
	}

	e.providersMu.Lock()
	ps.conn = provider.Connection{Provider: providerName, Status: provider.Disconnected}
	ps.state = Idle
	conn := ps.conn
	e.providersMu.Unlock()

	return e.persistConnection(ctx, providerName, conn)
}

// Push encrypts the current payload and uploads it to providerName,
// returning immediately with vaulterr.Busy if another command is already
// running ("FIFO-ish" command serialization).
func (e *Engine) Push(ctx context.Context, providerName string) (*PushResult, error) {
	if !e.cmdMu.TryLock() {
		return nil, vaulterr.New(vaulterr.Busy, "engine is busy with another command")
	}
	defer e.cmdMu.Unlock()
	return e.pushLocked(ctx, providerName)
}

// PushQueued behaves like Push but blocks until the engine is free instead
// of failing with Busy.
func (e *Engine) PushQueued(ctx context.Context, providerName string) (*PushResult, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()
	return e.pushLocked(ctx, providerName)
}

func (e *Engine) pushLocked(ctx context.Context, providerName string) (*PushResult, error) {
	ps, err := e.providerState(providerName)
	if err != nil {
		return nil, err
	}
	payloadSrc, err := e.payloadProviderOrErr()
	if err != nil {
		return nil, err
	}

	e.providersMu.Lock()
	conn := ps.conn
	e.providersMu.Unlock()
	if conn.Tokens == nil {
		return nil, vaulterr.New(vaulterr.ProviderNotConnected, "provider not connected").WithProvider(providerName)
	}

	e.setSyncState(ps, Syncing)
	e.emit(Event{Kind: SyncStarted, Provider: providerName})

	remoteFile, found, err := downloadRetrying(ctx, ps.adapter, &conn)
	if err != nil && !vaulterr.Of(err, vaulterr.NotFound) {
		e.recordSyncError(ctx, ps, providerName, err)
		return nil, err
	}

	local := conflict.Marker{Version: conn.LastSyncVersion, UpdatedAt: unixOrZero(conn.LastSync)}
	var remoteMeta *envelope.Meta
	var remoteDeviceName string
	if found {
		remoteMeta = &remoteFile.Meta
		remoteDeviceName = remoteFile.Meta.DeviceName
	}

	outcome, info := conflict.Detect(local, e.hints.DeviceName, remoteMeta, remoteDeviceName)
	switch outcome {
	case conflict.NoOp:
		e.setSyncState(ps, Idle)
		e.appendHistory(ctx, providerName, "push", "ok", "already in sync")
		return &PushResult{Pushed: false}, nil
	case conflict.Blocked:
		info.Provider = providerName
		e.providersMu.Lock()
		ps.state = Conflict
		e.providersMu.Unlock()
		e.appendHistory(ctx, providerName, "push", "conflict", "")
		e.emit(Event{Kind: ConflictDetected, Provider: providerName})
		return &PushResult{Conflict: info}, nil
	}

	snapshot, err := payloadSrc.Snapshot()
	if err != nil {
		e.recordSyncError(ctx, ps, providerName, err)
		return nil, err
	}

	var synced *envelope.SyncedFile
	if berr := e.masterKey.Borrow(func(password []byte) error {
		var encErr error
		synced, encErr = envelope.EncryptPayload(e.rng, e.clock.Now().UnixMilli(), snapshot, password, e.masterKey.Iterations(), e.deviceID, e.hints.DeviceName, e.hints.AppVersion, conn.LastSyncVersion)
		return encErr
	}); berr != nil {
		e.recordSyncError(ctx, ps, providerName, berr)
		return nil, berr
	}

	if err := uploadRetrying(ctx, ps.adapter, &conn, synced); err != nil {
		e.recordSyncError(ctx, ps, providerName, err)
		return nil, err
	}

	now := e.clock.Now()
	conn.LastSync = &now
	conn.LastSyncVersion = synced.Meta.Version
	e.providersMu.Lock()
	ps.conn = conn
	ps.state = Idle
	e.providersMu.Unlock()

	if err := e.persistConnection(ctx, providerName, conn); err != nil {
		return nil, err
	}
	e.appendHistory(ctx, providerName, "push", "ok", "")
	e.emit(Event{Kind: SyncCompleted, Provider: providerName})
	return &PushResult{Pushed: true}, nil
}

// Pull downloads providerName's current remote file, decrypts it, and
// applies it via the registered PayloadProvider.
func (e *Engine) Pull(ctx context.Context, providerName string) (*PullResult, error) {
	if !e.cmdMu.TryLock() {
		return nil, vaulterr.New(vaulterr.Busy, "engine is busy with another command")
	}
	defer e.cmdMu.Unlock()

	ps, err := e.providerState(providerName)
	if err != nil {
		return nil, err
	}
	payloadDst, err := e.payloadProviderOrErr()
	if err != nil {
		return nil, err
	}

	e.providersMu.Lock()
	conn := ps.conn
	e.providersMu.Unlock()
	if conn.Tokens == nil {
		return nil, vaulterr.New(vaulterr.ProviderNotConnected, "provider not connected").WithProvider(providerName)
	}

	e.setSyncState(ps, Syncing)
	remoteFile, found, err := downloadRetrying(ctx, ps.adapter, &conn)
	if err != nil {
		e.recordSyncError(ctx, ps, providerName, err)
		return nil, err
	}
	if !found {
		e.setSyncState(ps, Idle)
		return &PullResult{Applied: false}, nil
	}

	var plaintext json.RawMessage
	if berr := e.masterKey.Borrow(func(password []byte) error {
		return envelope.DecryptPayload(remoteFile, password, &plaintext)
	}); berr != nil {
		e.recordSyncError(ctx, ps, providerName, berr)
		return nil, berr
	}
	if err := payloadDst.Apply(plaintext); err != nil {
		e.recordSyncError(ctx, ps, providerName, err)
		return nil, err
	}

	adoptedAt := time.UnixMilli(remoteFile.Meta.UpdatedAt)
	conn.LastSync = &adoptedAt
	conn.LastSyncVersion = remoteFile.Meta.Version
	e.providersMu.Lock()
	ps.conn = conn
	ps.state = Idle
	e.providersMu.Unlock()

	if err := e.persistConnection(ctx, providerName, conn); err != nil {
		return nil, err
	}
	e.appendHistory(ctx, providerName, "pull", "ok", "")
	e.emit(Event{Kind: SyncCompleted, Provider: providerName})
	return &PullResult{Applied: true}, nil
}

// ResolveConflict applies the host's conflict choice.
// UseRemote pulls and applies the provider's current copy; UseLocal force
// pushes the local payload with a version above whichever of local/remote
// is currently higher, so the rewritten copy itself never looks stale to
// some other device holding the pre-conflict remote version.
func (e *Engine) ResolveConflict(ctx context.Context, providerName string, choice conflict.Choice) (*ResolveResult, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	ps, err := e.providerState(providerName)
	if err != nil {
		return nil, err
	}

	var payload json.RawMessage
	switch choice {
	case conflict.UseRemote:
		p, err := e.pullIgnoringConflictLocked(ctx, ps, providerName)
		if err != nil {
			return nil, err
		}
		payload = p
	case conflict.UseLocal:
		if err := e.forcePushLocked(ctx, ps, providerName); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("orchestrator: unknown conflict choice %v", choice)
	}

	e.providersMu.Lock()
	ps.state = Idle
	e.providersMu.Unlock()
	e.appendHistory(ctx, providerName, "resolve", "ok", choice.String())
	e.emit(Event{Kind: ConflictResolved, Provider: providerName})
	return &ResolveResult{Choice: choice, Payload: payload}, nil
}

func (e *Engine) pullIgnoringConflictLocked(ctx context.Context, ps *providerState, providerName string) (json.RawMessage, error) {
	payloadDst, err := e.payloadProviderOrErr()
	if err != nil {
		return nil, err
	}
	e.providersMu.Lock()
	conn := ps.conn
	e.providersMu.Unlock()

	remoteFile, found, err := downloadRetrying(ctx, ps.adapter, &conn)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var plaintext json.RawMessage
	if berr := e.masterKey.Borrow(func(password []byte) error {
		return envelope.DecryptPayload(remoteFile, password, &plaintext)
	}); berr != nil {
		return nil, berr
	}
	if err := payloadDst.Apply(plaintext); err != nil {
		return nil, err
	}

	adoptedAt := time.UnixMilli(remoteFile.Meta.UpdatedAt)
	conn.LastSync = &adoptedAt
	conn.LastSyncVersion = remoteFile.Meta.Version
	e.providersMu.Lock()
	ps.conn = conn
	e.providersMu.Unlock()
	if err := e.persistConnection(ctx, providerName, conn); err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (e *Engine) forcePushLocked(ctx context.Context, ps *providerState, providerName string) error {
	payloadSrc, err := e.payloadProviderOrErr()
	if err != nil {
		return err
	}
	e.providersMu.Lock()
	conn := ps.conn
	e.providersMu.Unlock()

	remoteFile, found, err := downloadRetrying(ctx, ps.adapter, &conn)
	if err != nil && !vaulterr.Of(err, vaulterr.NotFound) {
		return err
	}
	// Base the force-push on whichever of the local and remote versions is
	// higher, so the rewritten copy out-versions the remote one.
	baseVersion := conn.LastSyncVersion
	if found && remoteFile != nil && remoteFile.Meta.Version > baseVersion {
		baseVersion = remoteFile.Meta.Version
	}

	snapshot, err := payloadSrc.Snapshot()
	if err != nil {
		return err
	}
	var synced *envelope.SyncedFile
	if berr := e.masterKey.Borrow(func(password []byte) error {
		var encErr error
		synced, encErr = envelope.EncryptPayload(e.rng, e.clock.Now().UnixMilli(), snapshot, password, e.masterKey.Iterations(), e.deviceID, e.hints.DeviceName, e.hints.AppVersion, baseVersion)
		return encErr
	}); berr != nil {
		return berr
	}

	if err := uploadRetrying(ctx, ps.adapter, &conn, synced); err != nil {
		return err
	}

	now := e.clock.Now()
	conn.LastSync = &now
	conn.LastSyncVersion = synced.Meta.Version
	e.providersMu.Lock()
	ps.conn = conn
	e.providersMu.Unlock()
	return e.persistConnection(ctx, providerName, conn)
}

// SetAutoSync enables (or, with minutes<=0, disables) the periodic Push
// loop, clamping to a [1, 1440] minute range.
func (e *Engine) SetAutoSync(minutes int) {
	e.autoSync.configure(minutes)
}

// Subscribe registers fn to receive every Event this engine emits. The
// returned func removes the subscription.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	e.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subscribers, id)
			e.subsMu.Unlock()
		})
	}
}

// GetState returns a point-in-time snapshot of engine state.
func (e *Engine) GetState() Snapshot {
	snap := Snapshot{
		Security:  e.masterKey.SecurityState(),
		Providers: make(map[string]ProviderSnapshot),
		AutoSync:  e.autoSync.interval(),
	}
	e.providersMu.Lock()
	for name, ps := range e.providers {
		account := ""
		if ps.conn.Account != nil {
			account = ps.conn.Account.Login
		}
		snap.Providers[name] = ProviderSnapshot{
			Provider:        name,
			Connected:       ps.conn.Tokens != nil,
			Account:         account,
			SyncState:       ps.state,
			LastSync:        ps.conn.LastSync,
			LastSyncVersion: ps.conn.LastSyncVersion,
		}
	}
	e.providersMu.Unlock()
	return snap
}

// History returns up to the last HistoryLimit sync operations, most recent
// last.
func (e *Engine) History() []HistoryEntry {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	out := make([]HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) setSyncState(ps *providerState, s SyncState) {
	e.providersMu.Lock()
	ps.state = s
	e.providersMu.Unlock()
}

func (e *Engine) recordSyncError(ctx context.Context, ps *providerState, providerName string, err error) {
	e.providersMu.Lock()
	ps.state = SyncErrorState
	ps.lastErr = err
	e.providersMu.Unlock()
	e.appendHistory(ctx, providerName, "push", "error", err.Error())
	e.emit(Event{Kind: SyncError, Provider: providerName, Err: err})
}

func (e *Engine) emit(ev Event) {
	e.subsMu.Lock()
	subs := make([]func(Event), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.subsMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func unixOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

// downloadRetrying wraps adapter.Download with the §7 propagation policy:
// a ProviderTransient/ProviderRateLimited failure gets httpclient's bounded
// 3-attempt, 1s-then-2s+jitter back-off before surfacing, and a MalformedFile response
// triggers exactly one re-download before surfacing. conn.Tokens is updated
// in place whenever the adapter reports a refreshed token.
func downloadRetrying(ctx context.Context, adapter provider.Adapter, conn *provider.Connection) (*envelope.SyncedFile, bool, error) {
	var (
		file  *envelope.SyncedFile
		found bool
	)
	malformedRetried := false
	for {
		err := httpclient.WithRetry(ctx, func() error {
			f, fnd, refreshed, innerErr := adapter.Download(ctx, conn.Tokens, conn.ResourceID)
			if refreshed != nil {
				conn.Tokens = refreshed
			}
			file, found = f, fnd
			return innerErr
		})
		if err != nil && vaulterr.Of(err, vaulterr.MalformedFile) && !malformedRetried {
			malformedRetried = true
			continue
		}
		return file, found, err
	}
}

// uploadRetrying wraps adapter.Upload with the same transient/rate-limited
// back-off downloadRetrying applies, updating conn.Tokens in place on
// refresh.
func uploadRetrying(ctx context.Context, adapter provider.Adapter, conn *provider.Connection, file *envelope.SyncedFile) error {
	return httpclient.WithRetry(ctx, func() error {
		refreshed, err := adapter.Upload(ctx, conn.Tokens, conn.ResourceID, file)
		if refreshed != nil {
			conn.Tokens = refreshed
		}
		return err
	})
}
