package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/provider"
	"github.com/vaultsync/enginecore/internal/secretstore"
)

// ObserveStorage subscribes to the secret store so writes made by another
// OS process sharing the same gormstore database
// are reflected into this Engine's in-memory state instead of only being
// visible after a restart. Returns an unsubscribe func; callers embedding
// the engine in a single-process demo (the memory backend) may skip
// calling this, since that backend never sees external writes anyway.
func (e *Engine) ObserveStorage(ctx context.Context) func() {
	return e.store.Subscribe(func(ev ports.ChangeEvent) {
		switch {
		case ev.Key == secretstore.KeySyncHistory:
			e.reloadHistory(ctx)
		case ev.Key == secretstore.KeySyncConfig:
			e.autoSync.loadPersisted(ctx)
		case strings.HasPrefix(ev.Key, "provider."):
			e.reloadProviderConnection(ctx, ev.Key)
		}
	})
}

func (e *Engine) reloadHistory(ctx context.Context) {
	raw, ok, err := e.store.Get(ctx, secretstore.KeySyncHistory)
	if err != nil || !ok {
		return
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return
	}
	e.historyMu.Lock()
	e.history = entries
	e.historyMu.Unlock()
}

func (e *Engine) reloadProviderConnection(ctx context.Context, key string) {
	name := providerNameForKey(key)
	if name == "" {
		return
	}
	e.providersMu.Lock()
	ps, ok := e.providers[name]
	if !ok {
		e.providersMu.Unlock()
		return
	}
	localStatus := ps.conn.Status
	e.providersMu.Unlock()

	raw, ok, err := e.store.Get(ctx, key)
	if err != nil || !ok {
		return
	}
	var conn provider.Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return
	}

	// §4.10: a connecting/syncing status in this instance reflects an
	// in-flight local operation that hasn't been persisted yet (persisted
	// connections only ever carry "connected"/"disconnected", per
	// Connection.PersistedStatus); don't let another process's write
	// stomp it mid-flight.
	if localStatus == provider.Connecting || localStatus == provider.Syncing {
		conn.Status = localStatus
	}

	e.providersMu.Lock()
	ps.conn = conn
	e.providersMu.Unlock()
}

func providerNameForKey(key string) string {
	switch key {
	case secretstore.KeyProviderGist:
		return "gist"
	case secretstore.KeyProviderDriveA:
		return "driveA"
	case secretstore.KeyProviderDriveB:
		return "driveB"
	default:
		return ""
	}
}
