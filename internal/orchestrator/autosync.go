package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vaultsync/enginecore/internal/masterkey"
	"github.com/vaultsync/enginecore/internal/secretstore"
)

const (
	minAutoSyncMinutes = 1
	maxAutoSyncMinutes = 1440
)

// syncConfig is the persisted auto-sync setting (key namespace:
// sync_config).
type syncConfig struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

// autoSyncLoop runs Push for every connected provider on a fixed interval,
// stoppable on Lock. A tick that lands while a
// command already holds the engine is simply skipped — Push's own Busy
// semantics mean auto-sync never queues up work behind a manual push.
type autoSyncLoop struct {
	engine *Engine

	mu              sync.Mutex
	intervalMinutes int
	stopCh          chan struct{}
	doneCh          chan struct{}
}

func newAutoSyncLoop(e *Engine) *autoSyncLoop {
	return &autoSyncLoop{engine: e}
}

func (a *autoSyncLoop) loadPersisted(ctx context.Context) {
	raw, ok, err := a.engine.store.Get(ctx, secretstore.KeySyncConfig)
	if err != nil || !ok {
		return
	}
	var cfg syncConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return
	}
	a.configureLocked(ctx, cfg.IntervalMinutes, false)
}

// configure clamps minutes to [1, 1440] and restarts the ticker; minutes<=0
// disables auto-sync entirely.
func (a *autoSyncLoop) configure(minutes int) {
	a.configureLocked(context.Background(), minutes, true)
}

func (a *autoSyncLoop) configureLocked(ctx context.Context, minutes int, persist bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()

	if minutes <= 0 {
		a.intervalMinutes = 0
	} else {
		if minutes < minAutoSyncMinutes {
			minutes = minAutoSyncMinutes
		}
		if minutes > maxAutoSyncMinutes {
			minutes = maxAutoSyncMinutes
		}
		a.intervalMinutes = minutes
		a.startLocked()
	}

	if persist {
		raw, err := json.Marshal(syncConfig{IntervalMinutes: a.intervalMinutes})
		if err == nil {
			_ = a.engine.store.Put(ctx, secretstore.KeySyncConfig, raw)
		}
	}
}

func (a *autoSyncLoop) startLocked() {
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	interval := time.Duration(a.intervalMinutes) * time.Minute
	go a.run(interval, a.stopCh, a.doneCh)
}

func (a *autoSyncLoop) run(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

// tick implements the auto-sync behavior: when a PayloadProvider is registered the
// engine pulls the payload itself and pushes directly; otherwise it falls
// back to the base spec's behavior of emitting SyncStarted and relying on
// the host to call Push within this interval ("if the host does not
// respond within one interval, the tick is skipped").
func (a *autoSyncLoop) tick() {
	if a.engine.masterKey.SecurityState() != masterkey.Unlocked {
		return
	}

	a.engine.providersMu.Lock()
	names := make([]string, 0, len(a.engine.providers))
	for name, ps := range a.engine.providers {
		if ps.conn.Tokens != nil {
			names = append(names, name)
		}
	}
	a.engine.providersMu.Unlock()

	_, err := a.engine.payloadProviderOrErr()
	for _, name := range names {
		if err == nil {
			_, _ = a.engine.Push(context.Background(), name)
		} else {
			a.engine.emit(Event{Kind: SyncStarted, Provider: name})
		}
	}
}

// stop halts the ticker goroutine without changing the configured interval,
// so resume can restart auto-sync with the same setting it had before Lock.
func (a *autoSyncLoop) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

// resume restarts the ticker at the last configured interval, if any. Ticks
// are already no-ops while the vault is locked, but avoiding a live ticker
// in that state keeps stop()/resume() symmetric and easy to reason about.
func (a *autoSyncLoop) resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.intervalMinutes <= 0 || a.stopCh != nil {
		return
	}
	a.startLocked()
}

func (a *autoSyncLoop) stopLocked() {
	if a.stopCh == nil {
		return
	}
	close(a.stopCh)
	<-a.doneCh
	a.stopCh = nil
	a.doneCh = nil
}

func (a *autoSyncLoop) interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Duration(a.intervalMinutes) * time.Minute
}
