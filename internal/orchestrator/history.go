package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/vaultsync/enginecore/internal/secretstore"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

func (e *Engine) loadHistory(ctx context.Context) error {
	raw, ok, err := e.store.Get(ctx, secretstore.KeySyncHistory)
	if err != nil {
		return vaulterr.Wrap(vaulterr.StorageUnavailable, "loading sync history", err)
	}
	if !ok {
		return nil
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// A corrupt history ring buffer is not fatal to the engine; start
		// fresh rather than refusing to construct.
		return nil
	}
	e.historyMu.Lock()
	e.history = entries
	e.historyMu.Unlock()
	return nil
}

func (e *Engine) appendHistory(ctx context.Context, providerName, action, result, detail string) {
	entry := HistoryEntry{
		Timestamp: e.clock.Now(),
		Provider:  providerName,
		Action:    action,
		Result:    result,
		Detail:    detail,
	}

	e.historyMu.Lock()
	e.history = append(e.history, entry)
	if len(e.history) > HistoryLimit {
		e.history = e.history[len(e.history)-HistoryLimit:]
	}
	snapshot := make([]HistoryEntry, len(e.history))
	copy(snapshot, e.history)
	e.historyMu.Unlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	_ = e.store.Put(ctx, secretstore.KeySyncHistory, raw)
}
