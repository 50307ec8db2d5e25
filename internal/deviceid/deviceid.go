// Package deviceid manages the stable per-install identifier that tags
// every envelope this device writes (key namespace: device_id).
package deviceid

import (
	"context"

	"github.com/google/uuid"

	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

// StorageKey is the secret-store key the identifier is cached under.
const StorageKey = "device_id"

// Ensure returns the device's stable identifier, generating and persisting
// one via a random (v4) UUID on first use.
func Ensure(ctx context.Context, store ports.SecretStore) (string, error) {
	raw, ok, err := store.Get(ctx, StorageKey)
	if err != nil {
		return "", vaulterr.Wrap(vaulterr.StorageUnavailable, "loading device id", err)
	}
	if ok && len(raw) > 0 {
		return string(raw), nil
	}

	id := uuid.NewString()
	if err := store.Put(ctx, StorageKey, []byte(id)); err != nil {
		return "", vaulterr.Wrap(vaulterr.StorageUnavailable, "persisting device id", err)
	}
	return id, nil
}
