// Package secretstore defines the stable key namespace shared by every
// SecretStore implementation and re-exports ports.SecretStore
// so callers outside internal/ports don't need to import both packages.
package secretstore

import "github.com/vaultsync/enginecore/internal/ports"

// Store is an alias for the secret-storage port.
type Store = ports.SecretStore

// ChangeEvent re-exports the port's change-notification payload.
type ChangeEvent = ports.ChangeEvent

// Key namespace. These strings are part of the on-disk
// contract: renaming one orphans existing installs.
const (
	KeyMasterKeyConfig = "master_key_config"
	KeyDeviceID        = "device_id"
	KeyDeviceName      = "device_name"
	KeySyncConfig      = "sync_config"
	KeyProviderGist    = "provider.gist"
	KeyProviderDriveA  = "provider.driveA"
	KeyProviderDriveB  = "provider.driveB"
	KeySyncHistory     = "sync_history"
)

// ProviderKey returns the secret-store key for a given provider name,
// panicking on an unrecognized provider since that indicates a programming
// error (an adapter registered under a name with no storage slot).
func ProviderKey(provider string) string {
	switch provider {
	case "gist":
		return KeyProviderGist
	case "driveA":
		return KeyProviderDriveA
	case "driveB":
		return KeyProviderDriveB
	default:
		panic("secretstore: unknown provider " + provider)
	}
}
