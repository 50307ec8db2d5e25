// Package conflict implements the version & conflict engine: comparing
// local and remote (version, updatedAt) markers to decide
// whether a push is safe or must be blocked for the host to resolve.
package conflict

import "github.com/vaultsync/enginecore/internal/envelope"

// Marker is the (version, updatedAt) pair tracked both locally and per
// provider (spec glossary: "Version marker").
type Marker struct {
	Version   uint64
	UpdatedAt int64
}

// Choice is the host's resolution decision.
type Choice int

const (
	UseRemote Choice = iota
	UseLocal
)

func (c Choice) String() string {
	if c == UseRemote {
		return "USE_REMOTE"
	}
	return "USE_LOCAL"
}

// Info describes a detected conflict for the host to resolve.
type Info struct {
	Provider         string
	LocalVersion     uint64
	LocalUpdatedAt   int64
	LocalDeviceName  string
	RemoteVersion    uint64
	RemoteUpdatedAt  int64
	RemoteDeviceName string
}

// Outcome classifies what a push attempt should do after comparing local
// state against a provider's current remote metadata.
type Outcome int

const (
	// Proceed means the caller should encrypt and upload.
	Proceed Outcome = iota
	// Blocked means a conflict was detected; the push must stop and the
	// host must call ResolveConflict.
	Blocked
	// NoOp means local and remote are already identical; nothing to do.
	NoOp
)

// Detect implements the conflict classification, including its
// updatedAt tie-break: equal timestamps fall through to comparing version,
// and a tie on both is "already in sync" (NoOp), never treated as a
// conflict.
func Detect(local Marker, localDeviceName string, remote *envelope.Meta, remoteDeviceName string) (Outcome, *Info) {
	if remote == nil {
		return Proceed, nil
	}
	switch {
	case remote.UpdatedAt > local.UpdatedAt:
		return Blocked, newInfo(local, localDeviceName, remote, remoteDeviceName)
	case remote.UpdatedAt == local.UpdatedAt && remote.Version > local.Version:
		return Blocked, newInfo(local, localDeviceName, remote, remoteDeviceName)
	case remote.UpdatedAt == local.UpdatedAt && remote.Version == local.Version:
		return NoOp, nil
	default:
		return Proceed, nil
	}
}

func newInfo(local Marker, localDeviceName string, remote *envelope.Meta, remoteDeviceName string) *Info {
	return &Info{
		LocalVersion:     local.Version,
		LocalUpdatedAt:   local.UpdatedAt,
		LocalDeviceName:  localDeviceName,
		RemoteVersion:    remote.Version,
		RemoteUpdatedAt:  remote.UpdatedAt,
		RemoteDeviceName: remoteDeviceName,
	}
}
