package conflict

import (
	"testing"

	"github.com/vaultsync/enginecore/internal/envelope"
)

func TestDetectBlockedWhenRemoteNewer(t *testing.T) {
	local := Marker{Version: 5, UpdatedAt: 1000}
	remote := &envelope.Meta{Version: 6, UpdatedAt: 1500, DeviceName: "Phone"}

	outcome, info := Detect(local, "Laptop", remote, remote.DeviceName)
	if outcome != Blocked {
		t.Fatalf("expected Blocked, got %v", outcome)
	}
	if info.RemoteVersion != 6 || info.LocalVersion != 5 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestDetectProceedWhenLocalNewer(t *testing.T) {
	local := Marker{Version: 5, UpdatedAt: 2000}
	remote := &envelope.Meta{Version: 4, UpdatedAt: 1000}

	outcome, info := Detect(local, "Laptop", remote, "Phone")
	if outcome != Proceed {
		t.Fatalf("expected Proceed, got %v", outcome)
	}
	if info != nil {
		t.Fatalf("expected nil info on Proceed, got %+v", info)
	}
}

func TestDetectProceedWhenNoRemote(t *testing.T) {
	local := Marker{Version: 1, UpdatedAt: 1000}
	outcome, info := Detect(local, "Laptop", nil, "")
	if outcome != Proceed || info != nil {
		t.Fatalf("expected Proceed/nil, got %v %+v", outcome, info)
	}
}

func TestDetectTieBreakHigherVersionWins(t *testing.T) {
	local := Marker{Version: 3, UpdatedAt: 1000}
	remote := &envelope.Meta{Version: 4, UpdatedAt: 1000}

	outcome, info := Detect(local, "Laptop", remote, "Phone")
	if outcome != Blocked {
		t.Fatalf("expected Blocked on equal updatedAt with higher remote version, got %v", outcome)
	}
	if info.RemoteVersion != 4 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestDetectTieBreakEqualIsNoOp(t *testing.T) {
	local := Marker{Version: 3, UpdatedAt: 1000}
	remote := &envelope.Meta{Version: 3, UpdatedAt: 1000}

	outcome, info := Detect(local, "Laptop", remote, "Phone")
	if outcome != NoOp {
		t.Fatalf("expected NoOp on exact tie, got %v", outcome)
	}
	if info != nil {
		t.Fatalf("expected nil info on NoOp, got %+v", info)
	}
}

func TestDetectTieBreakLowerVersionProceeds(t *testing.T) {
	local := Marker{Version: 5, UpdatedAt: 1000}
	remote := &envelope.Meta{Version: 3, UpdatedAt: 1000}

	outcome, _ := Detect(local, "Laptop", remote, "Phone")
	if outcome != Proceed {
		t.Fatalf("expected Proceed when local version is higher at equal updatedAt, got %v", outcome)
	}
}
