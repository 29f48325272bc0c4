package address

import "testing"

func TestDeterminism(t *testing.T) {
	a := PendingDeposit("alice", 7)
	b := PendingDeposit("alice", 7)
	if a != b {
		t.Fatal("same inputs must derive the same address")
	}
}

func TestNamespaceSeparation(t *testing.T) {
	// The pending deposit and its conversion record share (owner, nonce) but
	// must never collide.
	if PendingDeposit("alice", 7) == ConversionRecord("alice", 7) {
		t.Fatal("namespaces collided")
	}
	if UserPosition("alice") == YieldSource("alice") {
		t.Fatal("namespaces collided")
	}
}

func TestFieldSensitivity(t *testing.T) {
	base := PendingDeposit("alice", 7)
	if base == PendingDeposit("alice", 8) {
		t.Fatal("nonce not mixed into the address")
	}
	if base == PendingDeposit("alicf", 7) {
		t.Fatal("owner not mixed into the address")
	}
}

func TestConfigSingleton(t *testing.T) {
	if Config() != Config() {
		t.Fatal("config address must be stable")
	}
	if len(Config().String()) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(Config().String()))
	}
}
