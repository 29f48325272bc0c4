package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"exodusd/internal/protocol"
	"exodusd/internal/tier"
)

func TestEffectiveTier(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	reg := NewStaticRegistry(
		Record{Owner: "alice", Verified: true, Level: tier.Silver, Jurisdiction: 392},
		Record{Owner: "bob", Verified: true, Level: tier.Gold, Jurisdiction: 392, ExpiresAt: now.Add(-time.Hour)},
		Record{Owner: "carol", Verified: false, Level: tier.Diamond, Jurisdiction: 392},
	)

	cases := []struct {
		owner string
		want  tier.Tier
	}{
		{"alice", tier.Silver},
		{"bob", tier.Unverified},
		{"carol", tier.Unverified},
		{"nobody", tier.Unverified},
	}
	for _, tc := range cases {
		got, err := EffectiveTier(context.Background(), reg, tc.owner, now)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.owner, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected tier %s, got %s", tc.owner, tc.want, got)
		}
	}
}

func TestCheckDepositEligibilityBlocksUSA(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	reg := NewStaticRegistry(
		Record{Owner: "dave", Verified: true, Level: tier.Gold, Jurisdiction: JurisdictionUSA},
	)

	_, err := CheckDepositEligibility(context.Background(), reg, "dave", now)
	if !errors.Is(err, protocol.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
}

func TestCheckDepositEligibilityExpired(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	reg := NewStaticRegistry(
		Record{Owner: "erin", Verified: true, Level: tier.Bronze, Jurisdiction: 392, ExpiresAt: now.Add(-time.Minute)},
	)

	_, err := CheckDepositEligibility(context.Background(), reg, "erin", now)
	if !errors.Is(err, protocol.ErrExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestCheckDepositEligibilityUnknownOwnerIsUnverified(t *testing.T) {
	reg := NewStaticRegistry()

	level, err := CheckDepositEligibility(context.Background(), reg, "ghost", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level != tier.Unverified {
		t.Fatalf("expected unverified, got %s", level)
	}
}
