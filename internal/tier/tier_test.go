package tier

import "testing"

func TestUnverifiedDeniesEverything(t *testing.T) {
	for _, amount := range []uint64{1, 100, 1_000_000, 1 << 50} {
		if DepositAllowed(MonthlyJPYLimit(Unverified), 0, amount) {
			t.Fatalf("unverified tier allowed a JPY deposit of %d", amount)
		}
		if DepositAllowed(MonthlyUSDCLimit(Unverified), 0, amount) {
			t.Fatalf("unverified tier allowed a USDC deposit of %d", amount)
		}
	}
}

func TestZeroAmountNeverAllowed(t *testing.T) {
	if DepositAllowed(MonthlyUSDCLimit(Diamond), 0, 0) {
		t.Fatal("zero-amount deposit allowed on the unlimited tier")
	}
}

func TestLimitBoundary(t *testing.T) {
	limit := MonthlyUSDCLimit(Bronze) // $3,500

	if !DepositAllowed(limit, 0, limit) {
		t.Fatal("deposit exactly at the limit should be allowed")
	}
	if DepositAllowed(limit, 0, limit+1) {
		t.Fatal("deposit one minor unit over the limit should be rejected")
	}
	if DepositAllowed(limit, limit, 1) {
		t.Fatal("deposit on an exhausted allowance should be rejected")
	}
	if !DepositAllowed(limit, limit-1, 1) {
		t.Fatal("deposit filling the last minor unit should be allowed")
	}
}

func TestDiamondUnlimited(t *testing.T) {
	limit := MonthlyJPYLimit(Diamond)
	if limit != Unlimited {
		t.Fatalf("expected the unlimited sentinel, got %d", limit)
	}
	if !DepositAllowed(limit, 1<<63, 1<<62) {
		t.Fatal("diamond tier rejected a large deposit")
	}
	// used+amount overflowing uint64 must still be allowed on the sentinel.
	if !DepositAllowed(limit, Unlimited, 1) {
		t.Fatal("overflowing usage rejected on the unlimited tier")
	}
}

func TestRemaining(t *testing.T) {
	limit := MonthlyJPYLimit(Bronze)
	if got := Remaining(limit, 0); got != limit {
		t.Fatalf("expected full allowance, got %d", got)
	}
	if got := Remaining(limit, limit+5); got != 0 {
		t.Fatalf("expected 0 past the limit, got %d", got)
	}
	if got := Remaining(limit, 100); got != limit-100 {
		t.Fatalf("expected %d, got %d", limit-100, got)
	}
}

func TestSourceGating(t *testing.T) {
	if SourceAllowed(Unverified, SourceTBill) {
		t.Fatal("unverified must not access any source")
	}
	if !SourceAllowed(Bronze, SourceTBill) {
		t.Fatal("bronze must access T-Bill")
	}
	if SourceAllowed(Bronze, SourceLending) {
		t.Fatal("bronze must not access lending")
	}
	if !SourceAllowed(Diamond, SourceSynthetic) {
		t.Fatal("diamond must access synthetic")
	}
	if SourceAllowed(Gold, SourceSynthetic) {
		t.Fatal("gold must not access synthetic")
	}
}

func TestUnknownTier(t *testing.T) {
	unknown := Tier(99)
	if MonthlyJPYLimit(unknown) != 0 || MonthlyUSDCLimit(unknown) != 0 {
		t.Fatal("unknown tiers must have a zero allowance")
	}
	if SourceAllowed(unknown, SourceTBill) {
		t.Fatal("unknown tiers must not access any source")
	}
}
