package ledgermath

import (
	"errors"
	"testing"
)

func TestSharesZeroNav(t *testing.T) {
	if _, err := Shares(1_000_000, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestSharesAtParity(t *testing.T) {
	shares, err := Shares(5_000_000, NavScale)
	if err != nil {
		t.Fatal(err)
	}
	if shares != 5_000_000 {
		t.Fatalf("expected 5_000_000 shares at 1.0 NAV, got %d", shares)
	}
}

func TestRoundTripNeverGainsValue(t *testing.T) {
	amounts := []uint64{0, 1, 7, 999_999, 1_000_000, 1_000_001, 3_333_333, 1 << 40}
	navs := []uint64{1, 999_999, 1_000_000, 1_050_000, 2_000_000, 155_000_000}

	for _, amount := range amounts {
		for _, nav := range navs {
			shares, err := Shares(amount, nav)
			if err != nil {
				t.Fatalf("Shares(%d, %d): %v", amount, nav, err)
			}
			back, err := ValueFromShares(shares, nav)
			if err != nil {
				t.Fatalf("ValueFromShares(%d, %d): %v", shares, nav, err)
			}
			if back > amount {
				t.Fatalf("round trip fabricated value: %d -> %d shares -> %d (nav %d)", amount, shares, back, nav)
			}
		}
	}
}

func TestUnrealizedYieldNegative(t *testing.T) {
	// 1000 shares at NAV 0.9 against a cost basis of 1000: a 100-unit loss.
	y, err := UnrealizedYield(1_000_000_000, 900_000, 1_000_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if y != -100_000_000 {
		t.Fatalf("expected -100_000_000, got %d", y)
	}
}

func TestProjectedYieldSimpleInterest(t *testing.T) {
	// $10,000 at 4.50% for 365 days = $450 exactly.
	got, err := ProjectedYield(10_000_000_000, 450, 365)
	if err != nil {
		t.Fatal(err)
	}
	if got != 450_000_000 {
		t.Fatalf("expected 450_000_000, got %d", got)
	}
}

func TestAccrueNavMonotonic(t *testing.T) {
	nav := uint64(NavScale)
	for i := 0; i < 1000; i++ {
		next, err := AccrueNav(nav, 450, 3600)
		if err != nil {
			t.Fatal(err)
		}
		if next < nav {
			t.Fatalf("NAV decreased from %d to %d at iteration %d", nav, next, i)
		}
		nav = next
	}
	if nav == NavScale {
		t.Fatal("NAV never advanced over 1000 hourly accruals at 4.50% APY")
	}
}

func TestAccrueNavZeroElapsed(t *testing.T) {
	nav, err := AccrueNav(1_234_567, 450, 0)
	if err != nil {
		t.Fatal(err)
	}
	if nav != 1_234_567 {
		t.Fatalf("zero elapsed must not change NAV, got %d", nav)
	}
}

func TestAccrueNavFullYear(t *testing.T) {
	// One full year in a single interval at 5.00% is exactly +5% linear.
	nav, err := AccrueNav(NavScale, 500, SecondsPerYear)
	if err != nil {
		t.Fatal(err)
	}
	if nav != 1_050_000 {
		t.Fatalf("expected 1_050_000, got %d", nav)
	}
}

func TestConversionFeeTruncation(t *testing.T) {
	// ¥1,000,000 (minor units 1_000_000_000_000) at 155.0 JPY/USD with a
	// 30 bps conversion fee. Gross = 6_451_612_903 ($6,451.612903); the fee
	// is exactly 0.30% of gross, truncated.
	gross, err := ConvertJPYToUSDC(1_000_000_000_000, 155_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if gross != 6_451_612_903 {
		t.Fatalf("expected gross 6_451_612_903, got %d", gross)
	}
	fee, err := FeeOn(gross, 30)
	if err != nil {
		t.Fatal(err)
	}
	if fee != 19_354_838 {
		t.Fatalf("expected fee 19_354_838 (truncated, not rounded), got %d", fee)
	}
	net := gross - fee
	if net != 6_432_258_065 {
		t.Fatalf("expected net 6_432_258_065, got %d", net)
	}
}

func TestConvertZeroRate(t *testing.T) {
	if _, err := ConvertJPYToUSDC(1, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMulDivOverflow(t *testing.T) {
	if _, err := mulDiv(1<<63, 1<<63, 2); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestWeightedRate(t *testing.T) {
	// First observation: no prior weight, rate passes through.
	r, err := WeightedRate(0, 0, 155_000_000, 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if r != 155_000_000 {
		t.Fatalf("expected first rate to pass through, got %d", r)
	}

	// Equal weights average the two rates.
	r, err = WeightedRate(150_000_000, 1_000_000, 160_000_000, 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if r != 155_000_000 {
		t.Fatalf("expected 155_000_000, got %d", r)
	}
}
