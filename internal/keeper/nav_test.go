package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"exodusd/internal/ledger"
	"exodusd/internal/ledgermath"
	"exodusd/internal/protocol"
	"exodusd/internal/tier"
)

func seedSource(t *testing.T, l *ledger.Memory, id string, apyBps uint16, active bool, at time.Time) {
	t.Helper()
	err := l.Update(context.Background(), func(tx ledger.Tx) error {
		tx.StageYieldSource(&protocol.YieldSource{
			ID:            id,
			Name:          id,
			Type:          tier.SourceTBill,
			CurrentAPYBps: apyBps,
			Active:        active,
			LastNavUpdate: at,
			NavPerShare:   ledgermath.NavScale,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed source: %v", err)
	}
}

func readSource(t *testing.T, l *ledger.Memory, id string) protocol.YieldSource {
	t.Helper()
	var out protocol.YieldSource
	err := l.View(context.Background(), func(tx ledger.Tx) error {
		src, err := tx.YieldSource(id)
		if err != nil {
			return err
		}
		out = *src
		return nil
	})
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	return out
}

func TestNavAccrualAdvancesNav(t *testing.T) {
	l := ledger.NewMemory()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seedSource(t, l, "tbill-3m", 500, true, start)

	now := start.Add(365 * 24 * time.Hour)
	k := NewNavAccrual(l, zerolog.Nop()).WithClock(func() time.Time { return now })

	if err := k.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	src := readSource(t, l, "tbill-3m")
	// One full year at 500 bps from par.
	if src.NavPerShare != 1_050_000 {
		t.Fatalf("expected nav 1050000, got %d", src.NavPerShare)
	}
	if !src.LastNavUpdate.Equal(now) {
		t.Fatalf("expected last update stamped %v, got %v", now, src.LastNavUpdate)
	}

	samples, err := l.NavSamples(context.Background(), "tbill-3m", start, now.Add(time.Second))
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(samples) != 1 || samples[0].NavPerShare != 1_050_000 {
		t.Fatalf("expected one sample at 1050000, got %+v", samples)
	}
}

func TestNavAccrualSkipsInactiveAndZeroAPY(t *testing.T) {
	l := ledger.NewMemory()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seedSource(t, l, "inactive", 500, false, start)
	seedSource(t, l, "zero-apy", 0, true, start)

	now := start.Add(24 * time.Hour)
	k := NewNavAccrual(l, zerolog.Nop()).WithClock(func() time.Time { return now })

	if err := k.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, id := range []string{"inactive", "zero-apy"} {
		if src := readSource(t, l, id); src.NavPerShare != ledgermath.NavScale {
			t.Errorf("%s: nav should stay at par, got %d", id, src.NavPerShare)
		}
	}
}

func TestNavAccrualCatchesUpAfterMissedCycles(t *testing.T) {
	l := ledger.NewMemory()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seedSource(t, l, "tbill-3m", 500, true, start)

	clock := start
	k := NewNavAccrual(l, zerolog.Nop()).WithClock(func() time.Time { return clock })

	// Hourly cycles for half a year, then a gap covering the rest.
	for i := 0; i < 12; i++ {
		clock = clock.Add(time.Hour)
		if err := k.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	steady := readSource(t, l, "tbill-3m").NavPerShare

	clock = start.Add(365 * 24 * time.Hour)
	if err := k.RunOnce(context.Background()); err != nil {
		t.Fatalf("catch-up run: %v", err)
	}
	final := readSource(t, l, "tbill-3m").NavPerShare

	if final <= steady {
		t.Fatalf("catch-up accrual should advance nav, got %d after %d", final, steady)
	}
	// Compounding across intervals makes the stepped path land at or above
	// the single-step linear year.
	if final < 1_050_000 {
		t.Fatalf("expected at least the linear year accrual, got %d", final)
	}
}
