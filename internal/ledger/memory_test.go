package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"exodusd/internal/protocol"
)

func TestUpdateCommitsAtomically(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Update(ctx, func(tx Tx) error {
		tx.StageConfig(&protocol.Config{Authority: "admin", Active: true})
		tx.StageYieldSource(&protocol.YieldSource{ID: "tbill", NavPerShare: 1_000_000, Active: true})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = m.View(ctx, func(tx Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		if cfg.Version != 1 {
			t.Fatalf("expected version 1 after first commit, got %d", cfg.Version)
		}
		src, err := tx.YieldSource("tbill")
		if err != nil {
			return err
		}
		if src.NavPerShare != 1_000_000 {
			t.Fatalf("unexpected nav %d", src.NavPerShare)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFailedUpdateLeavesNoTrace(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.Update(ctx, func(tx Tx) error {
		tx.StageConfig(&protocol.Config{Authority: "admin"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = m.View(ctx, func(tx Tx) error {
		_, err := tx.Config()
		return err
	})
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("config must not exist after failed update, got %v", err)
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Update(ctx, func(tx Tx) error {
		tx.StageConfig(&protocol.Config{Authority: "admin"})
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// Stage a config captured before a competing write bumped the version.
	stale := &protocol.Config{Authority: "admin", Version: 0}
	err := m.Update(ctx, func(tx Tx) error {
		tx.StageConfig(stale)
		return nil
	})
	if !errors.Is(err, protocol.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestRetryOnConflictRecomputes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Update(ctx, func(tx Tx) error {
		tx.StageConfig(&protocol.Config{Authority: "admin"})
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// First attempt stages a stale version, later attempts re-read.
	attempt := 0
	err := RetryOnConflict(ctx, m, 3, func(tx Tx) error {
		attempt++
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		if attempt == 1 {
			cfg.Version-- // simulate acting on a stale read
		}
		cfg.DepositNonce++
		tx.StageConfig(cfg)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempt != 2 {
		t.Fatalf("expected a single retry, got %d attempts", attempt)
	}
}

func TestDuplicateConversionRecordConflicts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := &protocol.ConversionRecord{Owner: "alice", Nonce: 1, USDCAmount: 10}
	if err := m.Update(ctx, func(tx Tx) error {
		tx.AppendConversionRecord(rec)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	err := m.Update(ctx, func(tx Tx) error {
		tx.AppendConversionRecord(rec)
		return nil
	})
	if !errors.Is(err, protocol.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict on duplicate nonce, got %v", err)
	}

	records, err := m.ConversionRecords(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
}

func TestSettleCandidates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	deposits := []*protocol.PendingDeposit{
		{Owner: "a", Nonce: 1, Status: protocol.StatusPending},
		{Owner: "a", Nonce: 2, Status: protocol.StatusConverted},
		{Owner: "b", Nonce: 3, Status: protocol.StatusConverting, ConvertingAt: now.Add(-time.Hour)},
		{Owner: "b", Nonce: 4, Status: protocol.StatusConverting, ConvertingAt: now},
		{Owner: "c", Nonce: 5, Status: protocol.StatusExpired},
	}
	if err := m.Update(ctx, func(tx Tx) error {
		for _, d := range deposits {
			tx.StagePendingDeposit(d)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// Nonce 1 is pending; nonce 3 holds a stale claim eligible for reclaim.
	got, err := m.SettleCandidates(ctx, now.Add(-time.Minute), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Nonce != 1 || got[1].Nonce != 3 {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}
