package keeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"exodusd/internal/alerting"
	"exodusd/internal/identity"
	"exodusd/internal/ledger"
	"exodusd/internal/oracle"
	"exodusd/internal/pipeline"
	"exodusd/internal/protocol"
	"exodusd/internal/tier"
)

var keeperStart = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

type keeperFixture struct {
	ledger   *ledger.Memory
	pipeline *pipeline.Pipeline
	oracle   *oracle.Static
	notifier *recordingNotifier
	keeper   *Conversion
	now      time.Time
}

func newKeeperFixture(t *testing.T) *keeperFixture {
	t.Helper()
	f := &keeperFixture{
		ledger:   ledger.NewMemory(),
		notifier: &recordingNotifier{},
		now:      keeperStart,
	}
	clock := func() time.Time { return f.now }

	reg := identity.NewStaticRegistry(
		identity.Record{Owner: "alice", Verified: true, Level: tier.Silver, Jurisdiction: 392},
	)
	f.pipeline = pipeline.New(f.ledger, reg, zerolog.Nop()).WithClock(clock)

	ctx := context.Background()
	if err := f.pipeline.Initialize(ctx, pipeline.InitializeParams{
		Authority:        "authority",
		ConversionFeeBps: 30,
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := f.pipeline.RegisterYieldSource(ctx, "authority", pipeline.SourceParams{
		ID:   "tbill-3m",
		Name: "3-month T-bill ladder",
		Type: tier.SourceTBill,
	}); err != nil {
		t.Fatalf("register source: %v", err)
	}

	f.oracle = oracle.NewStatic(155_000_000, keeperStart)
	f.keeper = NewConversion(f.ledger, f.oracle, f.notifier, ConversionOptions{
		StalenessThreshold: 5 * time.Minute,
		LockTimeout:        10 * time.Minute,
	}, zerolog.Nop()).WithClock(clock)
	return f
}

func (f *keeperFixture) depositJPY(t *testing.T, amount, minOut uint64) uint64 {
	t.Helper()
	nonce, err := f.pipeline.DepositJPY(context.Background(), "alice", "tbill-3m", amount, minOut)
	if err != nil {
		t.Fatalf("deposit jpy: %v", err)
	}
	return nonce
}

func (f *keeperFixture) deposit(t *testing.T, nonce uint64) protocol.PendingDeposit {
	t.Helper()
	var dep protocol.PendingDeposit
	err := f.ledger.View(context.Background(), func(tx ledger.Tx) error {
		d, err := tx.PendingDeposit("alice", nonce)
		if err != nil {
			return err
		}
		dep = *d
		return nil
	})
	if err != nil {
		t.Fatalf("read deposit: %v", err)
	}
	return dep
}

func TestConversionSettlesPendingDeposit(t *testing.T) {
	f := newKeeperFixture(t)
	ctx := context.Background()

	// ¥1,000,000 at 155.0 with a 30 bps fee.
	nonce := f.depositJPY(t, 1_000_000_000_000, 0)
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	dep := f.deposit(t, nonce)
	if dep.Status != protocol.StatusConverted {
		t.Fatalf("expected converted, got %s", dep.Status)
	}
	if dep.USDCReceived != 6_432_258_065 {
		t.Fatalf("expected net 6432258065, got %d", dep.USDCReceived)
	}
	if dep.FeePaid != 19_354_838 {
		t.Fatalf("expected fee 19354838, got %d", dep.FeePaid)
	}
	if dep.ConversionRate != 155_000_000 {
		t.Fatalf("expected rate 155000000, got %d", dep.ConversionRate)
	}

	records, err := f.ledger.ConversionRecords(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 conversion record, got %d", len(records))
	}
	if records[0].Nonce != nonce || records[0].USDCAmount != 6_432_258_065 {
		t.Fatalf("unexpected record %+v", records[0])
	}

	summary, err := f.pipeline.Summary(ctx, "alice", "tbill-3m")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	// Par NAV mints shares 1:1 against the net amount.
	if summary.Position.CurrentShares != 6_432_258_065 {
		t.Fatalf("expected 6432258065 shares, got %d", summary.Position.CurrentShares)
	}
	if summary.Position.AvgConversionRate != 155_000_000 {
		t.Fatalf("expected avg rate 155000000, got %d", summary.Position.AvgConversionRate)
	}

	cfg, err := f.pipeline.ProtocolConfig(ctx)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.PendingJPYConversion != 0 {
		t.Fatalf("expected pending jpy drained, got %d", cfg.PendingJPYConversion)
	}
	if cfg.TotalDepositsUSDC != 6_432_258_065 {
		t.Fatalf("expected protocol total 6432258065, got %d", cfg.TotalDepositsUSDC)
	}
}

func TestConversionIsIdempotent(t *testing.T) {
	f := newKeeperFixture(t)
	ctx := context.Background()

	nonce := f.depositJPY(t, 1_000_000_000_000, 0)
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	after := f.deposit(t, nonce)
	shares := positionShares(t, f)

	// A second cycle finds no candidates and changes nothing.
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := f.deposit(t, nonce); got != after {
		t.Fatalf("terminal deposit mutated: %+v vs %+v", got, after)
	}
	if got := positionShares(t, f); got != shares {
		t.Fatalf("shares changed on re-run: %d vs %d", got, shares)
	}
	records, err := f.ledger.ConversionRecords(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 record after re-run, got %d", len(records))
	}
}

func TestConcurrentKeepersSettleOnce(t *testing.T) {
	f := newKeeperFixture(t)
	ctx := context.Background()

	second := NewConversion(f.ledger, f.oracle, nil, ConversionOptions{
		StalenessThreshold: 5 * time.Minute,
		LockTimeout:        10 * time.Minute,
	}, zerolog.Nop()).WithClock(func() time.Time { return f.now })

	nonce := f.depositJPY(t, 1_000_000_000_000, 0)

	var wg sync.WaitGroup
	for _, k := range []*Conversion{f.keeper, second} {
		wg.Add(1)
		go func(k *Conversion) {
			defer wg.Done()
			_ = k.RunOnce(ctx)
		}(k)
	}
	wg.Wait()

	dep := f.deposit(t, nonce)
	if dep.Status != protocol.StatusConverted {
		t.Fatalf("expected converted, got %s", dep.Status)
	}
	records, err := f.ledger.ConversionRecords(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected a single record from racing keepers, got %d", len(records))
	}
	if got := positionShares(t, f); got != 6_432_258_065 {
		t.Fatalf("expected a single mint of 6432258065 shares, got %d", got)
	}
}

func TestExpiredDepositNeverConverts(t *testing.T) {
	f := newKeeperFixture(t)
	ctx := context.Background()

	nonce := f.depositJPY(t, 500_000_000_000, 0)

	// Cross the 24h deadline, keep the oracle fresh.
	f.now = f.now.Add(protocol.PendingDepositExpiry + time.Minute)
	f.oracle.Set(155_000_000, f.now)

	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	dep := f.deposit(t, nonce)
	if dep.Status != protocol.StatusExpired {
		t.Fatalf("expected expired, got %s", dep.Status)
	}
	if dep.USDCReceived != 0 {
		t.Fatalf("expired deposit must not settle, got %d usdc", dep.USDCReceived)
	}

	cfg, err := f.pipeline.ProtocolConfig(ctx)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.PendingJPYConversion != 0 {
		t.Fatalf("expected pending jpy refunded, got %d", cfg.PendingJPYConversion)
	}

	// Later cycles leave the terminal state alone.
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := f.deposit(t, nonce); got.Status != protocol.StatusExpired {
		t.Fatalf("terminal status changed to %s", got.Status)
	}
}

func TestStaleOracleSkipsSettlement(t *testing.T) {
	f := newKeeperFixture(t)
	ctx := context.Background()

	nonce := f.depositJPY(t, 500_000_000_000, 0)

	// Advance past the staleness threshold without a fresh quote.
	f.now = f.now.Add(6 * time.Minute)

	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	dep := f.deposit(t, nonce)
	if dep.Status != protocol.StatusPending {
		t.Fatalf("expected deposit released to pending, got %s", dep.Status)
	}

	// A fresh quote settles it on the next cycle.
	f.oracle.Set(155_000_000, f.now)
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := f.deposit(t, nonce); got.Status != protocol.StatusConverted {
		t.Fatalf("expected converted after fresh quote, got %s", got.Status)
	}
}

func TestSlippageFloorParksDepositAndAlerts(t *testing.T) {
	f := newKeeperFixture(t)
	ctx := context.Background()

	// Floor above the achievable net at 155.0.
	nonce := f.depositJPY(t, 1_000_000_000_000, 6_500_000_000)

	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	dep := f.deposit(t, nonce)
	if dep.Status != protocol.StatusPending {
		t.Fatalf("expected deposit parked as pending, got %s", dep.Status)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected 1 ops alert, got %d", f.notifier.count())
	}

	// A stronger yen clears the floor: 150.0 nets 6646666666.
	f.oracle.Set(150_000_000, f.now)
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := f.deposit(t, nonce); got.Status != protocol.StatusConverted {
		t.Fatalf("expected converted after rate recovery, got %s", got.Status)
	}
}

func TestStaleConvertingClaimIsReclaimed(t *testing.T) {
	f := newKeeperFixture(t)
	ctx := context.Background()

	nonce := f.depositJPY(t, 500_000_000_000, 0)

	// Simulate a crashed keeper holding a Converting claim.
	err := f.ledger.Update(ctx, func(tx ledger.Tx) error {
		dep, err := tx.PendingDeposit("alice", nonce)
		if err != nil {
			return err
		}
		dep.Status = protocol.StatusConverting
		dep.ConvertingAt = f.now
		tx.StagePendingDeposit(dep)
		return nil
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Inside the lock timeout the claim is honored.
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.deposit(t, nonce); got.Status != protocol.StatusConverting {
		t.Fatalf("live claim should be left alone, got %s", got.Status)
	}

	// Past the timeout the deposit is reclaimed and settled.
	f.now = f.now.Add(11 * time.Minute)
	f.oracle.Set(155_000_000, f.now)
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := f.deposit(t, nonce); got.Status != protocol.StatusConverted {
		t.Fatalf("expected reclaimed deposit converted, got %s", got.Status)
	}
}

func TestWeightedAverageEntryRate(t *testing.T) {
	f := newKeeperFixture(t)
	ctx := context.Background()

	f.depositJPY(t, 1_000_000_000_000, 0)
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	f.now = f.now.Add(time.Hour)
	f.oracle.Set(150_000_000, f.now)
	f.depositJPY(t, 1_000_000_000_000, 0)
	if err := f.keeper.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	summary, err := f.pipeline.Summary(ctx, "alice", "tbill-3m")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	avg := summary.Position.AvgConversionRate
	// The second conversion nets more USDC, so the average sits between the
	// two rates, below the midpoint.
	if avg <= 150_000_000 || avg >= 155_000_000 {
		t.Fatalf("expected average strictly between the entry rates, got %d", avg)
	}
	if avg >= 152_500_000 {
		t.Fatalf("expected usdc-weighted average below the midpoint, got %d", avg)
	}
}

func positionShares(t *testing.T, f *keeperFixture) uint64 {
	t.Helper()
	summary, err := f.pipeline.Summary(context.Background(), "alice", "tbill-3m")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	return summary.Position.CurrentShares
}
