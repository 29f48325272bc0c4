// Package keeper implements the two background settlement loops: the
// conversion keeper that settles pending JPY deposits against the oracle
// rate, and the NAV accrual keeper that advances per-source NAV.
package keeper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"exodusd/internal/alerting"
	"exodusd/internal/ledger"
	"exodusd/internal/ledgermath"
	"exodusd/internal/oracle"
	"exodusd/internal/protocol"
)

// ConversionOptions tune the settlement cycle.
type ConversionOptions struct {
	// StalenessThreshold rejects oracle quotes older than this.
	StalenessThreshold time.Duration

	// LockTimeout is how long a Converting claim holds before another
	// cycle may reclaim it (crash recovery).
	LockTimeout time.Duration

	// BatchSize caps the deposits examined per cycle. Zero means no cap.
	BatchSize int
}

func (o ConversionOptions) withDefaults() ConversionOptions {
	if o.StalenessThreshold <= 0 {
		o.StalenessThreshold = 5 * time.Minute
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 10 * time.Minute
	}
	return o
}

// Conversion is the settlement keeper for pending JPY deposits.
type Conversion struct {
	ledger   ledger.Ledger
	oracle   oracle.Source
	notifier alerting.Notifier
	opts     ConversionOptions
	logger   zerolog.Logger
	now      func() time.Time
}

// NewConversion constructs the conversion keeper. notifier may be nil when
// ops alerting is not configured.
func NewConversion(l ledger.Ledger, src oracle.Source, notifier alerting.Notifier, opts ConversionOptions, logger zerolog.Logger) *Conversion {
	return &Conversion{
		ledger:   l,
		oracle:   src,
		notifier: notifier,
		opts:     opts.withDefaults(),
		logger:   logger.With().Str("component", "conversion_keeper").Logger(),
		now:      time.Now,
	}
}

// WithClock overrides the keeper clock.
func (k *Conversion) WithClock(now func() time.Time) *Conversion {
	k.now = now
	return k
}

// RunOnce executes one settlement cycle: read the oracle once, then attempt
// each candidate deposit in isolation. A deposit failure never aborts the
// cycle; an oracle failure does, since no deposit can settle without a rate.
func (k *Conversion) RunOnce(ctx context.Context) error {
	now := k.now().UTC()

	quote, err := k.oracle.JPYRate(ctx)
	if err != nil {
		return err
	}

	candidates, err := k.ledger.SettleCandidates(ctx, now.Add(-k.opts.LockTimeout), k.opts.BatchSize)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	var settled, expired, skipped int
	for _, dep := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch err := k.settleOne(ctx, dep, quote, now); {
		case err == nil:
			settled++
		case errors.Is(err, protocol.ErrExpired):
			expired++
		case errors.Is(err, protocol.ErrConcurrencyConflict),
			errors.Is(err, protocol.ErrStaleData),
			errors.Is(err, protocol.ErrSlippageExceeded):
			skipped++
			k.logger.Debug().Err(err).
				Str("owner", dep.Owner).
				Uint64("nonce", dep.Nonce).
				Msg("deposit left for a later cycle")
		default:
			skipped++
			k.logger.Error().Err(err).
				Str("owner", dep.Owner).
				Uint64("nonce", dep.Nonce).
				Msg("deposit settlement failed")
		}
	}

	k.logger.Info().
		Int("candidates", len(candidates)).
		Int("settled", settled).
		Int("expired", expired).
		Int("skipped", skipped).
		Uint64("rate", quote.Rate).
		Msg("conversion cycle complete")
	return nil
}

// settleOne drives a single deposit through claim, checks, and settlement.
func (k *Conversion) settleOne(ctx context.Context, dep protocol.PendingDeposit, quote oracle.Quote, now time.Time) error {
	claimed, err := k.claim(ctx, dep.Owner, dep.Nonce, now)
	if err != nil || claimed == nil {
		return err
	}
	dep = *claimed

	if dep.Expired(now) {
		return k.expire(ctx, dep)
	}

	if age := now.Sub(quote.UpdatedAt); age > k.opts.StalenessThreshold {
		if err := k.release(ctx, dep); err != nil {
			return err
		}
		return protocol.Stalef("oracle quote is %s old, threshold %s", age, k.opts.StalenessThreshold)
	}

	gross, err := ledgermath.ConvertJPYToUSDC(dep.JPYAmount, quote.Rate)
	if err != nil {
		return err
	}
	feeBps, err := k.conversionFeeBps(ctx)
	if err != nil {
		return err
	}
	fee, err := ledgermath.FeeOn(gross, feeBps)
	if err != nil {
		return err
	}
	net := gross - fee

	if net < dep.MinUSDCOut {
		if err := k.release(ctx, dep); err != nil {
			return err
		}
		k.alertSlippage(ctx, dep, quote, net, now)
		return protocol.Slippagef("net %d below floor %d for deposit %s/%d", net, dep.MinUSDCOut, dep.Owner, dep.Nonce)
	}

	return k.settle(ctx, dep, quote.Rate, net, fee, now)
}

// claim transitions the deposit to Converting. It returns nil without error
// when nothing is claimable: a terminal deposit, or a live claim held by a
// concurrent cycle.
func (k *Conversion) claim(ctx context.Context, owner string, nonce uint64, now time.Time) (*protocol.PendingDeposit, error) {
	var claimed *protocol.PendingDeposit
	err := k.ledger.Update(ctx, func(tx ledger.Tx) error {
		dep, err := tx.PendingDeposit(owner, nonce)
		if err != nil {
			return err
		}
		if dep.Status.Terminal() {
			claimed = nil
			return nil
		}
		if dep.Status == protocol.StatusConverting && !dep.ConvertingAt.Before(now.Add(-k.opts.LockTimeout)) {
			claimed = nil
			return nil
		}
		dep.Status = protocol.StatusConverting
		dep.ConvertingAt = now
		tx.StagePendingDeposit(dep)
		claimed = dep
		return nil
	})
	if err != nil {
		if errors.Is(err, protocol.ErrConcurrencyConflict) {
			// Another claimer won the race.
			return nil, nil
		}
		return nil, err
	}
	if claimed != nil {
		// Commit bumped the stored version.
		claimed.Version++
	}
	return claimed, nil
}

// release puts a claimed deposit back to Pending for a later cycle.
func (k *Conversion) release(ctx context.Context, dep protocol.PendingDeposit) error {
	return k.ledger.Update(ctx, func(tx ledger.Tx) error {
		cur, err := tx.PendingDeposit(dep.Owner, dep.Nonce)
		if err != nil {
			return err
		}
		if cur.Status != protocol.StatusConverting {
			return nil
		}
		cur.Status = protocol.StatusPending
		cur.ConvertingAt = time.Time{}
		tx.StagePendingDeposit(cur)
		return nil
	})
}

// expire marks the deposit Expired and refunds the deposit counters, the
// same unwinding a cancel performs. Returns ErrExpired for cycle accounting.
func (k *Conversion) expire(ctx context.Context, dep protocol.PendingDeposit) error {
	err := k.ledger.Update(ctx, func(tx ledger.Tx) error {
		cur, err := tx.PendingDeposit(dep.Owner, dep.Nonce)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return nil
		}
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		pos, err := tx.UserPosition(dep.Owner)
		if err != nil {
			return err
		}

		cur.Status = protocol.StatusExpired
		cfg.PendingJPYConversion -= min(cfg.PendingJPYConversion, cur.JPYAmount)
		pos.TotalDepositedJPY -= min(pos.TotalDepositedJPY, cur.JPYAmount)
		pos.MonthlyDepositedJPY -= min(pos.MonthlyDepositedJPY, cur.JPYAmount)

		tx.StagePendingDeposit(cur)
		tx.StageConfig(cfg)
		tx.StageUserPosition(pos)
		return nil
	})
	if err != nil {
		return err
	}

	k.logger.Warn().
		Str("owner", dep.Owner).
		Uint64("nonce", dep.Nonce).
		Uint64("amount_jpy", dep.JPYAmount).
		Msg("pending deposit expired unsettled")
	return protocol.Expiredf("deposit %s/%d expired at %s", dep.Owner, dep.Nonce, dep.ExpiresAt.UTC().Format(time.RFC3339))
}

// settle finalizes the conversion: terminal status, share mint, receipt, and
// aggregate updates, all in one atomic commit.
func (k *Conversion) settle(ctx context.Context, dep protocol.PendingDeposit, rate, net, fee uint64, now time.Time) error {
	err := k.ledger.Update(ctx, func(tx ledger.Tx) error {
		cur, err := tx.PendingDeposit(dep.Owner, dep.Nonce)
		if err != nil {
			return err
		}
		if cur.Status != protocol.StatusConverting {
			// Another cycle finished (or unwound) this deposit first.
			return nil
		}
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		src, err := tx.YieldSource(cur.SourceID)
		if err != nil {
			return err
		}
		pos, err := tx.UserPosition(cur.Owner)
		if err != nil {
			return err
		}

		shares, err := ledgermath.Shares(net, src.NavPerShare)
		if err != nil {
			return err
		}
		avgRate, err := ledgermath.WeightedRate(pos.AvgConversionRate, pos.TotalDepositedUSDC, rate, net)
		if err != nil {
			return err
		}

		cur.Status = protocol.StatusConverted
		cur.ConversionRate = rate
		cur.USDCReceived = net
		cur.FeePaid = fee

		pos.CurrentShares += shares
		pos.TotalDepositedUSDC += net
		pos.AvgConversionRate = avgRate

		src.TotalDeposited += net
		src.TotalShares += shares
		cfg.TotalDepositsUSDC += net
		cfg.PendingJPYConversion -= min(cfg.PendingJPYConversion, cur.JPYAmount)

		tx.StagePendingDeposit(cur)
		tx.StageUserPosition(pos)
		tx.StageYieldSource(src)
		tx.StageConfig(cfg)
		tx.AppendConversionRecord(&protocol.ConversionRecord{
			Owner:        cur.Owner,
			JPYAmount:    cur.JPYAmount,
			USDCAmount:   net,
			ExchangeRate: rate,
			FeeAmount:    fee,
			Direction:    protocol.JPYToUSDC,
			Timestamp:    now,
			Nonce:        cur.Nonce,
		})
		return nil
	})
	if err != nil {
		return err
	}

	k.logger.Info().
		Str("owner", dep.Owner).
		Uint64("nonce", dep.Nonce).
		Uint64("amount_jpy", dep.JPYAmount).
		Uint64("net_usdc", net).
		Uint64("fee_usdc", fee).
		Uint64("rate", rate).
		Msg("deposit converted")
	return nil
}

func (k *Conversion) conversionFeeBps(ctx context.Context) (uint16, error) {
	var bps uint16
	err := k.ledger.View(ctx, func(tx ledger.Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		bps = cfg.ConversionFeeBps
		return nil
	})
	return bps, err
}

func (k *Conversion) alertSlippage(ctx context.Context, dep protocol.PendingDeposit, quote oracle.Quote, net uint64, now time.Time) {
	if k.notifier == nil {
		return
	}
	err := k.notifier.Notify(ctx, alerting.Notification{
		Owner:      dep.Owner,
		Nonce:      dep.Nonce,
		SourceID:   dep.SourceID,
		JPYAmount:  dep.JPYAmount,
		QuotedRate: quote.Rate,
		NetUSDCOut: net,
		MinUSDCOut: dep.MinUSDCOut,
		ExpiresAt:  dep.ExpiresAt,
		Reason:     "slippage floor not met",
		ObservedAt: now,
	})
	if err != nil {
		k.logger.Error().Err(err).
			Str("owner", dep.Owner).
			Uint64("nonce", dep.Nonce).
			Msg("slippage alert delivery failed")
	}
}
