package keeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"exodusd/internal/ledger"
	"exodusd/internal/ledgermath"
	"exodusd/internal/protocol"
)

// NavAccrual advances every active source's NAV linearly over the time since
// its last update. A missed cycle is harmless: the elapsed time is
// cumulative, so the next cycle accrues the full gap.
type NavAccrual struct {
	ledger ledger.Ledger
	logger zerolog.Logger
	now    func() time.Time
}

// NewNavAccrual constructs the NAV accrual keeper.
func NewNavAccrual(l ledger.Ledger, logger zerolog.Logger) *NavAccrual {
	return &NavAccrual{
		ledger: l,
		logger: logger.With().Str("component", "nav_keeper").Logger(),
		now:    time.Now,
	}
}

// WithClock overrides the keeper clock.
func (k *NavAccrual) WithClock(now func() time.Time) *NavAccrual {
	k.now = now
	return k
}

// RunOnce accrues every active source once. Per-source failures are logged
// and the cycle continues.
func (k *NavAccrual) RunOnce(ctx context.Context) error {
	now := k.now().UTC()

	sources, err := k.ledger.YieldSources(ctx)
	if err != nil {
		return err
	}

	var accrued int
	for _, src := range sources {
		if !src.Active || src.CurrentAPYBps == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := k.accrueSource(ctx, src.ID, now); err != nil {
			k.logger.Error().Err(err).Str("source", src.ID).Msg("nav accrual failed")
			continue
		}
		accrued++
	}

	k.logger.Debug().Int("sources", len(sources)).Int("accrued", accrued).Msg("nav cycle complete")
	return nil
}

func (k *NavAccrual) accrueSource(ctx context.Context, sourceID string, now time.Time) error {
	return ledger.RetryOnConflict(ctx, k.ledger, 3, func(tx ledger.Tx) error {
		src, err := tx.YieldSource(sourceID)
		if err != nil {
			return err
		}
		elapsed := int64(now.Sub(src.LastNavUpdate) / time.Second)
		if elapsed <= 0 {
			return nil
		}

		next, err := ledgermath.AccrueNav(src.NavPerShare, src.CurrentAPYBps, elapsed)
		if err != nil {
			return err
		}
		src.NavPerShare = next
		src.LastNavUpdate = now

		tx.StageYieldSource(src)
		tx.AppendNavSample(&protocol.NavSample{
			SourceID:    src.ID,
			NavPerShare: next,
			APYBps:      src.CurrentAPYBps,
			SampledAt:   now,
		})
		return nil
	})
}
