package pipeline

import (
	"context"

	"exodusd/internal/ledger"
	"exodusd/internal/ledgermath"
	"exodusd/internal/protocol"
)

// Withdraw burns shares at the source's current NAV and returns the USDC
// value paid out. Payout in JPY is reserved and rejected until the reverse
// conversion path ships.
func (p *Pipeline) Withdraw(ctx context.Context, owner, sourceID string, shares uint64, asJPY bool) (uint64, error) {
	if owner == "" {
		return 0, protocol.Validationf("owner must not be empty")
	}
	if shares == 0 {
		return 0, protocol.Validationf("share amount must be positive")
	}
	if asJPY {
		return 0, protocol.Validationf("jpy payout is not supported yet")
	}

	now := p.now().UTC()
	var value uint64
	err := ledger.RetryOnConflict(ctx, p.ledger, retryAttempts, func(tx ledger.Tx) error {
		cfg, err := requireActive(tx)
		if err != nil {
			return err
		}
		src, err := tx.YieldSource(sourceID)
		if err != nil {
			return err
		}
		pos, err := tx.UserPosition(owner)
		if err != nil {
			return err
		}
		if pos.CurrentShares < shares {
			return protocol.Validationf("withdrawal of %d shares exceeds balance %d", shares, pos.CurrentShares)
		}

		value, err = ledgermath.ValueFromShares(shares, src.NavPerShare)
		if err != nil {
			return err
		}

		pos.CurrentShares -= shares
		pos.TotalDepositedUSDC -= min(pos.TotalDepositedUSDC, value)
		pos.WithdrawalCount++
		pos.LastWithdrawalAt = now

		src.TotalShares -= min(src.TotalShares, shares)
		src.TotalDeposited -= min(src.TotalDeposited, value)
		cfg.TotalDepositsUSDC -= min(cfg.TotalDepositsUSDC, value)

		tx.StageUserPosition(pos)
		tx.StageYieldSource(src)
		tx.StageConfig(cfg)
		return nil
	})
	if err != nil {
		return 0, err
	}

	p.logger.Info().
		Str("owner", owner).
		Str("source", sourceID).
		Uint64("shares", shares).
		Uint64("value_usdc", value).
		Msg("withdrawal settled")
	return value, nil
}

// ClaimYield realizes the value of the position above its cost basis. The
// performance fee is taken from the realized amount; shares covering the full
// gross yield are burned so the remaining position is worth the cost basis
// again. Returns the net amount credited.
func (p *Pipeline) ClaimYield(ctx context.Context, owner, sourceID string) (uint64, error) {
	if owner == "" {
		return 0, protocol.Validationf("owner must not be empty")
	}

	now := p.now().UTC()
	var net uint64
	err := ledger.RetryOnConflict(ctx, p.ledger, retryAttempts, func(tx ledger.Tx) error {
		cfg, err := requireActive(tx)
		if err != nil {
			return err
		}
		src, err := tx.YieldSource(sourceID)
		if err != nil {
			return err
		}
		pos, err := tx.UserPosition(owner)
		if err != nil {
			return err
		}

		value, err := ledgermath.ValueFromShares(pos.CurrentShares, src.NavPerShare)
		if err != nil {
			return err
		}
		if value <= pos.TotalDepositedUSDC {
			return protocol.Validationf("no yield to claim for %s on source %q", owner, sourceID)
		}
		gross := value - pos.TotalDepositedUSDC

		burned, err := ledgermath.Shares(gross, src.NavPerShare)
		if err != nil {
			return err
		}
		// Dust below the value of one share stays in the position.
		if burned == 0 {
			return protocol.Validationf("no yield to claim for %s on source %q", owner, sourceID)
		}
		fee, err := ledgermath.FeeOn(gross, cfg.PerformanceFeeBps)
		if err != nil {
			return err
		}
		net = gross - fee

		pos.CurrentShares -= min(pos.CurrentShares, burned)
		pos.RealizedYieldUSDC += net
		pos.LastWithdrawalAt = now
		src.TotalShares -= min(src.TotalShares, burned)
		cfg.TotalYieldEarned += gross

		tx.StageUserPosition(pos)
		tx.StageYieldSource(src)
		tx.StageConfig(cfg)
		return nil
	})
	if err != nil {
		return 0, err
	}

	p.logger.Info().
		Str("owner", owner).
		Str("source", sourceID).
		Uint64("net_usdc", net).
		Msg("yield claimed")
	return net, nil
}
