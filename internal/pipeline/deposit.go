package pipeline

import (
	"context"
	"errors"
	"time"

	"exodusd/internal/identity"
	"exodusd/internal/ledger"
	"exodusd/internal/ledgermath"
	"exodusd/internal/protocol"
	"exodusd/internal/tier"
)

// DepositUSDC executes the direct deposit path: shares are minted
// synchronously at the source's current NAV. Returns the minted share count.
func (p *Pipeline) DepositUSDC(ctx context.Context, owner, sourceID string, amount uint64) (uint64, error) {
	if owner == "" {
		return 0, protocol.Validationf("owner must not be empty")
	}
	if amount == 0 {
		return 0, protocol.Validationf("deposit amount must be positive")
	}

	now := p.now().UTC()
	level, err := identity.CheckDepositEligibility(ctx, p.registry, owner, now)
	if err != nil {
		return 0, err
	}

	var minted uint64
	err = ledger.RetryOnConflict(ctx, p.ledger, retryAttempts, func(tx ledger.Tx) error {
		cfg, err := requireActive(tx)
		if err != nil {
			return err
		}
		src, err := depositableSource(tx, sourceID, level, amount)
		if err != nil {
			return err
		}

		pos := loadOrCreatePosition(tx, owner, now)
		pos.Tier = level
		pos.RollMonthlyWindow(now)
		if !tier.DepositAllowed(tier.MonthlyUSDCLimit(level), pos.MonthlyDepositedUSDC, amount) {
			return protocol.Policyf("usdc deposit of %d exceeds monthly allowance for tier %s", amount, level)
		}

		shares, err := ledgermath.Shares(amount, src.NavPerShare)
		if err != nil {
			return err
		}
		if shares == 0 {
			return protocol.Validationf("deposit of %d mints zero shares at nav %d", amount, src.NavPerShare)
		}

		pos.CurrentShares += shares
		pos.TotalDepositedUSDC += amount
		pos.MonthlyDepositedUSDC += amount
		pos.DepositCount++
		pos.LastDepositAt = now

		src.TotalDeposited += amount
		src.TotalShares += shares
		cfg.TotalDepositsUSDC += amount

		tx.StageUserPosition(pos)
		tx.StageYieldSource(src)
		tx.StageConfig(cfg)
		minted = shares
		return nil
	})
	if err != nil {
		return 0, err
	}

	p.logger.Info().
		Str("owner", owner).
		Str("source", sourceID).
		Uint64("amount_usdc", amount).
		Uint64("shares", minted).
		Msg("usdc deposit settled")
	return minted, nil
}

// DepositJPY executes the indirect deposit path: the JPY amount is parked as
// a PendingDeposit and settled later by the conversion keeper. Returns the
// nonce identifying the pending deposit.
func (p *Pipeline) DepositJPY(ctx context.Context, owner, sourceID string, amount, minUSDCOut uint64) (uint64, error) {
	if owner == "" {
		return 0, protocol.Validationf("owner must not be empty")
	}
	if amount == 0 {
		return 0, protocol.Validationf("deposit amount must be positive")
	}

	now := p.now().UTC()
	level, err := identity.CheckDepositEligibility(ctx, p.registry, owner, now)
	if err != nil {
		return 0, err
	}

	var nonce uint64
	err = ledger.RetryOnConflict(ctx, p.ledger, retryAttempts, func(tx ledger.Tx) error {
		cfg, err := requireActive(tx)
		if err != nil {
			return err
		}
		if _, err := depositableSource(tx, sourceID, level, 0); err != nil {
			return err
		}

		pos := loadOrCreatePosition(tx, owner, now)
		pos.Tier = level
		pos.RollMonthlyWindow(now)
		if !tier.DepositAllowed(tier.MonthlyJPYLimit(level), pos.MonthlyDepositedJPY, amount) {
			return protocol.Policyf("jpy deposit of %d exceeds monthly allowance for tier %s", amount, level)
		}

		nonce = cfg.DepositNonce
		cfg.DepositNonce++
		cfg.PendingJPYConversion += amount

		pos.TotalDepositedJPY += amount
		pos.MonthlyDepositedJPY += amount
		pos.DepositCount++
		pos.DepositNonce = nonce
		pos.LastDepositAt = now

		tx.StagePendingDeposit(&protocol.PendingDeposit{
			Owner:       owner,
			SourceID:    sourceID,
			JPYAmount:   amount,
			MinUSDCOut:  minUSDCOut,
			DepositedAt: now,
			ExpiresAt:   now.Add(protocol.PendingDepositExpiry),
			Status:      protocol.StatusPending,
			Nonce:       nonce,
		})
		tx.StageUserPosition(pos)
		tx.StageConfig(cfg)
		return nil
	})
	if err != nil {
		return 0, err
	}

	p.logger.Info().
		Str("owner", owner).
		Str("source", sourceID).
		Uint64("amount_jpy", amount).
		Uint64("nonce", nonce).
		Msg("jpy deposit pending conversion")
	return nonce, nil
}

// CancelDeposit transitions a Pending deposit to Cancelled and refunds the
// deposit counters. Only the owner may cancel, and only before the keeper
// claims the deposit.
func (p *Pipeline) CancelDeposit(ctx context.Context, owner string, nonce uint64) error {
	err := ledger.RetryOnConflict(ctx, p.ledger, retryAttempts, func(tx ledger.Tx) error {
		dep, err := tx.PendingDeposit(owner, nonce)
		if err != nil {
			return err
		}
		if dep.Status != protocol.StatusPending {
			return protocol.Validationf("deposit %s/%d is %s, only pending deposits can be cancelled", owner, nonce, dep.Status)
		}

		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		pos, err := tx.UserPosition(owner)
		if err != nil {
			return err
		}

		dep.Status = protocol.StatusCancelled
		cfg.PendingJPYConversion -= min(cfg.PendingJPYConversion, dep.JPYAmount)
		pos.TotalDepositedJPY -= min(pos.TotalDepositedJPY, dep.JPYAmount)
		pos.MonthlyDepositedJPY -= min(pos.MonthlyDepositedJPY, dep.JPYAmount)

		tx.StagePendingDeposit(dep)
		tx.StageConfig(cfg)
		tx.StageUserPosition(pos)
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Info().Str("owner", owner).Uint64("nonce", nonce).Msg("pending deposit cancelled")
	return nil
}

// depositableSource loads a source and applies the gates common to both
// deposit paths. amount is the USDC amount for min/max checks, zero for the
// JPY path where the converted amount is unknown until settlement.
func depositableSource(tx ledger.Tx, sourceID string, level tier.Tier, amount uint64) (*protocol.YieldSource, error) {
	src, err := tx.YieldSource(sourceID)
	if err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			return nil, protocol.Validationf("yield source %q is not registered", sourceID)
		}
		return nil, err
	}
	if !src.Active {
		return nil, protocol.Policyf("yield source %q is inactive", sourceID)
	}
	if !tier.SourceAllowed(level, src.Type) {
		return nil, protocol.Policyf("tier %s may not deposit into source %q", level, sourceID)
	}
	if amount > 0 {
		if amount < src.MinDeposit {
			return nil, protocol.Validationf("deposit of %d is below source minimum %d", amount, src.MinDeposit)
		}
		if src.MaxAllocation > 0 && src.TotalDeposited+amount > src.MaxAllocation {
			return nil, protocol.Policyf("deposit of %d exceeds source allocation cap %d", amount, src.MaxAllocation)
		}
	}
	return src, nil
}

func loadOrCreatePosition(tx ledger.Tx, owner string, now time.Time) *protocol.UserPosition {
	pos, err := tx.UserPosition(owner)
	if err != nil {
		return &protocol.UserPosition{Owner: owner, MonthStart: now, CreatedAt: now}
	}
	return pos
}
