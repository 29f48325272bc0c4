package pipeline

import (
	"context"

	"exodusd/internal/ledger"
	"exodusd/internal/ledgermath"
	"exodusd/internal/protocol"
	"exodusd/internal/tier"
)

// PositionSummary is the read model for one user's position. Unrealized
// yield is derived at query time from the live NAV, never stored.
type PositionSummary struct {
	Position        protocol.UserPosition
	UnrealizedYield int64
	CurrentValue    uint64
	RemainingJPY    uint64
	RemainingUSDC   uint64
}

// Summary returns a user's position valued against the given source's NAV.
func (p *Pipeline) Summary(ctx context.Context, owner, sourceID string) (PositionSummary, error) {
	var out PositionSummary
	now := p.now().UTC()
	err := p.ledger.View(ctx, func(tx ledger.Tx) error {
		pos, err := tx.UserPosition(owner)
		if err != nil {
			return err
		}
		src, err := tx.YieldSource(sourceID)
		if err != nil {
			return err
		}

		// A stale monthly window means the full allowance is available even
		// though the stored counters have not been reset yet.
		windowPos := *pos
		windowPos.RollMonthlyWindow(now)

		value, err := ledgermath.ValueFromShares(pos.CurrentShares, src.NavPerShare)
		if err != nil {
			return err
		}
		unrealized, err := ledgermath.UnrealizedYield(pos.CurrentShares, src.NavPerShare, pos.TotalDepositedUSDC)
		if err != nil {
			return err
		}

		out = PositionSummary{
			Position:        *pos,
			UnrealizedYield: unrealized,
			CurrentValue:    value,
			RemainingJPY:    tier.Remaining(tier.MonthlyJPYLimit(pos.Tier), windowPos.MonthlyDepositedJPY),
			RemainingUSDC:   tier.Remaining(tier.MonthlyUSDCLimit(pos.Tier), windowPos.MonthlyDepositedUSDC),
		}
		return nil
	})
	return out, err
}

// PendingDeposits lists a user's pending deposits, newest first.
func (p *Pipeline) PendingDeposits(ctx context.Context, owner string, limit int) ([]protocol.PendingDeposit, error) {
	return p.ledger.PendingDepositsByOwner(ctx, owner, limit)
}

// Sources lists every registered yield source.
func (p *Pipeline) Sources(ctx context.Context) ([]protocol.YieldSource, error) {
	return p.ledger.YieldSources(ctx)
}

// Conversions lists a user's settlement receipts, newest first.
func (p *Pipeline) Conversions(ctx context.Context, owner string, limit int) ([]protocol.ConversionRecord, error) {
	return p.ledger.ConversionRecords(ctx, owner, limit)
}

// ProtocolConfig returns the current protocol configuration.
func (p *Pipeline) ProtocolConfig(ctx context.Context) (protocol.Config, error) {
	var out protocol.Config
	err := p.ledger.View(ctx, func(tx ledger.Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		out = *cfg
		return nil
	})
	return out, err
}
