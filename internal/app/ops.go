package app

import (
	"context"

	"exodusd/internal/pipeline"
)

// withPipeline opens the configured ledger, builds the pipeline on top of it,
// runs fn, and closes the ledger again. One-shot CLI commands go through here.
func (a *App) withPipeline(ctx context.Context, fn func(*pipeline.Pipeline) error) error {
	led, _, closeLedger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer closeLedger()

	p, err := a.newPipeline(led)
	if err != nil {
		return err
	}
	return fn(p)
}

// Init creates the singleton protocol config from the configured genesis
// parameters.
func (a *App) Init(ctx context.Context) error {
	return a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		return p.Initialize(ctx, pipeline.InitializeParams{
			Authority:         a.Config.Protocol.Authority,
			ConversionFeeBps:  a.Config.Protocol.ConversionFeeBps,
			ManagementFeeBps:  a.Config.Protocol.ManagementFeeBps,
			PerformanceFeeBps: a.Config.Protocol.PerformanceFeeBps,
		})
	})
}

// RegisterSource registers a yield source under the configured authority.
func (a *App) RegisterSource(ctx context.Context, params pipeline.SourceParams) error {
	return a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		return p.RegisterYieldSource(ctx, a.Config.Protocol.Authority, params)
	})
}

// DepositUSDC credits a direct USDC deposit and returns the minted shares.
func (a *App) DepositUSDC(ctx context.Context, owner, sourceID string, amount uint64) (uint64, error) {
	var shares uint64
	err := a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		var err error
		shares, err = p.DepositUSDC(ctx, owner, sourceID, amount)
		return err
	})
	return shares, err
}

// DepositJPY queues a JPY deposit for conversion and returns its nonce.
func (a *App) DepositJPY(ctx context.Context, owner, sourceID string, amount, minUSDCOut uint64) (uint64, error) {
	var nonce uint64
	err := a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		var err error
		nonce, err = p.DepositJPY(ctx, owner, sourceID, amount, minUSDCOut)
		return err
	})
	return nonce, err
}

// CancelDeposit cancels a still-pending JPY deposit.
func (a *App) CancelDeposit(ctx context.Context, owner string, nonce uint64) error {
	return a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		return p.CancelDeposit(ctx, owner, nonce)
	})
}

// Withdraw burns shares and returns the USDC paid out.
func (a *App) Withdraw(ctx context.Context, owner, sourceID string, shares uint64, asJPY bool) (uint64, error) {
	var out uint64
	err := a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		var err error
		out, err = p.Withdraw(ctx, owner, sourceID, shares, asJPY)
		return err
	})
	return out, err
}

// ClaimYield realizes accrued yield and returns the net USDC credited.
func (a *App) ClaimYield(ctx context.Context, owner, sourceID string) (uint64, error) {
	var net uint64
	err := a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		var err error
		net, err = p.ClaimYield(ctx, owner, sourceID)
		return err
	})
	return net, err
}

// UpdateFees applies a fee schedule change under the configured authority.
func (a *App) UpdateFees(ctx context.Context, update pipeline.FeeUpdate) error {
	return a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		return p.UpdateProtocolConfig(ctx, a.Config.Protocol.Authority, update)
	})
}

// UpdateSource applies a yield source change under the configured authority.
func (a *App) UpdateSource(ctx context.Context, sourceID string, update pipeline.SourceUpdate) error {
	return a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		return p.UpdateYieldSource(ctx, a.Config.Protocol.Authority, sourceID, update)
	})
}

// Pause halts deposits, withdrawals and settlement.
func (a *App) Pause(ctx context.Context) error {
	return a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		return p.Pause(ctx, a.Config.Protocol.Authority)
	})
}

// Resume lifts a pause.
func (a *App) Resume(ctx context.Context) error {
	return a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		return p.Resume(ctx, a.Config.Protocol.Authority)
	})
}
