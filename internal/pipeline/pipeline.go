// Package pipeline implements the user- and admin-facing operations of the
// settlement core: protocol genesis, yield source administration, deposits,
// withdrawals and yield claims. Every mutation follows the same template:
// load current state, validate, compute with ledgermath, stage, and let the
// ledger apply the writes atomically. Conflicted commits are recomputed from
// a fresh read, never replayed.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"exodusd/internal/identity"
	"exodusd/internal/ledger"
	"exodusd/internal/ledgermath"
	"exodusd/internal/protocol"
	"exodusd/internal/tier"
)

// retryAttempts bounds conflict recomputation for interactive operations.
const retryAttempts = 5

// Pipeline executes settlement operations against the ledger.
type Pipeline struct {
	ledger   ledger.Ledger
	registry identity.Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the pipeline. The clock defaults to time.Now and is only
// overridden in tests.
func New(l ledger.Ledger, reg identity.Registry, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		ledger:   l,
		registry: reg,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
	}
}

// WithClock overrides the pipeline clock.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Ledger exposes the underlying ledger for read-side consumers.
func (p *Pipeline) Ledger() ledger.Ledger { return p.ledger }

// InitializeParams is the protocol genesis input.
type InitializeParams struct {
	Authority         string
	ConversionFeeBps  uint16
	ManagementFeeBps  uint16
	PerformanceFeeBps uint16
}

// Initialize creates the singleton protocol config. It fails if the config
// already exists or any fee exceeds its cap.
func (p *Pipeline) Initialize(ctx context.Context, params InitializeParams) error {
	if params.Authority == "" {
		return protocol.Validationf("authority must not be empty")
	}
	if err := validateFees(params.ConversionFeeBps, params.ManagementFeeBps, params.PerformanceFeeBps); err != nil {
		return err
	}

	now := p.now().UTC()
	err := p.ledger.Update(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Config(); err == nil {
			return protocol.Validationf("protocol already initialized")
		}
		tx.StageConfig(&protocol.Config{
			Authority:         params.Authority,
			ConversionFeeBps:  params.ConversionFeeBps,
			ManagementFeeBps:  params.ManagementFeeBps,
			PerformanceFeeBps: params.PerformanceFeeBps,
			Active:            true,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Info().Str("authority", params.Authority).Msg("protocol initialized")
	return nil
}

// SourceParams describes a yield source at registration.
type SourceParams struct {
	ID                  string
	Name                string
	Type                tier.SourceType
	APYBps              uint16
	AllocationWeightBps uint16
	MinDeposit          uint64
	MaxAllocation       uint64
}

// RegisterYieldSource registers a new allocation target with NAV at par.
// Authority-gated.
func (p *Pipeline) RegisterYieldSource(ctx context.Context, authority string, params SourceParams) error {
	if params.ID == "" || params.Name == "" {
		return protocol.Validationf("source id and name must not be empty")
	}
	if params.AllocationWeightBps > ledgermath.BpsDenominator {
		return protocol.Validationf("allocation weight %d exceeds %d bps", params.AllocationWeightBps, ledgermath.BpsDenominator)
	}

	now := p.now().UTC()
	err := ledger.RetryOnConflict(ctx, p.ledger, retryAttempts, func(tx ledger.Tx) error {
		if err := requireAuthority(tx, authority); err != nil {
			return err
		}
		if _, err := tx.YieldSource(params.ID); err == nil {
			return protocol.Validationf("yield source %q already registered", params.ID)
		}
		tx.StageYieldSource(&protocol.YieldSource{
			ID:                  params.ID,
			Name:                params.Name,
			Type:                params.Type,
			CurrentAPYBps:       params.APYBps,
			AllocationWeightBps: params.AllocationWeightBps,
			MinDeposit:          params.MinDeposit,
			MaxAllocation:       params.MaxAllocation,
			Active:              true,
			LastNavUpdate:       now,
			NavPerShare:         ledgermath.NavScale,
		})
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Info().Str("source", params.ID).Uint16("apy_bps", params.APYBps).Msg("yield source registered")
	return nil
}

// FeeUpdate carries optional fee changes; nil fields are left unchanged.
type FeeUpdate struct {
	ConversionFeeBps  *uint16
	ManagementFeeBps  *uint16
	PerformanceFeeBps *uint16
}

// UpdateProtocolConfig applies a fee schedule change. Authority-gated, caps
// enforced.
func (p *Pipeline) UpdateProtocolConfig(ctx context.Context, authority string, update FeeUpdate) error {
	return ledger.RetryOnConflict(ctx, p.ledger, retryAttempts, func(tx ledger.Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		if cfg.Authority != authority {
			return protocol.Policyf("caller %q is not the protocol authority", authority)
		}
		if update.ConversionFeeBps != nil {
			cfg.ConversionFeeBps = *update.ConversionFeeBps
		}
		if update.ManagementFeeBps != nil {
			cfg.ManagementFeeBps = *update.ManagementFeeBps
		}
		if update.PerformanceFeeBps != nil {
			cfg.PerformanceFeeBps = *update.PerformanceFeeBps
		}
		if err := validateFees(cfg.ConversionFeeBps, cfg.ManagementFeeBps, cfg.PerformanceFeeBps); err != nil {
			return err
		}
		cfg.UpdatedAt = p.now().UTC()
		tx.StageConfig(cfg)
		return nil
	})
}

// SourceUpdate carries optional yield source changes; nil fields are left
// unchanged.
type SourceUpdate struct {
	APYBps              *uint16
	AllocationWeightBps *uint16
	MinDeposit          *uint64
	MaxAllocation       *uint64
	Active              *bool
}

// UpdateYieldSource applies an admin change to a registered source.
func (p *Pipeline) UpdateYieldSource(ctx context.Context, authority, sourceID string, update SourceUpdate) error {
	return ledger.RetryOnConflict(ctx, p.ledger, retryAttempts, func(tx ledger.Tx) error {
		if err := requireAuthority(tx, authority); err != nil {
			return err
		}
		src, err := tx.YieldSource(sourceID)
		if err != nil {
			return err
		}
		if update.APYBps != nil {
			src.CurrentAPYBps = *update.APYBps
		}
		if update.AllocationWeightBps != nil {
			if *update.AllocationWeightBps > ledgermath.BpsDenominator {
				return protocol.Validationf("allocation weight %d exceeds %d bps", *update.AllocationWeightBps, ledgermath.BpsDenominator)
			}
			src.AllocationWeightBps = *update.AllocationWeightBps
		}
		if update.MinDeposit != nil {
			src.MinDeposit = *update.MinDeposit
		}
		if update.MaxAllocation != nil {
			src.MaxAllocation = *update.MaxAllocation
		}
		if update.Active != nil {
			src.Active = *update.Active
		}
		tx.StageYieldSource(src)
		return nil
	})
}

// Pause halts every mutating operation except Resume. Idempotent.
func (p *Pipeline) Pause(ctx context.Context, authority string) error {
	return p.setActive(ctx, authority, false)
}

// Resume re-enables mutating operations. Idempotent.
func (p *Pipeline) Resume(ctx context.Context, authority string) error {
	return p.setActive(ctx, authority, true)
}

func (p *Pipeline) setActive(ctx context.Context, authority string, active bool) error {
	err := ledger.RetryOnConflict(ctx, p.ledger, retryAttempts, func(tx ledger.Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		if cfg.Authority != authority {
			return protocol.Policyf("caller %q is not the protocol authority", authority)
		}
		cfg.Active = active
		cfg.UpdatedAt = p.now().UTC()
		tx.StageConfig(cfg)
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info().Bool("active", active).Msg("protocol activity changed")
	return nil
}

func validateFees(conversion, management, performance uint16) error {
	if conversion > protocol.MaxConversionFeeBps {
		return protocol.Validationf("conversion fee %d bps exceeds cap %d", conversion, protocol.MaxConversionFeeBps)
	}
	if management > protocol.MaxManagementFeeBps {
		return protocol.Validationf("management fee %d bps exceeds cap %d", management, protocol.MaxManagementFeeBps)
	}
	if performance > protocol.MaxPerformanceFeeBps {
		return protocol.Validationf("performance fee %d bps exceeds cap %d", performance, protocol.MaxPerformanceFeeBps)
	}
	return nil
}

func requireAuthority(tx ledger.Tx, authority string) error {
	cfg, err := tx.Config()
	if err != nil {
		return err
	}
	if cfg.Authority != authority {
		return protocol.Policyf("caller %q is not the protocol authority", authority)
	}
	return nil
}

// requireActive loads the config and enforces the pause switch.
func requireActive(tx ledger.Tx) (*protocol.Config, error) {
	cfg, err := tx.Config()
	if err != nil {
		return nil, err
	}
	if !cfg.Active {
		return nil, protocol.Policyf("protocol is paused")
	}
	return cfg, nil
}
