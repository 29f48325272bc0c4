// Package app wires configuration into the running daemon and the one-shot
// CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"exodusd/internal/alerting"
	"exodusd/internal/config"
	"exodusd/internal/identity"
	"exodusd/internal/keeper"
	"exodusd/internal/ledger"
	"exodusd/internal/oracle"
	"exodusd/internal/pipeline"
	"exodusd/internal/scheduler"
	"exodusd/internal/storage"
	"exodusd/internal/tier"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openLedger returns the configured ledger. With no DSN it falls back to the
// in-memory ledger, which only makes sense for local experiments.
func (a *App) openLedger(ctx context.Context) (ledger.Ledger, *storage.Postgres, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using volatile in-memory ledger")
		return ledger.NewMemory(), nil, func() {}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	store := storage.NewPostgres(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return store, store, store.Close, nil
}

func (a *App) newOracle() (oracle.Source, error) {
	switch a.Config.Oracle.Provider {
	case "chainlink":
		return oracle.NewChainlink(oracle.ChainlinkOptions{
			RPCURL:            a.Config.Oracle.RPCURL,
			AggregatorAddress: a.Config.Oracle.Aggregator,
			Timeout:           a.Config.Oracle.RequestTimeout,
			Invert:            a.Config.Oracle.InvertFeed,
		}, a.Logger), nil
	case "http":
		return oracle.NewHTTP(oracle.HTTPOptions{
			BaseURL:   a.Config.Oracle.BaseURL,
			Timeout:   a.Config.Oracle.RequestTimeout,
			UserAgent: a.Config.Oracle.UserAgent,
		}, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", a.Config.Oracle.Provider)
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newRegistry() (*identity.StaticRegistry, error) {
	records := make([]identity.Record, 0, len(a.Config.Identity.Records))
	for _, rec := range a.Config.Identity.Records {
		entry := identity.Record{
			Owner:        rec.Owner,
			Verified:     rec.Verified,
			Level:        tier.Tier(rec.Level),
			Jurisdiction: rec.Jurisdiction,
		}
		if rec.ExpiresAt != "" {
			expires, err := time.Parse(time.RFC3339, rec.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("identity record %q: parse expires_at: %w", rec.Owner, err)
			}
			entry.ExpiresAt = expires
		}
		records = append(records, entry)
	}
	return identity.NewStaticRegistry(records...), nil
}

func (a *App) newPipeline(l ledger.Ledger) (*pipeline.Pipeline, error) {
	registry, err := a.newRegistry()
	if err != nil {
		return nil, err
	}
	return pipeline.New(l, registry, a.Logger), nil
}

// Run executes the long-running settlement daemon: the conversion keeper and
// the NAV accrual keeper under one errgroup.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	led, store, closeLedger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer closeLedger()

	// Keep multi-instance deployments single-writer.
	if store != nil {
		unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Keeper.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			return errors.New("another instance holds the keeper advisory lock")
		}
		defer unlock()
	}

	feed, err := a.newOracle()
	if err != nil {
		return err
	}

	conversion := keeper.NewConversion(led, feed, a.newNotifier(), keeper.ConversionOptions{
		StalenessThreshold: a.Config.Keeper.StalenessThreshold,
		LockTimeout:        a.Config.Keeper.LockTimeout,
		BatchSize:          a.Config.Keeper.BatchSize,
	}, a.Logger)
	accrual := keeper.NewNavAccrual(led, a.Logger)

	conversionLoop := scheduler.New(scheduler.Options{
		Interval:     a.Config.Keeper.ConversionInterval,
		StartupDelay: a.Config.Keeper.StartupDelay,
		MaxBackoff:   a.Config.Keeper.MaxBackoff,
	}, a.Logger)
	navLoop := scheduler.New(scheduler.Options{
		Interval:     a.Config.Keeper.NavInterval,
		StartupDelay: a.Config.Keeper.StartupDelay,
		MaxBackoff:   a.Config.Keeper.MaxBackoff,
	}, a.Logger)

	a.Logger.Info().
		Dur("conversion_interval", a.Config.Keeper.ConversionInterval).
		Dur("nav_interval", a.Config.Keeper.NavInterval).
		Msg("starting settlement keepers")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conversionLoop.Run(ctx, func(ctx context.Context, _ time.Time) error {
			return conversion.RunOnce(ctx)
		})
	})
	g.Go(func() error {
		return navLoop.Run(ctx, func(ctx context.Context, _ time.Time) error {
			return accrual.RunOnce(ctx)
		})
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("keeper terminated with error")
		return err
	}

	a.Logger.Info().Msg("settlement keepers stopped")
	return nil
}

// ExportOptions hold parameters for exporting NAV history.
type ExportOptions struct {
	SourceID  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Owner string
	Limit int
}
