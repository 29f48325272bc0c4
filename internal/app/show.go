package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"exodusd/internal/ledgermath"
	"exodusd/internal/pipeline"
	"exodusd/internal/tier"
)

// Show prints the registered yield sources and, when an owner is given, that
// user's position, pending deposits and conversion history.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	return a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		if err := showSources(ctx, p); err != nil {
			return err
		}
		if opts.Owner == "" {
			return nil
		}
		return showOwner(ctx, p, opts.Owner, opts.Limit)
	})
}

func showSources(ctx context.Context, p *pipeline.Pipeline) error {
	cfg, err := p.ProtocolConfig(ctx)
	if err != nil {
		return err
	}

	status := "active"
	if !cfg.Active {
		status = "paused"
	}
	fmt.Fprintf(os.Stdout, "Protocol: %s  authority=%s  fees=%d/%d/%d bps  pending JPY=%s\n\n",
		status, cfg.Authority,
		cfg.ConversionFeeBps, cfg.ManagementFeeBps, cfg.PerformanceFeeBps,
		formatMinor(cfg.PendingJPYConversion))

	sources, err := p.Sources(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Fprintln(os.Stdout, "no yield sources registered")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tType\tAPY bps\tNAV\tDeposited\tShares\tActive")
	for _, src := range sources {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\t%t\n",
			src.ID,
			src.Type,
			src.CurrentAPYBps,
			formatScaled(src.NavPerShare),
			formatMinor(src.TotalDeposited),
			formatMinor(src.TotalShares),
			src.Active,
		)
	}
	return writer.Flush()
}

func showOwner(ctx context.Context, p *pipeline.Pipeline, owner string, limit int) error {
	sources, err := p.Sources(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}

	// Position summary is valued against the first registered source; a
	// multi-source valuation needs per-source share accounting first.
	summary, err := p.Summary(ctx, owner, sources[0].ID)
	if err != nil {
		return err
	}

	pos := summary.Position
	fmt.Fprintf(os.Stdout, "\nPosition %s (tier %s)\n", owner, pos.Tier)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Shares\t%s\n", formatMinor(pos.CurrentShares))
	fmt.Fprintf(writer, "Current value (USDC)\t%s\n", formatMinor(summary.CurrentValue))
	fmt.Fprintf(writer, "Deposited JPY\t%s\n", formatMinor(pos.TotalDepositedJPY))
	fmt.Fprintf(writer, "Deposited USDC\t%s\n", formatMinor(pos.TotalDepositedUSDC))
	fmt.Fprintf(writer, "Unrealized yield (USDC)\t%s\n", formatSignedMinor(summary.UnrealizedYield))
	fmt.Fprintf(writer, "Realized yield (USDC)\t%s\n", formatMinor(pos.RealizedYieldUSDC))
	if pos.AvgConversionRate > 0 {
		fmt.Fprintf(writer, "Avg JPY/USD rate\t%s\n", formatScaled(pos.AvgConversionRate))
	}
	fmt.Fprintf(writer, "Monthly remaining\t¥%s / $%s\n",
		formatAllowance(summary.RemainingJPY), formatAllowance(summary.RemainingUSDC))
	if err := writer.Flush(); err != nil {
		return err
	}

	pending, err := p.PendingDeposits(ctx, owner, limit)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		fmt.Fprintln(os.Stdout, "\nPending deposits")
		writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Nonce\tSource\tJPY\tMin USDC\tStatus\tExpires (UTC)")
		for _, dep := range pending {
			fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
				dep.Nonce, dep.SourceID,
				formatMinor(dep.JPYAmount), formatMinor(dep.MinUSDCOut),
				dep.Status, dep.ExpiresAt.UTC().Format(time.RFC3339))
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}

	records, err := p.Conversions(ctx, owner, limit)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Fprintln(os.Stdout, "\nConversions")
		writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Nonce\tJPY in\tUSDC out\tRate\tFee\tSettled (UTC)")
		for _, rec := range records {
			fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
				rec.Nonce,
				formatMinor(rec.JPYAmount), formatMinor(rec.USDCAmount),
				formatScaled(rec.ExchangeRate), formatMinor(rec.FeeAmount),
				rec.Timestamp.UTC().Format(time.RFC3339))
		}
		return writer.Flush()
	}
	return nil
}

// formatMinor renders a minor-unit amount (6 decimals) as a decimal string.
func formatMinor(v uint64) string {
	return decimal.NewFromUint64(v).Shift(-6).StringFixed(6)
}

func formatSignedMinor(v int64) string {
	return decimal.New(v, -6).StringFixed(6)
}

// formatScaled renders a 1e6-scaled ratio such as a NAV or an FX rate.
func formatScaled(v uint64) string {
	return decimal.NewFromUint64(v).Div(decimal.NewFromInt(ledgermath.RateScale)).StringFixed(6)
}

func formatAllowance(v uint64) string {
	if v == tier.Unlimited {
		return "unlimited"
	}
	return formatMinor(v)
}
