package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"exodusd/internal/pipeline"
	"exodusd/internal/protocol"
)

// Export renders a source's NAV history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.SourceID == "" {
		return errors.New("--source is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	return a.withPipeline(ctx, func(p *pipeline.Pipeline) error {
		to := time.Now().UTC()
		if opts.To != nil {
			to = opts.To.UTC()
		}

		from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Keeper.NavInterval)
		if opts.From != nil {
			from = opts.From.UTC()
		}

		if !from.Before(to) {
			return errors.New("from must be before to")
		}

		samples, err := p.Ledger().NavSamples(ctx, opts.SourceID, from, to)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			a.Logger.Info().Str("source", opts.SourceID).Msg("no NAV samples found for export window")
			return nil
		}

		downsampled := downsampleNav(samples, opts.MaxPoints)
		a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting NAV samples")

		if opts.CSVPath != "" {
			if err := writeNavCSV(opts.CSVPath, downsampled); err != nil {
				return err
			}
		}

		if opts.PNGPath != "" {
			if err := writeNavPNG(opts.PNGPath, opts.SourceID, downsampled); err != nil {
				return err
			}
		}

		return nil
	})
}

func downsampleNav(samples []protocol.NavSample, max int) []protocol.NavSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]protocol.NavSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeNavCSV(path string, samples []protocol.NavSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"sampled_at", "source_id", "nav_per_share", "apy_bps"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		record := []string{
			sample.SampledAt.UTC().Format(time.RFC3339),
			sample.SourceID,
			formatScaled(sample.NavPerShare),
			strconv.Itoa(int(sample.APYBps)),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeNavPNG(path, sourceID string, samples []protocol.NavSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	nav := make([]float64, len(samples))
	apy := make([]float64, len(samples))

	for i, sample := range samples {
		x[i] = sample.SampledAt
		nav[i] = float64(sample.NavPerShare) / 1e6
		apy[i] = float64(sample.APYBps) / 100
	}

	navFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "NAV per share",
			ValueFormatter: navFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "APY (%)",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    sourceID + " NAV",
				XValues: x,
				YValues: nav,
			},
			chart.TimeSeries{
				Name:    "APY %",
				XValues: x,
				YValues: apy,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
