package backtest

import (
	"context"

	"signal-backtest-go/internal/config"
	"signal-backtest-go/internal/market"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SweepResult is the outcome of one variant of a sweep. Err is set when that
// run aborted; other variants are unaffected.
type SweepResult struct {
	Label   string
	Results *Results
	Err     error
}

// Sweep runs every variant as an isolated backtest over the same prices,
// at most parallelism at a time. Each run owns its ledger; prices are only read.
func Sweep(ctx context.Context, variants []config.Variant, prices *market.Frame, parallelism int, logger *zap.Logger) ([]SweepResult, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	out := make([]SweepResult, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			runLogger := logger.With(zap.String("variant", v.Label))
			out[i] = SweepResult{Label: v.Label}

			engine, err := NewEngine(v.Config, runLogger)
			if err != nil {
				out[i].Err = err
				return nil
			}
			series, err := engine.Signals(gctx, prices)
			if err != nil {
				out[i].Err = err
				return nil
			}
			res, err := engine.Run(gctx, series, prices)
			if err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Results = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Info("Sweep complete", zap.Int("variants", len(variants)))
	return out, nil
}
