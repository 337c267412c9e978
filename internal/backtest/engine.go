package backtest

import (
	"context"
	"fmt"
	"time"

	"signal-backtest-go/internal/config"
	"signal-backtest-go/internal/costmodel"
	"signal-backtest-go/internal/execution"
	"signal-backtest-go/internal/market"
	"signal-backtest-go/internal/orders"
	"signal-backtest-go/internal/portfolio"
	"signal-backtest-go/internal/signal"
	"signal-backtest-go/internal/stats"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RunError reports the simulation date a run aborted on.
type RunError struct {
	Date time.Time
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("backtest aborted on %s: %v", e.Date.Format(market.DateLayout), e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Option customises an Engine.
type Option func(*Engine)

// WithSlippage replaces the percentage slippage model built from config.
func WithSlippage(s costmodel.Slippage) Option {
	return func(e *Engine) { e.slip = s }
}

// WithCommission replaces the percentage commission model built from config.
func WithCommission(c costmodel.Commission) Option {
	return func(e *Engine) { e.comm = c }
}

// Engine drives the date loop of a single backtest run.
type Engine struct {
	cfg    config.Config
	slip   costmodel.Slippage
	comm   costmodel.Commission
	logger *zap.Logger
}

// NewEngine validates the simulation settings and builds the cost models.
func NewEngine(cfg config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Backtest.Validate(); err != nil {
		return nil, err
	}
	if cfg.Strategy.ExecutionDelay < 0 {
		return nil, fmt.Errorf("%w: strategy.execution_delay must not be negative", config.ErrInvalidParameter)
	}
	slip, err := costmodel.NewPercentSlippage(cfg.Backtest.SlippageRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidParameter, err)
	}
	comm, err := costmodel.NewPercentCommission(cfg.Backtest.CommissionRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidParameter, err)
	}
	e := &Engine{cfg: cfg, slip: slip, comm: comm, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Signals produces the signal series for prices: the configured signal file
// when set, otherwise the configured generator.
func (e *Engine) Signals(ctx context.Context, prices *market.Frame) (*signal.Series, error) {
	if e.cfg.Strategy.SignalFile != "" {
		return signal.LoadCSV(e.cfg.Strategy.SignalFile)
	}
	p, err := e.cfg.Strategy.Resolve()
	if err != nil {
		return nil, err
	}
	gen, err := signal.New(e.cfg.Strategy.Name, signal.Params{
		ShortLookback:  p.ShortLookback,
		MediumLookback: p.MediumLookback,
		LongLookback:   p.LongLookback,
		TopN:           p.TopN,
		Weights:        p.Weights,
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidParameter, err)
	}
	return gen.Generate(ctx, prices)
}

type pending struct {
	signalDate time.Time
	weights    signal.Weights
}

// Run simulates the portfolio over every date in prices, one date at a
// time. The first fatal error aborts the run and no results are returned.
func (e *Engine) Run(ctx context.Context, series *signal.Series, prices *market.Frame) (*Results, error) {
	runID := uuid.New()
	logger := e.logger.With(zap.String("run_id", runID.String()))

	dates := prices.Dates()
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: price frame is empty", market.ErrDataConsistency)
	}
	rebalance, err := RebalanceDates(dates, e.cfg.Backtest.RebalanceFreq)
	if err != nil {
		return nil, err
	}
	queue := e.schedule(series, dates, rebalance, logger)

	capital := decimal.NewFromFloat(e.cfg.Backtest.InitialCapital)
	ledger, err := portfolio.NewLedger(capital, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidParameter, err)
	}
	gen, err := orders.NewGenerator(orders.Config{CashBuffer: e.cfg.Backtest.CashBuffer}, e.slip, e.comm, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidParameter, err)
	}
	exec := execution.NewEngine(ledger, e.slip, e.comm, logger)

	logger.Info("Starting backtest",
		zap.String("strategy", e.cfg.Strategy.Name),
		zap.String("rebalance_freq", e.cfg.Backtest.RebalanceFreq),
		zap.Int("execution_delay", e.cfg.Strategy.ExecutionDelay),
		zap.Int("dates", len(dates)),
		zap.Int("signals", len(queue)))

	res := &Results{RunID: runID, InitialValue: capital}
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, &RunError{Date: date, Err: err}
		}
		row := prices.Row(i)

		if p, ok := queue[i]; ok {
			batch, err := gen.Generate(date, p.weights, ledger, row)
			if err != nil {
				return nil, &RunError{Date: date, Err: err}
			}
			trades, err := exec.Execute(date, batch, row)
			if err != nil {
				return nil, &RunError{Date: date, Err: err}
			}
			res.SignalHistory = append(res.SignalHistory, DatedWeights{Date: p.signalDate, Weights: p.weights})
			logger.Debug("Rebalanced",
				zap.String("date", date.Format(market.DateLayout)),
				zap.String("signal_date", p.signalDate.Format(market.DateLayout)),
				zap.Int("orders", len(batch)),
				zap.Int("trades", len(trades)))
		}

		if _, err := ledger.MarkToMarket(date, row); err != nil {
			return nil, &RunError{Date: date, Err: err}
		}
		w, err := ledger.Weights(date, row)
		if err != nil {
			return nil, &RunError{Date: date, Err: err}
		}
		res.WeightsHistory = append(res.WeightsHistory, DatedWeights{Date: date, Weights: w})
	}

	res.Trades = exec.TradeLog().Trades()
	res.Snapshots = ledger.History()
	res.ValueHistory = ledger.ValueHistory()
	res.FinalValue = ledger.TotalValue()
	res.Returns = stats.Returns(res.ValueHistory)
	res.Benchmark = stats.EqualWeightBenchmark(prices)
	res.Performance = stats.Compute(res.ValueHistory, res.Trades)
	e.diagnose(res, logger)

	logger.Info("Backtest complete",
		zap.String("final_value", res.FinalValue.StringFixed(2)),
		zap.Float64("total_return", res.Performance.TotalReturn),
		zap.Int("trades", len(res.Trades)))
	return res, nil
}

// schedule picks, for every rebalance date, the latest signal dated on or
// before it that no earlier rebalance used, and queues it for the trading
// day the execution delay points at.
func (e *Engine) schedule(series *signal.Series, dates []time.Time, rebalance []bool, logger *zap.Logger) map[int]pending {
	delay := e.cfg.Strategy.ExecutionDelay
	signalDates := series.Dates()
	queue := make(map[int]pending)
	next := 0 // first signal not yet considered
	used := time.Time{}
	for idx, date := range dates {
		for next < len(signalDates) && !signalDates[next].After(date) {
			next++
		}
		if !rebalance[idx] || next == 0 {
			continue
		}
		sd := signalDates[next-1]
		if sd.Equal(used) {
			continue
		}
		used = sd
		at := idx + delay
		if at >= len(dates) {
			logger.Debug("Signal executes after the last date, skipping",
				zap.String("signal_date", sd.Format(market.DateLayout)))
			continue
		}
		w, _ := series.At(sd)
		queue[at] = pending{signalDate: sd, weights: w}
	}
	return queue
}
