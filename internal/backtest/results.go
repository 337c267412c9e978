package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"signal-backtest-go/internal/execution"
	"signal-backtest-go/internal/market"
	"signal-backtest-go/internal/portfolio"
	"signal-backtest-go/internal/signal"
	"signal-backtest-go/internal/stats"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DebugFile is the diagnostics artifact written under backtest.debug_dir.
const DebugFile = "weights_history_debug.txt"

// DatedWeights is one entry of the signal or weights history.
type DatedWeights struct {
	Date    time.Time      `json:"date"`
	Weights signal.Weights `json:"weights"`
}

// Results is everything a completed run hands to reporting.
//
// SignalHistory holds the target weights that were traded, keyed by the
// signal's own date. WeightsHistory holds the realized weights of the
// portfolio after that date's trades, at every mark-to-market.
type Results struct {
	RunID          uuid.UUID
	InitialValue   decimal.Decimal
	FinalValue     decimal.Decimal
	ValueHistory   []portfolio.ValuePoint
	Returns        []stats.Point
	SignalHistory  []DatedWeights
	WeightsHistory []DatedWeights
	Trades         []execution.Trade
	Snapshots      []portfolio.Snapshot
	Benchmark      []stats.Point
	Performance    stats.Performance
	Diagnostics    []string
}

// Summary is the headline view of a run.
type Summary struct {
	RunID        string  `json:"run_id"`
	InitialValue string  `json:"initial_value"`
	FinalValue   string  `json:"final_value"`
	TotalReturn  float64 `json:"total_return"`
	CAGR         float64 `json:"cagr"`
	Volatility   float64 `json:"volatility"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Turnover     float64 `json:"turnover"`
	WinRate      float64 `json:"win_rate"`
	NumTrades    int     `json:"num_trades"`
	Rebalances   int     `json:"rebalances"`
	Diagnostics  int     `json:"diagnostics,omitempty"`
}

// Summary collects the headline figures of the run.
func (r *Results) Summary() Summary {
	return Summary{
		RunID:        r.RunID.String(),
		InitialValue: r.InitialValue.StringFixed(2),
		FinalValue:   r.FinalValue.StringFixed(2),
		TotalReturn:  r.Performance.TotalReturn,
		CAGR:         r.Performance.CAGR,
		Volatility:   r.Performance.Volatility,
		Sharpe:       r.Performance.Sharpe,
		MaxDrawdown:  r.Performance.MaxDrawdown,
		Turnover:     r.Performance.Turnover,
		WinRate:      r.Performance.WinRate,
		NumTrades:    len(r.Trades),
		Rebalances:   len(r.SignalHistory),
		Diagnostics:  len(r.Diagnostics),
	}
}

// JSON renders the summary as indented JSON.
func (s Summary) JSON() string {
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

// diagnose flags an empty or all-zero weights history. It never fails the run.
func (e *Engine) diagnose(res *Results, logger *zap.Logger) {
	var msg string
	switch {
	case len(res.WeightsHistory) == 0:
		msg = "weights history is empty"
	case allZero(res.WeightsHistory):
		msg = fmt.Sprintf("weights history is all zero across %d dates (%d signals traded, %d trades)",
			len(res.WeightsHistory), len(res.SignalHistory), len(res.Trades))
	default:
		return
	}
	logger.Warn("Weights history anomaly", zap.String("detail", msg))
	res.Diagnostics = append(res.Diagnostics, msg)

	if e.cfg.Backtest.DebugDir == "" {
		return
	}
	if err := appendDebug(e.cfg.Backtest.DebugDir, res, msg); err != nil {
		logger.Warn("Failed to write diagnostics file", zap.Error(err))
	}
}

func allZero(history []DatedWeights) bool {
	for _, h := range history {
		for _, w := range h.Weights {
			if w != 0 {
				return false
			}
		}
	}
	return true
}

func appendDebug(dir string, res *Results, msg string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, DebugFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	first, last := "-", "-"
	if n := len(res.WeightsHistory); n > 0 {
		first = res.WeightsHistory[0].Date.Format(market.DateLayout)
		last = res.WeightsHistory[n-1].Date.Format(market.DateLayout)
	}
	_, err = fmt.Fprintf(f, "%s run=%s range=%s..%s: %s\n",
		time.Now().UTC().Format(time.RFC3339), res.RunID, first, last, msg)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
