package store

import (
	"errors"
	"fmt"
	"strings"

	"signal-backtest-go/internal/backtest"
	"signal-backtest-go/internal/costmodel"
	"signal-backtest-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Weight kinds stored alongside a run.
const (
	KindSignal   = "signal"
	KindRealized = "realized"
)

// Repository persists backtest results.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository returns a repository over db.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger.Named("store")}
}

// RunMeta describes a run beyond its results.
type RunMeta struct {
	Label         string
	Strategy      string
	RebalanceFreq string
}

// SaveRun stores a run with its trades, snapshots and weight histories in
// one transaction.
func (r *Repository) SaveRun(meta RunMeta, res *backtest.Results) error {
	run := models.Run{
		RunID:         res.RunID.String(),
		Label:         meta.Label,
		Strategy:      meta.Strategy,
		RebalanceFreq: meta.RebalanceFreq,
		InitialValue:  res.InitialValue.InexactFloat64(),
		FinalValue:    res.FinalValue.InexactFloat64(),
		TotalReturn:   res.Performance.TotalReturn,
		CAGR:          res.Performance.CAGR,
		Volatility:    res.Performance.Volatility,
		Sharpe:        res.Performance.Sharpe,
		MaxDrawdown:   res.Performance.MaxDrawdown,
		Turnover:      res.Performance.Turnover,
		WinRate:       res.Performance.WinRate,
		NumTrades:     len(res.Trades),
		Diagnostics:   strings.Join(res.Diagnostics, "\n"),
	}
	if n := len(res.ValueHistory); n > 0 {
		run.StartDate = res.ValueHistory[0].Date
		run.EndDate = res.ValueHistory[n-1].Date
	}

	trades := make([]models.Trade, 0, len(res.Trades))
	for _, t := range res.Trades {
		trades = append(trades, models.Trade{
			RunID:      run.RunID,
			Seq:        t.Seq,
			TradeID:    t.ID.String(),
			Date:       t.Date,
			Symbol:     t.Asset,
			Side:       string(t.Side),
			Quantity:   t.Quantity.InexactFloat64(),
			QuotePrice: t.QuotePrice.InexactFloat64(),
			Price:      t.ExecPrice.InexactFloat64(),
			Commission: t.Commission.InexactFloat64(),
			Gross:      t.Gross.InexactFloat64(),
			Profit:     t.RealizedPnL.InexactFloat64(),
		})
	}

	snaps := make([]models.Snapshot, 0, len(res.Snapshots))
	for _, s := range res.Snapshots {
		snaps = append(snaps, models.Snapshot{
			RunID:          run.RunID,
			Date:           s.Date,
			Cash:           s.Cash.InexactFloat64(),
			PositionsValue: s.PositionsValue.InexactFloat64(),
			TotalValue:     s.TotalValue.InexactFloat64(),
		})
	}

	var weights []models.Weight
	weights = appendWeights(weights, run.RunID, KindSignal, res.SignalHistory)
	weights = appendWeights(weights, run.RunID, KindRealized, res.WeightsHistory)

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		if len(trades) > 0 {
			if err := tx.CreateInBatches(trades, 500).Error; err != nil {
				return fmt.Errorf("failed to save trades: %w", err)
			}
		}
		if len(snaps) > 0 {
			if err := tx.CreateInBatches(snaps, 500).Error; err != nil {
				return fmt.Errorf("failed to save snapshots: %w", err)
			}
		}
		if len(weights) > 0 {
			if err := tx.CreateInBatches(weights, 500).Error; err != nil {
				return fmt.Errorf("failed to save weights: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("Saved run",
		zap.String("run_id", run.RunID),
		zap.Int("trades", len(trades)),
		zap.Int("snapshots", len(snaps)))
	return nil
}

func appendWeights(out []models.Weight, runID, kind string, history []backtest.DatedWeights) []models.Weight {
	for _, h := range history {
		for _, asset := range h.Weights.Assets() {
			out = append(out, models.Weight{RunID: runID, Kind: kind, Date: h.Date, Symbol: asset, Weight: h.Weights[asset]})
		}
	}
	return out
}

// ListRuns returns every stored run, most recent first.
func (r *Repository) ListRuns() ([]models.Run, error) {
	var runs []models.Run
	if err := r.db.Order("created_at desc").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the run with id.
func (r *Repository) GetRun(id string) (models.Run, error) {
	var run models.Run
	err := r.db.Where("run_id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return run, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return run, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// Trades returns a run's trades in execution order.
func (r *Repository) Trades(runID string) ([]models.Trade, error) {
	var trades []models.Trade
	if err := r.db.Where("run_id = ?", runID).Order("seq asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	return trades, nil
}

// Snapshots returns a run's value history in date order.
func (r *Repository) Snapshots(runID string) ([]models.Snapshot, error) {
	var snaps []models.Snapshot
	if err := r.db.Where("run_id = ?", runID).Order("date asc").Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}
	return snaps, nil
}

// Weights returns a run's weights of kind in date order.
func (r *Repository) Weights(runID, kind string) ([]models.Weight, error) {
	var weights []models.Weight
	err := r.db.Where("run_id = ? AND kind = ?", runID, kind).Order("date asc, symbol asc").Find(&weights).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get weights: %w", err)
	}
	return weights, nil
}

// StatsDetail holds trade statistics over a set of runs.
type StatsDetail struct {
	Runs             int64   `json:"runs"`
	TotalTrades      int64   `json:"total_trades"`
	ClosingTrades    int64   `json:"closing_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

// Statistics aggregates trades across all runs, or one run when runID is set.
func (r *Repository) Statistics(runID string) (StatsDetail, error) {
	var stats StatsDetail

	scope := func(model any) *gorm.DB {
		q := r.db.Model(model)
		if runID != "" {
			q = q.Where("run_id = ?", runID)
		}
		return q
	}
	sells := func() *gorm.DB {
		return scope(&models.Trade{}).Where("side = ?", string(costmodel.Sell))
	}

	if err := scope(&models.Run{}).Count(&stats.Runs).Error; err != nil {
		return stats, fmt.Errorf("failed to count runs: %w", err)
	}
	if err := scope(&models.Trade{}).Count(&stats.TotalTrades).Error; err != nil {
		return stats, fmt.Errorf("failed to count trades: %w", err)
	}
	if err := sells().Count(&stats.ClosingTrades).Error; err != nil {
		return stats, fmt.Errorf("failed to count closing trades: %w", err)
	}
	if err := sells().Where("profit > ?", 0).Count(&stats.ProfitableTrades).Error; err != nil {
		return stats, fmt.Errorf("failed to count profitable trades: %w", err)
	}
	if err := sells().Select("COALESCE(SUM(profit), 0)").Scan(&stats.TotalProfit).Error; err != nil {
		return stats, fmt.Errorf("failed to sum profit: %w", err)
	}

	if stats.ClosingTrades > 0 {
		stats.WinRate = float64(stats.ProfitableTrades) / float64(stats.ClosingTrades)
	}
	return stats, nil
}
