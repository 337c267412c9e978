package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"signal-backtest-go/internal/backtest"
	"signal-backtest-go/internal/config"
	"signal-backtest-go/internal/database"
	"signal-backtest-go/internal/market"
	"signal-backtest-go/internal/models"
	"signal-backtest-go/internal/signal"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	return NewRepository(db, zap.NewNop())
}

func runBacktest(t *testing.T) *backtest.Results {
	t.Helper()
	cfg := config.Config{
		Backtest: config.Backtest{InitialCapital: 10000, CommissionRate: 0.001, RebalanceFreq: config.Daily},
		Strategy: config.Strategy{Name: "static"},
	}
	engine, err := backtest.NewEngine(cfg, zap.NewNop())
	require.NoError(t, err)

	prices := market.NewFrame()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []int64{100, 110, 105} {
		prices.Set(start.AddDate(0, 0, i), "A", decimal.NewFromInt(p))
		prices.Set(start.AddDate(0, 0, i), "B", decimal.NewFromInt(50))
	}
	series := signal.NewSeries()
	require.NoError(t, series.Add(start, signal.Weights{"A": 0.5, "B": 0.4}))
	require.NoError(t, series.Add(start.AddDate(0, 0, 1), signal.Weights{"B": 0.9}))

	res, err := engine.Run(context.Background(), series, prices)
	require.NoError(t, err)
	return res
}

func TestSaveAndReadRun(t *testing.T) {
	repo := newRepository(t)
	res := runBacktest(t)

	require.NoError(t, repo.SaveRun(RunMeta{Label: "base", Strategy: "static", RebalanceFreq: config.Daily}, res))

	runs, err := repo.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID.String(), runs[0].RunID)
	assert.Equal(t, len(res.Trades), runs[0].NumTrades)
	assert.InDelta(t, res.FinalValue.InexactFloat64(), runs[0].FinalValue, 1e-9)

	trades, err := repo.Trades(res.RunID.String())
	require.NoError(t, err)
	require.Len(t, trades, len(res.Trades))
	for i, tr := range trades {
		assert.Equal(t, i+1, tr.Seq)
	}

	snaps, err := repo.Snapshots(res.RunID.String())
	require.NoError(t, err)
	assert.Len(t, snaps, 3)

	realized, err := repo.Weights(res.RunID.String(), KindRealized)
	require.NoError(t, err)
	assert.NotEmpty(t, realized)
	signals, err := repo.Weights(res.RunID.String(), KindSignal)
	require.NoError(t, err)
	assert.Len(t, signals, 3) // A and B on day one, B on day two
}

func TestGetRunNotFound(t *testing.T) {
	repo := newRepository(t)
	_, err := repo.GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStatistics(t *testing.T) {
	repo := newRepository(t)
	res := runBacktest(t)
	require.NoError(t, repo.SaveRun(RunMeta{Strategy: "static"}, res))

	stats, err := repo.Statistics("")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(len(res.Trades)), stats.TotalTrades)
	assert.Equal(t, int64(1), stats.ClosingTrades, "A is sold on day two")
	assert.Equal(t, int64(1), stats.ProfitableTrades)
	assert.Equal(t, 1.0, stats.WinRate)

	one, err := repo.Statistics(res.RunID.String())
	require.NoError(t, err)
	assert.Equal(t, stats, one)
}

func TestStatisticsAggregatesSells(t *testing.T) {
	repo := newRepository(t)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.db.Create(&[]models.Run{{RunID: "r1"}, {RunID: "r2"}}).Error)
	require.NoError(t, repo.db.Create(&[]models.Trade{
		{RunID: "r1", Seq: 1, TradeID: "a", Date: day, Symbol: "A", Side: "BUY", Quantity: 10},
		{RunID: "r1", Seq: 2, TradeID: "b", Date: day, Symbol: "A", Side: "SELL", Quantity: -5, Profit: 30},
		{RunID: "r1", Seq: 3, TradeID: "c", Date: day, Symbol: "A", Side: "SELL", Quantity: -5, Profit: -10},
		{RunID: "r2", Seq: 1, TradeID: "d", Date: day, Symbol: "B", Side: "SELL", Quantity: -1, Profit: 5.5},
	}).Error)

	tests := []struct {
		name  string
		runID string
		want  StatsDetail
	}{
		{"all runs", "", StatsDetail{Runs: 2, TotalTrades: 4, ClosingTrades: 3, ProfitableTrades: 2, WinRate: 2.0 / 3.0, TotalProfit: 25.5}},
		{"one run", "r1", StatsDetail{Runs: 1, TotalTrades: 3, ClosingTrades: 2, ProfitableTrades: 1, WinRate: 0.5, TotalProfit: 20}},
		{"no trades", "missing", StatsDetail{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Statistics(tt.runID)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Runs, got.Runs)
			assert.Equal(t, tt.want.TotalTrades, got.TotalTrades)
			assert.Equal(t, tt.want.ClosingTrades, got.ClosingTrades)
			assert.Equal(t, tt.want.ProfitableTrades, got.ProfitableTrades)
			assert.InDelta(t, tt.want.WinRate, got.WinRate, 1e-12)
			assert.InDelta(t, tt.want.TotalProfit, got.TotalProfit, 1e-9)
		})
	}
}
