package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signal-backtest-go/internal/database"
	"signal-backtest-go/internal/models"
	"signal-backtest-go/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.Run{RunID: "run-1", Strategy: "static", RebalanceFreq: "daily", FinalValue: 10100}).Error)
	require.NoError(t, db.Create(&[]models.Trade{
		{RunID: "run-1", Seq: 1, TradeID: "t1", Date: day, Symbol: "A", Side: "BUY", Quantity: 10, Price: 100},
		{RunID: "run-1", Seq: 2, TradeID: "t2", Date: day.AddDate(0, 0, 1), Symbol: "A", Side: "SELL", Quantity: -10, Price: 110, Profit: 100},
	}).Error)
	require.NoError(t, db.Create(&[]models.Weight{
		{RunID: "run-1", Kind: store.KindSignal, Date: day, Symbol: "A", Weight: 1},
		{RunID: "run-1", Kind: store.KindRealized, Date: day, Symbol: "A", Weight: 0.99},
	}).Error)

	repo := store.NewRepository(db, zap.NewNop())
	return NewRouter(NewAPIHandler(zap.NewNop(), repo))
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"health", "/health", http.StatusOK},
		{"runs", "/api/runs", http.StatusOK},
		{"run", "/api/runs/run-1", http.StatusOK},
		{"missing run", "/api/runs/nope", http.StatusNotFound},
		{"trades of missing run", "/api/runs/nope/trades", http.StatusNotFound},
		{"snapshots", "/api/runs/run-1/snapshots", http.StatusOK},
		{"bad weight kind", "/api/runs/run-1/weights?kind=other", http.StatusBadRequest},
		{"statistics", "/api/statistics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, get(t, r, tt.path).Code)
		})
	}
}

func TestTradesHandler(t *testing.T) {
	r := newTestRouter(t)

	w := get(t, r, "/api/runs/run-1/trades")
	require.Equal(t, http.StatusOK, w.Code)

	var trades []models.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	require.Len(t, trades, 2)
	assert.Equal(t, "t1", trades[0].TradeID)
	assert.Equal(t, "SELL", trades[1].Side)
}

func TestWeightsHandler(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		query  string
		weight float64
	}{
		{"", 0.99},
		{"?kind=realized", 0.99},
		{"?kind=signal", 1},
	}
	for _, tt := range tests {
		w := get(t, r, "/api/runs/run-1/weights"+tt.query)
		require.Equal(t, http.StatusOK, w.Code)

		var weights []models.Weight
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &weights))
		require.Len(t, weights, 1, tt.query)
		assert.Equal(t, tt.weight, weights[0].Weight, tt.query)
	}
}

func TestStatisticsHandler(t *testing.T) {
	r := newTestRouter(t)

	w := get(t, r, "/api/statistics?run_id=run-1")
	require.Equal(t, http.StatusOK, w.Code)

	var stats store.StatsDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(2), stats.TotalTrades)
	assert.Equal(t, int64(1), stats.ClosingTrades)
	assert.Equal(t, 1.0, stats.WinRate)
	assert.Equal(t, 100.0, stats.TotalProfit)
}
