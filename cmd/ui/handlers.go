package main

import (
	"errors"
	"net/http"

	"signal-backtest-go/internal/models"
	"signal-backtest-go/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log  *zap.Logger
	repo *store.Repository
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, repo *store.Repository) *APIHandler {
	return &APIHandler{log: log, repo: repo}
}

// NewRouter wires the read-only results API.
func NewRouter(h *APIHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api := r.Group("/api")
	api.GET("/runs", h.RunsHandler)
	api.GET("/runs/:id", h.RunHandler)
	api.GET("/runs/:id/trades", h.TradesHandler)
	api.GET("/runs/:id/snapshots", h.SnapshotsHandler)
	api.GET("/runs/:id/weights", h.WeightsHandler)
	api.GET("/statistics", h.StatisticsHandler)
	return r
}

// RunsHandler returns all stored runs, most recent first.
func (h *APIHandler) RunsHandler(c *gin.Context) {
	runs, err := h.repo.ListRuns()
	if err != nil {
		h.fail(c, "Failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// RunHandler returns a single run.
func (h *APIHandler) RunHandler(c *gin.Context) {
	run, ok := h.run(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

// TradesHandler returns a run's trades in execution order.
func (h *APIHandler) TradesHandler(c *gin.Context) {
	if _, ok := h.run(c); !ok {
		return
	}
	trades, err := h.repo.Trades(c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get trades", err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// SnapshotsHandler returns a run's daily portfolio values.
func (h *APIHandler) SnapshotsHandler(c *gin.Context) {
	if _, ok := h.run(c); !ok {
		return
	}
	snaps, err := h.repo.Snapshots(c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get snapshots", err)
		return
	}
	c.JSON(http.StatusOK, snaps)
}

// WeightsHandler returns realized weights, or target weights with ?kind=signal.
func (h *APIHandler) WeightsHandler(c *gin.Context) {
	if _, ok := h.run(c); !ok {
		return
	}
	kind := c.DefaultQuery("kind", store.KindRealized)
	if kind != store.KindRealized && kind != store.KindSignal {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be realized or signal"})
		return
	}
	weights, err := h.repo.Weights(c.Param("id"), kind)
	if err != nil {
		h.fail(c, "Failed to get weights", err)
		return
	}
	c.JSON(http.StatusOK, weights)
}

// StatisticsHandler returns trade statistics across runs, or for ?run_id=<id>.
func (h *APIHandler) StatisticsHandler(c *gin.Context) {
	stats, err := h.repo.Statistics(c.Query("run_id"))
	if err != nil {
		h.fail(c, "Failed to calculate statistics", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *APIHandler) run(c *gin.Context) (models.Run, bool) {
	run, err := h.repo.GetRun(c.Param("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return run, false
	}
	if err != nil {
		h.fail(c, "Failed to get run", err)
		return run, false
	}
	return run, true
}

func (h *APIHandler) fail(c *gin.Context, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
