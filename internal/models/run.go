package models

import (
	"time"

	"gorm.io/gorm"
)

// Run is one completed backtest and its headline figures.
type Run struct {
	gorm.Model
	RunID         string    `gorm:"uniqueIndex;not null" json:"run_id"`
	Label         string    `json:"label,omitempty"`
	Strategy      string    `json:"strategy"`
	RebalanceFreq string    `json:"rebalance_freq"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	InitialValue  float64   `json:"initial_value"`
	FinalValue    float64   `json:"final_value"`
	TotalReturn   float64   `json:"total_return"`
	CAGR          float64   `json:"cagr"`
	Volatility    float64   `json:"volatility"`
	Sharpe        float64   `json:"sharpe"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	Turnover      float64   `json:"turnover"`
	WinRate       float64   `json:"win_rate"`
	NumTrades     int       `json:"num_trades"`
	Diagnostics   string    `json:"diagnostics,omitempty"`
}

// Snapshot is the portfolio value of a run on one date.
type Snapshot struct {
	gorm.Model
	RunID          string    `gorm:"index:idx_snapshot_run_date;not null" json:"run_id"`
	Date           time.Time `gorm:"index:idx_snapshot_run_date" json:"date"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	TotalValue     float64   `json:"total_value"`
}

// Weight is one asset's weight on one date. Kind is "signal" for target
// weights or "realized" for post-trade weights.
type Weight struct {
	gorm.Model
	RunID  string    `gorm:"index:idx_weight_run_kind;not null" json:"run_id"`
	Kind   string    `gorm:"index:idx_weight_run_kind" json:"kind"`
	Date   time.Time `json:"date"`
	Symbol string    `json:"symbol"`
	Weight float64   `json:"weight"`
}
