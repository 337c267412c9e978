package models

import (
	"time"

	"gorm.io/gorm"
)

// Trade represents an executed backtest trade.
type Trade struct {
	gorm.Model
	RunID       string    `gorm:"index;not null" json:"run_id"`
	Seq         int       `json:"seq"`
	TradeID     string    `gorm:"uniqueIndex" json:"trade_id"`
	Date        time.Time `gorm:"index" json:"date"`
	Symbol      string    `gorm:"index" json:"symbol"`
	Side        string    `json:"side"` // "BUY" or "SELL"
	Quantity    float64   `json:"quantity"`
	QuotePrice  float64   `json:"quote_price"`
	Price       float64   `json:"price"`
	Commission  float64   `json:"commission"`
	Gross       float64   `json:"gross"`
	Profit      float64   `json:"profit,omitempty"`
}
