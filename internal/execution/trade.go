package execution

import (
	"errors"
	"fmt"
	"time"

	"signal-backtest-go/internal/costmodel"
	"signal-backtest-go/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrTradeOutOfOrder is returned when a trade is dated before the last logged trade.
var ErrTradeOutOfOrder = errors.New("trade dated before the previous trade")

// Trade is an executed order. Trades are never modified once logged.
type Trade struct {
	Seq         int
	ID          uuid.UUID
	OrderID     uuid.UUID
	Date        time.Time
	Asset       string
	Side        costmodel.Side
	Quantity    decimal.Decimal // signed: positive bought, negative sold
	QuotePrice  decimal.Decimal
	ExecPrice   decimal.Decimal // quote after slippage
	Commission  decimal.Decimal
	Gross       decimal.Decimal // |quantity| * exec price
	RealizedPnL decimal.Decimal // sells only
}

// TradeLog is the append-only record of a run's trades in execution order.
type TradeLog struct {
	trades []Trade
}

// Append adds t to the log, numbering it. Trades must not go back in time.
func (l *TradeLog) Append(t Trade) (Trade, error) {
	if n := len(l.trades); n > 0 && t.Date.Before(l.trades[n-1].Date) {
		return Trade{}, fmt.Errorf("%w: %s after %s", ErrTradeOutOfOrder,
			t.Date.Format(market.DateLayout), l.trades[n-1].Date.Format(market.DateLayout))
	}
	t.Seq = len(l.trades) + 1
	l.trades = append(l.trades, t)
	return t, nil
}

// Trades returns a copy of every logged trade.
func (l *TradeLog) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Len returns the number of logged trades.
func (l *TradeLog) Len() int { return len(l.trades) }

// ForDate returns the trades executed on date.
func (l *TradeLog) ForDate(date time.Time) []Trade {
	date = market.Day(date)
	var out []Trade
	for _, t := range l.trades {
		if t.Date.Equal(date) {
			out = append(out, t)
		}
	}
	return out
}

// ForAsset returns the trades in asset.
func (l *TradeLog) ForAsset(asset string) []Trade {
	var out []Trade
	for _, t := range l.trades {
		if t.Asset == asset {
			out = append(out, t)
		}
	}
	return out
}
