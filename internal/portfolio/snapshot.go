package portfolio

import (
	"fmt"
	"time"

	"signal-backtest-go/internal/market"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Holding is the valuation of one position inside a Snapshot.
type Holding struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Value    decimal.Decimal
}

// Snapshot is the state of the ledger at a mark-to-market.
type Snapshot struct {
	Date           time.Time
	Cash           decimal.Decimal
	Holdings       map[string]Holding
	PositionsValue decimal.Decimal
	TotalValue     decimal.Decimal
}

func (s Snapshot) clone() Snapshot {
	holdings := make(map[string]Holding, len(s.Holdings))
	for k, h := range s.Holdings {
		holdings[k] = h
	}
	s.Holdings = holdings
	return s
}

// ValuePoint is one entry of the portfolio value history.
type ValuePoint struct {
	Date  time.Time
	Value decimal.Decimal
}

// MarkToMarket revalues every position at prices and records a snapshot.
// Each date may be marked once and dates must increase.
func (l *Ledger) MarkToMarket(date time.Time, prices market.Prices) (Snapshot, error) {
	date = market.Day(date)
	if n := len(l.history); n > 0 && !date.After(l.history[n-1].Date) {
		return Snapshot{}, fmt.Errorf("%w: %s (last mark %s)", ErrDuplicateMark,
			date.Format(market.DateLayout), l.history[n-1].Date.Format(market.DateLayout))
	}

	snap := Snapshot{
		Date:           date,
		Cash:           l.cash,
		Holdings:       make(map[string]Holding, len(l.positions)),
		PositionsValue: decimal.Zero,
	}
	// price every asset before touching state so a failure leaves the ledger unchanged
	for _, asset := range l.sortedAssets() {
		price, err := prices.Price(date, asset)
		if err != nil {
			return Snapshot{}, err
		}
		qty := l.positions[asset].Quantity
		value := qty.Mul(price)
		snap.Holdings[asset] = Holding{Quantity: qty, Price: price, Value: value}
		snap.PositionsValue = snap.PositionsValue.Add(value)
	}
	snap.TotalValue = l.cash.Add(snap.PositionsValue)

	for asset, h := range snap.Holdings {
		pos := l.positions[asset]
		pos.LastPrice = h.Price
		pos.MarketValue = h.Value
	}
	l.history = append(l.history, snap)

	l.logger.Debug("Marked to market",
		zap.String("date", date.Format(market.DateLayout)),
		zap.String("cash", snap.Cash.StringFixed(2)),
		zap.String("positions_value", snap.PositionsValue.StringFixed(2)),
		zap.String("total", snap.TotalValue.StringFixed(2)))
	return snap.clone(), nil
}

// History returns the recorded snapshots in date order.
func (l *Ledger) History() []Snapshot {
	out := make([]Snapshot, len(l.history))
	for i, s := range l.history {
		out[i] = s.clone()
	}
	return out
}

// ValueHistory returns the total value at every mark-to-market.
func (l *Ledger) ValueHistory() []ValuePoint {
	out := make([]ValuePoint, len(l.history))
	for i, s := range l.history {
		out[i] = ValuePoint{Date: s.Date, Value: s.TotalValue}
	}
	return out
}

// LastMark returns the most recent snapshot.
func (l *Ledger) LastMark() (Snapshot, bool) {
	if len(l.history) == 0 {
		return Snapshot{}, false
	}
	return l.history[len(l.history)-1], true
}
