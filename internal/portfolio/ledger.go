package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"signal-backtest-go/internal/costmodel"
	"signal-backtest-go/internal/market"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientPosition is returned when a sell exceeds the held quantity.
	ErrInsufficientPosition = errors.New("sell quantity exceeds held quantity")
	// ErrNegativeCash is returned when applying a trade would overdraw cash.
	ErrNegativeCash = errors.New("cash balance would become negative")
	// ErrDuplicateMark is returned when a date is marked to market twice or out of order.
	ErrDuplicateMark = errors.New("date already marked to market")
	// ErrInvalidFill is returned for fills with a non-positive quantity or price.
	ErrInvalidFill = errors.New("invalid fill")
)

// Fill is what the ledger needs to know about an executed trade.
type Fill struct {
	Date       time.Time
	Asset      string
	Side       costmodel.Side
	Quantity   decimal.Decimal // unsigned
	Price      decimal.Decimal // execution price
	Commission decimal.Decimal
}

// Position is a holding in a single asset.
type Position struct {
	Asset       string
	Quantity    decimal.Decimal
	CostBasis   decimal.Decimal // average cost per unit, buy commissions included
	LastPrice   decimal.Decimal // price at the last mark-to-market
	MarketValue decimal.Decimal // Quantity at LastPrice
}

// Ledger owns the cash balance and positions of one backtest run. It is the
// only place that mutates them.
type Ledger struct {
	logger    *zap.Logger
	initial   decimal.Decimal
	cash      decimal.Decimal
	positions map[string]*Position
	history   []Snapshot
}

// NewLedger creates a ledger funded with initialCapital.
func NewLedger(initialCapital decimal.Decimal, logger *zap.Logger) (*Ledger, error) {
	if !initialCapital.IsPositive() {
		return nil, fmt.Errorf("initial capital must be positive, got %s", initialCapital)
	}
	logger.Debug("Initialized ledger", zap.String("capital", initialCapital.StringFixed(2)))
	return &Ledger{
		logger:    logger,
		initial:   initialCapital,
		cash:      initialCapital,
		positions: make(map[string]*Position),
	}, nil
}

// InitialCapital returns the starting cash.
func (l *Ledger) InitialCapital() decimal.Decimal { return l.initial }

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// Position returns a copy of the position in asset.
func (l *Ledger) Position(asset string) (Position, bool) {
	p, ok := l.positions[asset]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions keyed by asset.
func (l *Ledger) Positions() map[string]Position {
	out := make(map[string]Position, len(l.positions))
	for k, p := range l.positions {
		out[k] = *p
	}
	return out
}

// Holdings returns the held quantity of every open position.
func (l *Ledger) Holdings() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.positions))
	for k, p := range l.positions {
		out[k] = p.Quantity
	}
	return out
}

// ApplyTrade updates cash and positions from a fill and returns the realized
// profit for sells (zero for buys).
func (l *Ledger) ApplyTrade(f Fill) (decimal.Decimal, error) {
	if !f.Quantity.IsPositive() || !f.Price.IsPositive() || f.Commission.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s %s qty=%s price=%s commission=%s",
			ErrInvalidFill, f.Side, f.Asset, f.Quantity, f.Price, f.Commission)
	}
	switch f.Side {
	case costmodel.Buy:
		return decimal.Zero, l.buy(f)
	case costmodel.Sell:
		return l.sell(f)
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown side %q", ErrInvalidFill, f.Side)
	}
}

func (l *Ledger) buy(f Fill) error {
	cost := f.Quantity.Mul(f.Price).Add(f.Commission)
	newCash := l.cash.Sub(cost)
	if newCash.IsNegative() {
		return market.NewDataErrorWrap(f.Date, f.Asset,
			fmt.Sprintf("buy costs %s with %s available", cost.StringFixed(2), l.cash.StringFixed(2)), ErrNegativeCash)
	}
	l.cash = newCash

	pos, ok := l.positions[f.Asset]
	if !ok {
		pos = &Position{Asset: f.Asset, Quantity: decimal.Zero, CostBasis: decimal.Zero}
		l.positions[f.Asset] = pos
	}
	totalCost := pos.Quantity.Mul(pos.CostBasis).Add(cost)
	pos.Quantity = pos.Quantity.Add(f.Quantity)
	pos.CostBasis = totalCost.Div(pos.Quantity)
	pos.MarketValue = pos.Quantity.Mul(pos.LastPrice)

	l.logger.Debug("Applied buy",
		zap.String("date", f.Date.Format(market.DateLayout)),
		zap.String("asset", f.Asset),
		zap.String("quantity", f.Quantity.String()),
		zap.String("price", f.Price.StringFixed(4)),
		zap.String("cash", l.cash.StringFixed(2)))
	return nil
}

func (l *Ledger) sell(f Fill) (decimal.Decimal, error) {
	pos, ok := l.positions[f.Asset]
	held := decimal.Zero
	if ok {
		held = pos.Quantity
	}
	if f.Quantity.GreaterThan(held) {
		return decimal.Zero, market.NewDataErrorWrap(f.Date, f.Asset,
			fmt.Sprintf("sell %s with %s held", f.Quantity, held), ErrInsufficientPosition)
	}

	proceeds := f.Quantity.Mul(f.Price).Sub(f.Commission)
	newCash := l.cash.Add(proceeds)
	if newCash.IsNegative() {
		return decimal.Zero, market.NewDataErrorWrap(f.Date, f.Asset,
			fmt.Sprintf("commission %s exceeds available cash", f.Commission.StringFixed(2)), ErrNegativeCash)
	}
	l.cash = newCash

	pnl := proceeds.Sub(f.Quantity.Mul(pos.CostBasis))
	pos.Quantity = pos.Quantity.Sub(f.Quantity)
	if pos.Quantity.IsZero() {
		delete(l.positions, f.Asset)
	} else {
		pos.MarketValue = pos.Quantity.Mul(pos.LastPrice)
	}

	l.logger.Debug("Applied sell",
		zap.String("date", f.Date.Format(market.DateLayout)),
		zap.String("asset", f.Asset),
		zap.String("quantity", f.Quantity.String()),
		zap.String("price", f.Price.StringFixed(4)),
		zap.String("pnl", pnl.StringFixed(2)),
		zap.String("cash", l.cash.StringFixed(2)))
	return pnl, nil
}

// ValueAt returns cash plus the value of all positions at prices without
// changing any state. Every held asset needs a price.
func (l *Ledger) ValueAt(date time.Time, prices market.Prices) (decimal.Decimal, error) {
	total := l.cash
	for _, asset := range l.sortedAssets() {
		price, err := prices.Price(date, asset)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(l.positions[asset].Quantity.Mul(price))
	}
	return total, nil
}

// TotalValue returns cash plus every position valued at its last marked
// price. A position opened since the last mark counts as zero until marked.
func (l *Ledger) TotalValue() decimal.Decimal {
	total := l.cash
	for _, p := range l.positions {
		total = total.Add(p.MarketValue)
	}
	return total
}

// Weights returns each position's share of total portfolio value at prices.
// Cash holds the remainder, 1 - sum(weights).
func (l *Ledger) Weights(date time.Time, prices market.Prices) (map[string]float64, error) {
	total, err := l.ValueAt(date, prices)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(l.positions))
	if !total.IsPositive() {
		l.logger.Warn("Total portfolio value is not positive, returning zero weights",
			zap.String("date", date.Format(market.DateLayout)))
		for asset := range l.positions {
			weights[asset] = 0
		}
		return weights, nil
	}
	for asset, p := range l.positions {
		weights[asset] = p.Quantity.Mul(prices[asset]).Div(total).InexactFloat64()
	}
	return weights, nil
}

func (l *Ledger) sortedAssets() []string {
	assets := make([]string, 0, len(l.positions))
	for a := range l.positions {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}
