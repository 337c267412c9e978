package orders

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"signal-backtest-go/internal/costmodel"
	"signal-backtest-go/internal/market"
	"signal-backtest-go/internal/signal"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultWeightTolerance is how far a signal's weights may sum above one.
const DefaultWeightTolerance = 1e-6

// ErrInvalidWeights is wrapped by the data error returned for unusable targets.
var ErrInvalidWeights = errors.New("invalid target weights")

// Order is an instruction to trade a signed quantity of an asset:
// positive buys, negative sells.
type Order struct {
	ID       uuid.UUID
	Asset    string
	Quantity decimal.Decimal
	Date     time.Time
	RefPrice decimal.Decimal // quote the quantity was sized against
	Intent   decimal.Decimal // signed dollar delta the order moves toward
}

// Side reports whether the order buys or sells.
func (o Order) Side() costmodel.Side { return costmodel.SideOf(o.Quantity) }

// Book is the read-only ledger view the generator sizes orders against.
type Book interface {
	Cash() decimal.Decimal
	Holdings() map[string]decimal.Decimal
}

// Config tunes order generation.
type Config struct {
	// CashBuffer keeps this fraction of projected cash unspent, in [0, 1).
	CashBuffer float64
	// WeightTolerance is the allowed excess of summed weights over one.
	WeightTolerance float64
}

// Generator turns target weights into a batch of orders.
type Generator struct {
	cfg    Config
	slip   costmodel.Slippage
	comm   costmodel.Commission
	logger *zap.Logger
}

// NewGenerator returns a generator that estimates fills with the same cost
// models the execution engine applies.
func NewGenerator(cfg Config, slip costmodel.Slippage, comm costmodel.Commission, logger *zap.Logger) (*Generator, error) {
	if cfg.CashBuffer < 0 || cfg.CashBuffer >= 1 {
		return nil, fmt.Errorf("cash buffer %v out of range [0, 1)", cfg.CashBuffer)
	}
	if cfg.WeightTolerance <= 0 {
		cfg.WeightTolerance = DefaultWeightTolerance
	}
	return &Generator{cfg: cfg, slip: slip, comm: comm, logger: logger.Named("orders")}, nil
}

type buyPlan struct {
	asset    string
	quote    decimal.Decimal
	intent   decimal.Decimal
	original decimal.Decimal
	qty      decimal.Decimal
}

// Generate diffs holdings against targets and returns every sell followed by
// every buy. Held assets missing from targets are sold in full.
func (g *Generator) Generate(date time.Time, targets signal.Weights, book Book, prices market.Prices) ([]Order, error) {
	holdings := book.Holdings()
	if err := g.validate(date, targets, holdings, prices); err != nil {
		return nil, err
	}

	total := book.Cash()
	for asset, qty := range holdings {
		total = total.Add(qty.Mul(prices[asset]))
	}

	assets := make(map[string]struct{}, len(targets)+len(holdings))
	for a := range targets {
		assets[a] = struct{}{}
	}
	for a := range holdings {
		assets[a] = struct{}{}
	}
	sorted := make([]string, 0, len(assets))
	for a := range assets {
		sorted = append(sorted, a)
	}
	sort.Strings(sorted)

	var sells []Order
	var buys []*buyPlan
	projected := book.Cash()
	for _, asset := range sorted {
		held := holdings[asset]
		weight := targets[asset]
		if weight == 0 && !held.IsPositive() {
			continue
		}
		quote := prices[asset]
		current := held.Mul(quote)
		delta := decimal.NewFromFloat(weight).Mul(total).Sub(current)

		switch {
		case weight == 0:
			sells = append(sells, g.order(date, asset, held.Neg(), quote, delta))
		case delta.IsNegative():
			qty := delta.Neg().Div(quote).Truncate(0)
			if qty.GreaterThan(held) {
				qty = held
			}
			if qty.IsZero() {
				continue
			}
			sells = append(sells, g.order(date, asset, qty.Neg(), quote, delta))
		case delta.IsPositive():
			qty := delta.Div(quote).Truncate(0)
			if qty.IsZero() {
				continue
			}
			buys = append(buys, &buyPlan{asset: asset, quote: quote, intent: delta, original: qty, qty: qty})
		}
	}

	for _, o := range sells {
		_, _, proceeds := costmodel.FillCost(costmodel.Sell, o.Quantity.Neg(), o.RefPrice, g.slip, g.comm)
		projected = projected.Add(proceeds)
	}

	sort.SliceStable(buys, func(i, j int) bool {
		if c := buys[i].intent.Cmp(buys[j].intent); c != 0 {
			return c > 0
		}
		return buys[i].asset < buys[j].asset
	})
	available := projected.Mul(decimal.NewFromFloat(1 - g.cfg.CashBuffer))
	g.fitBuys(date, buys, available)

	out := make([]Order, 0, len(sells)+len(buys))
	out = append(out, sells...)
	for _, b := range buys {
		if b.qty.IsPositive() {
			out = append(out, g.order(date, b.asset, b.qty, b.quote, b.intent))
		}
	}
	g.logger.Debug("Generated orders",
		zap.String("date", date.Format(market.DateLayout)),
		zap.Int("sells", len(sells)),
		zap.Int("buys", len(out)-len(sells)),
		zap.String("portfolio_value", total.StringFixed(2)),
		zap.String("projected_cash", projected.StringFixed(2)))
	return out, nil
}

func (g *Generator) order(date time.Time, asset string, qty, quote, intent decimal.Decimal) Order {
	return Order{ID: uuid.New(), Asset: asset, Quantity: qty, Date: date, RefPrice: quote, Intent: intent}
}

func (g *Generator) cost(qty, quote decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	_, _, cash := costmodel.FillCost(costmodel.Buy, qty, quote, g.slip, g.comm)
	return cash
}

// fitBuys shrinks buys in priority order until their projected cost fits in
// available, then spends any leftover on the same buys up to their original size.
func (g *Generator) fitBuys(date time.Time, buys []*buyPlan, available decimal.Decimal) {
	if len(buys) == 0 {
		return
	}
	need := decimal.Zero
	for _, b := range buys {
		need = need.Add(g.cost(b.qty, b.quote))
	}
	if need.LessThanOrEqual(available) {
		return
	}
	g.logger.Debug("Scaling buys to available cash",
		zap.String("date", date.Format(market.DateLayout)),
		zap.String("required", need.StringFixed(2)),
		zap.String("available", available.StringFixed(2)))

	remaining := available
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	factor := remaining.Div(need)
	for _, b := range buys {
		b.qty = g.affordable(b.quote, b.original.Mul(factor).Truncate(0), remaining)
		remaining = remaining.Sub(g.cost(b.qty, b.quote))
	}

	for _, b := range buys {
		room := b.original.Sub(b.qty)
		if !room.IsPositive() || !remaining.IsPositive() {
			continue
		}
		base := g.cost(b.qty, b.quote)
		extra := g.affordableExtra(b, room, base, remaining)
		if extra.IsPositive() {
			remaining = remaining.Sub(g.cost(b.qty.Add(extra), b.quote).Sub(base))
			b.qty = b.qty.Add(extra)
		}
	}

	for _, b := range buys {
		if b.qty.LessThan(b.original) {
			g.logger.Debug("Reduced buy for cash",
				zap.String("date", date.Format(market.DateLayout)),
				zap.String("asset", b.asset),
				zap.String("from", b.original.String()),
				zap.String("to", b.qty.String()))
		}
	}
}

// affordable returns the largest whole quantity not above want whose cost
// fits in budget.
func (g *Generator) affordable(quote, want, budget decimal.Decimal) decimal.Decimal {
	if !want.IsPositive() {
		return decimal.Zero
	}
	if g.cost(want, quote).LessThanOrEqual(budget) {
		return want
	}
	unit := g.cost(decimal.NewFromInt(1), quote)
	qty := decimal.Min(want, budget.Div(unit).Truncate(0))
	for qty.IsPositive() && g.cost(qty, quote).GreaterThan(budget) {
		qty = qty.Sub(decimal.NewFromInt(1))
	}
	return qty
}

func (g *Generator) affordableExtra(b *buyPlan, room, base, budget decimal.Decimal) decimal.Decimal {
	unit := g.cost(decimal.NewFromInt(1), b.quote)
	extra := decimal.Min(room, budget.Div(unit).Truncate(0))
	for extra.IsPositive() && g.cost(b.qty.Add(extra), b.quote).Sub(base).GreaterThan(budget) {
		extra = extra.Sub(decimal.NewFromInt(1))
	}
	return extra
}

func (g *Generator) validate(date time.Time, targets signal.Weights, holdings map[string]decimal.Decimal, prices market.Prices) error {
	var sum float64
	for _, asset := range targets.Assets() {
		w := targets[asset]
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 || w > 1 {
			return market.NewDataErrorWrap(date, asset, fmt.Sprintf("target weight %v outside [0, 1]", w), ErrInvalidWeights)
		}
		sum += w
		if w == 0 {
			continue
		}
		if _, err := prices.Price(date, asset); err != nil {
			return err
		}
	}
	if sum > 1+g.cfg.WeightTolerance {
		return market.NewDataErrorWrap(date, "", fmt.Sprintf("target weights sum to %v", sum), ErrInvalidWeights)
	}
	for asset, qty := range holdings {
		if !qty.IsPositive() {
			continue
		}
		if _, err := prices.Price(date, asset); err != nil {
			return err
		}
	}
	return nil
}
