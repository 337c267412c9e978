package execution

import (
	"errors"
	"fmt"
	"time"

	"signal-backtest-go/internal/costmodel"
	"signal-backtest-go/internal/market"
	"signal-backtest-go/internal/orders"
	"signal-backtest-go/internal/portfolio"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrSellAfterBuy is returned when a batch lists a sell after a buy.
var ErrSellAfterBuy = errors.New("sell order follows a buy in the same batch")

// Engine fills orders at model prices and books them on the ledger.
type Engine struct {
	ledger *portfolio.Ledger
	slip   costmodel.Slippage
	comm   costmodel.Commission
	log    TradeLog
	logger *zap.Logger
}

// NewEngine returns an engine that books fills on ledger.
func NewEngine(ledger *portfolio.Ledger, slip costmodel.Slippage, comm costmodel.Commission, logger *zap.Logger) *Engine {
	return &Engine{ledger: ledger, slip: slip, comm: comm, logger: logger.Named("execution")}
}

// TradeLog returns the engine's trade log.
func (e *Engine) TradeLog() *TradeLog { return &e.log }

// Execute fills batch in the given order. Each fill is applied to the ledger
// before the next order is priced, so buys see the cash freed by sells.
func (e *Engine) Execute(date time.Time, batch []orders.Order, prices market.Prices) ([]Trade, error) {
	date = market.Day(date)
	seenBuy := false
	trades := make([]Trade, 0, len(batch))
	for _, o := range batch {
		if o.Quantity.IsZero() {
			continue
		}
		side := o.Side()
		if side == costmodel.Sell && seenBuy {
			return trades, market.NewDataErrorWrap(date, o.Asset, "order batch out of order", ErrSellAfterBuy)
		}
		if side == costmodel.Buy {
			seenBuy = true
		}

		quote, err := prices.Price(date, o.Asset)
		if err != nil {
			return trades, err
		}
		qty := o.Quantity.Abs()
		if side == costmodel.Sell {
			held := decimal.Zero
			if pos, ok := e.ledger.Position(o.Asset); ok {
				held = pos.Quantity
			}
			if qty.GreaterThan(held) {
				return trades, market.NewDataErrorWrap(date, o.Asset,
					fmt.Sprintf("sell order for %s with %s held", qty, held), portfolio.ErrInsufficientPosition)
			}
		}

		execPrice, fee, _ := costmodel.FillCost(side, qty, quote, e.slip, e.comm)
		pnl, err := e.ledger.ApplyTrade(portfolio.Fill{
			Date:       date,
			Asset:      o.Asset,
			Side:       side,
			Quantity:   qty,
			Price:      execPrice,
			Commission: fee,
		})
		if err != nil {
			return trades, err
		}

		t, err := e.log.Append(Trade{
			ID:          uuid.New(),
			OrderID:     o.ID,
			Date:        date,
			Asset:       o.Asset,
			Side:        side,
			Quantity:    o.Quantity,
			QuotePrice:  quote,
			ExecPrice:   execPrice,
			Commission:  fee,
			Gross:       qty.Mul(execPrice),
			RealizedPnL: pnl,
		})
		if err != nil {
			return trades, err
		}
		trades = append(trades, t)

		e.logger.Debug("Executed order",
			zap.Int("seq", t.Seq),
			zap.String("date", date.Format(market.DateLayout)),
			zap.String("asset", t.Asset),
			zap.String("side", string(side)),
			zap.String("quantity", qty.String()),
			zap.String("exec_price", execPrice.StringFixed(4)),
			zap.String("commission", fee.StringFixed(2)))
	}
	return trades, nil
}
