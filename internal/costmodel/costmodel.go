package costmodel

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// SideOf returns the side implied by a signed quantity.
func SideOf(quantity decimal.Decimal) Side {
	if quantity.IsNegative() {
		return Sell
	}
	return Buy
}

// Slippage adjusts a quoted price to the price an order is filled at.
type Slippage interface {
	Adjust(side Side, quote decimal.Decimal) decimal.Decimal
}

// Commission computes the fee charged for filling quantity units at price.
// quantity is always non-negative.
type Commission interface {
	Fee(quantity, price decimal.Decimal) decimal.Decimal
}

// PercentSlippage moves the price against the trader by a fixed rate:
// buys fill higher, sells fill lower.
type PercentSlippage struct {
	Rate decimal.Decimal
}

// NewPercentSlippage validates rate and returns the model.
func NewPercentSlippage(rate float64) (PercentSlippage, error) {
	r, err := validRate("slippage", rate)
	if err != nil {
		return PercentSlippage{}, err
	}
	return PercentSlippage{Rate: r}, nil
}

func (s PercentSlippage) Adjust(side Side, quote decimal.Decimal) decimal.Decimal {
	if side == Sell {
		return quote.Mul(decimal.NewFromInt(1).Sub(s.Rate))
	}
	return quote.Mul(decimal.NewFromInt(1).Add(s.Rate))
}

// PercentCommission charges a fixed rate of gross trade value.
type PercentCommission struct {
	Rate decimal.Decimal
}

// NewPercentCommission validates rate and returns the model.
func NewPercentCommission(rate float64) (PercentCommission, error) {
	r, err := validRate("commission", rate)
	if err != nil {
		return PercentCommission{}, err
	}
	return PercentCommission{Rate: r}, nil
}

func (c PercentCommission) Fee(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Abs().Mul(price).Mul(c.Rate)
}

// NoSlippage fills at the quoted price.
type NoSlippage struct{}

func (NoSlippage) Adjust(_ Side, quote decimal.Decimal) decimal.Decimal { return quote }

// NoCommission charges nothing.
type NoCommission struct{}

func (NoCommission) Fee(_, _ decimal.Decimal) decimal.Decimal { return decimal.Zero }

// FillCost is the cash a buy consumes, or the cash a sell releases, once
// slippage and commission are applied. quantity is unsigned.
func FillCost(side Side, quantity, quote decimal.Decimal, slip Slippage, comm Commission) (execPrice, fee, cash decimal.Decimal) {
	execPrice = slip.Adjust(side, quote)
	gross := quantity.Mul(execPrice)
	fee = comm.Fee(quantity, execPrice)
	if side == Sell {
		return execPrice, fee, gross.Sub(fee)
	}
	return execPrice, fee, gross.Add(fee)
}

func validRate(name string, rate float64) (decimal.Decimal, error) {
	if rate < 0 || rate >= 1 {
		return decimal.Zero, fmt.Errorf("%s rate %v out of range [0, 1)", name, rate)
	}
	return decimal.NewFromFloat(rate), nil
}
