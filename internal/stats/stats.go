package stats

import (
	"math"
	"sort"
	"time"

	"signal-backtest-go/internal/execution"
	"signal-backtest-go/internal/market"
	"signal-backtest-go/internal/portfolio"

	"github.com/shopspring/decimal"
)

const (
	tradingDaysPerYear = 252
	daysPerYear        = 365.25
)

// Point is a dated value in a return or value series.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// PeriodReturn is the compounded return of a calendar period, keyed
// "2006-01" for months and "2006" for years.
type PeriodReturn struct {
	Period string  `json:"period"`
	Return float64 `json:"return"`
}

// Performance holds the summary figures of a run.
type Performance struct {
	TotalReturn    float64        `json:"total_return"`
	CAGR           float64        `json:"cagr"`
	Volatility     float64        `json:"volatility"`
	Sharpe         float64        `json:"sharpe"`
	MaxDrawdown    float64        `json:"max_drawdown"`
	Turnover       float64        `json:"turnover"`
	WinRate        float64        `json:"win_rate"`
	Trades         int            `json:"trades"`
	MonthlyReturns []PeriodReturn `json:"monthly_returns,omitempty"`
	YearlyReturns  []PeriodReturn `json:"yearly_returns,omitempty"`
}

// Returns converts a value history into simple daily returns. The first
// date has a return of zero.
func Returns(values []portfolio.ValuePoint) []Point {
	out := make([]Point, len(values))
	for i, v := range values {
		out[i].Date = v.Date
		if i == 0 || !values[i-1].Value.IsPositive() {
			continue
		}
		out[i].Value = v.Value.Div(values[i-1].Value).InexactFloat64() - 1
	}
	return out
}

// Compute derives the summary figures from a value history and trade log.
func Compute(values []portfolio.ValuePoint, trades []execution.Trade) Performance {
	var p Performance
	p.Trades = len(trades)
	if len(values) == 0 {
		return p
	}
	returns := Returns(values)

	first, last := values[0], values[len(values)-1]
	if first.Value.IsPositive() {
		p.TotalReturn = last.Value.Div(first.Value).InexactFloat64() - 1
	}
	if days := last.Date.Sub(first.Date).Hours() / 24; days > 0 && p.TotalReturn > -1 {
		p.CAGR = math.Pow(1+p.TotalReturn, daysPerYear/days) - 1
	}
	if len(returns) > 2 {
		p.Volatility = stdDev(returns[1:]) * math.Sqrt(tradingDaysPerYear)
	}
	if p.Volatility > 0 {
		p.Sharpe = p.CAGR / p.Volatility
	}
	p.MaxDrawdown = MaxDrawdown(values)
	p.Turnover = Turnover(values, trades)
	p.WinRate = WinRate(trades)
	p.MonthlyReturns = Compound(returns, "2006-01")
	p.YearlyReturns = Compound(returns, "2006")
	return p
}

// MaxDrawdown returns the largest peak-to-trough fall as a non-positive fraction.
func MaxDrawdown(values []portfolio.ValuePoint) float64 {
	var peak, worst float64
	for _, v := range values {
		f := v.Value.InexactFloat64()
		if f > peak {
			peak = f
		}
		if peak > 0 {
			if dd := f/peak - 1; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// Turnover is half the gross traded value over the mean portfolio value.
func Turnover(values []portfolio.ValuePoint, trades []execution.Trade) float64 {
	if len(values) == 0 || len(trades) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v.Value)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(values))))
	if !mean.IsPositive() {
		return 0
	}
	traded := decimal.Zero
	for _, t := range trades {
		traded = traded.Add(t.Gross)
	}
	return traded.Div(decimal.NewFromInt(2)).Div(mean).InexactFloat64()
}

// WinRate is the share of sells that realized a profit.
func WinRate(trades []execution.Trade) float64 {
	var sells, wins int
	for _, t := range trades {
		if !t.Quantity.IsNegative() {
			continue
		}
		sells++
		if t.RealizedPnL.IsPositive() {
			wins++
		}
	}
	if sells == 0 {
		return 0
	}
	return float64(wins) / float64(sells)
}

// Compound groups returns by the date layout key and compounds each group.
func Compound(returns []Point, layout string) []PeriodReturn {
	var out []PeriodReturn
	for _, r := range returns {
		key := r.Date.Format(layout)
		if n := len(out); n > 0 && out[n-1].Period == key {
			out[n-1].Return = (1+out[n-1].Return)*(1+r.Value) - 1
			continue
		}
		out = append(out, PeriodReturn{Period: key, Return: r.Value})
	}
	return out
}

// EqualWeightBenchmark returns the daily return of holding every priced
// asset in equal weight, rebalanced daily.
func EqualWeightBenchmark(prices *market.Frame) []Point {
	dates := prices.Dates()
	out := make([]Point, len(dates))
	for i, date := range dates {
		out[i].Date = date
		if i == 0 {
			continue
		}
		prev, cur := prices.Row(i-1), prices.Row(i)
		assets := make([]string, 0, len(cur))
		for a := range cur {
			assets = append(assets, a)
		}
		sort.Strings(assets)
		var sum float64
		var n int
		for _, a := range assets {
			q, ok := prev[a]
			if !ok || !q.IsPositive() {
				continue
			}
			sum += cur[a].Div(q).InexactFloat64() - 1
			n++
		}
		if n > 0 {
			out[i].Value = sum / float64(n)
		}
	}
	return out
}

func stdDev(points []Point) float64 {
	n := float64(len(points))
	if n < 2 {
		return 0
	}
	var mean float64
	for _, p := range points {
		mean += p.Value
	}
	mean /= n
	var ss float64
	for _, p := range points {
		ss += (p.Value - mean) * (p.Value - mean)
	}
	return math.Sqrt(ss / (n - 1))
}
