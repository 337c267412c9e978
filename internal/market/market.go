package market

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the layout used for dates in data files, logs and errors.
const DateLayout = "2006-01-02"

// Prices maps an asset identifier to its price on a single date.
type Prices map[string]decimal.Decimal

// Clone returns a copy of the price map.
func (p Prices) Clone() Prices {
	out := make(Prices, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Price returns the price for asset, failing with a DataError when it is
// missing or not strictly positive.
func (p Prices) Price(date time.Time, asset string) (decimal.Decimal, error) {
	price, ok := p[asset]
	if !ok {
		return decimal.Zero, NewDataError(date, asset, "missing price")
	}
	if !price.IsPositive() {
		return decimal.Zero, NewDataError(date, asset, fmt.Sprintf("non-positive price %s", price))
	}
	return price, nil
}

// Day truncates t to midnight UTC so dates from different sources compare equal.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD (or YYYYMMDD) date.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{DateLayout, "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or YYYYMMDD", s)
}

// Frame is a date-indexed table of prices. Dates are kept sorted and unique.
type Frame struct {
	dates  []time.Time
	index  map[time.Time]int
	assets map[string]struct{}
	rows   []Prices
}

// NewFrame creates an empty price frame.
func NewFrame() *Frame {
	return &Frame{
		index:  make(map[time.Time]int),
		assets: make(map[string]struct{}),
	}
}

// Set stores the price of asset on date.
func (f *Frame) Set(date time.Time, asset string, price decimal.Decimal) {
	date = Day(date)
	i, ok := f.index[date]
	if !ok {
		i = f.insert(date)
	}
	f.rows[i][asset] = price
	f.assets[asset] = struct{}{}
}

func (f *Frame) insert(date time.Time) int {
	i := sort.Search(len(f.dates), func(i int) bool { return !f.dates[i].Before(date) })
	f.dates = append(f.dates, time.Time{})
	copy(f.dates[i+1:], f.dates[i:])
	f.dates[i] = date
	f.rows = append(f.rows, nil)
	copy(f.rows[i+1:], f.rows[i:])
	f.rows[i] = make(Prices)
	for j := i; j < len(f.dates); j++ {
		f.index[f.dates[j]] = j
	}
	return i
}

// Len returns the number of dates in the frame.
func (f *Frame) Len() int { return len(f.dates) }

// Dates returns the sorted date index.
func (f *Frame) Dates() []time.Time {
	out := make([]time.Time, len(f.dates))
	copy(out, f.dates)
	return out
}

// Assets returns the sorted set of assets that appear in the frame.
func (f *Frame) Assets() []string {
	out := make([]string, 0, len(f.assets))
	for a := range f.assets {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Index returns the position of date in the frame.
func (f *Frame) Index(date time.Time) (int, bool) {
	i, ok := f.index[Day(date)]
	return i, ok
}

// At returns a copy of the prices recorded on date.
func (f *Frame) At(date time.Time) (Prices, bool) {
	i, ok := f.Index(date)
	if !ok {
		return nil, false
	}
	return f.rows[i].Clone(), true
}

// Row returns a copy of the prices at position i.
func (f *Frame) Row(i int) Prices {
	return f.rows[i].Clone()
}

// Closes returns the price history of asset for positions [0, upto]. Dates
// without a price are skipped.
func (f *Frame) Closes(asset string, upto int) []float64 {
	if upto >= len(f.rows) {
		upto = len(f.rows) - 1
	}
	out := make([]float64, 0, upto+1)
	for i := 0; i <= upto; i++ {
		if p, ok := f.rows[i][asset]; ok {
			out = append(out, p.InexactFloat64())
		}
	}
	return out
}

// ForwardFill copies the last known price of every asset into later dates
// that lack one. Dates before an asset's first price stay empty.
func (f *Frame) ForwardFill() int {
	filled := 0
	last := make(Prices)
	for _, row := range f.rows {
		for asset := range f.assets {
			if p, ok := row[asset]; ok {
				last[asset] = p
				continue
			}
			if p, ok := last[asset]; ok {
				row[asset] = p
				filled++
			}
		}
	}
	return filled
}
