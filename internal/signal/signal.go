package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"signal-backtest-go/internal/market"
)

// ErrDuplicateDate is returned when a series already holds weights for a date.
var ErrDuplicateDate = errors.New("signal already recorded for date")

// Weights maps an asset to its target fraction of portfolio value. Whatever
// the weights leave unallocated stays in cash.
type Weights map[string]float64

// Sum returns the total allocated weight.
func (w Weights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// Clone returns a copy of the weights.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Assets returns the assets named by the weights in sorted order.
func (w Weights) Assets() []string {
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Normalize clamps negative or non-finite weights to zero and rescales the
// rest to sum to one. All-zero input stays all zero.
func Normalize(w Weights) Weights {
	out := make(Weights, len(w))
	var total float64
	for k, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[k] = v
		total += v
	}
	if total <= 0 {
		return out
	}
	for k, v := range out {
		out[k] = v / total
	}
	return out
}

// Series is the intermediate result handed from signal generation to the
// trading phase: target weights per date. Weights are frozen once added.
type Series struct {
	dates   []time.Time
	weights map[time.Time]Weights
}

// NewSeries creates an empty series.
func NewSeries() *Series {
	return &Series{weights: make(map[time.Time]Weights)}
}

// Add records the weights for date. A date can only be added once.
func (s *Series) Add(date time.Time, w Weights) error {
	date = market.Day(date)
	if _, ok := s.weights[date]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDate, date.Format(market.DateLayout))
	}
	i := sort.Search(len(s.dates), func(i int) bool { return s.dates[i].After(date) })
	s.dates = append(s.dates, time.Time{})
	copy(s.dates[i+1:], s.dates[i:])
	s.dates[i] = date
	s.weights[date] = w.Clone()
	return nil
}

// At returns a copy of the weights recorded for date.
func (s *Series) At(date time.Time) (Weights, bool) {
	w, ok := s.weights[market.Day(date)]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// Dates returns the signal dates in order.
func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.dates))
	copy(out, s.dates)
	return out
}

// Between returns the part of the series dated within [from, to].
// A zero bound is open.
func (s *Series) Between(from, to time.Time) *Series {
	out := NewSeries()
	for _, d := range s.dates {
		if !from.IsZero() && d.Before(market.Day(from)) {
			continue
		}
		if !to.IsZero() && d.After(market.Day(to)) {
			continue
		}
		out.dates = append(out.dates, d)
		out.weights[d] = s.weights[d]
	}
	return out
}

// Len returns the number of signal dates.
func (s *Series) Len() int { return len(s.dates) }

// Generator produces a signal series from a price history. Implementations
// only look at prices up to and including each signal date.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prices *market.Frame) (*Series, error)
}
