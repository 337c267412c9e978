package signal

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"signal-backtest-go/internal/market"

	"github.com/thrasher-corp/gct-ta/indicators"
	"go.uber.org/zap"
)

var (
	// ErrUnknownStrategy is returned by New for an unregistered strategy name.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrInvalidParams is returned when generator parameters are unusable.
	ErrInvalidParams = errors.New("invalid strategy parameters")
)

// Params carries the resolved, typed parameters every generator may read.
type Params struct {
	ShortLookback  int
	MediumLookback int
	LongLookback   int
	TopN           int
	Weights        Weights
}

// New returns the generator registered under name.
func New(name string, p Params, logger *zap.Logger) (Generator, error) {
	logger = logger.Named("signal").With(zap.String("strategy", name))
	switch name {
	case "equal_weight":
		return &EqualWeight{logger: logger}, nil
	case "ema":
		return NewEMATrend(p.ShortLookback, p.MediumLookback, p.LongLookback, p.TopN, logger)
	case "top_n":
		return NewTopN(p.TopN, logger)
	case "static":
		return NewStatic(p.Weights, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// EqualWeight allocates 1/N to every asset priced on a date.
type EqualWeight struct {
	logger *zap.Logger
}

func (g *EqualWeight) Name() string { return "equal_weight" }

func (g *EqualWeight) Generate(ctx context.Context, prices *market.Frame) (*Series, error) {
	series := NewSeries()
	for i, date := range prices.Dates() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := prices.Row(i)
		w := make(Weights, len(row))
		for asset, p := range row {
			if p.IsPositive() {
				w[asset] = 1
			}
		}
		if err := series.Add(date, Normalize(w)); err != nil {
			return nil, err
		}
	}
	g.logger.Debug("Generated signals", zap.Int("dates", series.Len()))
	return series, nil
}

// EMATrend weights assets by the strength of their EMA trend:
// short/medium - 1 + medium/long - 1. Only assets with positive strength are
// held, and TopN > 0 keeps the strongest N of them.
type EMATrend struct {
	short, medium, long int
	topN                int
	logger              *zap.Logger
}

// NewEMATrend validates lookbacks and returns the generator.
func NewEMATrend(short, medium, long, topN int, logger *zap.Logger) (*EMATrend, error) {
	if short <= 0 || medium <= 0 || long <= 0 {
		return nil, fmt.Errorf("%w: lookbacks must be positive (st=%d mt=%d lt=%d)", ErrInvalidParams, short, medium, long)
	}
	if !(short < medium && medium < long) {
		return nil, fmt.Errorf("%w: lookbacks must increase (st=%d mt=%d lt=%d)", ErrInvalidParams, short, medium, long)
	}
	if topN < 0 {
		return nil, fmt.Errorf("%w: top_n must not be negative", ErrInvalidParams)
	}
	return &EMATrend{short: short, medium: medium, long: long, topN: topN, logger: logger}, nil
}

func (g *EMATrend) Name() string { return "ema" }

type emaLine struct {
	// obs[k] is the frame position of the k-th observed price
	obs                 []int
	short, medium, long []float64
}

func (g *EMATrend) lines(prices *market.Frame) map[string]*emaLine {
	closes := make(map[string][]float64)
	out := make(map[string]*emaLine)
	for i := 0; i < prices.Len(); i++ {
		for asset, p := range prices.Row(i) {
			if !p.IsPositive() {
				continue
			}
			line, ok := out[asset]
			if !ok {
				line = &emaLine{}
				out[asset] = line
			}
			line.obs = append(line.obs, i)
			closes[asset] = append(closes[asset], p.InexactFloat64())
		}
	}
	for asset, line := range out {
		c := closes[asset]
		if len(c) < g.long {
			g.logger.Debug("Not enough history for EMA", zap.String("asset", asset), zap.Int("observations", len(c)))
			delete(out, asset)
			continue
		}
		line.short = indicators.EMA(c, g.short)
		line.medium = indicators.EMA(c, g.medium)
		line.long = indicators.EMA(c, g.long)
	}
	return out
}

func (g *EMATrend) Generate(ctx context.Context, prices *market.Frame) (*Series, error) {
	lines := g.lines(prices)
	series := NewSeries()
	for i, date := range prices.Dates() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		strength := make(map[string]float64)
		for asset, line := range lines {
			k := sort.SearchInts(line.obs, i)
			if k >= len(line.obs) || line.obs[k] != i {
				continue
			}
			// EMA values stay zero until each lookback has warmed up
			if k < g.long-1 || line.medium[k] == 0 || line.long[k] == 0 {
				continue
			}
			s := line.short[k]/line.medium[k] - 1 + line.medium[k]/line.long[k] - 1
			if s > 0 {
				strength[asset] = s
			}
		}
		w := Normalize(Weights(keepTop(strength, g.topN)))
		if err := series.Add(date, w); err != nil {
			return nil, err
		}
	}
	g.logger.Debug("Generated signals", zap.Int("dates", series.Len()), zap.Int("assets", len(lines)))
	return series, nil
}

// TopN holds the N assets with the highest most recent return in equal weight.
type TopN struct {
	n      int
	logger *zap.Logger
}

// NewTopN returns a TopN generator holding n assets.
func NewTopN(n int, logger *zap.Logger) (*TopN, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: top_n must be positive, got %d", ErrInvalidParams, n)
	}
	return &TopN{n: n, logger: logger}, nil
}

func (g *TopN) Name() string { return "top_n" }

func (g *TopN) Generate(ctx context.Context, prices *market.Frame) (*Series, error) {
	series := NewSeries()
	dates := prices.Dates()
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := Weights{}
		if i > 0 {
			prev, cur := prices.Row(i-1), prices.Row(i)
			returns := make(map[string]float64)
			for asset, p := range cur {
				q, ok := prev[asset]
				if !ok || !q.IsPositive() || !p.IsPositive() {
					continue
				}
				returns[asset] = p.Div(q).InexactFloat64() - 1
			}
			for asset := range keepTop(returns, g.n) {
				w[asset] = 1.0 / float64(g.n)
			}
		}
		if err := series.Add(date, w); err != nil {
			return nil, err
		}
	}
	g.logger.Debug("Generated signals", zap.Int("dates", series.Len()), zap.Int("top_n", g.n))
	return series, nil
}

// Static emits the same configured weights on every date.
type Static struct {
	weights Weights
	logger  *zap.Logger
}

// NewStatic validates weights and returns the generator.
func NewStatic(w Weights, logger *zap.Logger) (*Static, error) {
	if len(w) == 0 {
		return nil, fmt.Errorf("%w: static weights are empty", ErrInvalidParams)
	}
	for asset, v := range w {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: weight %v for %s out of [0, 1]", ErrInvalidParams, v, asset)
		}
	}
	if s := w.Sum(); s > 1+1e-9 {
		return nil, fmt.Errorf("%w: static weights sum to %v", ErrInvalidParams, s)
	}
	return &Static{weights: w.Clone(), logger: logger}, nil
}

func (g *Static) Name() string { return "static" }

func (g *Static) Generate(ctx context.Context, prices *market.Frame) (*Series, error) {
	series := NewSeries()
	for _, date := range prices.Dates() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := series.Add(date, g.weights); err != nil {
			return nil, err
		}
	}
	return series, nil
}

// keepTop returns the n highest scores, ties broken by asset name. n <= 0
// keeps everything.
func keepTop(scores map[string]float64, n int) map[string]float64 {
	if n <= 0 || len(scores) <= n {
		return scores
	}
	assets := make([]string, 0, len(scores))
	for a := range scores {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool {
		if scores[assets[i]] != scores[assets[j]] {
			return scores[assets[i]] > scores[assets[j]]
		}
		return assets[i] < assets[j]
	})
	out := make(map[string]float64, n)
	for _, a := range assets[:n] {
		out[a] = scores[a]
	}
	return out
}
