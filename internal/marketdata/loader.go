package marketdata

import (
	"context"
	"fmt"
	"os"
	"time"

	"signal-backtest-go/internal/binance"
	"signal-backtest-go/internal/config"
	"signal-backtest-go/internal/market"

	"go.uber.org/zap"
)

// Source fetches daily closes from a remote feed.
type Source interface {
	GetDailyCloses(ctx context.Context, symbol string, start, end time.Time) ([]binance.Close, error)
}

// Loader resolves the price frame for a run according to the storage mode:
// read uses the local cache only, save fetches and refreshes the cache,
// live fetches without touching the cache.
type Loader struct {
	cfg    config.Data
	source Source
	logger *zap.Logger
	now    func() time.Time
}

// NewLoader returns a loader. source may be nil in read mode.
func NewLoader(cfg config.Data, source Source, logger *zap.Logger) *Loader {
	return &Loader{cfg: cfg, source: source, logger: logger.Named("marketdata"), now: time.Now}
}

// Load returns prices for the configured tickers and date range.
func (l *Loader) Load(ctx context.Context) (*market.Frame, error) {
	start, end, err := l.window()
	if err != nil {
		return nil, err
	}

	var frame *market.Frame
	switch l.cfg.Mode {
	case config.ModeRead:
		if _, err := os.Stat(l.cfg.CacheFile); err != nil {
			return nil, fmt.Errorf("price cache %s unavailable in read mode: %w", l.cfg.CacheFile, err)
		}
		frame, err = LoadCSV(l.cfg.CacheFile)
	case config.ModeSave, config.ModeLive:
		frame, err = l.fetch(ctx, start, end)
		if err == nil && l.cfg.Mode == config.ModeSave {
			err = SaveCSV(l.cfg.CacheFile, frame)
		}
	default:
		err = fmt.Errorf("%w: data.mode %q", config.ErrInvalidParameter, l.cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	frame = Slice(frame, l.cfg.Tickers, start, end)
	if frame.Len() == 0 {
		return nil, fmt.Errorf("no prices between %s and %s", start.Format(market.DateLayout), end.Format(market.DateLayout))
	}
	if l.cfg.ForwardFill {
		if n := frame.ForwardFill(); n > 0 {
			l.logger.Info("Forward filled missing prices", zap.Int("cells", n))
		}
	}
	l.logger.Info("Loaded prices",
		zap.String("mode", l.cfg.Mode),
		zap.Int("dates", frame.Len()),
		zap.Strings("assets", frame.Assets()))
	return frame, nil
}

func (l *Loader) window() (time.Time, time.Time, error) {
	start, err := market.ParseDate(l.cfg.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: data.start_date: %v", config.ErrInvalidParameter, err)
	}
	end := market.Day(l.now())
	if l.cfg.EndDate != "" {
		if end, err = market.ParseDate(l.cfg.EndDate); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: data.end_date: %v", config.ErrInvalidParameter, err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: data.end_date before data.start_date", config.ErrInvalidParameter)
	}
	return start, end, nil
}

func (l *Loader) fetch(ctx context.Context, start, end time.Time) (*market.Frame, error) {
	if l.source == nil {
		return nil, fmt.Errorf("mode %s needs a remote price source", l.cfg.Mode)
	}
	frame := market.NewFrame()
	for _, ticker := range l.cfg.Tickers {
		closes, err := l.source.GetDailyCloses(ctx, ticker+l.cfg.Quote, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", ticker, err)
		}
		for _, c := range closes {
			frame.Set(c.Date, ticker, c.Price)
		}
		l.logger.Debug("Fetched ticker", zap.String("ticker", ticker), zap.Int("closes", len(closes)))
	}
	return frame, nil
}

// Slice returns the part of frame for assets within [start, end].
func Slice(frame *market.Frame, assets []string, start, end time.Time) *market.Frame {
	want := make(map[string]bool, len(assets))
	for _, a := range assets {
		want[a] = true
	}
	out := market.NewFrame()
	for i, date := range frame.Dates() {
		if date.Before(start) || date.After(end) {
			continue
		}
		for asset, price := range frame.Row(i) {
			if want[asset] {
				out.Set(date, asset, price)
			}
		}
	}
	return out
}
