package backtest

import (
	"fmt"
	"time"

	"signal-backtest-go/internal/config"
)

// RebalanceDates marks the first trading day of every period in dates. The
// first date always qualifies.
func RebalanceDates(dates []time.Time, freq string) ([]bool, error) {
	key, err := periodKey(freq)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(dates))
	for i, d := range dates {
		out[i] = i == 0 || key(d) != key(dates[i-1])
	}
	return out, nil
}

func periodKey(freq string) (func(time.Time) int, error) {
	switch freq {
	case config.Daily:
		return func(t time.Time) int { return t.Year()*1000 + t.YearDay() }, nil
	case config.Weekly:
		return func(t time.Time) int {
			y, w := t.ISOWeek()
			return y*100 + w
		}, nil
	case config.Monthly:
		return func(t time.Time) int { return t.Year()*100 + int(t.Month()) }, nil
	case config.Quarterly:
		return func(t time.Time) int { return t.Year()*10 + (int(t.Month())-1)/3 }, nil
	case config.Yearly:
		return func(t time.Time) int { return t.Year() }, nil
	default:
		return nil, fmt.Errorf("%w: unknown rebalance frequency %q", config.ErrInvalidParameter, freq)
	}
}
