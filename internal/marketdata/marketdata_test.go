package marketdata

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"signal-backtest-go/internal/binance"
	"signal-backtest-go/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func day(i int) time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i) }

// MockSource is a mock of the remote price feed
type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetDailyCloses(ctx context.Context, symbol string, start, end time.Time) ([]binance.Close, error) {
	args := m.Called(ctx, symbol, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]binance.Close), args.Error(1)
}

const sampleCSV = "date,BTC,ETH\n2024-01-01,42000,2300\n2024-01-02,,2350.5\n2024-01-03,43000,2400\n"

func TestCSVRoundTrip(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Len())
	assert.Equal(t, []string{"BTC", "ETH"}, frame.Assets())

	row, ok := frame.At(day(1))
	require.True(t, ok)
	_, hasBTC := row["BTC"]
	assert.False(t, hasBTC, "empty cell is a missing price")

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, frame))
	assert.Equal(t, sampleCSV, buf.String())
}

func TestReadCSVErrors(t *testing.T) {
	testCases := []struct {
		name string
		in   string
	}{
		{name: "no assets", in: "date\n2024-01-01\n"},
		{name: "bad date", in: "date,A\n01/01/2024,1\n"},
		{name: "bad price", in: "date,A\n2024-01-01,abc\n"},
		{name: "duplicate date", in: "date,A\n2024-01-01,1\n2024-01-01,2\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tc.in))
			assert.Error(t, err)
		})
	}
}

func TestLoaderReadMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	l := NewLoader(config.Data{
		Tickers:     []string{"BTC"},
		StartDate:   "2024-01-01",
		EndDate:     "2024-01-03",
		Mode:        config.ModeRead,
		CacheFile:   path,
		ForwardFill: true,
	}, nil, zap.NewNop())

	frame, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, frame.Assets())
	assert.Equal(t, 3, frame.Len())

	row, _ := frame.At(day(1))
	assert.True(t, row["BTC"].Equal(decimal.NewFromInt(42000)), "gap filled from the previous close")
}

func TestLoaderReadModeWithoutCache(t *testing.T) {
	l := NewLoader(config.Data{
		Tickers:   []string{"BTC"},
		StartDate: "2024-01-01",
		Mode:      config.ModeRead,
		CacheFile: filepath.Join(t.TempDir(), "missing.csv"),
	}, nil, zap.NewNop())

	_, err := l.Load(context.Background())
	assert.Error(t, err)
}

func TestLoaderSaveMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "prices.csv")
	source := new(MockSource)
	source.On("GetDailyCloses", mock.Anything, "BTCUSDT", day(0), day(1)).Return([]binance.Close{
		{Date: day(0), Price: decimal.NewFromInt(100)},
		{Date: day(1), Price: decimal.NewFromInt(110)},
	}, nil)

	l := NewLoader(config.Data{
		Tickers:   []string{"BTC"},
		Quote:     "USDT",
		StartDate: "2024-01-01",
		EndDate:   "2024-01-02",
		Mode:      config.ModeSave,
		CacheFile: path,
	}, source, zap.NewNop())

	frame, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Len())
	source.AssertExpectations(t)

	cached, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.Len())
}

func TestLoaderLiveModeSkipsCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	source := new(MockSource)
	source.On("GetDailyCloses", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything).Return([]binance.Close{
		{Date: day(0), Price: decimal.NewFromInt(100)},
	}, nil)

	l := NewLoader(config.Data{
		Tickers:   []string{"ETH"},
		Quote:     "USDT",
		StartDate: "2024-01-01",
		EndDate:   "2024-01-01",
		Mode:      config.ModeLive,
		CacheFile: path,
	}, source, zap.NewNop())

	_, err := l.Load(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoaderSourceError(t *testing.T) {
	source := new(MockSource)
	source.On("GetDailyCloses", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	l := NewLoader(config.Data{
		Tickers:   []string{"BTC"},
		StartDate: "2024-01-01",
		EndDate:   "2024-01-02",
		Mode:      config.ModeLive,
	}, source, zap.NewNop())

	_, err := l.Load(context.Background())
	assert.ErrorContains(t, err, "boom")
}
