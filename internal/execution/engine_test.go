package execution

import (
	"testing"
	"time"

	"signal-backtest-go/internal/costmodel"
	"signal-backtest-go/internal/market"
	"signal-backtest-go/internal/orders"
	"signal-backtest-go/internal/portfolio"
	"signal-backtest-go/internal/signal"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	day1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func order(asset, qty string) orders.Order {
	return orders.Order{ID: uuid.New(), Asset: asset, Quantity: d(qty)}
}

func setup(t *testing.T, capital string, slip costmodel.Slippage, comm costmodel.Commission) (*portfolio.Ledger, *Engine) {
	t.Helper()
	ledger, err := portfolio.NewLedger(d(capital), zap.NewNop())
	require.NoError(t, err)
	return ledger, NewEngine(ledger, slip, comm, zap.NewNop())
}

func TestExecuteSingleBuy(t *testing.T) {
	ledger, engine := setup(t, "100000", costmodel.NoSlippage{}, costmodel.NoCommission{})

	trades, err := engine.Execute(day1, []orders.Order{order("X", "1000")}, market.Prices{"X": d("100")})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "X", trades[0].Asset)
	assert.True(t, trades[0].Quantity.Equal(d("1000")))
	assert.True(t, trades[0].ExecPrice.Equal(d("100")))
	assert.True(t, ledger.Cash().IsZero())

	pos, ok := ledger.Position("X")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("1000")))
}

func TestExecuteAppliesCostModels(t *testing.T) {
	slip, err := costmodel.NewPercentSlippage(0.01)
	require.NoError(t, err)
	comm, err := costmodel.NewPercentCommission(0.001)
	require.NoError(t, err)
	ledger, engine := setup(t, "10000", slip, comm)

	trades, err := engine.Execute(day1, []orders.Order{order("X", "10")}, market.Prices{"X": d("100")})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].ExecPrice.Equal(d("101")))
	assert.True(t, trades[0].Commission.Equal(d("1.01")))
	assert.True(t, ledger.Cash().Equal(d("8988.99")), "cash %s", ledger.Cash())

	trades, err = engine.Execute(day2, []orders.Order{order("X", "-10")}, market.Prices{"X": d("120")})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	// 10*118.8 - 1.188 - 10*101.101
	assert.True(t, trades[0].RealizedPnL.Equal(d("175.802")), "pnl %s", trades[0].RealizedPnL)
}

func TestExecuteSellWithoutPositionFails(t *testing.T) {
	ledger, engine := setup(t, "1000", costmodel.NoSlippage{}, costmodel.NoCommission{})

	_, err := engine.Execute(day1, []orders.Order{order("X", "-10")}, market.Prices{"X": d("10")})
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrDataConsistency)
	assert.ErrorIs(t, err, portfolio.ErrInsufficientPosition)

	_, ok := ledger.Position("X")
	assert.False(t, ok, "no negative position is created")
	assert.Equal(t, 0, engine.TradeLog().Len())
}

func TestExecuteRejectsSellAfterBuy(t *testing.T) {
	_, engine := setup(t, "1000", costmodel.NoSlippage{}, costmodel.NoCommission{})

	_, err := engine.Execute(day1, []orders.Order{order("A", "1"), order("B", "-1")}, market.Prices{"A": d("1"), "B": d("1")})
	assert.ErrorIs(t, err, ErrSellAfterBuy)
}

func TestExecuteMissingPrice(t *testing.T) {
	_, engine := setup(t, "1000", costmodel.NoSlippage{}, costmodel.NoCommission{})

	_, err := engine.Execute(day1, []orders.Order{order("A", "1")}, market.Prices{})
	var de *market.DataError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "A", de.Asset)
}

func TestGeneratedBatchSellsLogBeforeBuys(t *testing.T) {
	comm, err := costmodel.NewPercentCommission(0.001)
	require.NoError(t, err)
	ledger, engine := setup(t, "10000", costmodel.NoSlippage{}, comm)
	gen, err := orders.NewGenerator(orders.Config{}, costmodel.NoSlippage{}, comm, zap.NewNop())
	require.NoError(t, err)

	prices := market.Prices{"A": d("10"), "B": d("20")}
	batch, err := gen.Generate(day1, signal.Weights{"A": 0.9}, ledger, prices)
	require.NoError(t, err)
	_, err = engine.Execute(day1, batch, prices)
	require.NoError(t, err)
	_, err = ledger.MarkToMarket(day1, prices)
	require.NoError(t, err)

	batch, err = gen.Generate(day2, signal.Weights{"B": 0.9}, ledger, prices)
	require.NoError(t, err)
	trades, err := engine.Execute(day2, batch, prices)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, costmodel.Sell, trades[0].Side)
	assert.Equal(t, costmodel.Buy, trades[1].Side)
	assert.Less(t, trades[0].Seq, trades[1].Seq)
	assert.False(t, ledger.Cash().IsNegative())

	_, held := ledger.Position("A")
	assert.False(t, held, "A is fully exited")
	assert.Len(t, engine.TradeLog().ForAsset("A"), 2)
	assert.Len(t, engine.TradeLog().ForDate(day2), 2)
}

func TestTradeLogRejectsOutOfOrder(t *testing.T) {
	var log TradeLog
	_, err := log.Append(Trade{Date: day2})
	require.NoError(t, err)
	_, err = log.Append(Trade{Date: day1})
	assert.ErrorIs(t, err, ErrTradeOutOfOrder)

	first, err := log.Append(Trade{Date: day2})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Seq)
}
