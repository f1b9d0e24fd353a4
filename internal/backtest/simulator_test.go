package backtest

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var million = decimal.NewFromInt(1_000_000)

func TestSimulate_SingleBuy(t *testing.T) {
	ledger, err := Simulate([]float64{100}, []Signal{Buy}, million)
	require.NoError(t, err)
	require.Equal(t, 1, ledger.Len())

	row := ledger.Row(0)
	assert.Equal(t, int64(3300), row.Position)
	assert.True(t, row.Cash.Equal(decimal.NewFromInt(670_000)), "cash=%s", row.Cash)
	assert.True(t, row.TotalValue.Equal(million), "total=%s", row.TotalValue)
	assert.Equal(t, int64(3300), row.Traded)
}

func TestSimulate_BuyThenSellAtFlatPrice(t *testing.T) {
	ledger, err := Simulate([]float64{100, 100}, []Signal{Buy, Sell}, million)
	require.NoError(t, err)

	day2 := ledger.Row(1)
	assert.Equal(t, int64(2200), day2.Position)
	assert.True(t, day2.Cash.Equal(decimal.NewFromInt(780_000)), "cash=%s", day2.Cash)
	assert.True(t, day2.TotalValue.Equal(million))
	assert.Equal(t, int64(-1100), day2.Traded)
	assert.InDelta(t, 0.0, ledger.ReturnPct(), 1e-12)
}

func TestSimulate_BuyRequiresOneLotOfCash(t *testing.T) {
	ledger, err := Simulate([]float64{50}, []Signal{Buy}, decimal.NewFromInt(4_999))
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger.Row(0).Position)
	assert.True(t, ledger.Row(0).Cash.Equal(decimal.NewFromInt(4_999)))
}

func TestSimulate_BuyBelowOneThirdLotIsNoop(t *testing.T) {
	// enough for one lot, but a third of cash is not
	ledger, err := Simulate([]float64{10}, []Signal{Buy}, decimal.NewFromInt(2_000))
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger.Row(0).Position)
	assert.Equal(t, int64(0), ledger.Row(0).Traded)
}

func TestSimulate_SellSmallPositionIsNoop(t *testing.T) {
	// 200 shares: floor(200/3/100)=0
	prices := []float64{1, 1, 1}
	signals := []Signal{Buy, Sell, Sell}
	ledger, err := Simulate(prices, signals, decimal.NewFromInt(600))
	require.NoError(t, err)
	assert.Equal(t, int64(200), ledger.Row(0).Position)
	assert.Equal(t, int64(200), ledger.Row(2).Position)
}

func TestSimulate_HoldKeepsState(t *testing.T) {
	ledger, err := Simulate([]float64{100, 120, 80}, []Signal{Buy, Hold, Hold}, million)
	require.NoError(t, err)
	for i := 1; i < ledger.Len(); i++ {
		assert.Equal(t, ledger.Row(0).Position, ledger.Row(i).Position)
		assert.True(t, ledger.Row(0).Cash.Equal(ledger.Row(i).Cash))
	}
	assert.True(t, ledger.Row(1).TotalValue.Equal(decimal.NewFromInt(670_000+3300*120)))
	assert.True(t, ledger.Row(2).TotalValue.Equal(decimal.NewFromInt(670_000+3300*80)))
}

func TestSimulate_Errors(t *testing.T) {
	_, err := Simulate([]float64{1, 2}, []Signal{Buy}, million)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Simulate([]float64{1}, []Signal{Buy}, decimal.Zero)
	assert.ErrorIs(t, err, ErrNonPositiveCash)

	_, err = Simulate([]float64{1, 0}, []Signal{Buy, Hold}, million)
	assert.ErrorIs(t, err, ErrNonPositivePrice)
}

func TestSimulate_EmptySeries(t *testing.T) {
	ledger, err := Simulate(nil, nil, million)
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.Len())
	assert.True(t, ledger.Final().Equal(million))
	assert.Equal(t, 0.0, ledger.ReturnPct())
}

func randomPath(rng *rand.Rand, n int) ([]float64, []Signal) {
	prices := make([]float64, n)
	signals := make([]Signal, n)
	p := 20.0
	for i := range prices {
		p *= 1 + (rng.Float64()-0.5)*0.06
		prices[i] = float64(int(p*100)) / 100
		if prices[i] <= 0 {
			prices[i] = 0.01
		}
		signals[i] = Signal(rng.Intn(3) - 1)
	}
	return prices, signals
}

func TestSimulate_LedgerInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		prices, signals := randomPath(rng, 300)
		ledger, err := Simulate(prices, signals, million)
		require.NoError(t, err)

		prevPos := int64(0)
		prevCash := million
		for _, row := range ledger.Rows() {
			assert.True(t, row.TotalValue.Equal(row.Cash.Add(decimal.NewFromInt(row.Position).Mul(row.Price))))
			assert.False(t, row.Cash.IsNegative(), "cash=%s", row.Cash)
			assert.GreaterOrEqual(t, row.Position, int64(0))
			assert.Zero(t, row.Position%LotSize)
			switch row.Signal {
			case Buy:
				assert.GreaterOrEqual(t, row.Position, prevPos)
			case Sell:
				assert.LessOrEqual(t, row.Position, prevPos)
			case Hold:
				assert.Equal(t, prevPos, row.Position)
				assert.True(t, prevCash.Equal(row.Cash))
			}
			prevPos, prevCash = row.Position, row.Cash
		}
	}
}

func TestSimulate_Deterministic(t *testing.T) {
	prices, signals := randomPath(rand.New(rand.NewSource(11)), 500)
	a, err := Simulate(prices, signals, million)
	require.NoError(t, err)
	b, err := Simulate(prices, signals, million)
	require.NoError(t, err)
	require.Equal(t, a.Len(), b.Len())
	for i := 0; i < a.Len(); i++ {
		ra, rb := a.Row(i), b.Row(i)
		assert.True(t, ra.Cash.Equal(rb.Cash))
		assert.True(t, ra.TotalValue.Equal(rb.TotalValue))
		assert.Equal(t, ra.Position, rb.Position)
	}
}

func TestSimulate_DoesNotMutateInputs(t *testing.T) {
	prices := []float64{10, 11, 12}
	signals := []Signal{Buy, Sell, Hold}
	_, err := Simulate(prices, signals, million)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12}, prices)
	assert.Equal(t, []Signal{Buy, Sell, Hold}, signals)
}

func TestLedgerSummary(t *testing.T) {
	ledger, err := Simulate([]float64{100, 50, 100}, []Signal{Buy, Hold, Sell}, million)
	require.NoError(t, err)
	st := ledger.Summary()
	assert.Equal(t, 1, st.Buys)
	assert.Equal(t, 1, st.Sells)
	assert.Equal(t, 2, st.Trades)
	assert.Equal(t, 3, st.Days)
	// day 2: 670000 + 3300*50 = 835000, drawdown 16.5%
	assert.InDelta(t, 16.5, st.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 835_000, st.EquityValley, 1e-9)
	assert.InDelta(t, 0, st.ReturnPct, 1e-9)
}

func TestSignalMapping(t *testing.T) {
	assert.Equal(t, Buy, SignalFromLabel(1))
	assert.Equal(t, Sell, SignalFromLabel(-1))
	assert.Equal(t, Hold, SignalFromLabel(0))

	s, ok := ParseSignal(2)
	assert.False(t, ok)
	assert.Equal(t, Hold, s)

	assert.Equal(t, []Signal{Buy, Hold, Sell}, SignalsFromLabels([]int{1, 0, -1}))
	assert.Equal(t, "sell", Sell.String())
}
