package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optpath/internal/market"
)

func synthBars(n int) []market.Bar {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		c := 10 + 2*math.Sin(float64(i)/15) + float64(i)*0.01
		bars[i] = market.Bar{
			Date:  start.AddDate(0, 0, i),
			Open:  c,
			High:  c + 0.5,
			Low:   c - 0.5,
			Close: c,
		}
	}
	return bars
}

func TestComputeFeatures_DropsWarmupRows(t *testing.T) {
	bars := synthBars(400)
	table, err := ComputeFeatures(bars, Settings{})
	require.NoError(t, err)

	assert.Equal(t, FeatureNames, table.Names)
	assert.Equal(t, 249, table.Dropped)
	require.Len(t, table.Rows, 151)
	require.Len(t, table.Bars, 151)
	assert.Equal(t, bars[249].Date, table.Bars[0].Date)

	for _, row := range table.Rows {
		require.Len(t, row, len(FeatureNames))
		for _, v := range row {
			assert.False(t, math.IsNaN(v))
		}
	}

	// ma5 on the first kept row
	want := 0.0
	for i := 245; i <= 249; i++ {
		want += bars[i].Close
	}
	assert.InDelta(t, want/5, table.Rows[0][0], 1e-9)
}

func TestComputeFeatures_TooShort(t *testing.T) {
	_, err := ComputeFeatures(synthBars(100), Settings{})
	assert.ErrorIs(t, err, ErrNoCompleteRows)

	_, err = ComputeFeatures(nil, Settings{})
	assert.Error(t, err)
}

func TestComputeFeatures_RejectsUnorderedBars(t *testing.T) {
	bars := synthBars(300)
	bars[10], bars[11] = bars[11], bars[10]
	_, err := ComputeFeatures(bars, Settings{})
	assert.ErrorIs(t, err, market.ErrDataOrdering)
}

func TestComputeFeatures_CustomShortSettings(t *testing.T) {
	s := Settings{MAPeriods: []int{3}, BollPeriod: 5, MACDFast: 3, MACDSlow: 6, MACDSignal: 3, RSIPeriods: []int{4}, KDJWindow: 3}
	table, err := ComputeFeatures(synthBars(40), s)
	require.NoError(t, err)
	// MACD lookback 5+2 dominates
	assert.Equal(t, 7, table.Dropped)
	assert.Equal(t, []string{"ma3", "boll_upper", "boll_middle", "boll_lower", "macd", "macd_signal", "macd_hist", "rsi4", "kdj_k", "kdj_d", "kdj_j"}, table.Names)
}

func TestEWM(t *testing.T) {
	out := EWM([]float64{math.NaN(), 1, 2}, 2)
	assert.True(t, math.IsNaN(out[0]))
	assert.InDelta(t, 1.0, out[1], 1e-12)
	assert.InDelta(t, 1.6, out[2], 1e-12)

	flat := EWM([]float64{5, 5, 5, 5}, 2)
	for _, v := range flat {
		assert.InDelta(t, 5.0, v, 1e-12)
	}

	gap := EWM([]float64{1, math.NaN(), 1}, 2)
	assert.InDelta(t, 1.0, gap[1], 1e-12)
	assert.InDelta(t, 1.0, gap[2], 1e-12)
}

func TestKDJ(t *testing.T) {
	highs := []float64{2, 3, 4, 5}
	lows := []float64{1, 2, 3, 4}
	closes := []float64{1.5, 2.5, 3.5, 5}
	k, d, j := KDJ(highs, lows, closes, 3, 2)
	assert.True(t, math.IsNaN(k[1]))
	// window [1..4] at i=2: rsv = (3.5-1)/(4-1)*100
	assert.InDelta(t, 250.0/3.0, k[2], 1e-9)
	assert.InDelta(t, k[2], d[2], 1e-9)
	assert.InDelta(t, 3*k[3]-2*d[3], j[3], 1e-9)
}
