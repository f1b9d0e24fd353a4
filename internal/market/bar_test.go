package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("20220622")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 6, 22, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate(" 2022-06-22 ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 6, 22, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseDate("")
	assert.Error(t, err)
	_, err = ParseDate("2022/06/22")
	assert.Error(t, err)
}

func TestValidateOrder(t *testing.T) {
	ok := []Bar{{Date: day("20220620")}, {Date: day("20220621")}, {Date: day("20220623")}}
	assert.NoError(t, ValidateOrder(ok))
	assert.NoError(t, ValidateOrder(nil))

	dup := []Bar{{Date: day("20220620")}, {Date: day("20220620")}}
	assert.ErrorIs(t, ValidateOrder(dup), ErrDataOrdering)

	desc := []Bar{{Date: day("20220621")}, {Date: day("20220620")}}
	err := ValidateOrder(desc)
	require.ErrorIs(t, err, ErrDataOrdering)
	assert.Contains(t, err.Error(), "index 1")
}

func TestSeriesExtractors(t *testing.T) {
	bars := []Bar{
		{Date: day("20220620"), High: 3, Low: 1, Close: 2},
		{Date: day("20220621"), High: 6, Low: 4, Close: 5},
	}
	assert.Equal(t, []float64{2, 5}, Closes(bars))
	assert.Equal(t, []float64{3, 6}, Highs(bars))
	assert.Equal(t, []float64{1, 4}, Lows(bars))
	assert.Equal(t, "20220621", bars[1].DateString())
	assert.Equal(t, "-", Bar{}.DateString())
}
