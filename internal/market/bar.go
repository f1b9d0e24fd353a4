package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout 是日线数据源使用的交易日格式（20240621）。
const DateLayout = "20060102"

// ErrDataOrdering 表示输入序列未按日期严格升序（或存在重复日期）。
var ErrDataOrdering = errors.New("bars not strictly ascending by date")

// Bar 表示一个交易日的行情。
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// DateString 返回 20060102 格式的交易日。
func (b Bar) DateString() string {
	if b.Date.IsZero() {
		return "-"
	}
	return b.Date.UTC().Format(DateLayout)
}

// ParseDate 解析 20060102 或 2006-01-02 格式的日期（UTC）。
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if strings.Contains(s, "-") {
		return time.ParseInLocation("2006-01-02", s, time.UTC)
	}
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// ValidateOrder 检查 bars 按日期严格升序且无重复。
func ValidateOrder(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			return fmt.Errorf("%w: index %d (%s) after %s", ErrDataOrdering, i, bars[i].DateString(), bars[i-1].DateString())
		}
	}
	return nil
}

// Closes 提取收盘价序列。
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Highs 提取最高价序列。
func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// Lows 提取最低价序列。
func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}
