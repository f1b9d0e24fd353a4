// Package datasource 拉取日线行情：tushare、binance、本地 CSV/Parquet，
// 并提供限流与 SQLite 缓存包装。
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"optpath/internal/market"
)

// ErrNoData 表示数据源在请求区间内没有返回任何行情。
var ErrNoData = errors.New("no bars returned")

// FetchRequest 描述一次日线请求，Start/End 为闭区间的交易日（零值表示不限）。
type FetchRequest struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

func (r FetchRequest) String() string {
	return fmt.Sprintf("%s %s~%s", r.Symbol, dateOrDash(r.Start), dateOrDash(r.End))
}

// Contains 报告某交易日是否落在请求区间内。
func (r FetchRequest) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Source 统一不同数据源的拉取行为；返回结果按日期升序。
type Source interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error)
	Name() string
}

// sortBars 按日期升序排列并丢弃区间外的行；重复日期保留，交由 ValidateOrder 报错。
func sortBars(bars []market.Bar, req FetchRequest) []market.Bar {
	out := bars[:0]
	for _, b := range bars {
		if req.Contains(b.Date) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func dateOrDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(market.DateLayout)
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
