// Package dataset 把特征表与标签组装成只读的训练/评估序列。
package dataset

import (
	"errors"
	"fmt"

	"optpath/internal/analysis/indicator"
	"optpath/internal/market"
)

var ErrInsufficientRows = errors.New("insufficient rows")

// Row 是一个交易日的特征与标签。
type Row struct {
	Bar      market.Bar
	Features []float64
	Label    int
}

// Series 是按日期升序的行序列。调用方视其为只读。
type Series struct {
	Names []string
	Rows  []Row
}

// FromTable 用贪心标签为特征表打标。
func FromTable(t indicator.Table) Series {
	labels := GreedyLabels(market.Closes(t.Bars))
	rows := make([]Row, len(t.Rows))
	for i := range t.Rows {
		rows[i] = Row{Bar: t.Bars[i], Features: t.Rows[i], Label: labels[i]}
	}
	return Series{Names: t.Names, Rows: rows}
}

// GreedyLabels 空仓且次日上涨则今日标 +1 并转为持仓；持仓且次日下跌则今日标 −1 并转为空仓；
// 其余为 0。最后一天恒为 0。
func GreedyLabels(closes []float64) []int {
	labels := make([]int, len(closes))
	holding := false
	for i := 1; i < len(closes); i++ {
		switch {
		case !holding && closes[i] > closes[i-1]:
			labels[i-1] = 1
			holding = true
		case holding && closes[i] < closes[i-1]:
			labels[i-1] = -1
			holding = false
		}
	}
	return labels
}

func (s Series) Len() int { return len(s.Rows) }

// Slice 返回 [start, end) 子序列（共享底层行，不复制特征）。
func (s Series) Slice(start, end int) Series {
	return Series{Names: s.Names, Rows: s.Rows[start:end]}
}

func (s Series) Features() [][]float64 {
	out := make([][]float64, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.Features
	}
	return out
}

func (s Series) Labels() []int {
	out := make([]int, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.Label
	}
	return out
}

func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.Bar.Close
	}
	return out
}

func (s Series) Bars() []market.Bar {
	out := make([]market.Bar, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.Bar
	}
	return out
}

// SplitHeldOut 将尾部 heldOut 行切为固定评估集，其余为可训练区间。
func (s Series) SplitHeldOut(heldOut int) (train, eval Series, err error) {
	if heldOut <= 0 {
		return Series{}, Series{}, fmt.Errorf("held-out length must be positive, got %d", heldOut)
	}
	if heldOut >= s.Len() {
		return Series{}, Series{}, fmt.Errorf("%w: %d rows, held-out %d", ErrInsufficientRows, s.Len(), heldOut)
	}
	cut := s.Len() - heldOut
	return s.Slice(0, cut), s.Slice(cut, s.Len()), nil
}
