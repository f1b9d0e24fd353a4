package backtest

import (
	"github.com/shopspring/decimal"
)

// LedgerRow 是单日的资金快照。Traded 为当日成交量（买入为正，卖出为负）。
type LedgerRow struct {
	Index      int             `json:"index" yaml:"index"`
	Price      decimal.Decimal `json:"price" yaml:"price"`
	Signal     Signal          `json:"signal" yaml:"signal"`
	Traded     int64           `json:"traded" yaml:"traded"`
	Cash       decimal.Decimal `json:"cash" yaml:"cash"`
	Position   int64           `json:"position" yaml:"position"`
	TotalValue decimal.Decimal `json:"total_value" yaml:"total_value"`
}

// Ledger 是一次模拟产生的逐日账本，创建后不可修改。
type Ledger struct {
	rows    []LedgerRow
	initial decimal.Decimal
}

func (l Ledger) Len() int { return len(l.rows) }

// Row 返回第 i 行（越界会 panic，与切片语义一致）。
func (l Ledger) Row(i int) LedgerRow { return l.rows[i] }

// Rows 返回账本副本。
func (l Ledger) Rows() []LedgerRow {
	out := make([]LedgerRow, len(l.rows))
	copy(out, l.rows)
	return out
}

func (l Ledger) InitialCash() decimal.Decimal { return l.initial }

// Final 返回最后一日的总资产；空账本返回初始资金。
func (l Ledger) Final() decimal.Decimal {
	if len(l.rows) == 0 {
		return l.initial
	}
	return l.rows[len(l.rows)-1].TotalValue
}

// ReturnPct 返回 (final / initial − 1) × 100。
func (l Ledger) ReturnPct() float64 {
	if !l.initial.IsPositive() {
		return 0
	}
	return l.Final().Div(l.initial).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// Stats 汇总账本的收益与风险指标。
type Stats struct {
	InitialCash    float64 `json:"initial_cash" yaml:"initial_cash"`
	FinalValue     float64 `json:"final_value" yaml:"final_value"`
	Profit         float64 `json:"profit" yaml:"profit"`
	ReturnPct      float64 `json:"return_pct" yaml:"return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	Trades         int     `json:"trades" yaml:"trades"`
	Buys           int     `json:"buys" yaml:"buys"`
	Sells          int     `json:"sells" yaml:"sells"`
	EquityPeak     float64 `json:"equity_peak" yaml:"equity_peak"`
	EquityValley   float64 `json:"equity_valley" yaml:"equity_valley"`
	Days           int     `json:"days" yaml:"days"`
}

// Summary 计算账本统计。
func (l Ledger) Summary() Stats {
	st := Stats{
		InitialCash: l.initial.InexactFloat64(),
		FinalValue:  l.Final().InexactFloat64(),
		ReturnPct:   l.ReturnPct(),
		Days:        len(l.rows),
	}
	st.Profit = l.Final().Sub(l.initial).InexactFloat64()
	peak := l.initial
	valley := l.initial
	maxDD := decimal.Zero
	for _, r := range l.rows {
		switch {
		case r.Traded > 0:
			st.Buys++
		case r.Traded < 0:
			st.Sells++
		}
		if r.TotalValue.GreaterThan(peak) {
			peak = r.TotalValue
		}
		if r.TotalValue.LessThan(valley) {
			valley = r.TotalValue
		}
		if peak.IsPositive() {
			dd := peak.Sub(r.TotalValue).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	st.Trades = st.Buys + st.Sells
	st.EquityPeak = peak.InexactFloat64()
	st.EquityValley = valley.InexactFloat64()
	st.MaxDrawdownPct = maxDD.Mul(decimal.NewFromInt(100)).InexactFloat64()
	return st
}
