package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"optpath/internal/market"
)

// ErrNoCompleteRows 表示全部行都因指标历史不足被丢弃。
var ErrNoCompleteRows = errors.New("no rows with complete indicators")

// FeatureNames 是特征列的固定顺序。
var FeatureNames = []string{
	"ma5", "ma10", "ma20", "ma60", "ma120", "ma250",
	"boll_upper", "boll_middle", "boll_lower",
	"macd", "macd_signal", "macd_hist",
	"rsi6", "rsi12", "rsi24",
	"kdj_k", "kdj_d", "kdj_j",
}

// Settings 描述指标参数；零值使用默认。
type Settings struct {
	MAPeriods    []int   `json:"ma_periods,omitempty"`
	BollPeriod   int     `json:"boll_period,omitempty"`
	BollDev      float64 `json:"boll_dev,omitempty"`
	MACDFast     int     `json:"macd_fast,omitempty"`
	MACDSlow     int     `json:"macd_slow,omitempty"`
	MACDSignal   int     `json:"macd_signal,omitempty"`
	RSIPeriods   []int   `json:"rsi_periods,omitempty"`
	KDJWindow    int     `json:"kdj_window,omitempty"`
	KDJSmoothing float64 `json:"kdj_smoothing,omitempty"`
}

// DefaultSettings 与 FeatureNames 对应。
func DefaultSettings() Settings {
	return Settings{
		MAPeriods:    []int{5, 10, 20, 60, 120, 250},
		BollPeriod:   20,
		BollDev:      2,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		RSIPeriods:   []int{6, 12, 24},
		KDJWindow:    9,
		KDJSmoothing: 2,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if len(s.MAPeriods) == 0 {
		s.MAPeriods = def.MAPeriods
	}
	if s.BollPeriod <= 0 {
		s.BollPeriod = def.BollPeriod
	}
	if s.BollDev <= 0 {
		s.BollDev = def.BollDev
	}
	if s.MACDFast <= 0 {
		s.MACDFast = def.MACDFast
	}
	if s.MACDSlow <= 0 {
		s.MACDSlow = def.MACDSlow
	}
	if s.MACDSignal <= 0 {
		s.MACDSignal = def.MACDSignal
	}
	if len(s.RSIPeriods) == 0 {
		s.RSIPeriods = def.RSIPeriods
	}
	if s.KDJWindow <= 0 {
		s.KDJWindow = def.KDJWindow
	}
	if s.KDJSmoothing <= 0 {
		s.KDJSmoothing = def.KDJSmoothing
	}
	return s
}

// column 是一列指标及其前导无效长度（talib 在 lookback 内填 0）。
type column struct {
	name     string
	values   []float64
	lookback int
}

// Table 是对齐后的特征表：Bars[i] 对应 Rows[i]，已剔除任何指标缺失的行。
type Table struct {
	Names []string
	Bars  []market.Bar
	Rows  [][]float64
	// Dropped 为因指标缺失被剔除的行数。
	Dropped int
}

// ComputeFeatures 计算均线、布林、MACD、RSI、KDJ，并丢弃指标未定义的行。
func ComputeFeatures(bars []market.Bar, s Settings) (Table, error) {
	if len(bars) == 0 {
		return Table{}, fmt.Errorf("no bars")
	}
	if err := market.ValidateOrder(bars); err != nil {
		return Table{}, err
	}
	s = s.withDefaults()
	closes := market.Closes(bars)
	highs := market.Highs(bars)
	lows := market.Lows(bars)

	var cols []column
	for _, p := range s.MAPeriods {
		cols = append(cols, column{fmt.Sprintf("ma%d", p), talib.Sma(closes, p), p - 1})
	}
	upper, middle, lower := talib.BBands(closes, s.BollPeriod, s.BollDev, s.BollDev, talib.SMA)
	bollLB := s.BollPeriod - 1
	cols = append(cols,
		column{"boll_upper", upper, bollLB},
		column{"boll_middle", middle, bollLB},
		column{"boll_lower", lower, bollLB},
	)
	macd, signal, hist := talib.Macd(closes, s.MACDFast, s.MACDSlow, s.MACDSignal)
	macdLB := s.MACDSlow - 1 + s.MACDSignal - 1
	cols = append(cols,
		column{"macd", macd, macdLB},
		column{"macd_signal", signal, macdLB},
		column{"macd_hist", hist, macdLB},
	)
	for _, p := range s.RSIPeriods {
		cols = append(cols, column{fmt.Sprintf("rsi%d", p), talib.Rsi(closes, p), p})
	}
	k, d, j := KDJ(highs, lows, closes, s.KDJWindow, s.KDJSmoothing)
	kdjLB := s.KDJWindow - 1
	cols = append(cols,
		column{"kdj_k", k, kdjLB},
		column{"kdj_d", d, kdjLB},
		column{"kdj_j", j, kdjLB},
	)

	table := Table{Names: make([]string, len(cols))}
	for c, col := range cols {
		table.Names[c] = col.name
	}
	for i := range bars {
		row, ok := rowAt(cols, i)
		if !ok {
			table.Dropped++
			continue
		}
		table.Bars = append(table.Bars, bars[i])
		table.Rows = append(table.Rows, row)
	}
	if len(table.Rows) == 0 {
		return table, ErrNoCompleteRows
	}
	return table, nil
}

func rowAt(cols []column, i int) ([]float64, bool) {
	row := make([]float64, len(cols))
	for c, col := range cols {
		if i < col.lookback || i >= len(col.values) {
			return nil, false
		}
		v := col.values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		row[c] = v
	}
	return row, true
}

// KDJ 以 window 日 RSV 为输入，K = ewm(RSV, com)，D = ewm(K, com)，J = 3K − 2D。
// 前 window−1 个位置为 NaN。
func KDJ(highs, lows, closes []float64, window int, com float64) (k, d, j []float64) {
	n := len(closes)
	rsv := make([]float64, n)
	for i := range rsv {
		if i < window-1 {
			rsv[i] = math.NaN()
			continue
		}
		lo, hi := lows[i], highs[i]
		for w := i - window + 1; w <= i; w++ {
			lo = math.Min(lo, lows[w])
			hi = math.Max(hi, highs[w])
		}
		if hi == lo {
			rsv[i] = math.NaN()
			continue
		}
		rsv[i] = (closes[i] - lo) / (hi - lo) * 100
	}
	k = EWM(rsv, com)
	d = EWM(k, com)
	j = make([]float64, n)
	for i := range j {
		j[i] = 3*k[i] - 2*d[i]
	}
	return k, d, j
}

// EWM 计算 adjust=True 的指数加权均值，alpha = 1/(1+com)。
// 开头的 NaN 保持 NaN；中途的 NaN 沿用上一值，权重照常衰减。
func EWM(src []float64, com float64) []float64 {
	out := make([]float64, len(src))
	decay := 1 - 1/(1+com)
	var num, den float64
	started := false
	for i, v := range src {
		valid := !math.IsNaN(v) && !math.IsInf(v, 0)
		switch {
		case !started && !valid:
			out[i] = math.NaN()
			continue
		case valid:
			started = true
			num = v + decay*num
			den = 1 + decay*den
		default:
			num *= decay
			den *= decay
		}
		out[i] = num / den
	}
	return out
}
