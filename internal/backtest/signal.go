package backtest

// Signal 是单日的交易动作。
type Signal int8

const (
	Hold Signal = 0
	Buy  Signal = 1
	Sell Signal = -1
)

// ParseSignal 将分类器标签映射为交易动作；ok=false 表示标签不在 {-1,0,1} 内。
func ParseSignal(label int) (Signal, bool) {
	switch label {
	case 1:
		return Buy, true
	case -1:
		return Sell, true
	case 0:
		return Hold, true
	default:
		return Hold, false
	}
}

// SignalFromLabel maps +1/-1/0 to Buy/Sell/Hold. Out-of-contract labels become Hold.
func SignalFromLabel(label int) Signal {
	s, _ := ParseSignal(label)
	return s
}

// SignalsFromLabels 批量转换预测标签。
func SignalsFromLabels(labels []int) []Signal {
	out := make([]Signal, len(labels))
	for i, l := range labels {
		out[i] = SignalFromLabel(l)
	}
	return out
}

func (s Signal) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "hold"
	}
}
