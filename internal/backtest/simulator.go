package backtest

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// LotSize 是最小交易单位（股）。所有成交量都是它的整数倍。
const LotSize int64 = 100

var (
	ErrLengthMismatch   = errors.New("prices and signals differ in length")
	ErrNonPositivePrice = errors.New("price must be positive")
	ErrNonPositiveCash  = errors.New("initial cash must be positive")
)

var (
	decLot   = decimal.NewFromInt(LotSize)
	decThree = decimal.NewFromInt(3)
)

// Simulate 按日推演现金与持仓：买入最多动用当前现金的 1/3，卖出最多当前持仓的 1/3，
// 均向下取整到整手。每天记录一次 total = cash + position × price。
// 纯函数：相同输入总是得到相同的 Ledger。
func Simulate(prices []float64, signals []Signal, initialCash decimal.Decimal) (Ledger, error) {
	if len(prices) != len(signals) {
		return Ledger{}, fmt.Errorf("%w: %d prices, %d signals", ErrLengthMismatch, len(prices), len(signals))
	}
	if !initialCash.IsPositive() {
		return Ledger{}, fmt.Errorf("%w: %s", ErrNonPositiveCash, initialCash)
	}
	cash := initialCash
	var position int64
	rows := make([]LedgerRow, len(prices))
	for i, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return Ledger{}, fmt.Errorf("%w: index %d (%v)", ErrNonPositivePrice, i, p)
		}
		price := decimal.NewFromFloat(p)
		var traded int64
		switch signals[i] {
		case Buy:
			if cash.GreaterThanOrEqual(price.Mul(decLot)) {
				// floor(cash / 3 / price / lot)
				lots, _ := cash.QuoRem(decThree.Mul(price).Mul(decLot), 0)
				volume := lots.IntPart() * LotSize
				if volume > 0 {
					position += volume
					cash = cash.Sub(decimal.NewFromInt(volume).Mul(price))
					traded = volume
				}
			}
		case Sell:
			if position > 0 {
				volume := position / 3 / LotSize * LotSize
				if volume > 0 {
					cash = cash.Add(decimal.NewFromInt(volume).Mul(price))
					position -= volume
					traded = -volume
				}
			}
		}
		rows[i] = LedgerRow{
			Index:      i,
			Price:      price,
			Signal:     signals[i],
			Traded:     traded,
			Cash:       cash,
			Position:   position,
			TotalValue: cash.Add(decimal.NewFromInt(position).Mul(price)),
		}
	}
	return Ledger{rows: rows, initial: initialCash}, nil
}
