// Package report 输出最优窗口结果（YAML）与其留出集回测账本（Parquet）。
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"optpath/internal/backtest"
	"optpath/internal/classifier"
	"optpath/internal/market"
	"optpath/internal/search"
)

// WindowInfo 描述训练窗口及其对应的交易日（LastDate 为窗口最后一行，含）。
type WindowInfo struct {
	Start     int    `yaml:"start" json:"start"`
	Length    int    `yaml:"length" json:"length"`
	FirstDate string `yaml:"first_date" json:"first_date"`
	LastDate  string `yaml:"last_date" json:"last_date"`
}

// HeldOutInfo 描述固定评估区间。
type HeldOutInfo struct {
	Rows      int    `yaml:"rows" json:"rows"`
	FirstDate string `yaml:"first_date" json:"first_date"`
	LastDate  string `yaml:"last_date" json:"last_date"`
}

// Result 是一次搜索的落盘结果。
type Result struct {
	RunID          string             `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	Symbol         string             `yaml:"symbol" json:"symbol"`
	Source         string             `yaml:"source" json:"source"`
	Found          bool               `yaml:"found" json:"found"`
	Window         WindowInfo         `yaml:"window" json:"window"`
	ReturnPct      float64            `yaml:"return_pct" json:"return_pct"`
	Iterations     int                `yaml:"iterations" json:"iterations"`
	Chains         int                `yaml:"chains" json:"chains"`
	Seed           int64              `yaml:"seed" json:"seed"`
	HeldOut        HeldOutInfo        `yaml:"held_out" json:"held_out"`
	Stats          *backtest.Stats    `yaml:"stats,omitempty" json:"stats,omitempty"`
	Classification *classifier.Report `yaml:"classification,omitempty" json:"classification,omitempty"`
	GeneratedAt    time.Time          `yaml:"generated_at" json:"generated_at"`
}

// DescribeWindow 把训练区下标窗口映射到交易日。
func DescribeWindow(train []market.Bar, w search.Window) (WindowInfo, error) {
	if w.Start < 0 || w.Length <= 0 || w.End() > len(train) {
		return WindowInfo{}, fmt.Errorf("window %s outside %d training rows", w, len(train))
	}
	return WindowInfo{
		Start:     w.Start,
		Length:    w.Length,
		FirstDate: train[w.Start].DateString(),
		LastDate:  train[w.LastIndex()].DateString(),
	}, nil
}

// DescribeHeldOut 汇总评估区间。
func DescribeHeldOut(eval []market.Bar) HeldOutInfo {
	info := HeldOutInfo{Rows: len(eval)}
	if len(eval) > 0 {
		info.FirstDate = eval[0].DateString()
		info.LastDate = eval[len(eval)-1].DateString()
	}
	return info
}

// WriteYAML 写出结果文件；未找到有效窗口时收益记为 0 且 found=false。
func WriteYAML(path string, res Result) error {
	if math.IsInf(res.ReturnPct, 0) || math.IsNaN(res.ReturnPct) {
		res.ReturnPct = 0
		res.Found = false
	}
	data, err := yaml.Marshal(res)
	if err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func ReadYAML(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if err := yaml.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return res, nil
}

// LedgerRecord 是账本导出行；金额为十进制字符串。
type LedgerRecord struct {
	Index      int32  `parquet:"index" json:"index"`
	Date       string `parquet:"date" json:"date"`
	Price      string `parquet:"price" json:"price"`
	Signal     int32  `parquet:"signal" json:"signal"`
	Traded     int64  `parquet:"traded" json:"traded"`
	Cash       string `parquet:"cash" json:"cash"`
	Position   int64  `parquet:"position" json:"position"`
	TotalValue string `parquet:"total_value" json:"total_value"`
}

// LedgerRecords 把账本与对应交易日逐行配对。
func LedgerRecords(ledger backtest.Ledger, bars []market.Bar) ([]LedgerRecord, error) {
	if ledger.Len() != len(bars) {
		return nil, fmt.Errorf("ledger has %d rows, bars %d", ledger.Len(), len(bars))
	}
	out := make([]LedgerRecord, 0, ledger.Len())
	for i, row := range ledger.Rows() {
		out = append(out, LedgerRecord{
			Index:      int32(row.Index),
			Date:       bars[i].DateString(),
			Price:      row.Price.String(),
			Signal:     int32(row.Signal),
			Traded:     row.Traded,
			Cash:       row.Cash.String(),
			Position:   row.Position,
			TotalValue: row.TotalValue.String(),
		})
	}
	return out, nil
}

func WriteLedgerParquet(path string, records []LedgerRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func ReadLedgerParquet(path string) ([]LedgerRecord, error) {
	return parquet.ReadFile[LedgerRecord](path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
