package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"optpath/internal/market"
)

// CSV 读取本地日线文件。表头需包含 trade_date|date、open、high、low、close，
// 可选 vol|volume；列顺序不限，行顺序不限。
type CSV struct {
	path string
}

func NewCSV(path string) *CSV { return &CSV{path: path} }

func (c *CSV) Name() string { return "csv" }

func (c *CSV) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := readCSV(f)
	if err != nil {
		return nil, fmt.Errorf("csv %s: %w", c.path, err)
	}
	bars = sortBars(bars, req)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: csv %s", ErrNoData, req)
	}
	return bars, nil
}

func readCSV(r io.Reader) ([]market.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	pick := func(names ...string) int {
		for _, n := range names {
			if i, ok := cols[n]; ok {
				return i
			}
		}
		return -1
	}
	dateIdx := pick("trade_date", "date")
	openIdx, highIdx, lowIdx, closeIdx := pick("open"), pick("high"), pick("low"), pick("close")
	volIdx := pick("vol", "volume")
	if dateIdx < 0 || openIdx < 0 || highIdx < 0 || lowIdx < 0 || closeIdx < 0 {
		return nil, fmt.Errorf("header must contain date, open, high, low, close; got %v", header)
	}

	var out []market.Bar
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		date, err := market.ParseDate(rec[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar := market.Bar{Date: date}
		fields := []struct {
			idx int
			dst *float64
		}{{openIdx, &bar.Open}, {highIdx, &bar.High}, {lowIdx, &bar.Low}, {closeIdx, &bar.Close}, {volIdx, &bar.Volume}}
		for _, fd := range fields {
			if fd.idx < 0 {
				continue
			}
			v, err := parseFloat(rec[fd.idx])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[fd.idx], err)
			}
			*fd.dst = v
		}
		out = append(out, bar)
	}
	return out, nil
}

// parquetBar 是 Parquet 文件中的行布局；date 为 UTC 零点的 Unix 毫秒。
type parquetBar struct {
	Date   int64   `parquet:"date"`
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume float64 `parquet:"volume"`
}

// Parquet 读取由 WriteParquet 写出的日线文件。
type Parquet struct {
	path string
}

func NewParquet(path string) *Parquet { return &Parquet{path: path} }

func (p *Parquet) Name() string { return "parquet" }

func (p *Parquet) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[parquetBar](p.path)
	if err != nil {
		return nil, fmt.Errorf("parquet %s: %w", p.path, err)
	}
	bars := make([]market.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, market.Bar{
			Date:   time.UnixMilli(r.Date).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	bars = sortBars(bars, req)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: parquet %s", ErrNoData, req)
	}
	return bars, nil
}

// WriteParquet 把日线写成 Parquet，供离线复用。
func WriteParquet(path string, bars []market.Bar) error {
	rows := make([]parquetBar, len(bars))
	for i, b := range bars {
		rows[i] = parquetBar{
			Date:   b.Date.UTC().UnixMilli(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return parquet.WriteFile(path, rows)
}
