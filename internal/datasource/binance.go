package datasource

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"optpath/internal/market"
)

const binanceMaxLimit = 1500

// BinanceConfig 描述 USDT 合约 REST 接入参数。
type BinanceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Binance 基于 go-binance SDK 拉取 1d K 线，按 UTC 日期映射为 Bar。
type Binance struct {
	client *futures.Client
}

func NewBinance(cfg BinanceConfig) *Binance {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Binance{client: client}
}

func (b *Binance) Name() string { return "binance" }

// Fetch 分页拉取，直到返回条数不足一页或越过 End。
func (b *Binance) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	symbol := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(req.Symbol), "/", ""))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	var out []market.Bar
	cursor := int64(0)
	if !req.Start.IsZero() {
		cursor = req.Start.UTC().UnixMilli()
	}
	for {
		svc := b.client.NewKlinesService().Symbol(symbol).Interval("1d").Limit(binanceMaxLimit)
		if cursor > 0 {
			svc = svc.StartTime(cursor)
		}
		if !req.End.IsZero() {
			svc = svc.EndTime(req.End.UTC().Add(24*time.Hour - time.Millisecond).UnixMilli())
		}
		kls, err := svc.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		last := int64(0)
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			bar, err := klineToBar(kl)
			if err != nil {
				return nil, err
			}
			out = append(out, bar)
			last = kl.OpenTime
		}
		if len(kls) < binanceMaxLimit || last == 0 || cursor == 0 {
			break
		}
		cursor = last + 1
	}
	out = sortBars(out, req)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: binance %s", ErrNoData, req)
	}
	return out, nil
}

func klineToBar(kl *futures.Kline) (market.Bar, error) {
	open, err := parseFloat(kl.Open)
	if err != nil {
		return market.Bar{}, fmt.Errorf("kline %d open: %w", kl.OpenTime, err)
	}
	high, err := parseFloat(kl.High)
	if err != nil {
		return market.Bar{}, fmt.Errorf("kline %d high: %w", kl.OpenTime, err)
	}
	low, err := parseFloat(kl.Low)
	if err != nil {
		return market.Bar{}, fmt.Errorf("kline %d low: %w", kl.OpenTime, err)
	}
	closePrice, err := parseFloat(kl.Close)
	if err != nil {
		return market.Bar{}, fmt.Errorf("kline %d close: %w", kl.OpenTime, err)
	}
	volume, err := parseFloat(kl.Volume)
	if err != nil {
		return market.Bar{}, fmt.Errorf("kline %d volume: %w", kl.OpenTime, err)
	}
	day := time.UnixMilli(kl.OpenTime).UTC().Truncate(24 * time.Hour)
	return market.Bar{Date: day, Open: open, High: high, Low: low, Close: closePrice, Volume: volume}, nil
}
