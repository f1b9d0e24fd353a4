package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"optpath/internal/market"
)

const defaultTushareURL = "http://api.tushare.pro"

// TushareConfig 描述 tushare pro 接口参数。
type TushareConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Tushare 通过 pro 接口的 daily 拉取 A 股日线（未复权）。
type Tushare struct {
	url    string
	token  string
	client *http.Client
}

func NewTushare(cfg TushareConfig) (*Tushare, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("tushare token is required")
	}
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = defaultTushareURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tushare{url: url, token: cfg.Token, client: &http.Client{Timeout: timeout}}, nil
}

func (t *Tushare) Name() string { return "tushare" }

type tushareRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

func (t *Tushare) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	params := map[string]string{"ts_code": strings.ToUpper(strings.TrimSpace(req.Symbol))}
	if !req.Start.IsZero() {
		params["start_date"] = req.Start.UTC().Format(market.DateLayout)
	}
	if !req.End.IsZero() {
		params["end_date"] = req.End.UTC().Format(market.DateLayout)
	}
	body, err := json.Marshal(tushareRequest{
		APIName: "daily",
		Token:   t.token,
		Params:  params,
		Fields:  "trade_date,open,high,low,close,vol",
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tushare request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tushare returned status %d", resp.StatusCode)
	}
	bars, err := parseTushareDaily(raw)
	if err != nil {
		return nil, err
	}
	bars = sortBars(bars, req)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: tushare %s", ErrNoData, req)
	}
	return bars, nil
}

// parseTushareDaily 解析 {"code":0,"data":{"fields":[...],"items":[[...]]}} 结构。
// tushare 按交易日倒序返回，排序由调用方完成。
func parseTushareDaily(raw []byte) ([]market.Bar, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("tushare response is not valid json")
	}
	doc := gjson.ParseBytes(raw)
	if code := doc.Get("code").Int(); code != 0 {
		return nil, fmt.Errorf("tushare error code=%d msg=%s", code, doc.Get("msg").String())
	}
	index := make(map[string]int)
	for i, f := range doc.Get("data.fields").Array() {
		index[f.String()] = i
	}
	for _, name := range []string{"trade_date", "open", "high", "low", "close"} {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("tushare response missing field %q", name)
		}
	}
	volIdx, hasVol := index["vol"]

	items := doc.Get("data.items").Array()
	out := make([]market.Bar, 0, len(items))
	for i, item := range items {
		cols := item.Array()
		at := func(name string) gjson.Result {
			j := index[name]
			if j >= len(cols) {
				return gjson.Result{}
			}
			return cols[j]
		}
		date, err := market.ParseDate(at("trade_date").String())
		if err != nil {
			return nil, fmt.Errorf("tushare item %d: %w", i, err)
		}
		bar := market.Bar{
			Date:  date,
			Open:  at("open").Float(),
			High:  at("high").Float(),
			Low:   at("low").Float(),
			Close: at("close").Float(),
		}
		if hasVol && volIdx < len(cols) {
			bar.Volume = cols[volIdx].Float()
		}
		out = append(out, bar)
	}
	return out, nil
}
