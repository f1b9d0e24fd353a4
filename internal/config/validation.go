package config

import (
	"fmt"
	"strings"
	"time"

	"optpath/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Features.validate(); err != nil {
		return err
	}
	if err := c.Classifier.validate(); err != nil {
		return err
	}
	if err := c.Search.validate(); err != nil {
		return err
	}
	if c.Backtest.InitialCash <= 0 {
		return fmt.Errorf("backtest.initial_cash must be > 0")
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Symbol) == "" && d.Source != "csv" && d.Source != "parquet" {
		return fmt.Errorf("data.symbol is required for source %s", d.Source)
	}
	switch d.Source {
	case "tushare":
		if strings.TrimSpace(d.Tushare.Token) == "" {
			return fmt.Errorf("data.tushare.token is required")
		}
	case "binance":
	case "csv", "parquet":
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("data.path is required for source %s", d.Source)
		}
	default:
		return fmt.Errorf("data.source must be one of tushare/binance/csv/parquet, got %q", d.Source)
	}
	if d.RateLimitPerMin < 0 {
		return fmt.Errorf("data.rate_limit_per_min must be >= 0")
	}
	_, _, err := d.DateRange()
	return err
}

func (f *FeaturesConfig) validate() error {
	if f.HeldOutLength <= 0 {
		return fmt.Errorf("features.held_out_length must be > 0")
	}
	for _, p := range append(append([]int(nil), f.MAPeriods...), f.RSIPeriods...) {
		if p <= 0 {
			return fmt.Errorf("features periods must be > 0, got %d", p)
		}
	}
	if f.MACDFast > 0 && f.MACDSlow > 0 && f.MACDFast >= f.MACDSlow {
		return fmt.Errorf("features.macd_fast must be < macd_slow")
	}
	return nil
}

func (c *ClassifierConfig) validate() error {
	if c.Trees <= 0 {
		return fmt.Errorf("classifier.trees must be > 0")
	}
	if c.MaxDepth < 0 || c.MinLeaf < 0 || c.MaxFeatures < 0 {
		return fmt.Errorf("classifier.max_depth/min_leaf/max_features must be >= 0")
	}
	if c.ReportSplit <= 0 || c.ReportSplit >= 1 {
		return fmt.Errorf("classifier.report_split must be in (0,1)")
	}
	return nil
}

func (s *SearchConfig) validate() error {
	switch s.Mode {
	case "fast", "thorough":
	default:
		return fmt.Errorf("search.mode must be fast or thorough, got %q", s.Mode)
	}
	if s.Iterations < 0 {
		return fmt.Errorf("search.iterations must be >= 0")
	}
	if s.CoolingRate <= 0 || s.CoolingRate > 1 {
		return fmt.Errorf("search.cooling_rate must be in (0,1]")
	}
	if s.InitialTemp <= 0 {
		return fmt.Errorf("search.initial_temp must be > 0")
	}
	if s.MinWindowLength <= 0 {
		return fmt.Errorf("search.min_window_length must be > 0")
	}
	for _, l := range s.LengthCandidates {
		if l <= 0 {
			return fmt.Errorf("search.length_candidates must be > 0, got %d", l)
		}
	}
	if s.Chains <= 0 {
		return fmt.Errorf("search.chains must be > 0")
	}
	return nil
}

// DateRange 解析 start_date/end_date，空值返回零值时间。
func (d DataConfig) DateRange() (start, end time.Time, err error) {
	if start, err = parseOptionalDate("data.start_date", d.StartDate); err != nil {
		return
	}
	if end, err = parseOptionalDate("data.end_date", d.EndDate); err != nil {
		return
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		err = fmt.Errorf("data.end_date %s is before data.start_date %s", d.EndDate, d.StartDate)
	}
	return
}

func parseOptionalDate(key, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := market.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}
