package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9992"
	defaultDataSource      = "tushare"
	defaultCacheDir        = "data/cache"
	defaultTushareURL      = "http://api.tushare.pro"
	defaultBinanceURL      = "https://fapi.binance.com"
	defaultHTTPTimeout     = 30
	defaultRateLimitPerMin = 120
	defaultHeldOutLength   = 750
	defaultTrees           = 100
	defaultMinLeaf         = 1
	defaultClassifierSeed  = 42
	defaultReportSplit     = 0.2
	defaultSearchMode      = "fast"
	defaultFastIterations  = 80
	defaultFullIterations  = 800
	defaultInitialTemp     = 100.0
	defaultCoolingRate     = 0.995
	defaultMinWindowLength = 500
	defaultStepRadius      = 10
	defaultSearchSeed      = 42
	defaultChains          = 1
	defaultInitialCash     = 1_000_000
	defaultRunsDB          = "data/runs.db"
	defaultIterationBuffer = 100
	defaultResultPath      = "output/best_window.yaml"
	defaultLedgerPath      = "output/ledger.parquet"
)

var defaultLengthCandidates = []int{500, 750, 1000, 1250, 1500}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Features.applyDefaults(keys)
	c.Classifier.applyDefaults(keys)
	c.Search.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Output.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	d.Source = strings.ToLower(strings.TrimSpace(d.Source))
	applyFieldDefaults(keys,
		stringFieldDefault("data.source", &d.Source, defaultDataSource),
		stringFieldDefault("data.cache_dir", &d.CacheDir, defaultCacheDir),
		boolFieldDefault("data.cache_enabled", &d.CacheEnabled, true),
		intFieldDefault("data.rate_limit_per_min", &d.RateLimitPerMin, defaultRateLimitPerMin),
		stringFieldDefault("data.tushare.url", &d.Tushare.URL, defaultTushareURL),
		intFieldDefault("data.tushare.timeout_seconds", &d.Tushare.TimeoutSeconds, defaultHTTPTimeout),
		stringFieldDefault("data.binance.base_url", &d.Binance.BaseURL, defaultBinanceURL),
		intFieldDefault("data.binance.timeout_seconds", &d.Binance.TimeoutSeconds, defaultHTTPTimeout),
	)
}

func (f *FeaturesConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	// 其余指标参数由 indicator.Settings 的零值回退处理
	applyFieldDefaults(keys,
		intFieldDefault("features.held_out_length", &f.HeldOutLength, defaultHeldOutLength),
	)
}

func (c *ClassifierConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("classifier.trees", &c.Trees, defaultTrees),
		intFieldDefault("classifier.min_leaf", &c.MinLeaf, defaultMinLeaf),
		fieldDefault{
			key:   "classifier.seed",
			need:  func() bool { return c.Seed == 0 },
			apply: func() { c.Seed = defaultClassifierSeed },
		},
		fieldDefault{
			key:   "classifier.report_split",
			need:  func() bool { return c.ReportSplit <= 0 },
			apply: func() { c.ReportSplit = defaultReportSplit },
		},
	)
}

func (s *SearchConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	s.Mode = strings.ToLower(strings.TrimSpace(s.Mode))
	applyFieldDefaults(keys,
		stringFieldDefault("search.mode", &s.Mode, defaultSearchMode),
		fieldDefault{
			key:  "search.iterations",
			need: func() bool { return s.Iterations <= 0 },
			apply: func() {
				if s.Mode == "thorough" {
					s.Iterations = defaultFullIterations
					return
				}
				s.Iterations = defaultFastIterations
			},
		},
		fieldDefault{
			key:   "search.initial_temp",
			need:  func() bool { return s.InitialTemp <= 0 },
			apply: func() { s.InitialTemp = defaultInitialTemp },
		},
		fieldDefault{
			key:   "search.cooling_rate",
			need:  func() bool { return s.CoolingRate <= 0 },
			apply: func() { s.CoolingRate = defaultCoolingRate },
		},
		intFieldDefault("search.min_window_length", &s.MinWindowLength, defaultMinWindowLength),
		fieldDefault{
			key:   "search.length_candidates",
			need:  func() bool { return len(s.LengthCandidates) == 0 },
			apply: func() { s.LengthCandidates = append([]int(nil), defaultLengthCandidates...) },
		},
		intFieldDefault("search.step_radius", &s.StepRadius, defaultStepRadius),
		fieldDefault{
			key:   "search.seed",
			need:  func() bool { return s.Seed == 0 },
			apply: func() { s.Seed = defaultSearchSeed },
		},
		intFieldDefault("search.chains", &s.Chains, defaultChains),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys, fieldDefault{
		key:   "backtest.initial_cash",
		need:  func() bool { return b.InitialCash <= 0 },
		apply: func() { b.InitialCash = defaultInitialCash },
	})
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.runs_db", &s.RunsDB, defaultRunsDB),
		boolFieldDefault("store.save_iterations", &s.SaveIterations, true),
		intFieldDefault("store.iteration_buffer", &s.IterationBuffer, defaultIterationBuffer),
	)
}

func (o *OutputConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("output.result_path", &o.ResultPath, defaultResultPath),
		stringFieldDefault("output.ledger_path", &o.LedgerPath, defaultLedgerPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
