package config

import "strings"

// Config 是 optpath 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Data       DataConfig       `toml:"data"`
	Features   FeaturesConfig   `toml:"features"`
	Classifier ClassifierConfig `toml:"classifier"`
	Search     SearchConfig     `toml:"search"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Store      StoreConfig      `toml:"store"`
	Output     OutputConfig     `toml:"output"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// DataConfig 描述行情来源。Source 取 tushare/binance/csv/parquet。
type DataConfig struct {
	Source          string         `toml:"source"`
	Symbol          string         `toml:"symbol"`
	StartDate       string         `toml:"start_date"`
	EndDate         string         `toml:"end_date"`
	Path            string         `toml:"path"`
	CacheDir        string         `toml:"cache_dir"`
	CacheEnabled    bool           `toml:"cache_enabled"`
	RateLimitPerMin int            `toml:"rate_limit_per_min"`
	Tushare         TushareSection `toml:"tushare"`
	Binance         BinanceSection `toml:"binance"`
}

type TushareSection struct {
	Token          string `toml:"token"`
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type BinanceSection struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// FeaturesConfig 控制指标参数与留出集长度。
type FeaturesConfig struct {
	HeldOutLength int     `toml:"held_out_length"`
	MAPeriods     []int   `toml:"ma_periods"`
	BollPeriod    int     `toml:"boll_period"`
	BollDev       float64 `toml:"boll_dev"`
	MACDFast      int     `toml:"macd_fast"`
	MACDSlow      int     `toml:"macd_slow"`
	MACDSignal    int     `toml:"macd_signal"`
	RSIPeriods    []int   `toml:"rsi_periods"`
	KDJWindow     int     `toml:"kdj_window"`
	KDJSmoothing  float64 `toml:"kdj_smoothing"`
}

type ClassifierConfig struct {
	Trees        int     `toml:"trees"`
	MaxDepth     int     `toml:"max_depth"`
	MinLeaf      int     `toml:"min_leaf"`
	MaxFeatures  int     `toml:"max_features"`
	Seed         int64   `toml:"seed"`
	Workers      int     `toml:"workers"`
	MinTrainRows int     `toml:"min_train_rows"`
	ReportSplit  float64 `toml:"report_split"`
}

// SearchConfig 控制退火参数。Mode=fast/thorough 仅在 iterations 未显式设置时生效。
type SearchConfig struct {
	Mode             string  `toml:"mode"`
	Iterations       int     `toml:"iterations"`
	InitialTemp      float64 `toml:"initial_temp"`
	CoolingRate      float64 `toml:"cooling_rate"`
	MinWindowLength  int     `toml:"min_window_length"`
	LengthCandidates []int   `toml:"length_candidates"`
	StepRadius       int     `toml:"step_radius"`
	Seed             int64   `toml:"seed"`
	Chains           int     `toml:"chains"`
	ProgressEvery    int     `toml:"progress_every"`
}

type BacktestConfig struct {
	InitialCash float64 `toml:"initial_cash"`
}

type StoreConfig struct {
	RunsDB          string `toml:"runs_db"`
	SaveIterations  bool   `toml:"save_iterations"`
	IterationBuffer int    `toml:"iteration_buffer"`
}

type OutputConfig struct {
	ResultPath string `toml:"result_path"`
	LedgerPath string `toml:"ledger_path"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
