package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"optpath/internal/analysis/indicator"
	"optpath/internal/classifier"
	"optpath/internal/classifier/forest"
	"optpath/internal/config"
	"optpath/internal/datasource"
	"optpath/internal/search"
	"optpath/internal/store/barstore"
	"optpath/internal/store/runstore"
)

type AppBuilder struct {
	cfg *config.Config

	barStoreFn func(config.DataConfig) (*barstore.Store, error)
	sourceFn   func(config.DataConfig, *barstore.Store) (datasource.Source, error)
	trainerFn  func(config.ClassifierConfig) classifier.Trainer
	runStoreFn func(config.StoreConfig) (*runstore.Store, error)
}

type AppBuilderOption func(*AppBuilder)

// WithSource 替换行情源（测试或离线回放）。
func WithSource(src datasource.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(config.DataConfig, *barstore.Store) (datasource.Source, error) { return src, nil }
	}
}

// WithTrainer 替换分类器训练器。
func WithTrainer(t classifier.Trainer) AppBuilderOption {
	return func(b *AppBuilder) {
		b.trainerFn = func(config.ClassifierConfig) classifier.Trainer { return t }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		barStoreFn: buildBarStore,
		sourceFn:   buildSource,
		trainerFn:  buildTrainer,
		runStoreFn: buildRunStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	bars, err := b.barStoreFn(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("open bar cache: %w", err)
	}
	src, err := b.sourceFn(cfg.Data, bars)
	if err != nil {
		closeQuietly(bars)
		return nil, err
	}
	runs, err := b.runStoreFn(cfg.Store)
	if err != nil {
		closeQuietly(bars)
		return nil, fmt.Errorf("open run store: %w", err)
	}
	pcfg, err := pipelineConfig(cfg)
	if err != nil {
		closeQuietly(bars)
		closeQuietly(runs)
		return nil, err
	}
	pipeline, err := NewPipeline(pcfg, src, b.trainerFn(cfg.Classifier), runs)
	if err != nil {
		closeQuietly(bars)
		closeQuietly(runs)
		return nil, err
	}
	return &App{
		cfg:      cfg,
		pipeline: pipeline,
		runs:     runs,
		bars:     bars,
		Summary:  newStartupSummary(cfg, src.Name()),
	}, nil
}

func buildBarStore(cfg config.DataConfig) (*barstore.Store, error) {
	if !cfg.CacheEnabled || strings.TrimSpace(cfg.CacheDir) == "" {
		return nil, nil
	}
	switch cfg.Source {
	case "csv", "parquet":
		return nil, nil
	}
	return barstore.NewStore(cfg.CacheDir)
}

func buildSource(cfg config.DataConfig, cache *barstore.Store) (datasource.Source, error) {
	var src datasource.Source
	switch cfg.Source {
	case "tushare":
		ts, err := datasource.NewTushare(datasource.TushareConfig{
			URL:     cfg.Tushare.URL,
			Token:   cfg.Tushare.Token,
			Timeout: time.Duration(cfg.Tushare.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		src = datasource.WithRateLimit(ts, cfg.RateLimitPerMin)
	case "binance":
		src = datasource.WithRateLimit(datasource.NewBinance(datasource.BinanceConfig{
			BaseURL: cfg.Binance.BaseURL,
			Timeout: time.Duration(cfg.Binance.TimeoutSeconds) * time.Second,
		}), cfg.RateLimitPerMin)
	case "csv":
		return datasource.NewCSV(cfg.Path), nil
	case "parquet":
		return datasource.NewParquet(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Source)
	}
	if cache != nil {
		src = datasource.WithCache(src, cache)
	}
	return src, nil
}

func buildTrainer(cfg config.ClassifierConfig) classifier.Trainer {
	return forest.NewTrainer(forest.Config{
		Trees:       cfg.Trees,
		MaxDepth:    cfg.MaxDepth,
		MinLeaf:     cfg.MinLeaf,
		MaxFeatures: cfg.MaxFeatures,
		Seed:        cfg.Seed,
		Workers:     cfg.Workers,
	})
}

func buildRunStore(cfg config.StoreConfig) (*runstore.Store, error) {
	if strings.TrimSpace(cfg.RunsDB) == "" {
		return nil, nil
	}
	return runstore.Open(cfg.RunsDB)
}

func pipelineConfig(cfg *config.Config) (PipelineConfig, error) {
	start, end, err := cfg.Data.DateRange()
	if err != nil {
		return PipelineConfig{}, err
	}
	f := cfg.Features
	return PipelineConfig{
		Symbol: cfg.Data.Symbol,
		Start:  start,
		End:    end,
		Indicators: indicator.Settings{
			MAPeriods:    f.MAPeriods,
			BollPeriod:   f.BollPeriod,
			BollDev:      f.BollDev,
			MACDFast:     f.MACDFast,
			MACDSlow:     f.MACDSlow,
			MACDSignal:   f.MACDSignal,
			RSIPeriods:   f.RSIPeriods,
			KDJWindow:    f.KDJWindow,
			KDJSmoothing: f.KDJSmoothing,
		},
		HeldOutLength: f.HeldOutLength,
		Search: search.Config{
			InitialTemp:      cfg.Search.InitialTemp,
			CoolingRate:      cfg.Search.CoolingRate,
			MaxIterations:    cfg.Search.Iterations,
			MinWindowLength:  cfg.Search.MinWindowLength,
			LengthCandidates: cfg.Search.LengthCandidates,
			StepRadius:       cfg.Search.StepRadius,
			ProgressEvery:    cfg.Search.ProgressEvery,
		},
		Seed:            cfg.Search.Seed,
		Chains:          cfg.Search.Chains,
		InitialCash:     decimal.NewFromFloat(cfg.Backtest.InitialCash),
		MinTrainRows:    cfg.Classifier.MinTrainRows,
		ReportSplit:     cfg.Classifier.ReportSplit,
		SaveIterations:  cfg.Store.SaveIterations,
		IterationBuffer: cfg.Store.IterationBuffer,
		ResultPath:      cfg.Output.ResultPath,
		LedgerPath:      cfg.Output.LedgerPath,
	}, nil
}

type closer interface{ Close() error }

// closeQuietly 用于构建失败时的回收；两个 Store 的 Close 都允许 nil 接收者。
func closeQuietly(c closer) {
	_ = c.Close()
}
