package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"optpath/internal/config"
)

type StartupSummary struct {
	Data     DataSummary
	Features FeatureSummary
	Search   SearchSummary
	Store    StoreSummary
}

type DataSummary struct {
	Source    string
	Symbol    string
	StartDate string
	EndDate   string
	Cache     string
}

type FeatureSummary struct {
	HeldOutLength int
	MAPeriods     []int
	RSIPeriods    []int
	Trees         int
}

type SearchSummary struct {
	Mode             string
	Iterations       int
	InitialTemp      float64
	CoolingRate      float64
	MinWindowLength  int
	LengthCandidates []int
	StepRadius       int
	Seed             int64
	Chains           int
}

type StoreSummary struct {
	RunsDB     string
	ResultPath string
	LedgerPath string
}

func newStartupSummary(cfg *config.Config, sourceName string) *StartupSummary {
	cache := "off"
	if cfg.Data.CacheEnabled {
		cache = cfg.Data.CacheDir
	}
	return &StartupSummary{
		Data: DataSummary{
			Source:    sourceName,
			Symbol:    cfg.Data.Symbol,
			StartDate: cfg.Data.StartDate,
			EndDate:   cfg.Data.EndDate,
			Cache:     cache,
		},
		Features: FeatureSummary{
			HeldOutLength: cfg.Features.HeldOutLength,
			MAPeriods:     cfg.Features.MAPeriods,
			RSIPeriods:    cfg.Features.RSIPeriods,
			Trees:         cfg.Classifier.Trees,
		},
		Search: SearchSummary{
			Mode:             cfg.Search.Mode,
			Iterations:       cfg.Search.Iterations,
			InitialTemp:      cfg.Search.InitialTemp,
			CoolingRate:      cfg.Search.CoolingRate,
			MinWindowLength:  cfg.Search.MinWindowLength,
			LengthCandidates: cfg.Search.LengthCandidates,
			StepRadius:       cfg.Search.StepRadius,
			Seed:             cfg.Search.Seed,
			Chains:           cfg.Search.Chains,
		},
		Store: StoreSummary{
			RunsDB:     cfg.Store.RunsDB,
			ResultPath: cfg.Output.ResultPath,
			LedgerPath: cfg.Output.LedgerPath,
		},
	}
}

func (s *StartupSummary) Print() { s.Fprint(os.Stdout) }

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[行情数据 (DATA)]")
	fmt.Fprintf(w, "  数据源: %s\n", s.Data.Source)
	fmt.Fprintf(w, "  标的: %s\n", s.Data.Symbol)
	fmt.Fprintf(w, "  区间: %s ~ %s\n", orDash(s.Data.StartDate), orDash(s.Data.EndDate))
	fmt.Fprintf(w, "  缓存: %s\n", s.Data.Cache)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[特征与分类器 (FEATURES)]")
	fmt.Fprintf(w, "  留出集长度: %d\n", s.Features.HeldOutLength)
	fmt.Fprintf(w, "  MA 周期: %s\n", formatInts(s.Features.MAPeriods))
	fmt.Fprintf(w, "  RSI 周期: %s\n", formatInts(s.Features.RSIPeriods))
	fmt.Fprintf(w, "  森林规模: %d\n", s.Features.Trees)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[退火搜索 (SEARCH)]")
	fmt.Fprintf(w, "  模式: %s (迭代 %d, 链数 %d, 种子 %d)\n", orDash(s.Search.Mode), s.Search.Iterations, s.Search.Chains, s.Search.Seed)
	fmt.Fprintf(w, "  温度: T0=%g 冷却=%g\n", s.Search.InitialTemp, s.Search.CoolingRate)
	fmt.Fprintf(w, "  窗口: 最短 %d, 候选长度 %s, 步长半径 %d\n", s.Search.MinWindowLength, formatInts(s.Search.LengthCandidates), s.Search.StepRadius)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[存储与输出 (STORE & OUTPUT)]")
	fmt.Fprintf(w, "  运行库: %s\n", orDash(s.Store.RunsDB))
	fmt.Fprintf(w, "  结果文件: %s\n", orDash(s.Store.ResultPath))
	fmt.Fprintf(w, "  账本文件: %s\n", orDash(s.Store.LedgerPath))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatInts(items []int) string {
	if len(items) == 0 {
		return "-"
	}
	parts := make([]string, len(items))
	for i, v := range items {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
