package app

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optpath/internal/analysis/indicator"
	"optpath/internal/classifier"
	"optpath/internal/config"
	"optpath/internal/datasource"
	"optpath/internal/fitness"
	"optpath/internal/market"
	"optpath/internal/report"
	"optpath/internal/search"
	"optpath/internal/store/runstore"
)

type staticSource struct {
	bars []market.Bar
	err  error
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) Fetch(ctx context.Context, req datasource.FetchRequest) ([]market.Bar, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.bars, nil
}

type constModel int

func (m constModel) Predict(features [][]float64) ([]int, error) {
	out := make([]int, len(features))
	for i := range out {
		out[i] = int(m)
	}
	return out, nil
}

var alwaysBuy = classifier.TrainerFunc(func(features [][]float64, labels []int) (classifier.Model, error) {
	if err := classifier.CheckShape(features, labels); err != nil {
		return nil, err
	}
	return constModel(1), nil
})

// failingFrom 前 n-1 次 Fit 正常，此后每次都报错。
func failingFrom(n int) classifier.Trainer {
	calls := 0
	return classifier.TrainerFunc(func(features [][]float64, labels []int) (classifier.Model, error) {
		calls++
		if calls >= n {
			return nil, errors.New("fit exploded")
		}
		return alwaysBuy(features, labels)
	})
}

func syntheticBars(n int) []market.Bar {
	start := time.Date(2015, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		c := 20 + 5*math.Sin(float64(i)/7) + float64(i)*0.01
		bars[i] = market.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   c - 0.1,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000 + float64(i%17),
		}
	}
	return bars
}

func smallIndicators() indicator.Settings {
	return indicator.Settings{
		MAPeriods:    []int{5},
		BollPeriod:   5,
		BollDev:      2,
		MACDFast:     3,
		MACDSlow:     6,
		MACDSignal:   3,
		RSIPeriods:   []int{5},
		KDJWindow:    5,
		KDJSmoothing: 2,
	}
}

func testPipelineConfig(dir string) PipelineConfig {
	return PipelineConfig{
		Symbol:        "600519.SH",
		Indicators:    smallIndicators(),
		HeldOutLength: 20,
		Search: search.Config{
			InitialTemp:      10,
			CoolingRate:      0.9,
			MaxIterations:    12,
			MinWindowLength:  20,
			LengthCandidates: []int{20, 40},
			StepRadius:       5,
		},
		Seed:            42,
		Chains:          1,
		InitialCash:     decimal.NewFromInt(1_000_000),
		MinTrainRows:    5,
		ReportSplit:     0.2,
		SaveIterations:  true,
		IterationBuffer: 5,
		ResultPath:      filepath.Join(dir, "best_window.yaml"),
		LedgerPath:      filepath.Join(dir, "ledger.parquet"),
	}
}

func openRuns(t *testing.T) *runstore.Store {
	t.Helper()
	runs, err := runstore.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })
	return runs
}

func TestPipeline_RunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	runs := openRuns(t)
	p, err := NewPipeline(testPipelineConfig(dir), staticSource{bars: syntheticBars(160)}, alwaysBuy, runs)
	require.NoError(t, err)

	out, err := p.Run(context.Background(), Request{WriteOutputs: true})
	require.NoError(t, err)
	require.NotEmpty(t, out.RunID)

	assert.True(t, out.Search.Found())
	assert.Equal(t, 12, out.Search.Iterations)
	w := out.Search.Best.Window
	assert.GreaterOrEqual(t, w.Length, 20)
	assert.GreaterOrEqual(t, w.Start, 0)
	assert.Len(t, out.HeldOutBars, 20)
	assert.Equal(t, 20, out.Ledger.Len())
	assert.Equal(t, out.Search.Best.Return, out.Result.ReturnPct)
	assert.Equal(t, w.Start, out.Result.Window.Start)
	assert.NotEmpty(t, out.Result.Window.FirstDate)

	run, err := runs.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, runstore.RunStatusDone, run.Status)
	assert.Equal(t, 12, run.Iterations)
	require.NotNil(t, run.BestStart)
	assert.Equal(t, w.Start, *run.BestStart)

	iters, err := runs.ListIterations(context.Background(), out.RunID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, iters, 12)

	rows, err := runs.ListLedger(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Len(t, rows, 20)

	res, err := report.ReadYAML(filepath.Join(dir, "best_window.yaml"))
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, out.RunID, res.RunID)
	recs, err := report.ReadLedgerParquet(filepath.Join(dir, "ledger.parquet"))
	require.NoError(t, err)
	assert.Len(t, recs, 20)
}

func TestPipeline_ReproducibleForSeed(t *testing.T) {
	cfg := testPipelineConfig(t.TempDir())
	cfg.SaveIterations = false
	src := staticSource{bars: syntheticBars(160)}
	p, err := NewPipeline(cfg, src, alwaysBuy, nil)
	require.NoError(t, err)

	a, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)
	b, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, a.Search.Best, b.Search.Best)
	assert.Empty(t, a.RunID)

	iters := 0
	c, err := p.Run(context.Background(), Request{Iterations: &iters})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Search.Iterations)
	assert.Equal(t, c.Search.Initial, c.Search.Best)
}

func TestPipeline_MultipleChains(t *testing.T) {
	cfg := testPipelineConfig(t.TempDir())
	p, err := NewPipeline(cfg, staticSource{bars: syntheticBars(160)}, alwaysBuy, openRuns(t))
	require.NoError(t, err)
	out, err := p.Run(context.Background(), Request{Chains: 3})
	require.NoError(t, err)
	require.Len(t, out.Chains, 3)
	for _, c := range out.Chains {
		assert.LessOrEqual(t, c.Best.Return, out.Search.Best.Return)
	}
}

func TestPipeline_FailuresAreRecorded(t *testing.T) {
	runs := openRuns(t)
	p, err := NewPipeline(testPipelineConfig(t.TempDir()), staticSource{err: datasource.ErrNoData}, alwaysBuy, runs)
	require.NoError(t, err)
	out, err := p.Run(context.Background(), Request{})
	require.ErrorIs(t, err, datasource.ErrNoData)
	run, err := runs.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, runstore.RunStatusFailed, run.Status)
	assert.Contains(t, run.Message, "fetch bars")
	assert.Nil(t, run.BestStart)
	assert.Nil(t, run.BestReturn)
	_, _, ok := out.BestSoFar()
	assert.False(t, ok)

	short, err := NewPipeline(testPipelineConfig(t.TempDir()), staticSource{bars: syntheticBars(50)}, alwaysBuy, runs)
	require.NoError(t, err)
	_, err = short.Run(context.Background(), Request{})
	require.ErrorIs(t, err, search.ErrInvalidBounds)
}

func TestPipeline_FailedSearchKeepsBestWindow(t *testing.T) {
	runs := openRuns(t)
	// 初始窗口占第 1 次 Fit，第 8 次 Fit 落在第 7 轮迭代
	p, err := NewPipeline(testPipelineConfig(t.TempDir()), staticSource{bars: syntheticBars(160)}, failingFrom(8), runs)
	require.NoError(t, err)

	out, err := p.Run(context.Background(), Request{})
	require.ErrorIs(t, err, fitness.ErrClassifier)
	require.NotNil(t, out)
	assert.Equal(t, 6, out.Search.Iterations)
	require.True(t, out.Search.Found())

	best := out.Search.Best
	window, ret, ok := out.BestSoFar()
	require.True(t, ok)
	assert.Equal(t, best.Window.Start, window.Start)
	assert.Equal(t, best.Window.Length, window.Length)
	assert.Equal(t, best.Return, ret)
	assert.Equal(t, out.TrainBars[best.Window.Start].DateString(), window.FirstDate)
	assert.Equal(t, out.TrainBars[best.Window.LastIndex()].DateString(), window.LastDate)

	run, err := runs.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, runstore.RunStatusFailed, run.Status)
	assert.Contains(t, run.Message, "fit exploded")
	assert.Equal(t, 6, run.Iterations)
	require.NotNil(t, run.BestStart)
	require.NotNil(t, run.BestLength)
	require.NotNil(t, run.BestReturn)
	assert.Equal(t, best.Window.Start, *run.BestStart)
	assert.Equal(t, best.Window.Length, *run.BestLength)
	assert.InDelta(t, best.Return, *run.BestReturn, 1e-9)
	assert.Equal(t, window.FirstDate, run.FirstDate)
	assert.Equal(t, window.LastDate, run.LastDate)

	var none *Outcome
	_, _, ok = none.BestSoFar()
	assert.False(t, ok)
}

func TestPipeline_CanceledRun(t *testing.T) {
	runs := openRuns(t)
	p, err := NewPipeline(testPipelineConfig(t.TempDir()), staticSource{bars: syntheticBars(160)}, alwaysBuy, runs)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	req, err := p.Prepare(ctx, Request{})
	require.NoError(t, err)
	cancel()
	_, err = p.Run(ctx, req)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	run, err := runs.GetRun(context.Background(), req.RunID)
	require.NoError(t, err)
	assert.Equal(t, runstore.RunStatusCanceled, run.Status)
}

func TestNewPipeline_RejectsBadConfig(t *testing.T) {
	cfg := testPipelineConfig(t.TempDir())
	_, err := NewPipeline(cfg, nil, alwaysBuy, nil)
	assert.Error(t, err)
	cfg.InitialCash = decimal.Zero
	_, err = NewPipeline(cfg, staticSource{}, alwaysBuy, nil)
	assert.Error(t, err)
}

func TestNewApp_WithInjectedSource(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Data.Source = "csv"
	cfg.Data.Symbol = "X"
	cfg.Features.HeldOutLength = 20
	cfg.Features.MAPeriods = []int{5}
	cfg.Features.BollPeriod = 5
	cfg.Features.BollDev = 2
	cfg.Features.MACDFast, cfg.Features.MACDSlow, cfg.Features.MACDSignal = 3, 6, 3
	cfg.Features.RSIPeriods = []int{5}
	cfg.Features.KDJWindow = 5
	cfg.Features.KDJSmoothing = 2
	cfg.Classifier.Trees = 3
	cfg.Classifier.MinTrainRows = 5
	cfg.Classifier.ReportSplit = 0.2
	cfg.Search.Iterations = 4
	cfg.Search.MinWindowLength = 20
	cfg.Search.LengthCandidates = []int{20}
	cfg.Backtest.InitialCash = 100000
	cfg.Store.RunsDB = filepath.Join(dir, "runs.db")
	cfg.Output.ResultPath = filepath.Join(dir, "out.yaml")

	a, err := NewApp(cfg, WithSource(staticSource{bars: syntheticBars(160)}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	a.Summary = nil

	out, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, out.Search.Iterations)
	_, err = os.Stat(cfg.Output.ResultPath)
	assert.NoError(t, err)
}
