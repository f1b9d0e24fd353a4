package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"optpath/internal/analysis/indicator"
	"optpath/internal/backtest"
	"optpath/internal/classifier"
	"optpath/internal/dataset"
	"optpath/internal/datasource"
	"optpath/internal/fitness"
	"optpath/internal/logger"
	"optpath/internal/market"
	"optpath/internal/report"
	"optpath/internal/search"
	"optpath/internal/store/runstore"
)

// PipelineConfig 是一次完整搜索流程的静态参数。
type PipelineConfig struct {
	Symbol          string
	Start           time.Time
	End             time.Time
	Indicators      indicator.Settings
	HeldOutLength   int
	Search          search.Config
	Seed            int64
	Chains          int
	InitialCash     decimal.Decimal
	MinTrainRows    int
	ReportSplit     float64
	SaveIterations  bool
	IterationBuffer int
	ResultPath      string
	LedgerPath      string
}

// Request 描述一次运行；零值字段沿用 PipelineConfig。
type Request struct {
	RunID      string    `json:"run_id,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	Start      time.Time `json:"start,omitempty"`
	End        time.Time `json:"end,omitempty"`
	Iterations *int      `json:"iterations,omitempty"`
	Seed       *int64    `json:"seed,omitempty"`
	Chains     int       `json:"chains,omitempty"`
	// WriteOutputs 控制是否写出 YAML 结果与 Parquet 账本。
	WriteOutputs bool `json:"-"`
}

// Outcome 汇总一次运行的产物。
type Outcome struct {
	RunID          string
	Search         search.Result
	Chains         []search.Result
	Ledger         backtest.Ledger
	Stats          backtest.Stats
	Classification *classifier.Report
	Result         report.Result
	// HeldOutBars 与 Ledger 逐行对齐。
	HeldOutBars []market.Bar
	// TrainBars 是搜索窗口下标所指的训练区。
	TrainBars []market.Bar
}

// BestSoFar 返回搜索记录到的最优窗口及其收益。搜索中途失败时同样可用。
func (o *Outcome) BestSoFar() (report.WindowInfo, float64, bool) {
	// 搜索未开始时 Search 为零值，Found 为真但窗口为空
	if o == nil || !o.Search.Found() || o.Search.Best.Window.Length <= 0 {
		return report.WindowInfo{}, 0, false
	}
	best := o.Search.Best
	ret := best.Return
	if o.Result.Stats != nil {
		// 已完成重训，以留出集复算结果为准
		ret = o.Result.ReturnPct
	}
	if o.Result.Window.Length > 0 {
		return o.Result.Window, ret, true
	}
	info, err := report.DescribeWindow(o.TrainBars, best.Window)
	if err != nil {
		info = report.WindowInfo{Start: best.Window.Start, Length: best.Window.Length}
	}
	return info, ret, true
}

// Pipeline 串联 拉取→特征→标签→切分→退火搜索→重训最优窗口→落盘。
type Pipeline struct {
	cfg     PipelineConfig
	source  datasource.Source
	trainer classifier.Trainer
	runs    *runstore.Store
}

func NewPipeline(cfg PipelineConfig, source datasource.Source, trainer classifier.Trainer, runs *runstore.Store) (*Pipeline, error) {
	if source == nil || trainer == nil {
		return nil, fmt.Errorf("pipeline requires source and trainer")
	}
	if cfg.HeldOutLength <= 0 {
		return nil, fmt.Errorf("held-out length must be positive")
	}
	if !cfg.InitialCash.IsPositive() {
		return nil, fmt.Errorf("initial cash must be positive")
	}
	if cfg.Chains <= 0 {
		cfg.Chains = 1
	}
	if cfg.IterationBuffer <= 0 {
		cfg.IterationBuffer = 100
	}
	return &Pipeline{cfg: cfg, source: source, trainer: trainer, runs: runs}, nil
}

func (p *Pipeline) Config() PipelineConfig { return p.cfg }

// Normalize 用静态配置补全请求。
func (p *Pipeline) Normalize(req Request) Request {
	if strings.TrimSpace(req.Symbol) == "" {
		req.Symbol = p.cfg.Symbol
	}
	if req.Start.IsZero() {
		req.Start = p.cfg.Start
	}
	if req.End.IsZero() {
		req.End = p.cfg.End
	}
	if req.Iterations == nil {
		n := p.cfg.Search.MaxIterations
		req.Iterations = &n
	}
	if req.Seed == nil {
		s := p.cfg.Seed
		req.Seed = &s
	}
	if req.Chains <= 0 {
		req.Chains = p.cfg.Chains
	}
	return req
}

// Prepare 补全请求并（在配置了 runstore 时）创建 pending 运行记录。
func (p *Pipeline) Prepare(ctx context.Context, req Request) (Request, error) {
	req = p.Normalize(req)
	if p.runs == nil || req.RunID != "" {
		return req, nil
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return req, err
	}
	run, err := p.runs.CreateRun(ctx, runstore.Run{
		Symbol:        req.Symbol,
		Source:        p.source.Name(),
		Seed:          *req.Seed,
		Chains:        req.Chains,
		MaxIterations: *req.Iterations,
		Config:        raw,
	})
	if err != nil {
		return req, fmt.Errorf("create run: %w", err)
	}
	req.RunID = run.ID
	return req, nil
}

// Run 执行完整流程。出错时运行记录被标记为 failed/canceled 并返回错误。
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	req, err := p.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	log := logger.With("component", "pipeline", "run_id", req.RunID, "symbol", req.Symbol)
	if p.runs != nil {
		if err := p.runs.SetStatus(context.WithoutCancel(ctx), req.RunID, runstore.RunStatusRunning, ""); err != nil {
			return nil, err
		}
	}
	out, err := p.execute(ctx, req, log)
	if p.runs != nil {
		// 使用独立 ctx，保证取消后仍能写回状态
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if ferr := p.finish(finishCtx, req, out, err); ferr != nil {
			log.Warn("persist run outcome failed", "err", ferr)
		}
	}
	if err != nil {
		return out, err
	}
	log.Info("run finished", "window", out.Search.Best.Window.String(), "return_pct", out.Result.ReturnPct)
	return out, nil
}

func (p *Pipeline) execute(ctx context.Context, req Request, log *slog.Logger) (*Outcome, error) {
	out := &Outcome{RunID: req.RunID}
	bars, err := p.source.Fetch(ctx, datasource.FetchRequest{Symbol: req.Symbol, Start: req.Start, End: req.End})
	if err != nil {
		return out, fmt.Errorf("fetch bars: %w", err)
	}
	if err := market.ValidateOrder(bars); err != nil {
		return out, err
	}
	table, err := indicator.ComputeFeatures(bars, p.cfg.Indicators)
	if err != nil {
		return out, fmt.Errorf("features: %w", err)
	}
	series := dataset.FromTable(table)
	train, eval, err := series.SplitHeldOut(p.cfg.HeldOutLength)
	if err != nil {
		return out, err
	}
	out.HeldOutBars = eval.Bars()
	out.TrainBars = train.Bars()
	log.Info("dataset ready", "bars", len(bars), "dropped", table.Dropped, "usable", series.Len(), "train", train.Len(), "held_out", eval.Len())

	scfg := p.cfg.Search
	scfg.UsableLength = series.Len()
	scfg.HeldOutLength = p.cfg.HeldOutLength
	scfg.MaxIterations = *req.Iterations

	evaluator, err := fitness.New(fitness.Config{
		Train:        train,
		Eval:         eval,
		Trainer:      p.trainer,
		InitialCash:  p.cfg.InitialCash,
		MinTrainRows: p.cfg.MinTrainRows,
	})
	if err != nil {
		return out, err
	}

	var opts []search.Option
	var rec *iterationRecorder
	if p.runs != nil && p.cfg.SaveIterations && req.RunID != "" {
		rec = newIterationRecorder(p.runs, req.RunID, p.cfg.IterationBuffer)
		opts = append(opts, search.WithObserver(rec.Observe))
	}
	annealer, err := search.NewAnnealer(scfg, opts...)
	if err != nil {
		return out, err
	}

	var res search.Result
	if req.Chains > 1 {
		res, out.Chains, err = annealer.RunChains(ctx, req.Chains, *req.Seed, func(int) (search.Objective, error) {
			return evaluator, nil
		})
	} else {
		res, err = annealer.Run(ctx, evaluator, rand.New(rand.NewSource(*req.Seed)))
	}
	out.Search = res
	if rec != nil {
		if ferr := rec.Flush(context.WithoutCancel(ctx)); ferr != nil {
			log.Warn("flush iterations failed", "err", ferr)
		}
	}
	if err != nil {
		return out, fmt.Errorf("search: %w", err)
	}

	out.Result = report.Result{
		RunID:       req.RunID,
		Symbol:      req.Symbol,
		Source:      p.source.Name(),
		Found:       res.Found(),
		Iterations:  res.Iterations,
		Chains:      req.Chains,
		Seed:        *req.Seed,
		HeldOut:     report.DescribeHeldOut(out.HeldOutBars),
		GeneratedAt: time.Now().UTC(),
	}
	if !res.Found() {
		log.Warn("no window with sufficient data found")
		return out, p.writeOutputs(req, out)
	}

	best := res.Best.Window
	window, err := report.DescribeWindow(out.TrainBars, best)
	if err != nil {
		return out, err
	}
	out.Result.Window = window
	final, err := evaluator.EvaluateLedger(ctx, best.Start, best.Length)
	if err != nil {
		return out, fmt.Errorf("retrain best window: %w", err)
	}
	out.Ledger = final.Ledger
	out.Stats = final.Ledger.Summary()
	out.Result.ReturnPct = final.Return
	out.Result.Stats = &out.Stats
	log.Info("best window", "window", best.String(), "first", window.FirstDate, "last", window.LastDate, "return_pct", final.Return)

	rep, err := classificationReport(p.trainer, train.Slice(best.Start, best.End()), p.cfg.ReportSplit)
	if err != nil {
		log.Warn("classification report failed", "err", err)
	} else if rep != nil {
		out.Classification = rep
		out.Result.Classification = rep
		logger.Infof("[pipeline] classification report on trailing %.0f%% of best window", p.cfg.ReportSplit*100)
		logger.InfoBlock(rep.String())
	}

	if p.runs != nil && req.RunID != "" {
		rows, err := ledgerRows(final.Ledger, out.HeldOutBars)
		if err != nil {
			return out, err
		}
		if err := p.runs.SaveLedger(ctx, req.RunID, rows); err != nil {
			return out, fmt.Errorf("save ledger: %w", err)
		}
	}
	return out, p.writeOutputs(req, out)
}

func (p *Pipeline) writeOutputs(req Request, out *Outcome) error {
	if !req.WriteOutputs {
		return nil
	}
	if p.cfg.ResultPath != "" {
		if err := report.WriteYAML(p.cfg.ResultPath, out.Result); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		logger.Infof("[pipeline] result written to %s", p.cfg.ResultPath)
	}
	if p.cfg.LedgerPath != "" && out.Ledger.Len() > 0 {
		recs, err := report.LedgerRecords(out.Ledger, out.HeldOutBars)
		if err != nil {
			return err
		}
		if err := report.WriteLedgerParquet(p.cfg.LedgerPath, recs); err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
		logger.Infof("[pipeline] ledger written to %s", p.cfg.LedgerPath)
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, req Request, out *Outcome, runErr error) error {
	o := runstore.Outcome{Status: runstore.RunStatusDone}
	if out != nil {
		o.Iterations = out.Search.Iterations
		// 失败或取消的运行同样保留已搜到的最优窗口
		if window, ret, ok := out.BestSoFar(); ok {
			o.Found = true
			o.BestStart = window.Start
			o.BestLength = window.Length
			o.BestReturn = ret
			o.FirstDate = window.FirstDate
			o.LastDate = window.LastDate
		}
		if out.Classification != nil {
			o.Report = out.Classification
		}
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		o.Status = runstore.RunStatusCanceled
		o.Message = runErr.Error()
	default:
		o.Status = runstore.RunStatusFailed
		o.Message = runErr.Error()
	}
	return p.runs.Finish(ctx, req.RunID, o)
}

func classificationReport(trainer classifier.Trainer, window dataset.Series, split float64) (*classifier.Report, error) {
	trX, trY, teX, teY := classifier.SplitTail(window.Features(), window.Labels(), split)
	if len(trX) == 0 || len(teX) == 0 {
		return nil, nil
	}
	model, err := trainer.Fit(trX, trY)
	if err != nil {
		return nil, err
	}
	pred, err := model.Predict(teX)
	if err != nil {
		return nil, err
	}
	rep, err := classifier.Evaluate(teY, pred)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func ledgerRows(ledger backtest.Ledger, bars []market.Bar) ([]runstore.LedgerRow, error) {
	recs, err := report.LedgerRecords(ledger, bars)
	if err != nil {
		return nil, err
	}
	rows := make([]runstore.LedgerRow, len(recs))
	for i, r := range recs {
		rows[i] = runstore.LedgerRow{
			Idx:        int(r.Index),
			Date:       r.Date,
			Price:      r.Price,
			Signal:     int(r.Signal),
			Traded:     r.Traded,
			Cash:       r.Cash,
			Position:   r.Position,
			TotalValue: r.TotalValue,
		}
	}
	return rows, nil
}

// iterationRecorder 缓冲迭代记录并批量写入 runstore；多链时被并发调用。
type iterationRecorder struct {
	runs  *runstore.Store
	runID string
	size  int

	mu  sync.Mutex
	buf []runstore.Iteration
	err error
}

func newIterationRecorder(runs *runstore.Store, runID string, size int) *iterationRecorder {
	return &iterationRecorder{runs: runs, runID: runID, size: size, buf: make([]runstore.Iteration, 0, size)}
}

func (r *iterationRecorder) Observe(s search.Step) {
	ret, best := s.Return, s.Best.Return
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, runstore.Iteration{
		Chain:        s.Chain,
		Iter:         s.Iteration,
		Start:        s.Proposal.Start,
		Length:       s.Proposal.Length,
		Return:       &ret,
		Accepted:     s.Accepted,
		Insufficient: s.Insufficient,
		BestReturn:   &best,
		Temperature:  s.Temperature,
	})
	if len(r.buf) >= r.size {
		r.flushLocked(context.Background())
	}
}

func (r *iterationRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(ctx)
	return r.err
}

func (r *iterationRecorder) flushLocked(ctx context.Context) {
	if len(r.buf) == 0 || r.err != nil {
		return
	}
	if err := r.runs.AppendIterations(ctx, r.runID, r.buf); err != nil {
		r.err = err
		return
	}
	r.buf = r.buf[:0]
}
