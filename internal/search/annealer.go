// Package search 在训练窗口 (start, length) 空间上做模拟退火，以留出集收益为目标函数。
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"optpath/internal/fitness"
	"optpath/internal/logger"
)

// Objective 为窗口打分；返回 fitness.ErrInsufficientData 的窗口视为 −Inf。
type Objective interface {
	Evaluate(ctx context.Context, start, length int) (float64, error)
}

// ObjectiveFunc 让普通函数满足 Objective。
type ObjectiveFunc func(ctx context.Context, start, length int) (float64, error)

func (f ObjectiveFunc) Evaluate(ctx context.Context, start, length int) (float64, error) {
	return f(ctx, start, length)
}

// State 是退火游走中的一个解。
type State struct {
	Window Window  `json:"window" yaml:"window"`
	Return float64 `json:"return" yaml:"return"`
}

// Step 记录一次迭代，供观察者记录日志或持久化；观察者不得修改它。
type Step struct {
	Chain        int     `json:"chain"`
	Iteration    int     `json:"iteration"`
	Proposal     Window  `json:"proposal"`
	Return       float64 `json:"return"`
	Delta        float64 `json:"delta"`
	Accepted     bool    `json:"accepted"`
	Insufficient bool    `json:"insufficient"`
	Current      State   `json:"current"`
	Best         State   `json:"best"`
	Temperature  float64 `json:"temperature"`
}

// Result 是一次搜索的输出。Best 为历史最优解，而非游走终点 Current。
type Result struct {
	Chain       int     `json:"chain"`
	Best        State   `json:"best"`
	Initial     State   `json:"initial"`
	Current     State   `json:"current"`
	Iterations  int     `json:"iterations"`
	Accepted    int     `json:"accepted"`
	Improved    int     `json:"improved"`
	Temperature float64 `json:"temperature"`
}

// Found 报告是否找到过有限收益的窗口。
func (r Result) Found() bool {
	return !math.IsInf(r.Best.Return, -1)
}

// Option 调整 Annealer 行为。
type Option func(*Annealer)

// WithObserver 注册每次迭代后的回调。多链并行时回调会被并发调用。
func WithObserver(fn func(Step)) Option {
	return func(a *Annealer) { a.observer = fn }
}

// Annealer 执行模拟退火。自身只持有只读配置，可被多条链复用。
type Annealer struct {
	cfg      Config
	observer func(Step)
}

func NewAnnealer(cfg Config, opts ...Option) (*Annealer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Annealer{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Annealer) Config() Config { return a.cfg }

// Run 执行一条退火链，恰好 MaxIterations 次迭代。
// 出错或 ctx 取消时返回截至当时的结果与错误；ctx 只在迭代边界检查。
func (a *Annealer) Run(ctx context.Context, obj Objective, rng *rand.Rand) (Result, error) {
	return a.run(ctx, 0, obj, rng)
}

func (a *Annealer) run(ctx context.Context, chain int, obj Objective, rng *rand.Rand) (Result, error) {
	if obj == nil || rng == nil {
		return Result{}, fmt.Errorf("objective and rng are required")
	}
	cfg := a.cfg
	log := logger.With("component", "search", "chain", chain)

	initial := cfg.Clamp(rng.Intn(cfg.MaxStart()+1), cfg.LengthCandidates[rng.Intn(len(cfg.LengthCandidates))])
	ret, _, err := score(ctx, obj, initial)
	if err != nil {
		return Result{Chain: chain}, fmt.Errorf("initial window %s: %w", initial, err)
	}
	current := State{Window: initial, Return: ret}
	best := current
	temp := cfg.InitialTemp
	res := Result{Chain: chain, Best: best, Initial: current, Current: current, Temperature: temp}
	log.Info("search started", "window", initial.String(), "return", ret, "iterations", cfg.MaxIterations)

	every := cfg.ProgressEvery
	if every <= 0 {
		every = max(1, cfg.MaxIterations/10)
	}
	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		proposal := cfg.Clamp(
			current.Window.Start+uniformInt(rng, cfg.StepRadius),
			current.Window.Length+uniformInt(rng, cfg.StepRadius),
		)
		newRet, insufficient, err := score(ctx, obj, proposal)
		if err != nil {
			return res, fmt.Errorf("iteration %d window %s: %w", iter, proposal, err)
		}

		delta := newRet - current.Return
		if math.IsNaN(delta) {
			// −Inf − (−Inf)
			delta = 0
		}
		accepted := delta > 0
		if !accepted {
			accepted = rng.Float64() < AcceptanceProbability(delta, temp)
		}
		if accepted {
			current = State{Window: proposal, Return: newRet}
			res.Accepted++
		}
		if newRet > best.Return {
			best = State{Window: proposal, Return: newRet}
			res.Improved++
		}
		temp *= cfg.CoolingRate

		res.Best, res.Current, res.Iterations, res.Temperature = best, current, iter, temp
		if a.observer != nil {
			a.observer(Step{
				Chain:        chain,
				Iteration:    iter,
				Proposal:     proposal,
				Return:       newRet,
				Delta:        delta,
				Accepted:     accepted,
				Insufficient: insufficient,
				Current:      current,
				Best:         best,
				Temperature:  temp,
			})
		}
		log.Debug("step", "iter", iter, "proposal", proposal.String(), "return", newRet, "accepted", accepted, "temp", temp)
		if iter%every == 0 || iter == cfg.MaxIterations {
			log.Info("progress", "iter", iter, "best", best.Window.String(), "best_return", best.Return, "current_return", current.Return, "temp", temp)
		}
	}
	return res, nil
}

// AcceptanceProbability 是 Metropolis 准则 exp(delta/T)。delta ≤ 0 时结果 ≤ 1；
// 为防止调用方在 delta > 0 时误用，仍截断到 [0,1]。
func AcceptanceProbability(delta, temp float64) float64 {
	if temp <= 0 {
		if delta >= 0 {
			return 1
		}
		return 0
	}
	p := math.Exp(delta / temp)
	if math.IsNaN(p) {
		return 0
	}
	return math.Min(1, p)
}

func score(ctx context.Context, obj Objective, w Window) (ret float64, insufficient bool, err error) {
	ret, err = obj.Evaluate(ctx, w.Start, w.Length)
	if errors.Is(err, fitness.ErrInsufficientData) {
		return math.Inf(-1), true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ret, false, nil
}

// uniformInt 返回 [-r, r] 内的均匀整数。
func uniformInt(rng *rand.Rand, r int) int {
	return rng.Intn(2*r+1) - r
}
