package search

import (
	"errors"
	"fmt"
)

// ErrInvalidBounds 表示配置无法容纳任何合法窗口（数据过短或留出集过长）。
var ErrInvalidBounds = errors.New("invalid window bounds")

// Window 是训练窗口，覆盖半开区间 [Start, Start+Length)。
type Window struct {
	Start  int `json:"start" yaml:"start"`
	Length int `json:"length" yaml:"length"`
}

// End 返回窗口的开区间终点。
func (w Window) End() int { return w.Start + w.Length }

// LastIndex 返回窗口内最后一行的下标（含）。
func (w Window) LastIndex() int { return w.End() - 1 }

func (w Window) String() string {
	return fmt.Sprintf("[%d,%d)", w.Start, w.End())
}

// Config 是退火搜索参数。UsableLength 为特征完整的总行数，尾部 HeldOutLength 行为固定评估集。
type Config struct {
	InitialTemp      float64 `json:"initial_temp"`
	CoolingRate      float64 `json:"cooling_rate"`
	MaxIterations    int     `json:"max_iterations"`
	MinWindowLength  int     `json:"min_window_length"`
	HeldOutLength    int     `json:"held_out_length"`
	UsableLength     int     `json:"usable_length"`
	LengthCandidates []int   `json:"length_candidates"`
	StepRadius       int     `json:"step_radius"`
	// ProgressEvery 控制 info 级进度日志的间隔（0 表示每 10%）。
	ProgressEvery int `json:"progress_every"`
}

const (
	DefaultInitialTemp     = 100.0
	DefaultCoolingRate     = 0.995
	DefaultMinWindowLength = 500
	DefaultStepRadius      = 10
	FastIterations         = 80
	ThoroughIterations     = 800
)

// DefaultLengthCandidates 是初始窗口长度的候选集合。
var DefaultLengthCandidates = []int{500, 750, 1000, 1250, 1500}

// WithDefaults 为零值字段填充默认参数。
func (c Config) WithDefaults() Config {
	if c.InitialTemp <= 0 {
		c.InitialTemp = DefaultInitialTemp
	}
	if c.CoolingRate <= 0 {
		c.CoolingRate = DefaultCoolingRate
	}
	if c.MaxIterations < 0 {
		c.MaxIterations = 0
	}
	if c.MinWindowLength <= 0 {
		c.MinWindowLength = DefaultMinWindowLength
	}
	if len(c.LengthCandidates) == 0 {
		c.LengthCandidates = append([]int(nil), DefaultLengthCandidates...)
	}
	if c.StepRadius <= 0 {
		c.StepRadius = DefaultStepRadius
	}
	return c
}

// MaxStart = UsableLength − MinWindowLength − HeldOutLength。
func (c Config) MaxStart() int {
	return c.UsableLength - c.MinWindowLength - c.HeldOutLength
}

func (c Config) Validate() error {
	if c.HeldOutLength <= 0 {
		return fmt.Errorf("%w: held-out length %d", ErrInvalidBounds, c.HeldOutLength)
	}
	if c.MinWindowLength <= 0 {
		return fmt.Errorf("%w: min window length %d", ErrInvalidBounds, c.MinWindowLength)
	}
	if c.MaxStart() < c.MinWindowLength {
		return fmt.Errorf("%w: max start %d below min window length %d (usable=%d held-out=%d)",
			ErrInvalidBounds, c.MaxStart(), c.MinWindowLength, c.UsableLength, c.HeldOutLength)
	}
	if c.CoolingRate <= 0 || c.CoolingRate > 1 {
		return fmt.Errorf("cooling rate must be in (0,1], got %v", c.CoolingRate)
	}
	if c.InitialTemp <= 0 {
		return fmt.Errorf("initial temperature must be positive, got %v", c.InitialTemp)
	}
	for _, l := range c.LengthCandidates {
		if l <= 0 {
			return fmt.Errorf("length candidates must be positive, got %d", l)
		}
	}
	return nil
}

// Clamp 修正候选窗口：Start ∈ [0, MaxStart]，Length ∈ [MinWindowLength, MaxStart]；
// 若 End() 超过 MaxStart 则左移 Start，使窗口与留出集之间至少隔开 MinWindowLength 行。
// 仅在 Validate 通过的配置上调用。
func (c Config) Clamp(start, length int) Window {
	maxStart := c.MaxStart()
	length = clampInt(length, c.MinWindowLength, maxStart)
	start = clampInt(start, 0, maxStart)
	if over := start + length - maxStart; over > 0 {
		start -= over
	}
	return Window{Start: start, Length: length}
}

// Contains 报告窗口是否满足 Clamp 的全部约束。
func (c Config) Contains(w Window) bool {
	return w.Start >= 0 && w.Start <= c.MaxStart() &&
		w.Length >= c.MinWindowLength && w.Length <= c.MaxStart() &&
		w.End() <= c.MaxStart()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
