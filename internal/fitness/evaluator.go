// Package fitness scores a training window: train a fresh classifier on it, trade the
// fixed held-out range with its predictions, and reduce the ledger to a percent return.
package fitness

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"optpath/internal/backtest"
	"optpath/internal/classifier"
	"optpath/internal/dataset"
)

var (
	// ErrInsufficientData 表示窗口或评估集没有足够的可用行。
	ErrInsufficientData = errors.New("insufficient data")
	// ErrClassifier 包装外部分类器在 fit/predict 阶段的失败。
	ErrClassifier = errors.New("classifier failure")
)

// Config 描述评估器依赖。Train 与 Eval 在整个搜索期间只读共享。
type Config struct {
	Train        dataset.Series
	Eval         dataset.Series
	Trainer      classifier.Trainer
	InitialCash  decimal.Decimal
	MinTrainRows int
}

// Evaluator 对候选窗口打分，不持有任何跨调用的模型状态。
type Evaluator struct {
	train        dataset.Series
	eval         dataset.Series
	evalFeatures [][]float64
	evalCloses   []float64
	trainer      classifier.Trainer
	initialCash  decimal.Decimal
	minRows      int
}

func New(cfg Config) (*Evaluator, error) {
	if cfg.Trainer == nil {
		return nil, fmt.Errorf("trainer is required")
	}
	if cfg.Eval.Len() == 0 {
		return nil, fmt.Errorf("%w: empty evaluation series", ErrInsufficientData)
	}
	if !cfg.InitialCash.IsPositive() {
		return nil, fmt.Errorf("initial cash must be positive")
	}
	minRows := cfg.MinTrainRows
	if minRows <= 0 {
		minRows = 1
	}
	return &Evaluator{
		train:        cfg.Train,
		eval:         cfg.Eval,
		evalFeatures: cfg.Eval.Features(),
		evalCloses:   cfg.Eval.Closes(),
		trainer:      cfg.Trainer,
		initialCash:  cfg.InitialCash,
		minRows:      minRows,
	}, nil
}

// TrainLen 返回可供窗口切片的训练区长度。
func (e *Evaluator) TrainLen() int { return e.train.Len() }

// EvalLen 返回固定评估集长度。
func (e *Evaluator) EvalLen() int { return e.eval.Len() }

// Evaluate 返回窗口 [start, start+length) 训练出的模型在评估集上的百分比收益。
func (e *Evaluator) Evaluate(ctx context.Context, start, length int) (float64, error) {
	res, err := e.EvaluateLedger(ctx, start, length)
	if err != nil {
		return 0, err
	}
	return res.Return, nil
}

// Result 是一次评估的完整产物。
type Result struct {
	Return      float64
	Ledger      backtest.Ledger
	Predictions []int
	Model       classifier.Model
}

// EvaluateLedger 与 Evaluate 相同，但保留账本与预测以便报告。
// 单次评估不响应取消，取消只在搜索迭代之间检查。
func (e *Evaluator) EvaluateLedger(_ context.Context, start, length int) (Result, error) {
	end := start + length
	if start < 0 || length <= 0 || end > e.train.Len() {
		return Result{}, fmt.Errorf("%w: window [%d,%d) outside %d training rows", ErrInsufficientData, start, end, e.train.Len())
	}
	window := e.train.Slice(start, end)
	if window.Len() < e.minRows {
		return Result{}, fmt.Errorf("%w: window has %d rows, need %d", ErrInsufficientData, window.Len(), e.minRows)
	}

	model, err := e.trainer.Fit(window.Features(), window.Labels())
	if err != nil {
		return Result{}, fmt.Errorf("%w: fit: %w", ErrClassifier, err)
	}
	pred, err := model.Predict(e.evalFeatures)
	if err != nil {
		return Result{}, fmt.Errorf("%w: predict: %w", ErrClassifier, err)
	}
	if len(pred) != len(e.evalCloses) {
		return Result{}, fmt.Errorf("%w: %d predictions for %d rows", ErrClassifier, len(pred), len(e.evalCloses))
	}

	ledger, err := backtest.Simulate(e.evalCloses, backtest.SignalsFromLabels(pred), e.initialCash)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Return:      ledger.ReturnPct(),
		Ledger:      ledger,
		Predictions: pred,
		Model:       model,
	}, nil
}
