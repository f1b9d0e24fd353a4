package search

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"optpath/internal/logger"
)

// ChainSeed 返回第 i 条链使用的随机种子。
func ChainSeed(base int64, chain int) int64 {
	return base + int64(chain)
}

// RunChains 并发运行 n 条相互独立的退火链（各自的种子与状态），
// 按 Best.Return 降序选出胜者，并列时取链序号较小者。
// newObjective 为每条链提供目标函数；返回的实现可以共享只读数据。
// 任一链失败会取消其余链，并返回已完成链中的最优结果。
func (a *Annealer) RunChains(ctx context.Context, n int, baseSeed int64, newObjective func(chain int) (Objective, error)) (Result, []Result, error) {
	if n <= 0 {
		n = 1
	}
	results := make([]Result, n)
	done := make([]bool, n)
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		group.Go(func() error {
			obj, err := newObjective(i)
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			rng := rand.New(rand.NewSource(ChainSeed(baseSeed, i)))
			res, err := a.run(gctx, i, obj, rng)
			results[i] = res
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			done[i] = true
			return nil
		})
	}
	err := group.Wait()

	winner := -1
	for i, res := range results {
		if res.Iterations == 0 && !done[i] {
			continue
		}
		if winner < 0 || res.Best.Return > results[winner].Best.Return {
			winner = i
		}
	}
	if winner < 0 {
		return Result{}, results, err
	}
	if err == nil {
		logger.Infof("[search] %d chains finished, winner chain=%d window=%s return=%.4f%%", n, winner, results[winner].Best.Window, results[winner].Best.Return)
	}
	return results[winner], results, err
}
