package app

import (
	"context"
	"errors"
	"sync"

	"optpath/internal/logger"
	searchhttp "optpath/internal/transport/http/search"
)

// errLauncherClosed 表示服务已进入退出流程，不再接受新运行。
var errLauncherClosed = errors.New("launcher closed")

// runLauncher 把 HTTP 请求转成后台运行。运行的生命周期绑定到服务 ctx 而非请求 ctx。
type runLauncher struct {
	base     context.Context
	pipeline *Pipeline

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newRunLauncher(base context.Context, p *Pipeline) *runLauncher {
	return &runLauncher{base: base, pipeline: p}
}

func (l *runLauncher) Launch(ctx context.Context, req searchhttp.LaunchRequest) (string, error) {
	if l.pipeline.runs == nil {
		return "", errors.New("run store not configured")
	}
	if err := l.acquire(); err != nil {
		return "", err
	}
	prepared, err := l.pipeline.Prepare(ctx, Request{
		Symbol:     req.Symbol,
		Start:      req.Start,
		End:        req.End,
		Iterations: req.Iterations,
		Seed:       req.Seed,
		Chains:     req.Chains,
	})
	if err != nil {
		l.wg.Done()
		return "", err
	}
	go func() {
		defer l.wg.Done()
		if _, err := l.pipeline.Run(l.base, prepared); err != nil {
			logger.Warnf("[launcher] run %s ended: %v", prepared.RunID, err)
		}
	}()
	return prepared.RunID, nil
}

// acquire 在锁内登记一个运行槽位；Wait 之后或服务 ctx 结束后拒绝。
func (l *runLauncher) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errLauncherClosed
	}
	if err := l.base.Err(); err != nil {
		return err
	}
	l.wg.Add(1)
	return nil
}

// Wait 停止接受新运行并阻塞到所有后台运行结束。
func (l *runLauncher) Wait() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}
