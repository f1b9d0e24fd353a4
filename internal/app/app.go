package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"optpath/internal/config"
	"optpath/internal/logger"
	"optpath/internal/store/barstore"
	"optpath/internal/store/runstore"
	searchhttp "optpath/internal/transport/http/search"
)

// App 负责应用级编排：加载配置→初始化依赖→执行一次搜索或启动 HTTP 服务。
type App struct {
	cfg      *config.Config
	pipeline *Pipeline
	runs     *runstore.Store
	bars     *barstore.Store
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, opts...)
}

// Pipeline 暴露底层流程（测试用）。
func (a *App) Pipeline() *Pipeline {
	if a == nil {
		return nil
	}
	return a.pipeline
}

// RunOnce 按配置执行一次完整搜索，并写出结果文件。
func (a *App) RunOnce(ctx context.Context) (*Outcome, error) {
	if a == nil || a.pipeline == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	return a.pipeline.Run(ctx, Request{WriteOutputs: true})
}

// Serve 启动 HTTP 服务；ctx 结束后等待后台运行退出。
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.pipeline == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.runs == nil {
		return errors.New("serve requires store.runs_db")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	launcher := newRunLauncher(ctx, a.pipeline)
	srv, err := searchhttp.NewServer(searchhttp.Config{
		Addr:     a.cfg.App.HTTPAddr,
		Launcher: launcher,
		Runs:     a.runs,
	})
	if err != nil {
		return err
	}
	logger.Infof("[app] http listening on %s", a.cfg.App.HTTPAddr)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("search http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		launcher.Wait()
		return nil
	})
	return group.Wait()
}

// Close 释放数据库句柄。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	return errors.Join(a.bars.Close(), a.runs.Close())
}
