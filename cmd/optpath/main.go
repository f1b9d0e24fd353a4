package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"optpath/internal/app"
	"optpath/internal/config"
	"optpath/internal/logger"
)

const usage = "用法: optpath [run|serve]"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 返回进程退出码；所有清理都经由 defer 完成，main 只负责 os.Exit。
func run(args []string) int {
	mode := "run"
	if len(args) > 0 {
		mode = strings.ToLower(strings.TrimSpace(args[0]))
	}
	if mode != "run" && mode != "serve" {
		log.Printf("未知子命令 %q；%s", mode, usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := config.ResolvePath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("读取配置失败: %v", err)
		return 1
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Printf("初始化日志文件失败: %v", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，标的=%s，数据源=%s）", cfg.App.Env, cfg.Data.Symbol, cfg.Data.Source)

	a, err := app.NewApp(cfg)
	if err != nil {
		logger.Errorf("初始化应用失败: %v", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnf("关闭应用失败: %v", err)
		}
	}()

	if mode == "serve" {
		if err := a.Serve(ctx); err != nil {
			logger.Errorf("服务运行失败: %v", err)
			return 1
		}
		return 0
	}

	out, err := a.RunOnce(ctx)
	if err != nil {
		logger.Errorf("搜索失败: %v", err)
		logBestWindow(out, "失败前的最优窗口")
		return 1
	}
	if !logBestWindow(out, "最优窗口") {
		logger.Warnf("未找到数据充足的训练窗口")
	}
	return 0
}

func logBestWindow(out *app.Outcome, label string) bool {
	w, ret, ok := out.BestSoFar()
	if !ok {
		return false
	}
	logger.Infof("%s [%d,%d) %s ~ %s，留出集收益 %.4f%%", label, w.Start, w.Start+w.Length, orDash(w.FirstDate), orDash(w.LastDate), ret)
	return true
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
