package searchhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"optpath/internal/market"
	"optpath/internal/store/runstore"
)

// LaunchRequest 是 POST /api/search/runs 的请求体；省略的字段沿用服务端配置。
type LaunchRequest struct {
	Symbol     string `json:"symbol"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Iterations *int   `json:"iterations"`
	Seed       *int64 `json:"seed"`
	Chains     int    `json:"chains"`

	Start time.Time `json:"-"`
	End   time.Time `json:"-"`
}

// Launcher 创建运行记录并在后台执行，立即返回运行 ID。
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (string, error)
}

// RunReader 读取运行、迭代与账本，runstore.Store 满足该接口。
type RunReader interface {
	GetRun(ctx context.Context, id string) (runstore.Run, error)
	ListRuns(ctx context.Context, limit int) ([]runstore.Run, error)
	ListIterations(ctx context.Context, runID string, offset, limit int) ([]runstore.Iteration, error)
	ListLedger(ctx context.Context, runID string) ([]runstore.LedgerRow, error)
}

// Server 提供搜索运行相关的 HTTP API。
type Server struct {
	addr     string
	launcher Launcher
	runs     RunReader
	router   *gin.Engine
}

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr     string
	Launcher Launcher
	Runs     RunReader
}

// NewServer 构建 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Launcher == nil || cfg.Runs == nil {
		return nil, errors.New("launcher and run reader are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s := &Server{
		addr:     cfg.Addr,
		launcher: cfg.Launcher,
		runs:     cfg.Runs,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

// Handler 暴露路由，便于测试。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api/search")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/iterations", s.handleRunIterations)
	api.GET("/runs/:id/ledger", s.handleRunLedger)
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req LaunchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Iterations != nil && *req.Iterations < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "iterations must be >= 0"})
		return
	}
	if req.Chains < 0 || req.Chains > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chains must be in [0,64]"})
		return
	}
	var err error
	if req.Start, err = parseDate(req.StartDate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date: " + err.Error()})
		return
	}
	if req.End, err = parseDate(req.EndDate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date: " + err.Error()})
		return
	}
	if !req.Start.IsZero() && !req.End.IsZero() && req.End.Before(req.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date before start_date"})
		return
	}
	id, err := s.launcher.Launch(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), 50)
	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunIterations(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	offset := parseIntDefault(c.Query("offset"), 0)
	limit := parseIntDefault(c.Query("limit"), 1000)
	iters, err := s.runs.ListIterations(c.Request.Context(), run.ID, offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"iterations": iters})
}

func (s *Server) handleRunLedger(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	rows, err := s.runs.ListLedger(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ledger": rows})
}

func (s *Server) loadRun(c *gin.Context) (runstore.Run, bool) {
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return runstore.Run{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return runstore.Run{}, false
	}
	return run, true
}

// Start 监听并在 ctx 结束时优雅关闭。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func parseDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return market.ParseDate(s)
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
