// Package runstore 持久化搜索运行、逐次迭代与最优窗口的回测账本（gorm + SQLite）。
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound 表示运行记录不存在。
var ErrNotFound = errors.New("run not found")

// Run 是一次搜索运行的记录。Best* 在运行完成且找到有效窗口前为 nil。
type Run struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Source        string          `json:"source"`
	Status        RunStatus       `json:"status"`
	Seed          int64           `json:"seed"`
	Chains        int             `json:"chains"`
	MaxIterations int             `json:"max_iterations"`
	Iterations    int             `json:"iterations"`
	BestStart     *int            `json:"best_start,omitempty"`
	BestLength    *int            `json:"best_length,omitempty"`
	BestReturn    *float64        `json:"best_return,omitempty"`
	FirstDate     string          `json:"first_date,omitempty"`
	LastDate      string          `json:"last_date,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
	Report        json.RawMessage `json:"report,omitempty"`
	Message       string          `json:"message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Outcome 是运行结束时写回的结果。
type Outcome struct {
	Status     RunStatus
	Iterations int
	Found      bool
	BestStart  int
	BestLength int
	BestReturn float64
	FirstDate  string
	LastDate   string
	Report     any
	Message    string
}

// Iteration 是一次退火迭代的记录；Return 为 nil 表示窗口数据不足。
type Iteration struct {
	Chain        int      `json:"chain"`
	Iter         int      `json:"iter"`
	Start        int      `json:"start"`
	Length       int      `json:"length"`
	Return       *float64 `json:"return"`
	Accepted     bool     `json:"accepted"`
	Insufficient bool     `json:"insufficient"`
	BestReturn   *float64 `json:"best_return"`
	Temperature  float64  `json:"temperature"`
}

// LedgerRow 是账本的一行；金额以十进制字符串保存以保持精度。
type LedgerRow struct {
	Idx        int    `json:"idx"`
	Date       string `json:"date"`
	Price      string `json:"price"`
	Signal     int    `json:"signal"`
	Traded     int64  `json:"traded"`
	Cash       string `json:"cash"`
	Position   int64  `json:"position"`
	TotalValue string `json:"total_value"`
}

// Store 基于 gorm + SQLite。
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("runstore: path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&searchRunModel{}, &searchIterationModel{}, &ledgerRowModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun 插入新运行；ID 为空时生成 uuid，状态为空时置为 pending。
func (s *Store) CreateRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now
	m := runToModel(run)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status RunStatus, message string) error {
	res := s.db.WithContext(ctx).Model(&searchRunModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     status,
		"message":    message,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Finish 写回运行结果并标记结束时间。
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":      out.Status,
		"iterations":  out.Iterations,
		"message":     out.Message,
		"first_date":  out.FirstDate,
		"last_date":   out.LastDate,
		"updated_at":  now,
		"finished_at": now,
	}
	if out.Found {
		updates["best_start"] = out.BestStart
		updates["best_length"] = out.BestLength
		updates["best_return"] = out.BestReturn
	}
	if out.Report != nil {
		raw, err := json.Marshal(out.Report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		updates["report_json"] = datatypes.JSON(raw)
	}
	res := s.db.WithContext(ctx).Model(&searchRunModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var m searchRunModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	return modelToRun(m), nil
}

// ListRuns 按创建时间倒序返回最多 limit 条。
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []searchRunModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		out = append(out, modelToRun(m))
	}
	return out, nil
}

// AppendIterations 批量写入迭代记录。
func (s *Store) AppendIterations(ctx context.Context, runID string, iters []Iteration) error {
	if len(iters) == 0 {
		return nil
	}
	models := make([]searchIterationModel, 0, len(iters))
	for _, it := range iters {
		models = append(models, searchIterationModel{
			RunID:        runID,
			Chain:        it.Chain,
			Iter:         it.Iter,
			Start:        it.Start,
			Length:       it.Length,
			Return:       finiteOrNil(it.Return),
			Accepted:     it.Accepted,
			Insufficient: it.Insufficient,
			BestReturn:   finiteOrNil(it.BestReturn),
			Temperature:  it.Temperature,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(&models, 200).Error
}

func (s *Store) ListIterations(ctx context.Context, runID string, offset, limit int) ([]Iteration, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	var models []searchIterationModel
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("chain ASC, iter ASC").
		Offset(max(offset, 0)).Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]Iteration, 0, len(models))
	for _, m := range models {
		out = append(out, Iteration{
			Chain:        m.Chain,
			Iter:         m.Iter,
			Start:        m.Start,
			Length:       m.Length,
			Return:       m.Return,
			Accepted:     m.Accepted,
			Insufficient: m.Insufficient,
			BestReturn:   m.BestReturn,
			Temperature:  m.Temperature,
		})
	}
	return out, nil
}

// SaveLedger 替换运行的账本。
func (s *Store) SaveLedger(ctx context.Context, runID string, rows []LedgerRow) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&ledgerRowModel{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		models := make([]ledgerRowModel, 0, len(rows))
		for _, r := range rows {
			models = append(models, ledgerRowModel{
				RunID:      runID,
				Idx:        r.Idx,
				Date:       r.Date,
				Price:      r.Price,
				Signal:     r.Signal,
				Traded:     r.Traded,
				Cash:       r.Cash,
				Position:   r.Position,
				TotalValue: r.TotalValue,
			})
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

func (s *Store) ListLedger(ctx context.Context, runID string) ([]LedgerRow, error) {
	var models []ledgerRowModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("idx ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]LedgerRow, 0, len(models))
	for _, m := range models {
		out = append(out, LedgerRow{
			Idx:        m.Idx,
			Date:       m.Date,
			Price:      m.Price,
			Signal:     m.Signal,
			Traded:     m.Traded,
			Cash:       m.Cash,
			Position:   m.Position,
			TotalValue: m.TotalValue,
		})
	}
	return out, nil
}

func runToModel(r Run) searchRunModel {
	return searchRunModel{
		ID:            r.ID,
		Symbol:        r.Symbol,
		Source:        r.Source,
		Status:        r.Status,
		Seed:          r.Seed,
		Chains:        r.Chains,
		MaxIterations: r.MaxIterations,
		Iterations:    r.Iterations,
		BestStart:     r.BestStart,
		BestLength:    r.BestLength,
		BestReturn:    finiteOrNil(r.BestReturn),
		FirstDate:     r.FirstDate,
		LastDate:      r.LastDate,
		ConfigJSON:    jsonOrEmpty(r.Config),
		ReportJSON:    jsonOrEmpty(r.Report),
		Message:       r.Message,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		FinishedAt:    r.FinishedAt,
	}
}

func modelToRun(m searchRunModel) Run {
	return Run{
		ID:            m.ID,
		Symbol:        m.Symbol,
		Source:        m.Source,
		Status:        m.Status,
		Seed:          m.Seed,
		Chains:        m.Chains,
		MaxIterations: m.MaxIterations,
		Iterations:    m.Iterations,
		BestStart:     m.BestStart,
		BestLength:    m.BestLength,
		BestReturn:    m.BestReturn,
		FirstDate:     m.FirstDate,
		LastDate:      m.LastDate,
		Config:        json.RawMessage(m.ConfigJSON),
		Report:        json.RawMessage(m.ReportJSON),
		Message:       m.Message,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		FinishedAt:    m.FinishedAt,
	}
}

// finiteOrNil 把 ±Inf/NaN 映射为 NULL，SQLite 与 JSON 都无法可靠表示它们。
func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsInf(*v, 0) || math.IsNaN(*v) {
		return nil
	}
	return v
}

func jsonOrEmpty(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

// Float 便于构造可空收益。
func Float(v float64) *float64 { return &v }
