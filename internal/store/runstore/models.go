package runstore

import (
	"time"

	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusDone     RunStatus = "done"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
)

// Terminal 报告状态是否不会再变化。
func (s RunStatus) Terminal() bool {
	return s == RunStatusDone || s == RunStatusFailed || s == RunStatusCanceled
}

type searchRunModel struct {
	ID            string         `gorm:"column:id;primaryKey;type:TEXT"`
	Symbol        string         `gorm:"column:symbol;index"`
	Source        string         `gorm:"column:source"`
	Status        RunStatus      `gorm:"column:status;index"`
	Seed          int64          `gorm:"column:seed"`
	Chains        int            `gorm:"column:chains"`
	MaxIterations int            `gorm:"column:max_iterations"`
	Iterations    int            `gorm:"column:iterations"`
	BestStart     *int           `gorm:"column:best_start"`
	BestLength    *int           `gorm:"column:best_length"`
	BestReturn    *float64       `gorm:"column:best_return"`
	FirstDate     string         `gorm:"column:first_date"`
	LastDate      string         `gorm:"column:last_date"`
	ConfigJSON    datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	ReportJSON    datatypes.JSON `gorm:"column:report_json;type:TEXT"`
	Message       string         `gorm:"column:message"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
	FinishedAt    *time.Time     `gorm:"column:finished_at"`
}

func (searchRunModel) TableName() string { return "search_runs" }

type searchIterationModel struct {
	ID           int64    `gorm:"column:id;primaryKey;autoIncrement"`
	RunID        string   `gorm:"column:run_id;uniqueIndex:idx_run_iter,priority:1"`
	Chain        int      `gorm:"column:chain;uniqueIndex:idx_run_iter,priority:2"`
	Iter         int      `gorm:"column:iter;uniqueIndex:idx_run_iter,priority:3"`
	Start        int      `gorm:"column:start"`
	Length       int      `gorm:"column:length"`
	Return       *float64 `gorm:"column:ret"`
	Accepted     bool     `gorm:"column:accepted"`
	Insufficient bool     `gorm:"column:insufficient"`
	BestReturn   *float64 `gorm:"column:best_return"`
	Temperature  float64  `gorm:"column:temperature"`
}

func (searchIterationModel) TableName() string { return "search_iterations" }

type ledgerRowModel struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string `gorm:"column:run_id;uniqueIndex:idx_run_ledger,priority:1"`
	Idx        int    `gorm:"column:idx;uniqueIndex:idx_run_ledger,priority:2"`
	Date       string `gorm:"column:date"`
	Price      string `gorm:"column:price"`
	Signal     int    `gorm:"column:signal"`
	Traded     int64  `gorm:"column:traded"`
	Cash       string `gorm:"column:cash"`
	Position   int64  `gorm:"column:position"`
	TotalValue string `gorm:"column:total_value"`
}

func (ledgerRowModel) TableName() string { return "ledger_rows" }
