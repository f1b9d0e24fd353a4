// Package barstore 把日线缓存到每个 symbol 一个的 SQLite 文件中。
package barstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"optpath/internal/market"
)

// Manifest 记录某个 symbol 文件的统计信息与已同步区间。
type Manifest struct {
	Symbol      string `json:"symbol"`
	MinDate     string `json:"min_date"`
	MaxDate     string `json:"max_date"`
	Rows        int64  `json:"rows"`
	SyncedStart string `json:"synced_start"`
	SyncedEnd   string `json:"synced_end"`
	LastSyncAt  int64  `json:"last_sync_at"`
	Path        string `json:"path"`
}

// Covers 报告 [start, end] 是否已被同步过（日期为 20060102 字符串比较）。
func (m Manifest) Covers(start, end time.Time) bool {
	if m.SyncedStart == "" || m.SyncedEnd == "" || start.IsZero() || end.IsZero() {
		return false
	}
	return m.SyncedStart <= formatDate(start) && m.SyncedEnd >= formatDate(end)
}

type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol string) (*sql.DB, string, error) {
	key := normalizeSymbol(symbol)
	if key == "" {
		return nil, "", fmt.Errorf("symbol is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.dbPath(key)
	if db, ok := s.dbs[key]; ok {
		return db, path, nil
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, key); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(symbol)
	return filepath.Join(s.root, name+".db")
}

// InsertBars 批量写入日线（重复交易日将被覆盖）。
func (s *Store) InsertBars(ctx context.Context, symbol string, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, formatDate(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := refreshManifest(ctx, db); err != nil {
		return len(bars), err
	}
	return len(bars), nil
}

// RangeBars 返回 [start, end] 内的日线，按日期升序；零值表示不限。
func (s *Store) RangeBars(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	lo, hi := "00000000", "99999999"
	if !start.IsZero() {
		lo = formatDate(start)
	}
	if !end.IsZero() {
		hi = formatDate(end)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM bars
		WHERE date BETWEEN ? AND ?
		ORDER BY date ASC`, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Bar
	for rows.Next() {
		var (
			date string
			b    market.Bar
		)
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		if b.Date, err = market.ParseDate(date); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// MarkSynced 把 [start, end] 并入已同步区间。两段不相交时以新区间为准。
func (s *Store) MarkSynced(ctx context.Context, symbol string, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return nil
	}
	db, _, err := s.db(symbol)
	if err != nil {
		return err
	}
	m, err := s.Manifest(ctx, symbol)
	if err != nil {
		return err
	}
	lo, hi := formatDate(start), formatDate(end)
	if m.SyncedStart != "" && m.SyncedEnd != "" && lo <= m.SyncedEnd && hi >= m.SyncedStart {
		lo = min(lo, m.SyncedStart)
		hi = max(hi, m.SyncedEnd)
	}
	_, err = db.ExecContext(ctx, `UPDATE manifest SET synced_start = ?, synced_end = ?, last_sync_at = ? WHERE id = 1`,
		lo, hi, time.Now().UnixMilli())
	return err
}

func (s *Store) Manifest(ctx context.Context, symbol string) (Manifest, error) {
	db, path, err := s.db(symbol)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT symbol, COALESCE(min_date,''), COALESCE(max_date,''), rows,
		       COALESCE(synced_start,''), COALESCE(synced_end,''), COALESCE(last_sync_at,0)
		FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.MinDate, &m.MaxDate, &m.Rows, &m.SyncedStart, &m.SyncedEnd, &m.LastSyncAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Manifest{}, fmt.Errorf("manifest missing for %s", symbol)
		}
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

func refreshManifest(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_date = (SELECT MIN(date) FROM bars),
		    max_date = (SELECT MAX(date) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars)
		WHERE id = 1`)
	return err
}

func ensureSchema(db *sql.DB, symbol string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			date   TEXT PRIMARY KEY,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			min_date TEXT,
			max_date TEXT,
			rows INTEGER DEFAULT 0,
			synced_start TEXT,
			synced_end TEXT,
			last_sync_at INTEGER
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT INTO manifest (id, symbol) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol`, symbol)
	return err
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func formatDate(t time.Time) string {
	return t.UTC().Format(market.DateLayout)
}
