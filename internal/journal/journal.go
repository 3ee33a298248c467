package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tally/internal/logger"

	_ "modernc.org/sqlite"
)

// EventJournal 管理桥接过程中的审计日志，方便后续排查余额仲裁与平仓问题。
// 它独立于快照库，单连接串行写入。
type EventJournal struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Entry 代表一条审计记录。Detail 为任意 JSON 摘要。
type Entry struct {
	ID        int64  `json:"id"`
	Timestamp int64  `json:"ts"`
	Category  string `json:"category"`
	Account   string `json:"account,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// 审计类别。
const (
	CategoryBalance   = "balance"
	CategoryTrade     = "trade"
	CategoryRecovery  = "recovery"
	CategoryDiagnosis = "diagnosis"
)

// Query 用于筛选审计记录。
type Query struct {
	Category string
	Account  string
	Limit    int
}

// NewEventJournal 初始化 SQLite 审计库。
func NewEventJournal(path string) (*EventJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureJournalSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &EventJournal{db: db, path: path}, nil
}

// Close 关闭底层 DB。
func (j *EventJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func ensureJournalSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bridge_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			category TEXT NOT NULL,
			account TEXT,
			symbol TEXT,
			detail TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_bridge_events_ts ON bridge_events(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_bridge_events_category ON bridge_events(category);`,
		`CREATE INDEX IF NOT EXISTS idx_bridge_events_account ON bridge_events(account);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record 写入一条审计记录。detail 会被序列化为 JSON，失败时降级为空。
func (j *EventJournal) Record(ctx context.Context, category, account, symbol string, detail interface{}) error {
	j.mu.Lock()
	db := j.db
	j.mu.Unlock()
	if db == nil {
		return fmt.Errorf("event journal 未初始化")
	}
	blob := ""
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			logger.Warnf("序列化审计详情失败: %v", err)
		} else {
			blob = string(b)
		}
	}
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO bridge_events (ts, category, account, symbol, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		now, category, account, symbol, blob, now,
	)
	return err
}

// List 返回最新的审计记录，支持按类别/账户过滤。
func (j *EventJournal) List(ctx context.Context, q Query) ([]Entry, error) {
	j.mu.Lock()
	db := j.db
	j.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("event journal 未初始化")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var args []interface{}
	var sb strings.Builder
	sb.WriteString(`SELECT id, ts, category, account, symbol, detail FROM bridge_events WHERE 1=1`)
	if q.Category != "" {
		sb.WriteString(" AND category=?")
		args = append(args, q.Category)
	}
	if strings.TrimSpace(q.Account) != "" {
		sb.WriteString(" AND account=?")
		args = append(args, strings.TrimSpace(q.Account))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ?")
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Entry
	for rows.Next() {
		var (
			e       Entry
			account sql.NullString
			symbol  sql.NullString
			detail  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Category, &account, &symbol, &detail); err != nil {
			return nil, err
		}
		e.Account = account.String
		e.Symbol = symbol.String
		e.Detail = detail.String
		list = append(list, e)
	}
	return list, rows.Err()
}
