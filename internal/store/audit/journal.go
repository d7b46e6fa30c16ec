// Package audit 记录每次对外提交的回测请求流水（只追加）。
package audit

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

	"quantdesk/internal/builder"

	_ "modernc.org/sqlite"
)

// Entry 是一条提交流水。
type Entry struct {
	RequestID  string    `json:"request_id"`
	JobID      string    `json:"job_id,omitempty"`
	StrategyID string    `json:"strategy_id"`
	Payload    string    `json:"payload"`
	Outcome    string    `json:"outcome"` // accepted/rejected
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Journal 管理 submission_log 表。
type Journal struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewJournal 打开（必要时建表）提交流水库。
func NewJournal(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit journal 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, path: path}, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS submission_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			job_id TEXT,
			strategy_id TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_submission_created ON submission_log(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordAccepted 记录一次被引擎接受的提交。
func (j *Journal) RecordAccepted(ctx context.Context, requestID, jobID string, req builder.BacktestRequest) error {
	return j.insert(ctx, Entry{
		RequestID:  requestID,
		JobID:      jobID,
		StrategyID: req.StrategyID,
		Outcome:    "accepted",
	}, req)
}

// RecordRejected 记录一次失败的提交（引擎错误或传输失败）。
func (j *Journal) RecordRejected(ctx context.Context, requestID string, req builder.BacktestRequest, cause error) error {
	entry := Entry{
		RequestID:  requestID,
		StrategyID: req.StrategyID,
		Outcome:    "rejected",
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	return j.insert(ctx, entry, req)
}

func (j *Journal) insert(ctx context.Context, entry Entry, req builder.BacktestRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return fmt.Errorf("audit journal 已关闭")
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO submission_log
			(request_id, job_id, strategy_id, payload_json, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, nullable(entry.JobID), entry.StrategyID, string(payload),
		entry.Outcome, nullable(entry.Error), time.Now().UnixMilli())
	return err
}

// ListRecent 返回最近的提交流水。
func (j *Journal) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, fmt.Errorf("audit journal 已关闭")
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT request_id, COALESCE(job_id, ''), strategy_id, payload_json,
			outcome, COALESCE(error, ''), created_at
		FROM submission_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var entry Entry
		var createdMs int64
		if err := rows.Scan(&entry.RequestID, &entry.JobID, &entry.StrategyID,
			&entry.Payload, &entry.Outcome, &entry.Error, &createdMs); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
