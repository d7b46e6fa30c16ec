// Package store 持久化规范化后的回测摘要，供历史列表/详情页查询。
// 最近创建优先的排序在这里做，归一化层保持纯映射。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quantdesk/internal/history"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// ErrNotFound 表示摘要不存在。
var ErrNotFound = errors.New("summary not found")

// summaryModel 是 backtest_summaries 表的 Gorm 模型。
type summaryModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	DisplayName string `gorm:"size:255"`
	StrategyID  string `gorm:"size:64;index"`
	Symbols     datatypes.JSON
	StartDate   string `gorm:"size:32"`
	EndDate     string `gorm:"size:32"`
	Status      string `gorm:"size:16;index"`
	Metrics     datatypes.JSON
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

func (summaryModel) TableName() string {
	return "backtest_summaries"
}

// SummaryStore implements backtest summary storage using Gorm + SQLite.
type SummaryStore struct {
	db *gorm.DB
}

// NewSummaryStore initializes the store at path, creating the schema when absent.
func NewSummaryStore(path string) (*SummaryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("summary store: 路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// CGO_ENABLED=0 build: back the gorm sqlite dialect with the pure-Go
	// modernc driver, whose DSN pragma syntax the DSN above uses.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&summaryModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &SummaryStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SummaryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert 写入或更新一条摘要（按 ID 冲突覆盖）。
func (s *SummaryStore) Upsert(ctx context.Context, summary history.BacktestSummary) error {
	model, err := toModel(summary)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "strategy_id", "symbols", "start_date",
			"end_date", "status", "metrics", "created_at", "updated_at",
		}),
	}).Create(&model).Error
}

// UpsertAll 批量写入摘要。
func (s *SummaryStore) UpsertAll(ctx context.Context, summaries []history.BacktestSummary) error {
	for _, summary := range summaries {
		if err := s.Upsert(ctx, summary); err != nil {
			return err
		}
	}
	return nil
}

// List 返回最近创建优先的摘要列表。
func (s *SummaryStore) List(ctx context.Context, limit int) ([]history.BacktestSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []summaryModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]history.BacktestSummary, 0, len(models))
	for _, m := range models {
		summary, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// Get 返回指定 ID 的摘要。
func (s *SummaryStore) Get(ctx context.Context, id string) (history.BacktestSummary, error) {
	var model summaryModel
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return history.BacktestSummary{}, ErrNotFound
	}
	if err != nil {
		return history.BacktestSummary{}, err
	}
	return fromModel(model)
}

func toModel(summary history.BacktestSummary) (summaryModel, error) {
	model := summaryModel{
		ID:          summary.ID,
		DisplayName: summary.DisplayName,
		StrategyID:  summary.StrategyID,
		StartDate:   summary.DateRange.Start,
		EndDate:     summary.DateRange.End,
		Status:      summary.Status,
		CreatedAt:   summary.CreatedAt,
		UpdatedAt:   time.Now(),
	}
	if len(summary.Symbols) > 0 {
		raw, err := json.Marshal(summary.Symbols)
		if err != nil {
			return summaryModel{}, err
		}
		model.Symbols = datatypes.JSON(raw)
	}
	if summary.Metrics != nil {
		raw, err := json.Marshal(summary.Metrics)
		if err != nil {
			return summaryModel{}, err
		}
		model.Metrics = datatypes.JSON(raw)
	}
	return model, nil
}

func fromModel(model summaryModel) (history.BacktestSummary, error) {
	summary := history.BacktestSummary{
		ID:          model.ID,
		DisplayName: model.DisplayName,
		StrategyID:  model.StrategyID,
		DateRange:   history.DateRange{Start: model.StartDate, End: model.EndDate},
		Status:      model.Status,
		CreatedAt:   model.CreatedAt,
	}
	if len(model.Symbols) > 0 {
		if err := json.Unmarshal(model.Symbols, &summary.Symbols); err != nil {
			return history.BacktestSummary{}, err
		}
	}
	if len(model.Metrics) > 0 {
		var metrics history.PerformanceMetrics
		if err := json.Unmarshal(model.Metrics, &metrics); err != nil {
			return history.BacktestSummary{}, err
		}
		summary.Metrics = &metrics
	}
	return summary, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
