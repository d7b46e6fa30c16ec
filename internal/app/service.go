package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantdesk/internal/builder"
	"quantdesk/internal/engine"
	"quantdesk/internal/history"
	"quantdesk/internal/logger"
	"quantdesk/internal/store"
	"quantdesk/internal/store/audit"
	"quantdesk/internal/strategy"
)

// ErrEngineOffline 表示未配置外部引擎，提交类操作不可用。
var ErrEngineOffline = errors.New("backtest engine not configured")

// SubmitInput 是 HTTP 层透传的"新建回测"表单内容。
// 字段逐项回放到 RequestBuilder，校验全部由 builder 完成。
type SubmitInput struct {
	StrategyID     string                     `json:"strategy_id" binding:"required"`
	Symbols        []string                   `json:"symbols"`
	InitialCapital float64                    `json:"initial_capital"`
	StartDate      string                     `json:"start_date"`
	EndDate        string                     `json:"end_date"`
	ParameterMode  string                     `json:"parameter_mode"`
	Parameters     map[string]any             `json:"parameters"`
	WalkForward    *builder.WalkForwardConfig `json:"walk_forward"`
}

// Service 编排核心流程：表单→请求→引擎提交，以及引擎历史→本地摘要库。
type Service struct {
	registry  *strategy.Registry
	engine    *engine.Client // 可为 nil（离线模式）
	summaries *store.SummaryStore
	journal   *audit.Journal
	pageLimit int
}

func NewService(registry *strategy.Registry, client *engine.Client, summaries *store.SummaryStore, journal *audit.Journal, pageLimit int) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry 不能为空")
	}
	if summaries == nil {
		return nil, fmt.Errorf("summary store 不能为空")
	}
	if pageLimit <= 0 {
		pageLimit = 200
	}
	return &Service{
		registry:  registry,
		engine:    client,
		summaries: summaries,
		journal:   journal,
		pageLimit: pageLimit,
	}, nil
}

// Strategies 返回当前策略目录（按 ID 排序）。
func (s *Service) Strategies() []strategy.Definition {
	return s.registry.List()
}

// SubmitRun 将表单内容回放到一个新建的 RequestBuilder，构建成功后提交引擎，
// 并把 pending 摘要写入本地库。builder 的哨兵错误原样向上传递，
// 由 HTTP 层映射为具体的未满足约束。
func (s *Service) SubmitRun(ctx context.Context, input SubmitInput) (history.BacktestSummary, error) {
	req, err := s.buildRequest(input)
	if err != nil {
		return history.BacktestSummary{}, err
	}
	if s.engine == nil {
		return history.BacktestSummary{}, ErrEngineOffline
	}

	ack, err := s.engine.SubmitBacktest(ctx, req)
	if err != nil {
		if s.journal != nil {
			if jerr := s.journal.RecordRejected(ctx, ack.RequestID, req, err); jerr != nil {
				logger.Warnf("提交流水写入失败: %v", jerr)
			}
		}
		return history.BacktestSummary{}, fmt.Errorf("提交引擎失败: %w", err)
	}
	if s.journal != nil {
		if jerr := s.journal.RecordAccepted(ctx, ack.RequestID, ack.JobID, req); jerr != nil {
			logger.Warnf("提交流水写入失败: %v", jerr)
		}
	}

	summary := history.BacktestSummary{
		ID:          ack.JobID,
		DisplayName: req.StrategyID + " " + ack.JobID,
		StrategyID:  req.StrategyID,
		Symbols:     req.Symbols,
		DateRange: history.DateRange{
			Start: req.StartDate.Format("2006-01-02"),
			End:   req.EndDate.Format("2006-01-02"),
		},
		Status:    history.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.summaries.Upsert(ctx, summary); err != nil {
		logger.Warnf("pending 摘要写入失败 id=%s: %v", summary.ID, err)
	}
	logger.Infof("[backtest] 提交成功 job=%s strategy=%s symbols=%d", ack.JobID, req.StrategyID, len(req.Symbols))
	return summary, nil
}

// buildRequest 把一次表单提交逐步回放到 Builder 上。
// 提交的 symbols 代表最终标的集：先清掉选策略带入的默认集再逐个加入。
func (s *Service) buildRequest(input SubmitInput) (builder.BacktestRequest, error) {
	b := builder.New(s.registry)
	def, err := b.SelectStrategy(input.StrategyID)
	if err != nil {
		return builder.BacktestRequest{}, err
	}
	if len(input.Symbols) > 0 {
		for _, sym := range def.DefaultTickers {
			b.RemoveTicker(sym)
		}
		for _, sym := range input.Symbols {
			b.AddTicker(sym)
		}
	}
	if input.ParameterMode != "" {
		if err := b.SetParameterMode(input.ParameterMode); err != nil {
			return builder.BacktestRequest{}, err
		}
	}
	for name, raw := range input.Parameters {
		if err := b.SetParameter(name, raw); err != nil {
			return builder.BacktestRequest{}, err
		}
	}
	if input.WalkForward != nil {
		if err := b.SetWalkForward(*input.WalkForward); err != nil {
			return builder.BacktestRequest{}, err
		}
	}
	b.SetInitialCapital(input.InitialCapital)
	start, end, err := parseDateRange(input.StartDate, input.EndDate)
	if err != nil {
		return builder.BacktestRequest{}, err
	}
	b.SetDateRange(start, end)
	return b.Build()
}

// SyncRuns 从引擎拉取运行记录并归一化落库。
// 身份缺失的记录在这里记日志后跳过（该决定属于调用方，不属于归一化层）。
func (s *Service) SyncRuns(ctx context.Context) error {
	if s.engine == nil {
		return nil
	}
	records, err := s.engine.ListRuns(ctx, s.pageLimit)
	if err != nil {
		return fmt.Errorf("拉取引擎历史失败: %w", err)
	}
	summaries, rejected := history.NormalizeAll(records)
	for _, rerr := range rejected {
		logger.Warnf("[sync] 丢弃无法归一化的记录: %v", rerr)
	}
	if err := s.summaries.UpsertAll(ctx, summaries); err != nil {
		return fmt.Errorf("写入摘要库失败: %w", err)
	}
	logger.Debugf("[sync] 同步 %d 条运行记录（丢弃 %d）", len(summaries), len(rejected))
	return nil
}

// ListRuns 返回最近创建优先的摘要列表；在线模式下先做一次尽力同步。
func (s *Service) ListRuns(ctx context.Context, limit int) ([]history.BacktestSummary, error) {
	if err := s.SyncRuns(ctx); err != nil {
		logger.Warnf("历史同步失败，回退本地数据: %v", err)
	}
	return s.summaries.List(ctx, limit)
}

// GetRun 返回单条摘要；本地缺失时在线模式下回源引擎。
func (s *Service) GetRun(ctx context.Context, id string) (history.BacktestSummary, error) {
	summary, err := s.summaries.Get(ctx, id)
	if err == nil {
		return summary, nil
	}
	if !errors.Is(err, store.ErrNotFound) || s.engine == nil {
		return history.BacktestSummary{}, err
	}
	record, err := s.engine.GetRun(ctx, id)
	if err != nil {
		return history.BacktestSummary{}, store.ErrNotFound
	}
	summary, nerr := history.Normalize(record)
	if nerr != nil {
		return history.BacktestSummary{}, store.ErrNotFound
	}
	if uerr := s.summaries.Upsert(ctx, summary); uerr != nil {
		logger.Warnf("回源摘要写入失败 id=%s: %v", id, uerr)
	}
	return summary, nil
}

// Submissions 返回最近的提交流水。
func (s *Service) Submissions(ctx context.Context, limit int) ([]audit.Entry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.ListRecent(ctx, limit)
}

// RefreshCatalog 从引擎拉取远端策略目录并注入 registry。
func (s *Service) RefreshCatalog(ctx context.Context) error {
	if s.engine == nil {
		return ErrEngineOffline
	}
	defs, err := s.engine.FetchStrategies(ctx)
	if err != nil {
		return fmt.Errorf("拉取远端策略目录失败: %w", err)
	}
	s.registry.SetRemote(defs)
	logger.Infof("远端策略目录刷新成功，共 %d 条", len(defs))
	return nil
}

func parseDateRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date %q", builder.ErrInvalidDateRange, start)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date %q", builder.ErrInvalidDateRange, end)
	}
	return s, e, nil
}
