package history

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMissingIdentity 表示原始记录既无 run_id 也无 job_id，
// 无法展示或引用，必须显式拒绝而非静默丢弃（是否跳过由调用方决定）。
var ErrMissingIdentity = errors.New("record has neither run_id nor job_id")

var hundred = decimal.NewFromInt(100)

// Normalize 将一条原始记录映射为规范化摘要。
// 除身份缺失外的其余缺失字段一律退化为文档化默认值；
// 指标仅在 total_return 为数字时出现，比率字段统一放大为百分数。
func Normalize(raw RawRunRecord) (BacktestSummary, error) {
	id := raw.RunID
	if id == "" {
		id = raw.JobID
	}
	if id == "" {
		return BacktestSummary{}, ErrMissingIdentity
	}

	s := BacktestSummary{
		ID:         id,
		StrategyID: raw.StrategyID,
		Symbols:    raw.Symbols,
		DateRange:  DateRange{Start: raw.StartDate, End: raw.EndDate},
		CreatedAt:  raw.CreatedAt,
		Status:     normalizeStatus(raw.Status),
	}
	s.DisplayName = displayName(raw, id)

	// total_return 存在且为数字，即视为"已完成且有结果"。
	if raw.TotalReturn != nil {
		s.Status = StatusCompleted
		s.Metrics = buildMetrics(raw)
	}
	return s, nil
}

// NormalizeAll 保序映射一批记录；身份缺失的记录不进入结果，
// 以错误列表形式交还调用方处置。
func NormalizeAll(records []RawRunRecord) ([]BacktestSummary, []error) {
	out := make([]BacktestSummary, 0, len(records))
	var rejected []error
	for i, raw := range records {
		summary, err := Normalize(raw)
		if err != nil {
			rejected = append(rejected, fmt.Errorf("record #%d: %w", i, err))
			continue
		}
		out = append(out, summary)
	}
	return out, rejected
}

func buildMetrics(raw RawRunRecord) *PerformanceMetrics {
	m := &PerformanceMetrics{
		TotalReturnPct: toPercent(*raw.TotalReturn),
	}
	if raw.SharpeRatio != nil {
		m.SharpeRatio = *raw.SharpeRatio
	}
	if raw.MaxDrawdown != nil {
		m.MaxDrawdownPct = toPercent(*raw.MaxDrawdown)
	}
	if raw.WinRate != nil {
		m.WinRatePct = toPercent(*raw.WinRate)
	}
	if raw.TotalTrades != nil {
		m.TotalTrades = *raw.TotalTrades
	}
	if raw.AvgWin != nil {
		m.AvgWinPct = toPercent(*raw.AvgWin)
	}
	if raw.AvgLoss != nil {
		m.AvgLossPct = toPercent(*raw.AvgLoss)
	}
	if raw.ProfitFactor != nil {
		m.ProfitFactor = *raw.ProfitFactor
	}
	return m
}

// toPercent 将小数比率放大为百分数。
// 用 decimal 避免 0.723*100 = 72.30000000000001 这类二进制浮点误差。
// 引擎契约固定为小数；若未来某个来源直接发百分数，属于契约违约，
// 由测试属性兜住而不是在这里猜测补偿。
func toPercent(fraction float64) float64 {
	return decimal.NewFromFloat(fraction).Mul(hundred).InexactFloat64()
}

func displayName(raw RawRunRecord, id string) string {
	if raw.DisplayName != "" {
		return raw.DisplayName
	}
	if raw.StrategyID != "" {
		return raw.StrategyID + " " + id
	}
	return id
}

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusRunning, "in_progress":
		return StatusRunning
	case StatusCompleted, "done", "complete", "finished":
		return StatusCompleted
	case StatusFailed, "error":
		return StatusFailed
	case StatusPending, "queued", "submitted":
		return StatusPending
	default:
		return StatusPending
	}
}
