package history

import "time"

// 规范化后的运行状态。
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PerformanceMetrics 是完成态回测的绩效指标。
// 所有百分比字段统一为百分数（18.7 而非 0.187）。
type PerformanceMetrics struct {
	TotalReturnPct float64 `json:"total_return_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRatePct     float64 `json:"win_rate_pct"`
	TotalTrades    int     `json:"total_trades"`
	AvgWinPct      float64 `json:"avg_win_pct"`
	AvgLossPct     float64 `json:"avg_loss_pct"`
	ProfitFactor   float64 `json:"profit_factor"`
}

// DateRange 为回测区间的展示表示。
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// BacktestSummary 是一次回测运行的规范化只读视图，
// 列表/详情/对比页统一消费这一个形状。
// Metrics 为空表示"无结果"，而不是全零指标。
type BacktestSummary struct {
	ID          string              `json:"id"`
	DisplayName string              `json:"display_name"`
	StrategyID  string              `json:"strategy_id,omitempty"`
	Symbols     []string            `json:"symbols,omitempty"`
	DateRange   DateRange           `json:"date_range"`
	Status      string              `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	Metrics     *PerformanceMetrics `json:"metrics,omitempty"`
}
