package builder

import "time"

// 参数模式：手动填值或交给引擎寻优。
const (
	ModeManual   = "manual"
	ModeOptimize = "optimize"
)

// WalkForwardConfig 描述滚动优化窗口；Enabled=false 时不参与序列化。
type WalkForwardConfig struct {
	Enabled                bool `json:"enabled"`
	WindowSizeDays         int  `json:"window_size_days"`
	StepSizeDays           int  `json:"step_size_days"`
	OptimizationPeriodDays int  `json:"optimization_period_days"`
	MinTradeCount          int  `json:"min_trade_count"`
}

func (w WalkForwardConfig) valid() bool {
	if !w.Enabled {
		return true
	}
	return w.WindowSizeDays > 0 && w.StepSizeDays > 0 &&
		w.OptimizationPeriodDays > 0 && w.MinTradeCount > 0
}

// BacktestRequest 是一次回测提交的不可变快照，构建后不再修改。
// manual 模式下 Parameters 覆盖所选策略的全部参数名，
// 下游无需再回查策略定义。
type BacktestRequest struct {
	StrategyID     string             `json:"strategy_id"`
	Symbols        []string           `json:"symbols"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	InitialCapital float64            `json:"initial_capital"`
	ParameterMode  string             `json:"parameter_mode"`
	Parameters     map[string]any     `json:"parameters,omitempty"`
	WalkForward    *WalkForwardConfig `json:"walk_forward,omitempty"`
}
