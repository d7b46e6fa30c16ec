package history

import (
	"encoding/json"
	"strings"
	"time"

	"quantdesk/internal/pkg/convert"
)

// RawRunRecord 对应回测引擎 history 接口返回的单条原始记录。
// 引擎（及其 mock 数据）对同一概念存在多个字段别名（run_id/job_id、
// name/display_name 等），这里在解码时统一收敛；缺失的可选字段保持缺失
// （指针为 nil），不会退化成 0 值。
type RawRunRecord struct {
	RunID       string
	JobID       string
	DisplayName string
	StrategyID  string
	Symbols     []string
	StartDate   string
	EndDate     string
	Status      string
	CreatedAt   time.Time

	// 比率字段按引擎契约为小数（0.187），归一化时统一放大为百分数。
	TotalReturn  *float64
	SharpeRatio  *float64
	MaxDrawdown  *float64
	WinRate      *float64
	TotalTrades  *int
	AvgWin       *float64
	AvgLoss      *float64
	ProfitFactor *float64
}

func (r *RawRunRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.RunID = coerceString(raw["run_id"])
	r.JobID = coerceString(raw["job_id"])
	r.DisplayName = firstString(raw, "display_name", "name", "strategy_name")
	r.StrategyID = firstString(raw, "strategy_id", "strategy")
	r.Symbols = coerceSymbols(pick(raw, "symbols", "tickers"))
	r.StartDate = firstString(raw, "start_date", "start")
	r.EndDate = firstString(raw, "end_date", "end")
	if rng, ok := raw["date_range"].(map[string]any); ok {
		if r.StartDate == "" {
			r.StartDate = firstString(rng, "start", "start_date", "from")
		}
		if r.EndDate == "" {
			r.EndDate = firstString(rng, "end", "end_date", "to")
		}
	}
	r.Status = coerceString(raw["status"])
	r.CreatedAt = coerceTime(pick(raw, "created_at", "submitted_at"))

	r.TotalReturn = optFloat(raw["total_return"])
	r.SharpeRatio = optFloat(pick(raw, "sharpe_ratio", "sharpe"))
	r.MaxDrawdown = optFloat(pick(raw, "max_drawdown", "max_dd"))
	r.WinRate = optFloat(raw["win_rate"])
	r.TotalTrades = optInt(pick(raw, "total_trades", "trades", "num_trades"))
	r.AvgWin = optFloat(pick(raw, "avg_win", "average_win"))
	r.AvgLoss = optFloat(pick(raw, "avg_loss", "average_loss"))
	r.ProfitFactor = optFloat(raw["profit_factor"])
	return nil
}

func pick(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := coerceString(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func coerceString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	default:
		return ""
	}
}

// optFloat 仅在原始值确实是数字（或可解析的数字字符串）时返回指针。
func optFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	f, ok := convert.Float64(v)
	if !ok {
		return nil
	}
	return &f
}

func optInt(v any) *int {
	f := optFloat(v)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

// coerceSymbols 接受数组或逗号分隔字符串两种形态。
func coerceSymbols(v any) []string {
	var items []string
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			items = append(items, coerceString(item))
		}
	case []string:
		items = x
	case string:
		items = strings.Split(x, ",")
	default:
		return nil
	}
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// coerceTime 接受 RFC3339 字符串、unix 秒或 unix 毫秒。
func coerceTime(v any) time.Time {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
		if ts, err := time.Parse("2006-01-02", s); err == nil {
			return ts
		}
		return time.Time{}
	default:
		f, ok := convert.Float64(v)
		if !ok || f <= 0 {
			return time.Time{}
		}
		// 毫秒时间戳明显大于秒级时间戳。
		if f > 1e12 {
			return time.UnixMilli(int64(f)).UTC()
		}
		return time.Unix(int64(f), 0).UTC()
	}
}
