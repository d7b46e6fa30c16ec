package builder

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"quantdesk/internal/pkg/convert"
	"quantdesk/internal/strategy"
)

// Catalog 提供策略参考数据查询。
type Catalog interface {
	Strategy(id string) (strategy.Definition, bool)
}

// Builder 聚合一次"新建回测"表单的工作态选择，Build 时产出不可变请求。
// 一个实例对应一个进行中的表单，不做并发保护；表单关闭即丢弃。
type Builder struct {
	catalog Catalog

	selected  *strategy.Definition
	tickers   map[string]struct{}
	capital   float64
	startDate time.Time
	endDate   time.Time
	mode      string
	params    map[string]any
	walkFwd   *WalkForwardConfig
}

// New 创建空白构建器。
func New(catalog Catalog) *Builder {
	return &Builder{
		catalog: catalog,
		tickers: make(map[string]struct{}),
		mode:    ModeManual,
		params:  make(map[string]any),
	}
}

// SelectStrategy 选择策略并重置工作态：
// ticker 集重置为策略默认、参数重置为默认映射（numeric 统一为 float64）、
// 模式回到 manual。
func (b *Builder) SelectStrategy(id string) (strategy.Definition, error) {
	def, ok := b.catalog.Strategy(id)
	if !ok {
		return strategy.Definition{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	b.selected = &def
	b.tickers = make(map[string]struct{}, len(def.DefaultTickers))
	for _, sym := range def.DefaultTickers {
		b.tickers[sym] = struct{}{}
	}
	b.params = def.DefaultParameters()
	b.mode = ModeManual
	return def, nil
}

// AddTicker 向工作集添加标的；重复添加为幂等空操作。
func (b *Builder) AddTicker(symbol string) {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return
	}
	b.tickers[sym] = struct{}{}
}

// RemoveTicker 移除标的；不存在时为幂等空操作。
func (b *Builder) RemoveTicker(symbol string) {
	delete(b.tickers, normalizeSymbol(symbol))
}

// Tickers 返回当前工作集（排序副本）。
func (b *Builder) Tickers() []string {
	out := make([]string, 0, len(b.tickers))
	for sym := range b.tickers {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SetParameter 写入单个参数。numeric 输入解析失败时回退到该参数默认值
// （提交永远不会因单个坏数字被卡住，也绝不会累积出 NaN）；
// boolean/choice 仅做类型与取值校验，值原样保留。
func (b *Builder) SetParameter(name string, raw any) error {
	if b.selected == nil {
		return ErrMissingStrategy
	}
	spec, ok := b.selected.Parameter(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	switch spec.Kind {
	case strategy.KindNumeric:
		if v, ok := convert.Float64(raw); ok {
			b.params[spec.Name] = v
		} else {
			b.params[spec.Name] = spec.NormalizedDefault()
		}
	case strategy.KindBoolean:
		v, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("%w: %s expects a boolean", ErrInvalidParameterValue, spec.Name)
		}
		b.params[spec.Name] = v
	case strategy.KindChoice:
		v, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: %s expects a string", ErrInvalidParameterValue, spec.Name)
		}
		v = strings.TrimSpace(v)
		if !containsChoice(spec.Choices, v) {
			return fmt.Errorf("%w: %s not in choices for %s", ErrInvalidParameterValue, v, spec.Name)
		}
		b.params[spec.Name] = v
	}
	return nil
}

// SetParameterMode 切换 manual/optimize；已填的手动值保留，切回 manual 时恢复。
func (b *Builder) SetParameterMode(mode string) error {
	switch mode {
	case ModeManual, ModeOptimize:
		b.mode = mode
		return nil
	default:
		return fmt.Errorf("%w: unknown parameter mode %q", ErrInvalidParameterValue, mode)
	}
}

// SetInitialCapital 写入初始资金（构建时再校验正数）。
func (b *Builder) SetInitialCapital(v float64) {
	b.capital = v
}

// SetDateRange 写入回测区间（构建时再校验先后顺序）。
func (b *Builder) SetDateRange(start, end time.Time) {
	b.startDate = start
	b.endDate = end
}

// SetWalkForward 校验并写入滚动优化配置。
// enabled=true 时四个字段必须全为正整数；校验失败不影响已接受的配置。
func (b *Builder) SetWalkForward(cfg WalkForwardConfig) error {
	if !cfg.valid() {
		return ErrInvalidWalkForwardConfig
	}
	b.walkFwd = &cfg
	return nil
}

// Build 校验工作态并产出不可变请求快照，不修改工作态；
// 两次无间隔调用产出逐字段相等的两个独立请求。
// 校验顺序：策略 → 标的集 → 资金 → 日期。
// manual 模式下缺失的参数用默认值补全，保证下游拿到完整映射。
func (b *Builder) Build() (BacktestRequest, error) {
	if b.selected == nil {
		return BacktestRequest{}, ErrMissingStrategy
	}
	if len(b.tickers) == 0 {
		return BacktestRequest{}, ErrEmptyTickerSet
	}
	if b.capital <= 0 {
		return BacktestRequest{}, ErrInvalidCapital
	}
	if b.startDate.IsZero() || b.endDate.IsZero() || b.startDate.After(b.endDate) {
		return BacktestRequest{}, ErrInvalidDateRange
	}

	req := BacktestRequest{
		StrategyID:     b.selected.ID,
		Symbols:        b.Tickers(),
		StartDate:      b.startDate,
		EndDate:        b.endDate,
		InitialCapital: b.capital,
		ParameterMode:  b.mode,
	}
	if b.mode == ModeManual {
		params := make(map[string]any, len(b.selected.Parameters))
		for _, spec := range b.selected.Parameters {
			if v, ok := b.params[spec.Name]; ok {
				params[spec.Name] = v
			} else {
				params[spec.Name] = spec.NormalizedDefault()
			}
		}
		if err := b.selected.ValidateParams(params); err != nil {
			return BacktestRequest{}, fmt.Errorf("%w: %v", ErrInvalidParameterValue, err)
		}
		req.Parameters = params
	}
	if b.walkFwd != nil && b.walkFwd.Enabled {
		wf := *b.walkFwd
		req.WalkForward = &wf
	}
	return req, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func containsChoice(choices []string, v string) bool {
	for _, c := range choices {
		if strings.EqualFold(c, v) {
			return true
		}
	}
	return false
}
