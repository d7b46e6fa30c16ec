package strategy

import (
	"fmt"
	"strings"

	"quantdesk/internal/pkg/convert"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 参数类型。
const (
	KindNumeric = "numeric"
	KindBoolean = "boolean"
	KindChoice  = "choice"
)

// ParameterSpec 描述策略的单个可调参数。
type ParameterSpec struct {
	Name    string   `json:"name" yaml:"name" mapstructure:"name"`
	Kind    string   `json:"kind" yaml:"kind" mapstructure:"kind"`
	Default any      `json:"default" yaml:"default" mapstructure:"default"`
	Min     *float64 `json:"min,omitempty" yaml:"min" mapstructure:"min"`
	Max     *float64 `json:"max,omitempty" yaml:"max" mapstructure:"max"`
	Step    *float64 `json:"step,omitempty" yaml:"step" mapstructure:"step"`
	Choices []string `json:"choices,omitempty" yaml:"choices" mapstructure:"choices"`
}

// NormalizedDefault 返回参数默认值；numeric 类型强制转为 float64，
// 避免 YAML/JSON 解码出的 int 与前端提交的 float 混用。
func (p ParameterSpec) NormalizedDefault() any {
	if p.Kind == KindNumeric {
		f, _ := convert.Float64(p.Default)
		return f
	}
	return p.Default
}

// Definition 是外部回测引擎可识别的策略静态描述（只读参考数据）。
type Definition struct {
	ID             string                 `json:"id" yaml:"id" mapstructure:"id"`
	Name           string                 `json:"name" yaml:"name" mapstructure:"name"`
	Category       string                 `json:"category" yaml:"category" mapstructure:"category"`
	DefaultTickers []string               `json:"default_tickers" yaml:"default_tickers" mapstructure:"default_tickers"`
	Parameters     []ParameterSpec        `json:"parameters" yaml:"parameters" mapstructure:"parameters"`
	Schema         map[string]interface{} `json:"schema,omitempty" yaml:"schema" mapstructure:"schema"`

	schemaCompiled *jsonschema.Schema
}

// Parameter 按名称查找参数定义。
func (d Definition) Parameter(name string) (ParameterSpec, bool) {
	name = strings.TrimSpace(name)
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// DefaultParameters 返回 name→默认值 的完整映射。
func (d Definition) DefaultParameters() map[string]any {
	out := make(map[string]any, len(d.Parameters))
	for _, p := range d.Parameters {
		out[p.Name] = p.NormalizedDefault()
	}
	return out
}

// ValidateParams 按策略自带的 JSON Schema 校验手动参数；未配置 schema 时直接通过。
func (d Definition) ValidateParams(params map[string]any) error {
	if d.schemaCompiled == nil {
		return nil
	}
	return d.schemaCompiled.Validate(asJSONValue(params))
}

func validateDefinition(def Definition) error {
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("strategy id 不能为空")
	}
	seen := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("策略 %s 存在未命名参数", def.ID)
		}
		if seen[name] {
			return fmt.Errorf("策略 %s 参数名重复: %s", def.ID, name)
		}
		seen[name] = true
		switch p.Kind {
		case KindNumeric, KindBoolean, KindChoice:
		default:
			return fmt.Errorf("策略 %s 参数 %s 类型未知: %s", def.ID, name, p.Kind)
		}
		if p.Kind == KindChoice && len(p.Choices) == 0 {
			return fmt.Errorf("策略 %s 参数 %s 缺少 choices", def.ID, name)
		}
	}
	return nil
}

// asJSONValue 将 map 转为 jsonschema 可接受的纯 JSON 值（int→float64 等）。
func asJSONValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = asJSONValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = asJSONValue(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}
