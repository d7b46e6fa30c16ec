package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"quantdesk/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileConfig 映射策略目录文件。
type FileConfig struct {
	Strategies map[string]Definition `mapstructure:"strategies" yaml:"strategies"`
}

// Snapshot 公开的策略目录快照。
type Snapshot struct {
	Version    int64
	LoadedAt   time.Time
	Strategies map[string]Definition
}

// ChangeListener 在目录重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理策略参考数据：内置兜底 < 本地目录文件 < 远端目录。
// 目录文件可热更新；远端层由上层在拉取成功后注入。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	file      map[string]Definition
	remote    map[string]Definition
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取目录文件并监听更新；path 为空时只使用内置集。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{}
	path = strings.TrimSpace(path)
	if path == "" {
		r.rebuild()
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy catalog failed: %w", err)
	}
	r.path = path
	r.v = v
	if err := r.reloadFile(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reloadFile(); err != nil {
			logger.Errorf("strategy catalog reload failed (%s): %v", evt.Name, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前目录快照。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Strategy 返回指定 ID 的策略定义。
func (r *Registry) Strategy(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.snapshot.Strategies[strings.TrimSpace(id)]
	return def, ok
}

// List 返回按 ID 排序的策略列表。
func (r *Registry) List() []Definition {
	snap := r.Snapshot()
	out := make([]Definition, 0, len(snap.Strategies))
	for _, def := range snap.Strategies {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	snap := cloneSnapshot(r.snapshot)
	r.mu.Unlock()
	go func() {
		defer safeRecover("strategy listener")
		fn(snap)
	}()
}

// SetRemote 注入远端目录（引擎 /strategies 拉取结果）。
// 校验失败的条目被丢弃并记录，其余条目覆盖同 ID 的本地定义。
func (r *Registry) SetRemote(defs []Definition) {
	accepted := make(map[string]Definition, len(defs))
	for _, def := range defs {
		norm, err := normalizeDefinition(def.ID, def)
		if err != nil {
			logger.Warnf("remote strategy rejected id=%s: %v", def.ID, err)
			continue
		}
		accepted[norm.ID] = norm
	}
	r.mu.Lock()
	r.remote = accepted
	r.mu.Unlock()
	r.rebuild()
	r.notifyListeners()
}

func (r *Registry) reloadFile() error {
	cfg, err := readCatalogFile(r.path)
	if err != nil {
		return err
	}
	loaded := make(map[string]Definition, len(cfg.Strategies))
	for name, def := range cfg.Strategies {
		norm, err := normalizeDefinition(name, def)
		if err != nil {
			return err
		}
		loaded[norm.ID] = norm
	}
	r.mu.Lock()
	r.file = loaded
	r.mu.Unlock()
	r.rebuild()
	logger.Infof("strategy catalog loaded %d definitions from %s", len(loaded), filepath.Base(r.path))
	return nil
}

// rebuild 按 内置 < 文件 < 远端 的顺序合并各层。
func (r *Registry) rebuild() {
	merged := make(map[string]Definition)
	for _, def := range Builtin() {
		norm, err := normalizeDefinition(def.ID, def)
		if err != nil {
			// 内置集异常属于编程错误，直接暴露。
			panic(fmt.Sprintf("builtin strategy invalid: %v", err))
		}
		merged[norm.ID] = norm
	}
	r.mu.Lock()
	for id, def := range r.file {
		merged[id] = def
	}
	for id, def := range r.remote {
		merged[id] = def
	}
	r.snapshot = Snapshot{
		Version:    r.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Strategies: merged,
	}
	r.mu.Unlock()
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("strategy listener")
			cb(snap)
		}(fn)
	}
}

func normalizeDefinition(name string, def Definition) (Definition, error) {
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		def.ID = strings.TrimSpace(name)
	}
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		def.Name = def.ID
	}
	def.DefaultTickers = normalizeTickers(def.DefaultTickers)
	if err := validateDefinition(def); err != nil {
		return Definition{}, err
	}
	if len(def.Schema) > 0 {
		compiled, err := compileSchema(def.Schema)
		if err != nil {
			return Definition{}, fmt.Errorf("策略 %s schema 编译失败: %w", def.ID, err)
		}
		def.schemaCompiled = compiled
	}
	return def, nil
}

func normalizeTickers(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, sym := range in {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:    src.Version,
		LoadedAt:   src.LoadedAt,
		Strategies: make(map[string]Definition, len(src.Strategies)),
	}
	for id, def := range src.Strategies {
		dst.Strategies[id] = def
	}
	return dst
}

func compileSchema(data map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readCatalogFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read strategy catalog failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse strategy catalog failed: %w", err)
	}
	return cfg, nil
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
