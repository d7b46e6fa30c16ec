package config

// Config 是 quantdesk 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Engine  EngineConfig  `toml:"engine"`
	Catalog CatalogConfig `toml:"catalog"`
	Store   StoreConfig   `toml:"store"`
	Sync    SyncConfig    `toml:"sync"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// EngineConfig 描述外部回测引擎的访问方式。
// APIURL 为空时进入离线模式：目录走内置兜底，历史不做远端同步。
type EngineConfig struct {
	APIURL             string `toml:"api_url"`
	APIToken           string `toml:"api_token"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	RateLimitPerMin    int    `toml:"rate_limit_per_min"`
}

// CatalogConfig 控制策略参考数据来源。
type CatalogConfig struct {
	Path          string `toml:"path"`           // 本地目录文件（可选，热更新）
	RefreshRemote bool   `toml:"refresh_remote"` // 是否从引擎拉取远端目录
}

type StoreConfig struct {
	Path      string `toml:"path"`       // 摘要库 sqlite 路径
	AuditPath string `toml:"audit_path"` // 提交流水 sqlite 路径
}

// SyncConfig 控制引擎历史→本地摘要库的同步节奏。
type SyncConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	PageLimit       int `toml:"page_limit"`
}

func (e EngineConfig) Enabled() bool {
	return e.APIURL != ""
}
