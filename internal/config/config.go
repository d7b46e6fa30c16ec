package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9980"
	}
	if c.Engine.TimeoutSeconds <= 0 {
		c.Engine.TimeoutSeconds = 15
	}
	if c.Engine.RateLimitPerMin <= 0 {
		c.Engine.RateLimitPerMin = 60
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/summaries.db"
	}
	if c.Store.AuditPath == "" {
		c.Store.AuditPath = "data/audit.db"
	}
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = 30
	}
	if c.Sync.PageLimit <= 0 {
		c.Sync.PageLimit = 200
	}
}

func validate(c *Config) error {
	if c.Engine.APIURL != "" {
		if _, err := url.Parse(c.Engine.APIURL); err != nil {
			return fmt.Errorf("engine.api_url 非法: %w", err)
		}
	}
	if c.Catalog.RefreshRemote && !c.Engine.Enabled() {
		return fmt.Errorf("catalog.refresh_remote 需要配置 engine.api_url")
	}
	return nil
}
