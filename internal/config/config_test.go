package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("完整配置", func(t *testing.T) {
		path := writeConfig(t, `
app:
  env: prod
  log_level: debug
  http_addr: ":8080"
engine:
  api_url: "https://engine.example.com"
  api_token: "tok"
  timeout_seconds: 30
catalog:
  path: "configs/strategies.yaml"
  refresh_remote: true
store:
  path: "/tmp/q/summaries.db"
sync:
  interval_seconds: 60
  page_limit: 100
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "prod", cfg.App.Env)
		assert.Equal(t, ":8080", cfg.App.HTTPAddr)
		assert.Equal(t, 30, cfg.Engine.TimeoutSeconds)
		assert.True(t, cfg.Engine.Enabled())
		assert.True(t, cfg.Catalog.RefreshRemote)
		assert.Equal(t, "/tmp/q/summaries.db", cfg.Store.Path)
		assert.Equal(t, 60, cfg.Sync.IntervalSeconds)
		assert.Equal(t, 100, cfg.Sync.PageLimit)
	})

	t.Run("空配置落默认值", func(t *testing.T) {
		path := writeConfig(t, `app: {}`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "dev", cfg.App.Env)
		assert.Equal(t, "info", cfg.App.LogLevel)
		assert.Equal(t, ":9980", cfg.App.HTTPAddr)
		assert.Equal(t, 15, cfg.Engine.TimeoutSeconds)
		assert.Equal(t, "data/summaries.db", cfg.Store.Path)
		assert.Equal(t, "data/audit.db", cfg.Store.AuditPath)
		assert.Equal(t, 30, cfg.Sync.IntervalSeconds)
		assert.False(t, cfg.Engine.Enabled())
	})

	t.Run("refresh_remote 依赖 api_url", func(t *testing.T) {
		path := writeConfig(t, `
catalog:
  refresh_remote: true
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("文件不存在", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("空路径", func(t *testing.T) {
		_, err := Load("  ")
		assert.Error(t, err)
	})
}
