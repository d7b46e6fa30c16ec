// Package app 负责组件装配与生命周期管理。
package app

import (
	"context"
	"fmt"
	"time"

	"quantdesk/internal/config"
	"quantdesk/internal/engine"
	"quantdesk/internal/logger"
	"quantdesk/internal/store"
	"quantdesk/internal/store/audit"
	"quantdesk/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// App 聚合全部长生命周期组件。
type App struct {
	cfg       *config.Config
	registry  *strategy.Registry
	service   *Service
	summaries *store.SummaryStore
	journal   *audit.Journal
}

// NewApp 按配置装配 registry、引擎客户端、存储与服务层。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config 不能为空")
	}

	registry, err := strategy.NewRegistry(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化策略目录失败: %w", err)
	}

	var client *engine.Client
	if cfg.Engine.Enabled() {
		client, err = engine.NewClient(cfg.Engine)
		if err != nil {
			return nil, fmt.Errorf("初始化引擎客户端失败: %w", err)
		}
	} else {
		logger.Warnf("engine.api_url 未配置，进入离线模式")
	}

	summaries, err := store.NewSummaryStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化摘要库失败: %w", err)
	}
	journal, err := audit.NewJournal(cfg.Store.AuditPath)
	if err != nil {
		summaries.Close()
		return nil, fmt.Errorf("初始化提交流水库失败: %w", err)
	}

	svc, err := NewService(registry, client, summaries, journal, cfg.Sync.PageLimit)
	if err != nil {
		journal.Close()
		summaries.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		registry:  registry,
		service:   svc,
		summaries: summaries,
		journal:   journal,
	}, nil
}

// Service 返回编排服务，供传输层挂载。
func (a *App) Service() *Service {
	return a.service
}

// Run 启动后台任务并阻塞到 ctx 取消。
// serve 为 HTTP 入口（由 cmd 侧注入，避免 app 反向依赖传输层）。
func (a *App) Run(ctx context.Context, serve func(context.Context) error) error {
	defer a.shutdown()

	// 远端目录拉取失败只降级告警，内置目录兜底。
	if a.cfg.Catalog.RefreshRemote {
		if err := a.service.RefreshCatalog(ctx); err != nil {
			logger.Warnf("远端策略目录拉取失败，使用本地目录: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if serve != nil {
		g.Go(func() error {
			return serve(gctx)
		})
	}
	if a.cfg.Engine.Enabled() {
		g.Go(func() error {
			a.syncLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) syncLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Sync.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if err := a.service.SyncRuns(ctx); err != nil {
		logger.Warnf("首次历史同步失败: %v", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.service.SyncRuns(ctx); err != nil {
				logger.Warnf("历史同步失败: %v", err)
			}
		}
	}
}

func (a *App) shutdown() {
	if err := a.journal.Close(); err != nil {
		logger.Warnf("关闭提交流水库失败: %v", err)
	}
	if err := a.summaries.Close(); err != nil {
		logger.Warnf("关闭摘要库失败: %v", err)
	}
}
