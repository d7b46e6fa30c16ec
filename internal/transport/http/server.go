// Package http 提供面向运营台前端的 Gin 接口。
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"quantdesk/internal/app"
	"quantdesk/internal/builder"
	"quantdesk/internal/store"

	"github.com/gin-gonic/gin"
)

// Server 暴露策略目录、回测提交与历史查询接口。
type Server struct {
	addr   string
	svc    *app.Service
	router *gin.Engine
}

type Config struct {
	Addr string
	Svc  *app.Service
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:   cfg.Addr,
		svc:    cfg.Svc,
		router: router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/strategies", s.handleStrategies)
	api.POST("/backtest/runs", s.handleRunSubmit)
	api.GET("/backtest/runs", s.handleRunList)
	api.GET("/backtest/runs/:id", s.handleRunDetail)
	api.GET("/backtest/submissions", s.handleSubmissions)
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.svc.Strategies()})
}

func (s *Server) handleRunSubmit(c *gin.Context) {
	var input app.SubmitInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := s.svc.SubmitRun(c.Request.Context(), input)
	if err != nil {
		status, constraint := classifySubmitError(err)
		body := gin.H{"error": err.Error()}
		if constraint != "" {
			body["constraint"] = constraint
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": summary})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.svc.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	summary, err := s.svc.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": summary})
}

func (s *Server) handleSubmissions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.svc.Submissions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": entries})
}

// classifySubmitError 把 builder 的哨兵错误映射为未满足的具体约束，
// 前端据此在对应表单项上提示；其余错误按服务端故障处理。
func classifySubmitError(err error) (int, string) {
	switch {
	case errors.Is(err, builder.ErrUnknownStrategy):
		return http.StatusBadRequest, "unknown_strategy"
	case errors.Is(err, builder.ErrUnknownParameter):
		return http.StatusBadRequest, "unknown_parameter"
	case errors.Is(err, builder.ErrInvalidParameterValue):
		return http.StatusBadRequest, "invalid_parameter_value"
	case errors.Is(err, builder.ErrInvalidWalkForwardConfig):
		return http.StatusBadRequest, "invalid_walk_forward"
	case errors.Is(err, builder.ErrMissingStrategy):
		return http.StatusBadRequest, "missing_strategy"
	case errors.Is(err, builder.ErrEmptyTickerSet):
		return http.StatusBadRequest, "empty_ticker_set"
	case errors.Is(err, builder.ErrInvalidCapital):
		return http.StatusBadRequest, "invalid_capital"
	case errors.Is(err, builder.ErrInvalidDateRange):
		return http.StatusBadRequest, "invalid_date_range"
	case errors.Is(err, app.ErrEngineOffline):
		return http.StatusServiceUnavailable, "engine_offline"
	default:
		return http.StatusBadGateway, ""
	}
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Router exposes the underlying handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
