package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"quantdesk/internal/builder"
	"quantdesk/internal/config"
	"quantdesk/internal/engine"
	"quantdesk/internal/history"
	"quantdesk/internal/store"
	"quantdesk/internal/store/audit"
	"quantdesk/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	registry, err := strategy.NewRegistry("")
	require.NoError(t, err)

	summaries, err := store.NewSummaryStore(filepath.Join(t.TempDir(), "summaries.db"))
	require.NoError(t, err)
	t.Cleanup(func() { summaries.Close() })

	journal, err := audit.NewJournal(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	var client *engine.Client
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		client, err = engine.NewClient(config.EngineConfig{APIURL: server.URL, RateLimitPerMin: 600})
		require.NoError(t, err)
	}

	svc, err := NewService(registry, client, summaries, journal, 50)
	require.NoError(t, err)
	return svc
}

func validInput() SubmitInput {
	return SubmitInput{
		StrategyID:     "mean_reversion",
		Symbols:        []string{"SPY", "IWM"},
		InitialCapital: 100000,
		StartDate:      "2024-01-01",
		EndDate:        "2024-12-31",
		Parameters:     map[string]any{"bb_period": 30},
	}
}

func TestServiceSubmitRun(t *testing.T) {
	t.Run("离线模式拒绝提交", func(t *testing.T) {
		svc := newTestService(t, nil)
		_, err := svc.SubmitRun(context.Background(), validInput())
		assert.ErrorIs(t, err, ErrEngineOffline)
	})

	t.Run("成功提交写入 pending 摘要与流水", func(t *testing.T) {
		svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				w.Write([]byte(`{"job_id":"job-9"}`))
				return
			}
			w.Write([]byte(`[]`))
		}))

		ctx := context.Background()
		summary, err := svc.SubmitRun(ctx, validInput())
		require.NoError(t, err)
		assert.Equal(t, "job-9", summary.ID)
		assert.Equal(t, history.StatusPending, summary.Status)
		assert.Equal(t, []string{"IWM", "SPY"}, summary.Symbols)
		assert.Equal(t, history.DateRange{Start: "2024-01-01", End: "2024-12-31"}, summary.DateRange)

		stored, err := svc.summaries.Get(ctx, "job-9")
		require.NoError(t, err)
		assert.Equal(t, history.StatusPending, stored.Status)

		entries, err := svc.Submissions(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "accepted", entries[0].Outcome)
		assert.Equal(t, "job-9", entries[0].JobID)
	})

	t.Run("引擎拒绝记入流水", func(t *testing.T) {
		svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))

		ctx := context.Background()
		_, err := svc.SubmitRun(ctx, validInput())
		require.Error(t, err)

		entries, err := svc.Submissions(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "rejected", entries[0].Outcome)
		assert.NotEmpty(t, entries[0].RequestID)
		assert.NotEmpty(t, entries[0].Error)
	})

	t.Run("构建失败原样上抛哨兵错误", func(t *testing.T) {
		svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		input := validInput()
		input.StrategyID = "nope"
		_, err := svc.SubmitRun(context.Background(), input)
		assert.ErrorIs(t, err, builder.ErrUnknownStrategy)

		input = validInput()
		input.StartDate = "01/01/2024"
		_, err = svc.SubmitRun(context.Background(), input)
		assert.ErrorIs(t, err, builder.ErrInvalidDateRange)

		input = validInput()
		input.InitialCapital = 0
		_, err = svc.SubmitRun(context.Background(), input)
		assert.ErrorIs(t, err, builder.ErrInvalidCapital)
	})
}

func TestServiceSyncAndList(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"runs":[
			{"run_id":"r-1","strategy_id":"momentum","status":"completed","total_return":0.187,"created_at":"2024-06-01T00:00:00Z"},
			{"status":"completed","total_return":0.5},
			{"run_id":"r-2","status":"running","created_at":"2024-06-02T00:00:00Z"}
		]}`))
	}))

	ctx := context.Background()
	runs, err := svc.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// 最近创建优先。
	assert.Equal(t, "r-2", runs[0].ID)
	assert.Equal(t, "r-1", runs[1].ID)
	require.NotNil(t, runs[1].Metrics)
	assert.Equal(t, 18.7, runs[1].Metrics.TotalReturnPct)
	assert.Nil(t, runs[0].Metrics)
}

func TestServiceGetRun(t *testing.T) {
	t.Run("本地缺失回源引擎", func(t *testing.T) {
		svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/backtests/r-9" {
				w.Write([]byte(`{"run":{"run_id":"r-9","status":"completed","total_return":0.723}}`))
				return
			}
			w.Write([]byte(`[]`))
		}))

		ctx := context.Background()
		summary, err := svc.GetRun(ctx, "r-9")
		require.NoError(t, err)
		assert.Equal(t, "r-9", summary.ID)
		require.NotNil(t, summary.Metrics)
		assert.Equal(t, 72.3, summary.Metrics.TotalReturnPct)

		// 回源后已落库。
		_, err = svc.summaries.Get(ctx, "r-9")
		assert.NoError(t, err)
	})

	t.Run("离线且本地缺失", func(t *testing.T) {
		svc := newTestService(t, nil)
		_, err := svc.GetRun(context.Background(), "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestServiceRefreshCatalog(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"strategies":[{"id":"pairs_trading","name":"Pairs Trading"}]}`))
	}))
	require.NoError(t, svc.RefreshCatalog(context.Background()))

	ids := make([]string, 0)
	for _, def := range svc.Strategies() {
		ids = append(ids, def.ID)
	}
	assert.Contains(t, ids, "pairs_trading")
	assert.Contains(t, ids, "mean_reversion")
}
