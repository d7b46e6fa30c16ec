package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quantdesk/internal/builder"
	"quantdesk/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(config.EngineConfig{
		APIURL:          server.URL,
		TimeoutSeconds:  5,
		RateLimitPerMin: 600,
	})
	require.NoError(t, err)
	client.SetHTTPClient(server.Client())
	return client, server
}

func sampleRequest() builder.BacktestRequest {
	return builder.BacktestRequest{
		StrategyID:     "mean_reversion",
		Symbols:        []string{"SPY"},
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		InitialCapital: 100000,
		ParameterMode:  builder.ModeManual,
		Parameters:     map[string]any{"bb_period": 20.0},
	}
}

func TestClientSubmitBacktest(t *testing.T) {
	t.Run("成功提交", func(t *testing.T) {
		var gotRequestID string
		var gotBody map[string]any
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/api/backtests", r.URL.Path)
			gotRequestID = r.Header.Get("X-Request-ID")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"job_id":"job-7"}`))
		}))

		ack, err := client.SubmitBacktest(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, "job-7", ack.JobID)
		assert.NotEmpty(t, ack.RequestID)
		assert.Equal(t, gotRequestID, ack.RequestID)
		assert.Equal(t, "mean_reversion", gotBody["strategy_id"])
	})

	t.Run("job id 别名", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"run_id":"run-3"}`))
		}))
		ack, err := client.SubmitBacktest(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, "run-3", ack.JobID)
	})

	t.Run("引擎拒绝时仍带回 request id", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		}))
		ack, err := client.SubmitBacktest(context.Background(), sampleRequest())
		require.Error(t, err)
		assert.NotEmpty(t, ack.RequestID)
		assert.Empty(t, ack.JobID)
	})
}

func TestClientListRuns(t *testing.T) {
	t.Run("裸数组", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/backtests", r.URL.Path)
			require.Equal(t, "25", r.URL.Query().Get("limit"))
			w.Write([]byte(`[{"run_id":"a"},{"run_id":"b"}]`))
		}))
		records, err := client.ListRuns(context.Background(), 25)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "a", records[0].RunID)
	})

	t.Run("对象包裹", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"runs":[{"run_id":"a"}],"total":1}`))
		}))
		records, err := client.ListRuns(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
	})

	t.Run("null 响应视为空列表", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`null`))
		}))
		records, err := client.ListRuns(context.Background(), 0)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("形态不识别报错", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"items":[{}]}`))
		}))
		_, err := client.ListRuns(context.Background(), 0)
		assert.Error(t, err)
	})
}

func TestClientGetRun(t *testing.T) {
	t.Run("裹一层 run", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/backtests/r-1", r.URL.Path)
			w.Write([]byte(`{"run":{"run_id":"r-1","status":"completed"}}`))
		}))
		record, err := client.GetRun(context.Background(), "r-1")
		require.NoError(t, err)
		assert.Equal(t, "r-1", record.RunID)
		assert.Equal(t, "completed", record.Status)
	})

	t.Run("空 id 被拒", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		_, err := client.GetRun(context.Background(), "  ")
		assert.Error(t, err)
	})
}

func TestClientFetchStrategies(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/strategies", r.URL.Path)
		w.Write([]byte(`{"strategies":[{"id":"momentum","name":"Momentum"}]}`))
	}))
	defs, err := client.FetchStrategies(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "momentum", defs[0].ID)
}

func TestClientAuth(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)
	client, err := NewClient(config.EngineConfig{APIURL: server.URL, APIToken: "secret"})
	require.NoError(t, err)
	_, err = client.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}
