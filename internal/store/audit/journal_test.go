package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quantdesk/internal/builder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := NewJournal(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return journal
}

func sampleRequest() builder.BacktestRequest {
	return builder.BacktestRequest{
		StrategyID:     "momentum",
		Symbols:        []string{"SPY", "IWM"},
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		InitialCapital: 50000,
		ParameterMode:  builder.ModeOptimize,
	}
}

func TestJournalRecordAndList(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, journal.RecordAccepted(ctx, "req-1", "job-1", sampleRequest()))
	require.NoError(t, journal.RecordRejected(ctx, "req-2", sampleRequest(), errors.New("engine says no")))

	entries, err := journal.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// 最近写入的在前。
	rejected := entries[0]
	assert.Equal(t, "req-2", rejected.RequestID)
	assert.Equal(t, "rejected", rejected.Outcome)
	assert.Equal(t, "engine says no", rejected.Error)
	assert.Empty(t, rejected.JobID)

	accepted := entries[1]
	assert.Equal(t, "req-1", accepted.RequestID)
	assert.Equal(t, "accepted", accepted.Outcome)
	assert.Equal(t, "job-1", accepted.JobID)
	assert.Equal(t, "momentum", accepted.StrategyID)
	assert.Contains(t, accepted.Payload, `"strategy_id":"momentum"`)
	assert.Empty(t, accepted.Error)
}

func TestJournalListLimit(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, journal.RecordAccepted(ctx, "req", "job", sampleRequest()))
	}
	entries, err := journal.ListRecent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestJournalClosed(t *testing.T) {
	journal := newTestJournal(t)
	require.NoError(t, journal.Close())
	err := journal.RecordAccepted(context.Background(), "r", "j", sampleRequest())
	assert.Error(t, err)
	_, err = journal.ListRecent(context.Background(), 1)
	assert.Error(t, err)
}
