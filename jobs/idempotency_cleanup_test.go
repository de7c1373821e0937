package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/rentdesk/rentdesk/internal/jobs"
)

type stubCleaner struct {
	retention time.Duration
	err       error
}

func (s *stubCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return 4, s.err
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	store := &stubCleaner{}
	job := NewIdempotencyCleanupJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, store.retention)
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	store := &stubCleaner{}
	job := NewIdempotencyCleanupJob(store, nil, nil)
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, defaultIdempotencyRetention, store.retention)
}

func TestIdempotencyCleanupReturnsStoreError(t *testing.T) {
	boom := errors.New("boom")
	job := NewIdempotencyCleanupJob(&stubCleaner{err: boom}, nil, nil)
	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}
