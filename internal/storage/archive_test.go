package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlflow-proxy-go/internal/stats"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordSink struct {
	mu      sync.Mutex
	records []stats.RequestRecord
	block   chan struct{}
	err     error
}

func (s *recordSink) insert(_ context.Context, rec stats.RequestRecord) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordSink) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Path
	}
	return out
}

func newTestArchive(queueSize int, sink *recordSink) *Archive {
	a := newArchive(queueSize, discardLogger())
	a.insert = sink.insert
	return a
}

func TestArchive_WritesInOrder(t *testing.T) {
	sink := &recordSink{}
	a := newTestArchive(10, sink)
	a.Start()

	for _, p := range []string{"a", "b", "c"} {
		require.True(t, a.Enqueue(stats.RequestRecord{Path: p}))
	}
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, sink.paths())
}

func TestArchive_DropsWhenFull(t *testing.T) {
	sink := &recordSink{block: make(chan struct{})}
	a := newTestArchive(1, sink)
	a.Start()

	// The worker takes the first record and blocks on it; the second fills
	// the queue. Anything after that is dropped.
	require.True(t, a.Enqueue(stats.RequestRecord{Path: "first"}))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, a.Enqueue(stats.RequestRecord{Path: "queued"}))
	assert.False(t, a.Enqueue(stats.RequestRecord{Path: "dropped"}))
	assert.Equal(t, int64(1), a.Dropped())

	close(sink.block)
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, []string{"first", "queued"}, sink.paths())
}

func TestArchive_InsertErrorKeepsGoing(t *testing.T) {
	sink := &recordSink{err: errors.New("db down")}
	a := newTestArchive(10, sink)
	a.Start()

	a.Enqueue(stats.RequestRecord{Path: "a"})
	a.Enqueue(stats.RequestRecord{Path: "b"})
	require.NoError(t, a.Close(context.Background()))

	assert.Len(t, sink.paths(), 2)
}

func TestArchive_EnqueueAfterClose(t *testing.T) {
	a := newTestArchive(10, &recordSink{})
	a.Start()
	require.NoError(t, a.Close(context.Background()))

	assert.False(t, a.Enqueue(stats.RequestRecord{Path: "late"}))
	assert.NoError(t, a.Close(context.Background()), "second Close is a no-op")
}

func TestArchive_CloseTimeout(t *testing.T) {
	sink := &recordSink{block: make(chan struct{})}
	defer close(sink.block)

	a := newTestArchive(10, sink)
	a.Start()
	a.Enqueue(stats.RequestRecord{Path: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)
}

func TestArchive_Nil(t *testing.T) {
	var a *Archive
	a.Start()
	assert.False(t, a.Enqueue(stats.RequestRecord{}))
	assert.Zero(t, a.Dropped())
	assert.NoError(t, a.Close(context.Background()))

	_, err := a.Recent(context.Background(), 10)
	assert.ErrorIs(t, err, ErrClosed)
}

// TestArchive_Postgres runs against a real database when
// MLFLOW_PROXY_TEST_DATABASE_URL is set.
func TestArchive_Postgres(t *testing.T) {
	dsn := os.Getenv("MLFLOW_PROXY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MLFLOW_PROXY_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	a, err := Open(ctx, dsn, 10, discardLogger())
	require.NoError(t, err)
	a.Start()

	rec := stats.NewRecord(time.Now(), "POST", "api/2.0/mlflow/runs/create", "MLflow Tracking: Create Run", 200, 150*time.Millisecond)
	require.True(t, a.Enqueue(rec))

	require.Eventually(t, func() bool {
		got, err := a.Recent(ctx, 1)
		return err == nil && len(got) == 1 && got[0].Path == rec.Path
	}, 5*time.Second, 50*time.Millisecond)

	got, err := a.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rec, got[0])

	require.NoError(t, a.Close(ctx))
}
