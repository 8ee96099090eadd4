package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notegraph/internal/store"
	"notegraph/internal/transparency"
	"notegraph/internal/types"
)

func writeNotes(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("# "+n), 0644))
		paths = append(paths, p)
	}
	return paths
}

func fastSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Workers: 1, Throttle: 0, PollInterval: 10 * time.Millisecond, ErrorBackoff: 10 * time.Millisecond}
}

func TestTaskScheduler_ProcessStoresAndLogs(t *testing.T) {
	paths := writeNotes(t, "alpha.md")
	st := &memStore{}
	rec := &countingRecorder{}
	s := NewTaskScheduler(NewTaskQueue(), &fakeClassifier{}, st, rec, fastSchedulerConfig())

	c := s.Process(context.Background(), types.AnalysisTask{Path: paths[0], Kind: types.TaskNew})
	require.NotNil(t, c)
	assert.False(t, c.AnalyzedAt.IsZero())

	list, _ := st.ListClassifications()
	require.Len(t, list, 1)
	assert.Equal(t, "topic of alpha", list[0].PrimaryTopic)

	entries := st.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, store.ActionAnalyze, entries[0].Action)
	assert.Equal(t, store.StatusSuccess, entries[0].Status)

	processed, _, _, errs := rec.snapshot()
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, errs)
}

func TestTaskScheduler_FailureDroppedAndCounted(t *testing.T) {
	paths := writeNotes(t, "broken.md")
	st := &memStore{}
	rec := &countingRecorder{}
	analyzer := &fakeClassifier{fail: map[string]error{
		paths[0]: transparency.ExternalCall("classify", paths[0], errAnalyzerDown),
	}}
	s := NewTaskScheduler(NewTaskQueue(), analyzer, st, rec, fastSchedulerConfig())

	assert.Nil(t, s.Process(context.Background(), types.AnalysisTask{Path: paths[0], Kind: types.TaskNew}))

	list, _ := st.ListClassifications()
	assert.Empty(t, list)
	entries := st.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, store.StatusError, entries[0].Status)
	assert.Contains(t, entries[0].Details, "analyzer down")

	_, _, _, errs := rec.snapshot()
	assert.Equal(t, 1, errs)
}

func TestTaskScheduler_MissingFileSkipped(t *testing.T) {
	st := &memStore{}
	analyzer := &fakeClassifier{}
	s := NewTaskScheduler(NewTaskQueue(), analyzer, st, nil, fastSchedulerConfig())

	gone := filepath.Join(t.TempDir(), "gone.md")
	assert.Nil(t, s.Process(context.Background(), types.AnalysisTask{Path: gone, Kind: types.TaskModified}))
	assert.Empty(t, analyzer.called())
	require.Len(t, st.entries(), 1)
	assert.Equal(t, store.StatusSkipped, st.entries()[0].Status)
}

func TestTaskScheduler_RunDrainsInPriorityOrder(t *testing.T) {
	paths := writeNotes(t, "new.md", "mod.md", "forced.md")
	q := NewTaskQueue()
	q.Enqueue(paths[0], types.TaskNew)
	q.Enqueue(paths[1], types.TaskModified)
	q.Enqueue(paths[2], types.TaskForced)

	analyzer := &fakeClassifier{}
	rec := &countingRecorder{}
	s := NewTaskScheduler(q, analyzer, &memStore{}, rec, fastSchedulerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, q.WaitIdle(waitCtx))
	cancel()
	<-done

	assert.Equal(t, []string{paths[2], paths[0], paths[1]}, analyzer.called())
	processed, _, _, _ := rec.snapshot()
	assert.Equal(t, 3, processed)
}

func TestTaskScheduler_ThrottleSpacesTasks(t *testing.T) {
	paths := writeNotes(t, "a.md", "b.md")
	q := NewTaskQueue()
	for _, p := range paths {
		q.Enqueue(p, types.TaskNew)
	}
	cfg := fastSchedulerConfig()
	cfg.Throttle = 150 * time.Millisecond
	s := NewTaskScheduler(q, &fakeClassifier{}, &memStore{}, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	start := time.Now()
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, q.WaitIdle(waitCtx))
	elapsed := time.Since(start)
	cancel()
	<-done

	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "second task waits out the throttle")
}

func TestTaskScheduler_ThrottleIsSharedAcrossWorkers(t *testing.T) {
	paths := writeNotes(t, "a.md", "b.md", "c.md", "d.md", "e.md", "f.md")
	q := NewTaskQueue()
	for _, p := range paths {
		q.Enqueue(p, types.TaskNew)
	}
	cfg := fastSchedulerConfig()
	cfg.Workers = 3
	cfg.Throttle = 100 * time.Millisecond
	analyzer := &fakeClassifier{}
	s := NewTaskScheduler(q, analyzer, &memStore{}, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	start := time.Now()
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, q.WaitIdle(waitCtx))
	elapsed := time.Since(start)
	cancel()
	<-done

	assert.Len(t, analyzer.called(), 6)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond, "six starts need five throttle gaps whatever the worker count")
}

func TestTaskScheduler_PanicBecomesLoopError(t *testing.T) {
	paths := writeNotes(t, "boom.md", "fine.md")
	q := NewTaskQueue()
	q.Enqueue(paths[0], types.TaskForced)
	q.Enqueue(paths[1], types.TaskNew)

	analyzer := &fakeClassifier{panic: map[string]bool{paths[0]: true}}
	rec := &countingRecorder{}
	s := NewTaskScheduler(q, analyzer, &memStore{}, rec, fastSchedulerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, q.WaitIdle(waitCtx))
	cancel()
	<-done

	processed, _, _, errs := rec.snapshot()
	assert.Equal(t, 1, processed, "loop survives the panic")
	assert.Equal(t, 1, errs)
}

func TestTaskScheduler_StopsOnCancel(t *testing.T) {
	s := NewTaskScheduler(NewTaskQueue(), &fakeClassifier{}, &memStore{}, nil, SchedulerConfig{Workers: 3})
	assert.Equal(t, 3, s.Workers())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
}
