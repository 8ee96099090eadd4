package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notegraph/internal/logging"
	"notegraph/internal/store"
	"notegraph/internal/transparency"
	"notegraph/internal/types"
)

// =============================================================================
// TASK SCHEDULER
// =============================================================================
//
// The scheduler drains the TaskQueue through the analyzer. All workers share
// one limiter, so task starts are spaced by the throttle delay no matter how
// many workers run. Failed tasks are dropped and counted; there are no retries.

// Classifier produces a classification for one document.
type Classifier interface {
	Classify(ctx context.Context, path string) (*types.Classification, error)
}

// ClassificationSink persists scheduler output.
type ClassificationSink interface {
	UpsertClassification(c *types.Classification) error
	LogProcessing(e *types.ProcessingEntry) error
}

// SchedulerConfig tunes the drain loop.
type SchedulerConfig struct {
	Workers      int           // concurrent drain loops
	Throttle     time.Duration // minimum spacing between task starts, across all workers
	PollInterval time.Duration // sleep when the queue is empty and no push arrives
	ErrorBackoff time.Duration // sleep after the loop itself fails
}

// DefaultSchedulerConfig matches 10 analyses per minute on one worker.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:      1,
		Throttle:     6 * time.Second,
		PollInterval: 10 * time.Second,
		ErrorBackoff: 30 * time.Second,
	}
}

// TaskScheduler dispatches queued tasks to the analyzer.
type TaskScheduler struct {
	queue    *TaskQueue
	analyzer Classifier
	sink     ClassificationSink
	recorder Recorder
	config   SchedulerConfig
	limiter  *rate.Limiter
	now      func() time.Time

	mu      sync.Mutex
	current map[int]string // worker id -> path being analyzed
}

// NewTaskScheduler wires a scheduler. recorder may be nil.
func NewTaskScheduler(queue *TaskQueue, analyzer Classifier, sink ClassificationSink, recorder Recorder, cfg SchedulerConfig) *TaskScheduler {
	def := DefaultSchedulerConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.Throttle < 0 {
		cfg.Throttle = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &TaskScheduler{
		queue:    queue,
		analyzer: analyzer,
		sink:     sink,
		recorder: recorder,
		config:   cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.Throttle), 1),
		now:      time.Now,
		current:  make(map[int]string),
	}
}

// Queue returns the scheduler's queue.
func (s *TaskScheduler) Queue() *TaskQueue { return s.queue }

// Workers returns the configured worker count.
func (s *TaskScheduler) Workers() int { return s.config.Workers }

// Current returns the paths being analyzed right now.
func (s *TaskScheduler) Current() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.current))
	for _, p := range s.current {
		out = append(out, p)
	}
	return out
}

// Run starts the configured number of drain loops and blocks until ctx is
// cancelled and all of them have returned.
func (s *TaskScheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.Drain(ctx, id)
		}(i)
	}
	wg.Wait()
}

// Drain is one worker loop: pop, wait for the shared limiter, process, repeat.
func (s *TaskScheduler) Drain(ctx context.Context, worker int) {
	logging.Scheduler("worker %d started (throttle %v)", worker, s.config.Throttle)
	defer logging.Scheduler("worker %d stopped", worker)

	for {
		task, err := s.queue.Next(ctx, s.config.PollInterval)
		if err != nil {
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.queue.Done()
			return
		}

		loopErr := s.dispatch(ctx, worker, task)
		s.queue.Done()
		if ctx.Err() != nil {
			return
		}

		if loopErr != nil {
			logging.SchedulerError("worker %d: %v", worker, loopErr)
			s.recorder.Error(loopErr)
			if !sleepCtx(ctx, s.config.ErrorBackoff) {
				return
			}
		}
	}
}

// dispatch runs one task. Task failures are handled here; only a panic
// escapes as a loop error.
func (s *TaskScheduler) dispatch(ctx context.Context, worker int, task types.AnalysisTask) (loopErr error) {
	s.mu.Lock()
	s.current[worker] = task.Path
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.current, worker)
		s.mu.Unlock()
		if r := recover(); r != nil {
			loopErr = fmt.Errorf("panic processing %s: %v", task.Path, r)
		}
	}()

	s.Process(ctx, task)
	return nil
}

// Process classifies one document and stores the result. It returns the
// stored classification, or nil when the task failed or was skipped.
func (s *TaskScheduler) Process(ctx context.Context, task types.AnalysisTask) *types.Classification {
	timer := logging.StartTimer(logging.CategoryScheduler, "analyze "+types.DisplayName(task.Path))
	defer timer.StopWithThreshold(30 * time.Second)

	logging.Scheduler("processing %s: %s", task.Kind, types.DisplayName(task.Path))

	if _, err := os.Stat(task.Path); errors.Is(err, os.ErrNotExist) {
		logging.SchedulerDebug("skipping %s: file no longer exists", task.Path)
		s.log(task, store.StatusSkipped, "file no longer exists")
		return nil
	}

	c, err := s.analyzer.Classify(ctx, task.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.fail(task, err)
		return nil
	}
	if c.AnalyzedAt.IsZero() {
		c.AnalyzedAt = s.now()
	}

	if err := s.sink.UpsertClassification(c); err != nil {
		s.fail(task, err)
		return nil
	}

	s.log(task, store.StatusSuccess, fmt.Sprintf("%s: %s", c.ContentType, c.PrimaryTopic))
	s.recorder.DocumentProcessed(task.Path)
	logging.Scheduler("analyzed %s -> %s", types.DisplayName(task.Path), c.PrimaryTopic)
	return c
}

func (s *TaskScheduler) fail(task types.AnalysisTask, err error) {
	logging.SchedulerError("%s %s: %v", transparency.CategoryOf(err).Prefix(), types.DisplayName(task.Path), err)
	s.recorder.Error(err)
	s.log(task, store.StatusError, err.Error())
}

func (s *TaskScheduler) log(task types.AnalysisTask, status, details string) {
	entry := &types.ProcessingEntry{
		Path:      task.Path,
		Action:    store.ActionAnalyze,
		Status:    status,
		Timestamp: s.now(),
		Details:   string(task.Kind) + ": " + details,
	}
	if err := s.sink.LogProcessing(entry); err != nil {
		logging.SchedulerDebug("processing log write failed: %v", err)
	}
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
