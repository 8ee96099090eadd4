package system

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"notegraph/internal/config"
	"notegraph/internal/core"
	"notegraph/internal/logging"
	"notegraph/internal/store"
	"notegraph/internal/tactile"
	"notegraph/internal/transparency"
	"notegraph/internal/types"
	"notegraph/internal/world"
)

var (
	// ErrAlreadyRunning is returned by Start on a running service.
	ErrAlreadyRunning = errors.New("service already running")
	// ErrNotRunning is returned by Stop on a stopped service.
	ErrNotRunning = errors.New("service not running")
)

// Loop names reported in Status.
const (
	LoopScanner   = "scanner"
	LoopScheduler = "scheduler"
	LoopDiscovery = "discovery"
	LoopWatcher   = "watcher"
)

// Analyzer is the classify/compare capability the loops depend on.
type Analyzer interface {
	core.Classifier
	core.Comparer
}

// ResultStore is the persistence surface the service uses.
type ResultStore interface {
	core.ClassificationSink
	core.ConnectionSource
	tactile.AppliedMarker
	ListPendingConnections(minScore, minConfidence float64) ([]*types.Connection, error)
	Counts() (store.Counts, error)
	Close() error
}

type loop struct {
	alive atomic.Bool
	done  chan struct{}
}

// Service runs the scanner, drain workers and discoverer as one unit.
type Service struct {
	cfg        *config.Config
	store      ResultStore
	analyzer   Analyzer
	queue      *core.TaskQueue
	scanner    *world.Scanner
	scheduler  *core.TaskScheduler
	discoverer *core.ConnectionDiscoverer
	applier    *tactile.LinkApplier
	metrics    *Metrics
	instanceID string
	ownsStore  bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	loops   map[string]*loop
	watcher *world.ChangeWatcher
	started time.Time
}

// New wires a stopped service over an existing store and analyzer.
func New(cfg *config.Config, st ResultStore, analyzer Analyzer) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if st == nil || analyzer == nil {
		return nil, errors.New("store and analyzer are required")
	}

	metrics := NewMetrics()
	queue := core.NewTaskQueue()
	scanner := world.NewScanner(cfg.Vault.Path, world.PolicyFromConfig(cfg), nil, queue, cfg.Monitoring.FingerprintWorkers)
	applier := tactile.NewLinkApplier(tactile.PolicyFromConfig(cfg), st)
	if counter, ok := st.(tactile.AppliedCounter); ok {
		if err := applier.SeedHour(counter); err != nil {
			logging.ServiceWarn("hourly apply count not restored: %v", err)
		}
	}

	scheduler := core.NewTaskScheduler(queue, analyzer, st, metrics, core.SchedulerConfig{
		Workers:      cfg.Processing.Workers,
		Throttle:     cfg.GetThrottleDelay(),
		PollInterval: cfg.GetPollInterval(),
		ErrorBackoff: cfg.GetErrorBackoff(),
	})
	discoverer := core.NewConnectionDiscoverer(st, analyzer, applier, metrics, core.DiscoveryConfig{
		Interval:         cfg.GetDiscoveryInterval(),
		IdleInterval:     cfg.GetDiscoveryIdleInterval(),
		ErrorBackoff:     cfg.GetDiscoveryIdleInterval(),
		PairDelay:        cfg.GetPairDelay(),
		Window:           cfg.Discovery.Window,
		MaxPerCycle:      cfg.Discovery.MaxPerCycle,
		MinInterestScore: cfg.Analyzer.MinInterestScore,
	})

	s := &Service{
		cfg:        cfg,
		store:      st,
		analyzer:   analyzer,
		queue:      queue,
		scanner:    scanner,
		scheduler:  scheduler,
		discoverer: discoverer,
		applier:    applier,
		metrics:    metrics,
		instanceID: uuid.NewString(),
		loops:      make(map[string]*loop),
	}

	metrics.RegisterGauge("notegraph_queue_size", "Tasks waiting for analysis", func() float64 {
		return float64(queue.Len())
	})
	metrics.RegisterGauge("notegraph_files_tracked", "Documents in the scan baseline", func() float64 {
		return float64(scanner.Baseline().Len())
	})
	metrics.RegisterGauge("notegraph_running", "1 while the service loops are running", func() float64 {
		if s.IsRunning() {
			return 1
		}
		return 0
	})
	metrics.RegisterGauge("notegraph_uptime_seconds", "Seconds since the service was started", func() float64 {
		return s.uptime().Seconds()
	})
	return s, nil
}

// InstanceID identifies this service process.
func (s *Service) InstanceID() string { return s.instanceID }

// Config returns the service configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Metrics returns the service counters.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Queue returns the task queue.
func (s *Service) Queue() *core.TaskQueue { return s.queue }

// Scanner returns the vault scanner.
func (s *Service) Scanner() *world.Scanner { return s.scanner }

// Applier returns the link applier.
func (s *Service) Applier() *tactile.LinkApplier { return s.applier }

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the background loops. It returns ErrAlreadyRunning if the
// service is running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if _, err := os.Stat(s.cfg.Vault.Path); err != nil {
		return transparency.Filesystem("open vault", s.cfg.Vault.Path, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loops = make(map[string]*loop)
	s.started = time.Now()
	s.metrics.markStarted(s.started)

	var wake <-chan struct{}
	if s.cfg.Monitoring.WatchEvents {
		w, err := world.NewChangeWatcher(s.cfg.Vault.Path, s.scanner.Policy(), s.cfg.GetWatchDebounce())
		if err != nil {
			logging.ServiceWarn("change watcher unavailable, relying on interval scans: %v", err)
		} else if err := w.Start(loopCtx); err != nil {
			logging.ServiceWarn("change watcher failed to start: %v", err)
			w.Close()
		} else {
			s.watcher = w
			wake = w.Wake()
		}
	}

	interval := s.cfg.GetScanInterval()
	s.spawn(loopCtx, LoopScanner, func(ctx context.Context) {
		s.scanner.Run(ctx, interval, wake, s.reportScan)
	})
	s.spawn(loopCtx, LoopScheduler, s.scheduler.Run)
	s.spawn(loopCtx, LoopDiscovery, s.discoverer.Run)

	s.running = true
	logging.Service("service %s started: vault=%s workers=%d throttle=%v",
		s.instanceID, s.cfg.Vault.Path, s.scheduler.Workers(), s.cfg.GetThrottleDelay())
	return nil
}

// spawn runs fn in a goroutine tracked under name. Callers hold mu.
func (s *Service) spawn(ctx context.Context, name string, fn func(context.Context)) {
	l := &loop{done: make(chan struct{})}
	l.alive.Store(true)
	s.loops[name] = l
	go func() {
		defer close(l.done)
		defer l.alive.Store(false)
		fn(ctx)
	}()
}

func (s *Service) reportScan(res *world.ScanResult, err error) {
	if err != nil {
		s.metrics.Error(err)
		return
	}
	s.metrics.AddErrors(transparency.ErrorCategoryFilesystem, res.Errors)
}

// Stop cancels the loops and waits for each to exit, up to the configured
// stop timeout per loop. It returns ErrNotRunning if the service is stopped.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	loops := s.loops
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	cancel()

	timeout := s.cfg.GetStopTimeout()
	var stuck []string
	for name, l := range loops {
		timer := time.NewTimer(timeout)
		select {
		case <-l.done:
		case <-timer.C:
			stuck = append(stuck, name)
		}
		timer.Stop()
	}
	if watcher != nil {
		watcher.Stop()
	}

	if len(stuck) > 0 {
		sort.Strings(stuck)
		logging.ServiceWarn("loops still running after %v: %v", timeout, stuck)
		return fmt.Errorf("stop timed out waiting for %v", stuck)
	}
	logging.Service("service %s stopped", s.instanceID)
	return nil
}

// Close stops the service if needed and releases the store when the
// service opened it.
func (s *Service) Close() error {
	if s.IsRunning() {
		if err := s.Stop(); err != nil {
			logging.ServiceWarn("stop during close: %v", err)
		}
	}
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}

// WaitIdle blocks until no task is queued or being analyzed.
func (s *Service) WaitIdle(ctx context.Context) error {
	return s.queue.WaitIdle(ctx)
}

// ForceAnalysis queues a forced analysis of path, or of every included
// document when path is empty. Relative paths resolve against the vault.
// It returns the number of tasks queued.
func (s *Service) ForceAnalysis(ctx context.Context, path string) (int, error) {
	if path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.cfg.Vault.Path, path)
		}
		if _, err := os.Stat(path); err != nil {
			return 0, transparency.Filesystem("force analysis", path, err)
		}
		if s.queue.Enqueue(path, types.TaskForced) {
			logging.Service("forced analysis queued: %s", path)
			return 1, nil
		}
		return 0, nil
	}

	docs, err := s.scanner.Documents(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, doc := range docs {
		if s.queue.Enqueue(doc, types.TaskForced) {
			queued++
		}
	}
	logging.Service("forced analysis queued for %d of %d documents", queued, len(docs))
	return queued, nil
}

// ApplyReport summarizes a manual apply pass.
type ApplyReport struct {
	Considered int `json:"considered"`
	Applied    int `json:"applied"`
	Skipped    int `json:"skipped"`
}

// ApplyPending runs stored, unapplied connections through the auto-apply
// policy and applies those it accepts.
func (s *Service) ApplyPending(ctx context.Context, minScore, minConfidence float64) (ApplyReport, error) {
	var rep ApplyReport
	pending, err := s.store.ListPendingConnections(minScore, minConfidence)
	if err != nil {
		s.metrics.Error(err)
		return rep, err
	}
	for _, conn := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Considered++
		if s.applier.ShouldAutoApply(conn) && s.applier.Apply(ctx, conn) {
			rep.Applied++
			s.metrics.ConnectionApplied(conn)
			continue
		}
		rep.Skipped++
	}
	logging.Service("manual apply: %d considered, %d applied", rep.Considered, rep.Applied)
	return rep, nil
}

// PendingConnections lists stored connections that have not been applied.
func (s *Service) PendingConnections(minScore, minConfidence float64) ([]*types.Connection, error) {
	return s.store.ListPendingConnections(minScore, minConfidence)
}

func (s *Service) uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// Status is a JSON-serializable snapshot of the service.
type Status struct {
	Service    ServiceStatus       `json:"service"`
	Processing ProcessingStatus    `json:"processing"`
	Rates      RateStatus          `json:"rates"`
	Errors     map[string]int64    `json:"errors_by_kind"`
	Store      *store.Counts       `json:"store,omitempty"`
	Discovery  *core.CycleResult   `json:"last_discovery,omitempty"`
	Watcher    *world.WatcherStats `json:"watcher,omitempty"`
}

// ServiceStatus reports lifecycle state.
type ServiceStatus struct {
	Running       bool            `json:"running"`
	InstanceID    string          `json:"instance_id"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	UptimeHours   float64         `json:"uptime_hours"`
	Loops         map[string]bool `json:"loops"`
	ActiveThreads int             `json:"active_threads"`
}

// ProcessingStatus reports queue and counter state.
type ProcessingStatus struct {
	QueueSize          int        `json:"queue_size"`
	InFlight           int        `json:"in_flight"`
	Current            []string   `json:"current,omitempty"`
	FilesTracked       int        `json:"files_tracked"`
	FilesProcessed     int64      `json:"files_processed"`
	ConnectionsFound   int64      `json:"connections_found"`
	ConnectionsApplied int64      `json:"connections_applied"`
	AppliedThisHour    int        `json:"applied_this_hour"`
	Errors             int64      `json:"errors"`
	LastActivity       *time.Time `json:"last_activity,omitempty"`
}

// RateStatus reports hourly rates. Uptime is floored at one hour.
type RateStatus struct {
	FilesPerHour       float64 `json:"files_per_hour"`
	ConnectionsPerHour float64 `json:"connections_per_hour"`
}

// Status returns the current snapshot. It never fails; store errors only
// drop the store section.
func (s *Service) Status() Status {
	snap := s.metrics.Snapshot()

	s.mu.Lock()
	running := s.running
	started := s.started
	loops := make(map[string]bool, len(s.loops)+1)
	active := 0
	for name, l := range s.loops {
		alive := running && l.alive.Load()
		loops[name] = alive
		if alive {
			active++
		}
	}
	var watcherStats *world.WatcherStats
	if s.watcher != nil {
		ws := s.watcher.Stats()
		watcherStats = &ws
		alive := s.watcher.IsWatching()
		loops[LoopWatcher] = alive
		if alive {
			active++
		}
	}
	s.mu.Unlock()

	st := Status{
		Service: ServiceStatus{
			Running:       running,
			InstanceID:    s.instanceID,
			Loops:         loops,
			ActiveThreads: active,
		},
		Processing: ProcessingStatus{
			QueueSize:          s.queue.Len(),
			InFlight:           s.queue.InFlight(),
			Current:            s.scheduler.Current(),
			FilesTracked:       s.scanner.Baseline().Len(),
			FilesProcessed:     snap.DocumentsProcessed,
			ConnectionsFound:   snap.ConnectionsFound,
			ConnectionsApplied: snap.ConnectionsApplied,
			AppliedThisHour:    s.applier.AppliedThisHour(),
			Errors:             snap.Errors,
		},
		Errors:    snap.ErrorsByKind,
		Discovery: s.discoverer.LastCycle(),
		Watcher:   watcherStats,
	}

	uptimeHours := 0.0
	if !started.IsZero() {
		st.Service.StartedAt = &started
		uptimeHours = time.Since(started).Hours()
	}
	st.Service.UptimeHours = uptimeHours
	if !snap.LastActivity.IsZero() {
		last := snap.LastActivity
		st.Processing.LastActivity = &last
	}

	denom := math.Max(uptimeHours, 1)
	st.Rates = RateStatus{
		FilesPerHour:       float64(snap.DocumentsProcessed) / denom,
		ConnectionsPerHour: float64(snap.ConnectionsFound) / denom,
	}

	if counts, err := s.store.Counts(); err == nil {
		st.Store = &counts
	} else {
		logging.ServiceWarn("status: store counts unavailable: %v", err)
	}
	return st
}
