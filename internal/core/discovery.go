package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"notegraph/internal/logging"
	"notegraph/internal/store"
	"notegraph/internal/transparency"
	"notegraph/internal/types"
)

// =============================================================================
// CONNECTION DISCOVERY
// =============================================================================
//
// Each cycle compares every pair inside a window of the most recently
// analyzed documents. Comparisons are spaced by a rate limiter and a cycle
// stops early once it has found MaxPerCycle connections. Accepted
// connections are stored and immediately offered to the link applier.

// Comparer judges whether two classified documents are related.
type Comparer interface {
	CompareConnection(ctx context.Context, a, b *types.Classification) (*types.Connection, error)
}

// ConnectionSource is the store surface discovery needs.
type ConnectionSource interface {
	ListClassifications() ([]*types.Classification, error)
	InsertConnection(conn *types.Connection) error
	LogProcessing(e *types.ProcessingEntry) error
}

// LinkApplier decides on and performs auto-apply.
type LinkApplier interface {
	ShouldAutoApply(conn *types.Connection) bool
	Apply(ctx context.Context, conn *types.Connection) bool
}

// DiscoveryConfig tunes the discovery loop.
type DiscoveryConfig struct {
	Interval         time.Duration // sleep after a completed cycle
	IdleInterval     time.Duration // sleep when fewer than two documents are classified
	ErrorBackoff     time.Duration // sleep after a failed cycle
	PairDelay        time.Duration // spacing between comparisons
	Window           int           // newest classifications considered per cycle
	MaxPerCycle      int           // stop a cycle after this many connections
	MinInterestScore float64       // scores at or below this are never stored
}

// DefaultDiscoveryConfig returns the standard cadence.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Interval:         5 * time.Minute,
		IdleInterval:     60 * time.Second,
		ErrorBackoff:     60 * time.Second,
		PairDelay:        2 * time.Second,
		Window:           50,
		MaxPerCycle:      20,
		MinInterestScore: 2,
	}
}

// CycleResult summarizes one discovery cycle.
type CycleResult struct {
	ID         string        `json:"id"`
	Skipped    bool          `json:"skipped"`
	Candidates int           `json:"candidates"`
	Compared   int           `json:"compared"`
	Found      int           `json:"found"`
	Applied    int           `json:"applied"`
	Errors     int           `json:"errors"`
	Duration   time.Duration `json:"duration"`
}

// String implements fmt.Stringer for log lines.
func (r *CycleResult) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("cycle %s: candidates=%d compared=%d found=%d applied=%d errors=%d",
		r.ID, r.Candidates, r.Compared, r.Found, r.Applied, r.Errors)
}

// ConnectionDiscoverer runs discovery cycles.
type ConnectionDiscoverer struct {
	store    ConnectionSource
	comparer Comparer
	applier  LinkApplier
	recorder Recorder
	config   DiscoveryConfig

	mu   sync.Mutex
	last *CycleResult
}

// NewConnectionDiscoverer wires a discoverer. applier and recorder may be nil.
func NewConnectionDiscoverer(src ConnectionSource, comparer Comparer, applier LinkApplier, recorder Recorder, cfg DiscoveryConfig) *ConnectionDiscoverer {
	def := DefaultDiscoveryConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if cfg.PairDelay < 0 {
		cfg.PairDelay = 0
	}
	if cfg.Window < 2 {
		cfg.Window = def.Window
	}
	if cfg.MaxPerCycle < 1 {
		cfg.MaxPerCycle = def.MaxPerCycle
	}
	if cfg.MinInterestScore <= 0 {
		cfg.MinInterestScore = def.MinInterestScore
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &ConnectionDiscoverer{
		store:    src,
		comparer: comparer,
		applier:  applier,
		recorder: recorder,
		config:   cfg,
	}
}

// LastCycle returns the most recent cycle result, or nil.
func (d *ConnectionDiscoverer) LastCycle() *CycleResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Run executes cycles until ctx is cancelled.
func (d *ConnectionDiscoverer) Run(ctx context.Context) {
	logging.Discovery("discovery started (window %d, cap %d, every %v)",
		d.config.Window, d.config.MaxPerCycle, d.config.Interval)
	defer logging.Discovery("discovery stopped")

	for ctx.Err() == nil {
		res, err := d.RunCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := d.config.Interval
		switch {
		case err != nil:
			logging.DiscoveryError("discovery cycle failed: %v", err)
			d.recorder.Error(err)
			wait = d.config.ErrorBackoff
		case res.Skipped:
			wait = d.config.IdleInterval
		}
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// RunCycle performs one discovery pass.
func (d *ConnectionDiscoverer) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := time.Now()
	res := &CycleResult{ID: uuid.NewString()}
	defer func() {
		res.Duration = time.Since(start)
		d.mu.Lock()
		d.last = res
		d.mu.Unlock()
	}()

	all, err := d.store.ListClassifications()
	if err != nil {
		return res, err
	}
	if len(all) < 2 {
		res.Skipped = true
		logging.DiscoveryDebug("%d classified documents, waiting for more", len(all))
		return res, nil
	}

	window := all
	if len(window) > d.config.Window {
		window = window[:d.config.Window]
	}
	res.Candidates = len(window)

	limit := rate.Inf
	if d.config.PairDelay > 0 {
		limit = rate.Every(d.config.PairDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	logging.DiscoveryDebug("cycle %s: comparing %d documents", res.ID, len(window))

outer:
	for i := 0; i < len(window); i++ {
		for j := i + 1; j < len(window); j++ {
			if res.Found >= d.config.MaxPerCycle {
				break outer
			}
			if err := limiter.Wait(ctx); err != nil {
				return res, err
			}
			d.comparePair(ctx, res, window[i], window[j])
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
		}
	}

	if res.Found > 0 {
		logging.Discovery("%s", res)
	} else {
		logging.DiscoveryDebug("%s", res)
	}
	return res, nil
}

func (d *ConnectionDiscoverer) comparePair(ctx context.Context, res *CycleResult, a, b *types.Classification) {
	res.Compared++

	conn, err := d.comparer.CompareConnection(ctx, a, b)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		res.Errors++
		d.recorder.Error(err)
		logging.DiscoveryError("%s compare %s <-> %s: %v",
			transparency.CategoryOf(err).Prefix(), a.Name(), b.Name(), err)
		return
	}
	if conn == nil || !conn.IsInteresting(d.config.MinInterestScore) {
		return
	}

	if err := d.store.InsertConnection(conn); err != nil {
		res.Errors++
		d.recorder.Error(err)
		logging.DiscoveryError("store connection %s -> %s: %v", a.Name(), b.Name(), err)
		return
	}
	res.Found++
	d.recorder.ConnectionFound(conn)
	logging.Discovery("connection found: %s -> %s (score %.1f, %s)",
		types.DisplayName(conn.Source), types.DisplayName(conn.Target), conn.Strength, conn.Type)

	_ = d.store.LogProcessing(&types.ProcessingEntry{
		Path:      conn.Source,
		Action:    store.ActionCompare,
		Status:    store.StatusSuccess,
		Timestamp: time.Now(),
		Details:   fmt.Sprintf("#%d -> %s (%.1f)", conn.ID, conn.Target, conn.Strength),
	})

	if d.applier != nil && d.applier.ShouldAutoApply(conn) {
		if d.applier.Apply(ctx, conn) {
			res.Applied++
			d.recorder.ConnectionApplied(conn)
			logging.Discovery("auto-applied connection #%d", conn.ID)
		}
	}
}
