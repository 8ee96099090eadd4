package world

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"notegraph/internal/logging"
	"notegraph/internal/transparency"
	"notegraph/internal/types"
)

// Enqueuer receives the analysis tasks produced by a scan.
type Enqueuer interface {
	Enqueue(path string, kind types.TaskKind) bool
}

// ScanResult describes one pass over the vault.
type ScanResult struct {
	Seen     int // documents passing the inclusion policy
	New      int
	Modified int
	Removed  int // baseline entries dropped because the file is gone
	Errors   int // documents that could not be fingerprinted
	Duration time.Duration
}

// Scanner walks the vault and turns fingerprint changes into tasks.
type Scanner struct {
	root     string
	policy   Policy
	baseline *WatchBaseline
	queue    Enqueuer
	workers  int

	mu       sync.Mutex // serializes scans
	lastScan time.Time
}

// NewScanner creates a scanner for root. workers bounds concurrent
// fingerprinting.
func NewScanner(root string, policy Policy, baseline *WatchBaseline, queue Enqueuer, workers int) *Scanner {
	if workers < 1 {
		workers = 1
	}
	if baseline == nil {
		baseline = NewWatchBaseline()
	}
	return &Scanner{
		root:     root,
		policy:   policy,
		baseline: baseline,
		queue:    queue,
		workers:  workers,
	}
}

// Root returns the vault directory.
func (s *Scanner) Root() string { return s.root }

// Policy returns the inclusion policy.
func (s *Scanner) Policy() Policy { return s.policy }

// Baseline returns the scanner's fingerprint baseline.
func (s *Scanner) Baseline() *WatchBaseline { return s.baseline }

// LastScan returns when the most recent scan finished.
func (s *Scanner) LastScan() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScan
}

// Documents lists every file under the root that passes the inclusion policy.
func (s *Scanner) Documents(ctx context.Context) ([]string, error) {
	if _, err := os.Stat(s.root); err != nil {
		return nil, transparency.Filesystem("stat vault", s.root, err)
	}

	var docs []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			// Unreadable subtrees are skipped, not fatal.
			logging.ScannerDebug("walk error at %s: %v", path, walkErr)
			if d != nil && d.IsDir() && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != s.root && s.policy.Excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if s.policy.Includes(path, info) {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Scan performs one pass: fingerprint every included document, enqueue new
// and modified ones, and update the baseline. Per-document failures are
// counted in the result and do not abort the scan.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	docs, err := s.Documents(ctx)
	if err != nil {
		return nil, err
	}

	var newCount, modCount, errCount atomic.Int64
	seen := make(map[string]struct{}, len(docs))
	for _, p := range docs {
		seen[p] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, path := range docs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fp, err := Fingerprint(path)
			if err != nil {
				errCount.Add(1)
				logging.ScannerError("fingerprint %s: %v", path, err)
				return nil
			}

			prev, known := s.baseline.Get(path)
			switch {
			case !known:
				if s.queue.Enqueue(path, types.TaskNew) {
					newCount.Add(1)
				}
			case prev != fp:
				if s.queue.Enqueue(path, types.TaskModified) {
					modCount.Add(1)
				}
			}
			s.baseline.Set(path, fp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	removed := 0
	for _, p := range s.baseline.Paths() {
		if _, ok := seen[p]; !ok {
			s.baseline.Delete(p)
			removed++
		}
	}

	s.lastScan = time.Now()
	res := &ScanResult{
		Seen:     len(docs),
		New:      int(newCount.Load()),
		Modified: int(modCount.Load()),
		Removed:  removed,
		Errors:   int(errCount.Load()),
		Duration: time.Since(start),
	}
	if res.New > 0 || res.Modified > 0 {
		logging.Scanner("scan: %d documents, %d new, %d modified (%v)", res.Seen, res.New, res.Modified, res.Duration)
	} else {
		logging.ScannerDebug("scan: %d documents, no changes (%v)", res.Seen, res.Duration)
	}
	return res, nil
}

// Run scans every interval until ctx is cancelled. A receive on wake
// triggers an early scan. report is called after each scan with its result
// or error; scan errors never stop the loop.
func (s *Scanner) Run(ctx context.Context, interval time.Duration, wake <-chan struct{}, report func(*ScanResult, error)) {
	logging.Scanner("scanner started: %s (every %v)", s.root, interval)
	defer logging.Scanner("scanner stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		res, err := s.Scan(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.ScannerError("scan failed: %v", err)
		}
		if report != nil {
			report(res, err)
		}
		timer.Reset(interval)
	}
}

// String implements fmt.Stringer for log lines.
func (r *ScanResult) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("seen=%d new=%d modified=%d removed=%d errors=%d", r.Seen, r.New, r.Modified, r.Removed, r.Errors)
}
