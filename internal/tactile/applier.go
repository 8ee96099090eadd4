// Package tactile is the only part of notegraph that writes to the vault:
// it decides whether a discovered connection may be applied automatically
// and rewrites the source document to link to the target.
package tactile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"notegraph/internal/config"
	"notegraph/internal/logging"
	"notegraph/internal/store"
	"notegraph/internal/types"
)

// Policy holds the auto-apply thresholds.
type Policy struct {
	Enabled             bool
	ConfidenceThreshold float64
	StrengthThreshold   float64
	MaxPerHour          int
	SafeTypes           []types.ConnectionType

	BackupBeforeModify bool
	BackupDir          string
}

// PolicyFromConfig builds a Policy from the auto_apply and safety sections.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		Enabled:             cfg.AutoApply.Enabled,
		ConfidenceThreshold: cfg.AutoApply.ConfidenceThreshold,
		StrengthThreshold:   cfg.AutoApply.StrengthThreshold,
		MaxPerHour:          cfg.AutoApply.MaxPerHour,
		SafeTypes:           cfg.SafeConnectionTypes(),
		BackupBeforeModify:  cfg.Safety.BackupBeforeModify,
		BackupDir:           cfg.BackupDir(),
	}
}

func (p Policy) allows(t types.ConnectionType) bool {
	for _, safe := range p.SafeTypes {
		if safe == t {
			return true
		}
	}
	return false
}

// AppliedMarker records applied connections.
type AppliedMarker interface {
	MarkConnectionApplied(id int64, at time.Time) error
	LogProcessing(e *types.ProcessingEntry) error
}

// LinkApplier applies connections to documents under an hourly cap.
type LinkApplier struct {
	policy Policy
	marker AppliedMarker
	now    func() time.Time

	mu         sync.Mutex // guards hour and count
	hour       int64
	count      int
	writeMu    sync.Mutex // serializes document rewrites
	totalCount int
}

// NewLinkApplier creates an applier. marker may be nil, in which case
// applied connections are only flagged in memory.
func NewLinkApplier(policy Policy, marker AppliedMarker) *LinkApplier {
	return &LinkApplier{
		policy: policy,
		marker: marker,
		now:    time.Now,
	}
}

// Policy returns the applier's policy.
func (a *LinkApplier) Policy() Policy { return a.policy }

// AppliedThisHour returns how many connections were applied in the current
// wall-clock hour.
func (a *LinkApplier) AppliedThisHour() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()
	return a.count
}

// TotalApplied returns how many connections this applier has written.
func (a *LinkApplier) TotalApplied() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalCount
}

// AppliedCounter reports how many connections were applied since a time.
type AppliedCounter interface {
	CountAppliedSince(since time.Time) (int, error)
}

// SeedHour loads the current hour's applied count from counter, so a fresh
// applier respects links written earlier in the hour by another process.
// The in-memory count is only ever raised.
func (a *LinkApplier) SeedHour(counter AppliedCounter) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()

	n, err := counter.CountAppliedSince(time.Unix(a.hour*3600, 0))
	if err != nil {
		return err
	}
	if n > a.count {
		a.count = n
	}
	return nil
}

// rollover resets the hourly counter when the hour changed. Callers hold mu.
func (a *LinkApplier) rollover() {
	hour := a.now().Unix() / 3600
	if hour != a.hour {
		a.hour = hour
		a.count = 0
	}
}

// ShouldAutoApply reports whether conn may be applied now: the hourly cap
// has room, confidence and strength meet their thresholds, the type is on
// the allow-list and auto-apply is enabled.
func (a *LinkApplier) ShouldAutoApply(conn *types.Connection) bool {
	if conn == nil {
		return false
	}

	a.mu.Lock()
	a.rollover()
	capped := a.count >= a.policy.MaxPerHour
	a.mu.Unlock()

	if capped {
		logging.ApplierDebug("hourly cap of %d reached", a.policy.MaxPerHour)
		return false
	}
	if conn.Confidence < a.policy.ConfidenceThreshold || conn.Strength < a.policy.StrengthThreshold {
		return false
	}
	if !a.policy.allows(conn.Type) {
		return false
	}
	return a.policy.Enabled
}

// Apply inserts a link to conn.Target into conn.Source and marks the
// connection applied. Failures are logged and reported as false.
func (a *LinkApplier) Apply(ctx context.Context, conn *types.Connection) bool {
	if conn == nil || ctx.Err() != nil {
		return false
	}
	timer := logging.StartTimer(logging.CategoryApplier, "apply connection")
	defer timer.Stop()

	if err := a.apply(conn); err != nil {
		logging.ApplierError("cannot apply %s -> %s: %v",
			types.DisplayName(conn.Source), types.DisplayName(conn.Target), err)
		a.audit(conn, store.StatusError, err.Error())
		return false
	}

	a.mu.Lock()
	a.rollover()
	a.count++
	a.totalCount++
	a.mu.Unlock()

	a.audit(conn, store.StatusSuccess, FormatLink(conn))
	logging.Applier("linked %s -> %s", types.DisplayName(conn.Source), types.DisplayName(conn.Target))
	return true
}

func (a *LinkApplier) apply(conn *types.Connection) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	info, err := os.Stat(conn.Source)
	if err != nil {
		return fmt.Errorf("source missing: %w", err)
	}
	if _, err := os.Stat(conn.Target); err != nil {
		return fmt.Errorf("target missing: %w", err)
	}

	data, err := os.ReadFile(conn.Source)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	now := a.now()
	if a.policy.BackupBeforeModify {
		if err := a.backup(conn.Source, data, now); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	updated := InsertLink(data, FormatLink(conn))
	if err := os.WriteFile(conn.Source, updated, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write source: %w", err)
	}
	logging.ApplierDebug("wrote %d bytes to %s", len(updated), conn.Source)

	if a.marker != nil && conn.ID != 0 {
		if err := a.marker.MarkConnectionApplied(conn.ID, now); err != nil {
			return fmt.Errorf("mark applied: %w", err)
		}
	}
	conn.Applied = true
	conn.AppliedAt = &now
	return nil
}

// backup copies the original bytes to BackupDir as <stem>.<timestamp><ext>.
func (a *LinkApplier) backup(path string, data []byte, at time.Time) error {
	dir := a.policy.BackupDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(path), ".notegraph_backups")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%s%s", types.DisplayName(path), at.Format("20060102T150405.000000000"), filepath.Ext(path))
	dest := filepath.Join(dir, name)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return err
	}
	logging.ApplierDebug("backed up %s to %s", path, dest)
	return nil
}

func (a *LinkApplier) audit(conn *types.Connection, status, details string) {
	if a.marker == nil {
		return
	}
	_ = a.marker.LogProcessing(&types.ProcessingEntry{
		Path:      conn.Source,
		Action:    store.ActionApply,
		Status:    status,
		Timestamp: a.now(),
		Details:   fmt.Sprintf("#%d %s", conn.ID, details),
	})
}
