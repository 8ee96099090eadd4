package system

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notegraph/internal/transparency"
	"notegraph/internal/types"
)

// Metrics counts service activity. Counters live for the lifetime of the
// process and are exported on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	processed atomic.Int64
	found     atomic.Int64
	applied   atomic.Int64
	errors    atomic.Int64

	mu           sync.Mutex
	errorsByKind map[transparency.ErrorCategory]int64
	startTime    time.Time
	lastActivity time.Time

	documentsProcessed prometheus.Counter
	connectionsFound   prometheus.Counter
	connectionsApplied prometheus.Counter
	errorsTotal        *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:     reg,
		errorsByKind: make(map[transparency.ErrorCategory]int64),

		documentsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "notegraph_documents_processed_total",
			Help: "Documents classified and stored",
		}),
		connectionsFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "notegraph_connections_found_total",
			Help: "Connections accepted by discovery",
		}),
		connectionsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "notegraph_connections_applied_total",
			Help: "Connections written into documents",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notegraph_errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),
	}
	for _, cat := range transparency.AllCategories {
		m.errorsTotal.WithLabelValues(cat.String())
	}
	return m
}

// Registry returns the registry the metrics are exported on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RegisterGauge exports fn as a gauge.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) markStarted(at time.Time) {
	m.mu.Lock()
	m.startTime = at
	m.mu.Unlock()
}

func (m *Metrics) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

// DocumentProcessed implements core.Recorder.
func (m *Metrics) DocumentProcessed(string) {
	m.processed.Add(1)
	m.documentsProcessed.Inc()
	m.touch()
}

// ConnectionFound implements core.Recorder.
func (m *Metrics) ConnectionFound(*types.Connection) {
	m.found.Add(1)
	m.connectionsFound.Inc()
	m.touch()
}

// ConnectionApplied implements core.Recorder.
func (m *Metrics) ConnectionApplied(*types.Connection) {
	m.applied.Add(1)
	m.connectionsApplied.Inc()
	m.touch()
}

// Error implements core.Recorder.
func (m *Metrics) Error(err error) {
	if err == nil {
		return
	}
	m.AddErrors(transparency.CategoryOf(err), 1)
}

// AddErrors counts n errors of one kind.
func (m *Metrics) AddErrors(cat transparency.ErrorCategory, n int) {
	if n <= 0 {
		return
	}
	m.errors.Add(int64(n))
	m.errorsTotal.WithLabelValues(cat.String()).Add(float64(n))
	m.mu.Lock()
	m.errorsByKind[cat] += int64(n)
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	DocumentsProcessed int64
	ConnectionsFound   int64
	ConnectionsApplied int64
	Errors             int64
	ErrorsByKind       map[string]int64
	StartTime          time.Time
	LastActivity       time.Time
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKind := make(map[string]int64, len(m.errorsByKind))
	for cat, n := range m.errorsByKind {
		byKind[cat.String()] = n
	}
	return MetricsSnapshot{
		DocumentsProcessed: m.processed.Load(),
		ConnectionsFound:   m.found.Load(),
		ConnectionsApplied: m.applied.Load(),
		Errors:             m.errors.Load(),
		ErrorsByKind:       byKind,
		StartTime:          m.startTime,
		LastActivity:       m.lastActivity,
	}
}
