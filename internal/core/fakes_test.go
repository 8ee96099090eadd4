package core

import (
	"context"
	"errors"
	"sync"

	"notegraph/internal/types"
)

// memStore is an in-memory stand-in for the result store.
type memStore struct {
	mu              sync.Mutex
	classifications []*types.Classification
	connections     []*types.Connection
	log             []*types.ProcessingEntry
	nextID          int64
	insertErr       error
}

func (m *memStore) UpsertClassification(c *types.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.classifications {
		if existing.Path == c.Path {
			m.classifications[i] = c
			return nil
		}
	}
	m.classifications = append(m.classifications, c)
	return nil
}

func (m *memStore) ListClassifications() ([]*types.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Classification, len(m.classifications))
	copy(out, m.classifications)
	return out, nil
}

func (m *memStore) InsertConnection(conn *types.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.nextID++
	conn.ID = m.nextID
	m.connections = append(m.connections, conn)
	return nil
}

func (m *memStore) LogProcessing(e *types.ProcessingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, e)
	return nil
}

func (m *memStore) entries() []*types.ProcessingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.ProcessingEntry(nil), m.log...)
}

func (m *memStore) stored() []*types.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Connection(nil), m.connections...)
}

// countingRecorder tallies recorder calls.
type countingRecorder struct {
	mu        sync.Mutex
	processed int
	found     int
	applied   int
	errs      []error
}

func (r *countingRecorder) DocumentProcessed(string) {
	r.mu.Lock()
	r.processed++
	r.mu.Unlock()
}

func (r *countingRecorder) ConnectionFound(*types.Connection) {
	r.mu.Lock()
	r.found++
	r.mu.Unlock()
}

func (r *countingRecorder) ConnectionApplied(*types.Connection) {
	r.mu.Lock()
	r.applied++
	r.mu.Unlock()
}

func (r *countingRecorder) Error(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *countingRecorder) snapshot() (processed, found, applied, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed, r.found, r.applied, len(r.errs)
}

// fakeClassifier returns a canned classification and records call order.
type fakeClassifier struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	panic map[string]bool
}

func (f *fakeClassifier) Classify(ctx context.Context, path string) (*types.Classification, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	err := f.fail[path]
	boom := f.panic[path]
	f.mu.Unlock()

	if boom {
		panic("analyzer exploded")
	}
	if err != nil {
		return nil, err
	}
	return &types.Classification{
		Path:         path,
		PrimaryTopic: "topic of " + types.DisplayName(path),
		ContentType:  types.ContentReference,
		Confidence:   0.8,
		Fingerprint:  "fp",
	}, nil
}

func (f *fakeClassifier) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var errAnalyzerDown = errors.New("analyzer down")
