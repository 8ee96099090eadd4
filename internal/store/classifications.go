package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"notegraph/internal/logging"
	"notegraph/internal/transparency"
	"notegraph/internal/types"
)

// UpsertClassification stores c, replacing any previous record for c.Path.
func (s *ResultStore) UpsertClassification(c *types.Classification) error {
	if c == nil || c.Path == "" {
		return transparency.Storage("upsert classification", errors.New("classification has no path"))
	}

	concepts, err := encodeList(c.KeyConcepts)
	if err != nil {
		return transparency.Storage("encode key concepts", err)
	}
	temporal, err := encodeList(c.TemporalMarkers)
	if err != nil {
		return transparency.Storage("encode temporal markers", err)
	}
	projects, err := encodeList(c.ProjectReferences)
	if err != nil {
		return transparency.Storage("encode project references", err)
	}
	hints, err := encodeList(c.RelationshipHints)
	if err != nil {
		return transparency.Storage("encode relationship hints", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO file_analysis
			(file_path, content_hash, primary_topic, content_type, key_concepts,
			 temporal_markers, project_references, relationship_hints, confidence, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			primary_topic = excluded.primary_topic,
			content_type = excluded.content_type,
			key_concepts = excluded.key_concepts,
			temporal_markers = excluded.temporal_markers,
			project_references = excluded.project_references,
			relationship_hints = excluded.relationship_hints,
			confidence = excluded.confidence,
			analyzed_at = excluded.analyzed_at`,
		c.Path, c.Fingerprint, c.PrimaryTopic, string(c.ContentType), concepts,
		temporal, projects, hints, c.Confidence, toUnix(c.AnalyzedAt),
	)
	if err != nil {
		return transparency.Storage("upsert classification", err)
	}
	logging.StoreDebug("stored classification for %s (%s)", c.Path, c.ContentType)
	return nil
}

// GetClassification returns the record for path or ErrNotFound.
func (s *ResultStore) GetClassification(path string) (*types.Classification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT file_path, content_hash, primary_topic, content_type, key_concepts,
		       temporal_markers, project_references, relationship_hints, confidence, analyzed_at
		FROM file_analysis WHERE file_path = ?`, path)
	c, err := scanClassification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("classification %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, transparency.Storage("get classification", err)
	}
	return c, nil
}

// ListClassifications returns every record, most recently analyzed first.
func (s *ResultStore) ListClassifications() ([]*types.Classification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT file_path, content_hash, primary_topic, content_type, key_concepts,
		       temporal_markers, project_references, relationship_hints, confidence, analyzed_at
		FROM file_analysis ORDER BY analyzed_at DESC, file_path ASC`)
	if err != nil {
		return nil, transparency.Storage("list classifications", err)
	}
	defer rows.Close()

	var out []*types.Classification
	for rows.Next() {
		c, err := scanClassification(rows)
		if err != nil {
			return nil, transparency.Storage("scan classification", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, transparency.Storage("list classifications", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClassification(r rowScanner) (*types.Classification, error) {
	var (
		c                                   types.Classification
		topic, ctype                        sql.NullString
		concepts, temporal, projects, hints sql.NullString
		confidence                          sql.NullFloat64
		analyzedAt                          int64
	)
	if err := r.Scan(&c.Path, &c.Fingerprint, &topic, &ctype, &concepts,
		&temporal, &projects, &hints, &confidence, &analyzedAt); err != nil {
		return nil, err
	}
	c.PrimaryTopic = topic.String
	c.ContentType = types.ParseContentType(ctype.String)
	c.KeyConcepts = decodeList(concepts.String)
	c.TemporalMarkers = decodeList(temporal.String)
	c.ProjectReferences = decodeList(projects.String)
	c.RelationshipHints = decodeList(hints.String)
	c.Confidence = confidence.Float64
	c.AnalyzedAt = fromUnix(analyzedAt)
	return &c, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeList tolerates empty and malformed columns.
func decodeList(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logging.StoreDebug("discarding malformed list column: %v", err)
		return []string{}
	}
	return out
}
