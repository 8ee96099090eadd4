package store

import (
	"database/sql"

	"notegraph/internal/transparency"
	"notegraph/internal/types"
)

// Processing log actions and statuses.
const (
	ActionAnalyze = "analyze"
	ActionCompare = "compare"
	ActionApply   = "apply"

	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// LogProcessing appends an audit entry and sets its ID.
func (s *ResultStore) LogProcessing(e *types.ProcessingEntry) error {
	if e == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO processing_log (file_path, action, status, timestamp, details)
		VALUES (?, ?, ?, ?, ?)`,
		e.Path, e.Action, e.Status, toUnix(e.Timestamp), e.Details,
	)
	if err != nil {
		return transparency.Storage("log processing", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// RecentProcessing returns up to limit audit entries, newest first.
func (s *ResultStore) RecentProcessing(limit int) ([]*types.ProcessingEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, file_path, action, status, timestamp, details
		FROM processing_log ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, transparency.Storage("recent processing", err)
	}
	defer rows.Close()

	var out []*types.ProcessingEntry
	for rows.Next() {
		var (
			e         types.ProcessingEntry
			path, det sql.NullString
			ts        int64
		)
		if err := rows.Scan(&e.ID, &path, &e.Action, &e.Status, &ts, &det); err != nil {
			return nil, transparency.Storage("scan processing entry", err)
		}
		e.Path = path.String
		e.Details = det.String
		e.Timestamp = fromUnix(ts)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, transparency.Storage("recent processing", err)
	}
	return out, nil
}
