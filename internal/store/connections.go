package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notegraph/internal/logging"
	"notegraph/internal/transparency"
	"notegraph/internal/types"
)

// InsertConnection persists conn and sets conn.ID. Pairs are not
// deduplicated.
func (s *ResultStore) InsertConnection(conn *types.Connection) error {
	if conn == nil {
		return transparency.Storage("insert connection", errors.New("nil connection"))
	}
	if conn.DiscoveredAt.IsZero() {
		conn.DiscoveredAt = time.Now()
	}

	var appliedAt interface{}
	if conn.AppliedAt != nil {
		appliedAt = conn.AppliedAt.UnixNano()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO connections
			(source_file, target_file, connection_type, strength_score, confidence,
			 reason, suggested_link, auto_applied, created_at, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.Source, conn.Target, string(conn.Type), conn.Strength, conn.Confidence,
		conn.Reason, conn.SuggestedLink, boolToInt(conn.Applied), conn.DiscoveredAt.UnixNano(), appliedAt,
	)
	if err != nil {
		return transparency.Storage("insert connection", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return transparency.Storage("insert connection id", err)
	}
	conn.ID = id
	logging.StoreDebug("stored connection #%d %s -> %s (%.1f)", id, conn.Source, conn.Target, conn.Strength)
	return nil
}

// GetConnection returns the connection with id or ErrNotFound.
func (s *ResultStore) GetConnection(id int64) (*types.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, source_file, target_file, connection_type, strength_score, confidence,
		       reason, suggested_link, auto_applied, created_at, applied_at
		FROM connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, transparency.Storage("get connection", err)
	}
	return c, nil
}

// ListPendingConnections returns unapplied connections scoring at least
// minScore with at least minConfidence, strongest first.
func (s *ResultStore) ListPendingConnections(minScore, minConfidence float64) ([]*types.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, source_file, target_file, connection_type, strength_score, confidence,
		       reason, suggested_link, auto_applied, created_at, applied_at
		FROM connections
		WHERE auto_applied = 0 AND strength_score >= ? AND confidence >= ?
		ORDER BY strength_score DESC, confidence DESC, id ASC`,
		minScore, minConfidence,
	)
	if err != nil {
		return nil, transparency.Storage("list pending connections", err)
	}
	defer rows.Close()

	var out []*types.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, transparency.Storage("scan connection", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, transparency.Storage("list pending connections", err)
	}
	return out, nil
}

// CountAppliedSince counts connections applied at or after since.
func (s *ResultStore) CountAppliedSince(since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM connections WHERE auto_applied = 1 AND applied_at >= ?`,
		since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, transparency.Storage("count applied connections", err)
	}
	return n, nil
}

// MarkConnectionApplied flags the connection as applied at the given time.
func (s *ResultStore) MarkConnectionApplied(id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE connections SET auto_applied = 1, applied_at = ? WHERE id = ?`, toUnix(at), id)
	if err != nil {
		return transparency.Storage("mark connection applied", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return transparency.Storage("mark connection applied", err)
	}
	if n == 0 {
		return fmt.Errorf("connection %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanConnection(r rowScanner) (*types.Connection, error) {
	var (
		c                      types.Connection
		ctype, reason, suggest sql.NullString
		applied                int
		createdAt              int64
		appliedAt              sql.NullInt64
	)
	if err := r.Scan(&c.ID, &c.Source, &c.Target, &ctype, &c.Strength, &c.Confidence,
		&reason, &suggest, &applied, &createdAt, &appliedAt); err != nil {
		return nil, err
	}
	c.Type = types.ParseConnectionType(ctype.String)
	c.Reason = reason.String
	c.SuggestedLink = suggest.String
	c.Applied = applied != 0
	c.DiscoveredAt = fromUnix(createdAt)
	if appliedAt.Valid {
		t := fromUnix(appliedAt.Int64)
		c.AppliedAt = &t
	}
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
