package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/inquiz/internal/engine"
)

// SessionRepo persists whole-session JSON snapshots, one row per turn. The
// latest sequence wins on restore; older rows are an audit trail until
// pruned. It satisfies the kernel's Persister.
type SessionRepo struct {
	db *sql.DB
}

// Persist writes the next snapshot for the session.
func (r *SessionRepo) Persist(ctx context.Context, s *engine.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (session_id, sequence, data, created_at)
		VALUES (?, COALESCE((SELECT MAX(sequence) FROM session_snapshots WHERE session_id = ?), 0) + 1, ?, ?)`,
		s.ID, s.ID, string(raw), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", s.ID, err)
	}
	return nil
}

// Latest restores the most recent snapshot for a session, or (nil, nil) when
// the session has never been persisted.
func (r *SessionRepo) Latest(ctx context.Context, sessionID string) (*engine.Session, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM session_snapshots
		WHERE session_id = ?
		ORDER BY sequence DESC LIMIT 1`,
		sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot for %s: %w", sessionID, err)
	}

	var s engine.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", sessionID, err)
	}
	return &s, nil
}

// Prune deletes all but the newest keep snapshots of a session.
func (r *SessionRepo) Prune(ctx context.Context, sessionID string, keep int) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM session_snapshots
		WHERE session_id = ?
		  AND sequence <= COALESCE((SELECT MAX(sequence) FROM session_snapshots WHERE session_id = ?), 0) - ?`,
		sessionID, sessionID, keep,
	)
	if err != nil {
		return fmt.Errorf("prune snapshots for %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes every snapshot of a session.
func (r *SessionRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM session_snapshots WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("delete snapshots for %s: %w", sessionID, err)
	}
	return nil
}

// SessionIDs lists all persisted session ids, newest first.
func (r *SessionRepo) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id FROM session_snapshots
		GROUP BY session_id
		ORDER BY MAX(id) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
