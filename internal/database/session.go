package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chtugha/voicebridge/internal/database/models"
	"github.com/google/uuid"
)

// sessionRepo implements SessionRepository.
type sessionRepo struct {
	db *DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *DB) SessionRepository {
	return &sessionRepo{db: db}
}

// Create inserts a new call session and returns it with a generated ID.
func (r *sessionRepo) Create(ctx context.Context, callerID int64, phone string, lineID int64) (*models.CallSession, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_sessions (id, caller_id, phone, line_id, transcript, started_at)
		 VALUES (?, ?, ?, ?, '', datetime('now'))`,
		id, callerID, phone, lineID,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting call session: %w", err)
	}
	return &models.CallSession{
		ID:       id,
		CallerID: callerID,
		Phone:    phone,
		LineID:   lineID,
	}, nil
}

// AppendTranscript appends text to the session transcript, separated from
// any existing text by a single space.
func (r *sessionRepo) AppendTranscript(ctx context.Context, sessionID, text string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE call_sessions
		 SET transcript = CASE WHEN transcript = '' THEN ? ELSE transcript || ' ' || ? END
		 WHERE id = ?`,
		text, text, sessionID,
	)
	if err != nil {
		return fmt.Errorf("appending transcript: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking transcript update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %q not found", sessionID)
	}
	return nil
}

// Close marks the session as ended.
func (r *sessionRepo) Close(ctx context.Context, sessionID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE call_sessions SET ended_at = datetime('now') WHERE id = ? AND ended_at IS NULL`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking session close: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %q not found or already closed", sessionID)
	}
	return nil
}

// GetByID returns a session by ID, or nil if it does not exist.
func (r *sessionRepo) GetByID(ctx context.Context, sessionID string) (*models.CallSession, error) {
	var s models.CallSession
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, caller_id, phone, line_id, transcript, started_at, ended_at
		 FROM call_sessions WHERE id = ?`, sessionID,
	).Scan(&s.ID, &s.CallerID, &s.Phone, &s.LineID, &s.Transcript, &s.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return &s, nil
}
