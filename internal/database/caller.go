package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chtugha/voicebridge/internal/database/models"
)

// callerRepo implements CallerRepository.
type callerRepo struct {
	db *DB
}

// NewCallerRepository creates a new CallerRepository.
func NewCallerRepository(db *DB) CallerRepository {
	return &callerRepo{db: db}
}

// GetOrCreate returns the caller with the given normalized phone number,
// inserting a new record if none exists.
func (r *callerRepo) GetOrCreate(ctx context.Context, phone string) (*models.Caller, error) {
	caller, err := r.getByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if caller != nil {
		return caller, nil
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO callers (phone, created_at) VALUES (?, datetime('now'))
		 ON CONFLICT(phone) DO NOTHING`,
		phone,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting caller: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil && id > 0 {
		return &models.Caller{ID: id, Phone: phone}, nil
	}

	// Lost the insert race; the row exists now.
	caller, err = r.getByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		return nil, fmt.Errorf("caller %q missing after insert", phone)
	}
	return caller, nil
}

func (r *callerRepo) getByPhone(ctx context.Context, phone string) (*models.Caller, error) {
	var caller models.Caller
	err := r.db.QueryRowContext(ctx,
		`SELECT id, phone, created_at FROM callers WHERE phone = ?`, phone,
	).Scan(&caller.ID, &caller.Phone, &caller.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying caller: %w", err)
	}
	return &caller, nil
}
