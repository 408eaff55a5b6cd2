package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chtugha/voicebridge/internal/database/models"
)

// lineRepo implements LineRepository.
type lineRepo struct {
	db *DB
}

// NewLineRepository creates a new LineRepository.
func NewLineRepository(db *DB) LineRepository {
	return &lineRepo{db: db}
}

const lineColumns = `id, name, extension, username, password, registrar_host,
	registrar_port, enabled, status, created_at, updated_at`

// List returns all lines ordered by name.
func (r *lineRepo) List(ctx context.Context) ([]models.SipLine, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+lineColumns+` FROM sip_lines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying sip lines: %w", err)
	}
	defer rows.Close()

	var lines []models.SipLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	return lines, rows.Err()
}

// GetByID returns a line by ID, or nil if it does not exist.
func (r *lineRepo) GetByID(ctx context.Context, id int64) (*models.SipLine, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+lineColumns+` FROM sip_lines WHERE id = ?`, id)
	line, err := scanLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return line, err
}

// Create inserts a new line.
func (r *lineRepo) Create(ctx context.Context, line *models.SipLine) error {
	if line.Status == "" {
		line.Status = models.LineStatusDisconnected
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO sip_lines (name, extension, username, password, registrar_host,
		 registrar_port, enabled, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		line.Name, line.Extension, line.Username, line.Password,
		line.RegistrarHost, line.RegistrarPort, line.Enabled, line.Status,
	)
	if err != nil {
		return fmt.Errorf("inserting sip line: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	line.ID = id
	return nil
}

// UpdateStatus writes back the registration status for a line.
func (r *lineRepo) UpdateStatus(ctx context.Context, id int64, status models.LineStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sip_lines SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("updating line %d status: %w", id, err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanLine(s scanner) (*models.SipLine, error) {
	var line models.SipLine
	err := s.Scan(
		&line.ID, &line.Name, &line.Extension, &line.Username, &line.Password,
		&line.RegistrarHost, &line.RegistrarPort, &line.Enabled, &line.Status,
		&line.CreatedAt, &line.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning sip line: %w", err)
	}
	return &line, nil
}
