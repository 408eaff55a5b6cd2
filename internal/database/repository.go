package database

import (
	"context"

	"github.com/chtugha/voicebridge/internal/database/models"
)

// LineRepository provides access to SIP line configuration. The signaling
// engine consumes lines read-only and writes back only the status field.
type LineRepository interface {
	List(ctx context.Context) ([]models.SipLine, error)
	GetByID(ctx context.Context, id int64) (*models.SipLine, error)
	Create(ctx context.Context, line *models.SipLine) error
	UpdateStatus(ctx context.Context, id int64, status models.LineStatus) error
}

// CallerRepository resolves phone numbers to caller records.
type CallerRepository interface {
	GetOrCreate(ctx context.Context, phone string) (*models.Caller, error)
}

// SessionRepository persists call sessions and their transcripts.
type SessionRepository interface {
	Create(ctx context.Context, callerID int64, phone string, lineID int64) (*models.CallSession, error)
	AppendTranscript(ctx context.Context, sessionID, text string) error
	Close(ctx context.Context, sessionID string) error
	GetByID(ctx context.Context, sessionID string) (*models.CallSession, error)
}
