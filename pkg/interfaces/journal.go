package interfaces

import (
	"context"
	"time"

	"habitat/pkg/types"
)

// SessionRecord is the journal row of one session run.
type SessionRecord struct {
	RunID     string     `json:"run_id"`
	SessionID string     `json:"session_id"`
	HostName  string     `json:"host_name"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Journal is an append-only audit sink for finished and ongoing sessions.
// It is never read back into a live session.
type Journal interface {
	RecordSessionStart(ctx context.Context, rec *SessionRecord) error
	RecordSessionEnd(ctx context.Context, runID string, endedAt time.Time) error
	StoreChat(ctx context.Context, runID string, msg types.ChatMessage) error
	RecordIncident(ctx context.Context, runID string, ev types.ActiveEvent) error
	RecordMission(ctx context.Context, runID string, m types.ActiveMission) error

	// ChatHistory returns the journaled chat of the latest run of sessionID.
	ChatHistory(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
