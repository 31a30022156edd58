// Package history persists conversation transcripts per session so a
// restarted server (or a curious user) can replay what was said. Three
// backends: in-memory for tests, one JSON file per session for local use,
// PostgreSQL for a shared deployment.
package history

import (
	"context"
	"time"
)

// Role labels who produced a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnRecord stores a single user or assistant conversational turn.
type TurnRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	// Voiced marks turns that entered or left the system as audio.
	Voiced    bool      `json:"voiced,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves conversation history.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	History(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	ClearSession(ctx context.Context, sessionID string) error
	Close() error
}
