package types

import "github.com/google/uuid"

// SessionMeta identifies one connection session.
// Every log entry and archived record carries these fields.
type SessionMeta struct {
	// SessionID is unique per process-level connect call.
	SessionID string
	// Endpoint is the service base URL.
	Endpoint string
}

// NewSessionMeta creates session metadata with a fresh session ID.
func NewSessionMeta(endpoint string) *SessionMeta {
	return &SessionMeta{
		SessionID: uuid.NewString(),
		Endpoint:  endpoint,
	}
}
