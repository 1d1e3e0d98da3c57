package server

import (
	"time"

	"github.com/google/uuid"
)

// Session identifies one client connection.
type Session struct {
	ID        string
	StartedAt time.Time
	Client    string
	Transport string
}

func newSession(transport string) Session {
	return Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Transport: transport,
	}
}
