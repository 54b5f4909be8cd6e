package engine

import (
	"time"

	"github.com/google/uuid"
)

// Session identifies one exchange attempt. At most one exists per Manager at
// any time; it is created when an exchange is admitted and discarded when the
// manager returns to idle.
type Session struct {
	ID        string
	StartedAt time.Time
}

func newSession() *Session {
	return &Session{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
}
