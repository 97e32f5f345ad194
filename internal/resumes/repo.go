package resumes

import (
	"context"
	"time"
)

// Ack confirms a persisted resume. Created is false when the same content was
// already stored for the user and the existing record was kept.
type Ack struct {
	ID      string
	Created bool
}

// Record is a stored resume.
type Record struct {
	ID        string
	UserID    string
	Resume    ProcessedResume
	CreatedAt time.Time
}

// Store persists processed resumes. Persist is idempotent per (user, content hash).
type Store interface {
	Persist(ctx context.Context, userID string, resume ProcessedResume) (Ack, error)
}

// Repo is a Store that can also read resumes back.
type Repo interface {
	Store
	Get(ctx context.Context, userID, id string) (Record, error)
	// Latest returns the newest resume for the user, if any.
	Latest(ctx context.Context, userID string) (Record, bool, error)
}
