package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGStore answers a lookup with one "newest row for user" query.
type PGStore struct {
	DB    *sql.DB
	query string
}

// NewSavedResumeStore looks up resumes the user explicitly saved.
func NewSavedResumeStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db, query: `
SELECT id, updated_at
FROM saved_resumes
WHERE user_id = $1 AND deleted_at IS NULL
ORDER BY updated_at DESC
LIMIT 1`}
}

// NewGeneratedResumeStore looks up rendered resumes.
func NewGeneratedResumeStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db, query: `
SELECT id, created_at
FROM generated_resumes
WHERE user_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT 1`}
}

// NewAnalysisStore looks up completed analyses.
func NewAnalysisStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db, query: `
SELECT id, created_at
FROM analyses
WHERE user_id = $1 AND status = 'completed'
ORDER BY created_at DESC
LIMIT 1`}
}

func (s *PGStore) Lookup(ctx context.Context, userID string) (Record, bool, error) {
	var (
		id string
		at time.Time
	)
	err := s.DB.QueryRowContext(ctx, s.query, userID).Scan(&id, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return Record{ID: id, UpdatedAt: at}, true, nil
}

var _ Store = (*PGStore)(nil)
