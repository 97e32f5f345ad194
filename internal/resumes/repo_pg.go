package resumes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Persist inserts the resume unless one with the same content hash exists for the user.
func (r *PGRepo) Persist(ctx context.Context, userID string, resume ProcessedResume) (Ack, error) {
	payload, err := json.Marshal(resume)
	if err != nil {
		return Ack{}, err
	}
	const insert = `
INSERT INTO processed_resumes (id, user_id, content_hash, source_file_name, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, content_hash) DO NOTHING
RETURNING id`
	var id string
	err = r.DB.QueryRowContext(ctx, insert,
		uuid.NewString(),
		userID,
		resume.Source.ContentHash,
		resume.Source.FileName,
		payload,
		time.Now().UTC(),
	).Scan(&id)
	if err == nil {
		return Ack{ID: id, Created: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Ack{}, err
	}

	const existing = `
SELECT id FROM processed_resumes
WHERE user_id = $1 AND content_hash = $2
LIMIT 1`
	if err := r.DB.QueryRowContext(ctx, existing, userID, resume.Source.ContentHash).Scan(&id); err != nil {
		return Ack{}, err
	}
	return Ack{ID: id, Created: false}, nil
}

// Get returns a resume by ID for a user.
func (r *PGRepo) Get(ctx context.Context, userID, id string) (Record, error) {
	const query = `
SELECT id, user_id, payload, created_at
FROM processed_resumes
WHERE id = $1
LIMIT 1`
	rec, err := scanPG(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if rec.UserID != userID {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

// Latest returns the newest resume for a user.
func (r *PGRepo) Latest(ctx context.Context, userID string) (Record, bool, error) {
	const query = `
SELECT id, user_id, payload, created_at
FROM processed_resumes
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 1`
	rec, err := scanPG(r.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func scanPG(row *sql.Row) (Record, error) {
	var (
		id, userID string
		payload    []byte
		createdAt  time.Time
	)
	if err := row.Scan(&id, &userID, &payload, &createdAt); err != nil {
		return Record{}, err
	}
	return decodeRecord(id, userID, payload, createdAt)
}

var _ Repo = (*PGRepo)(nil)
