package resumes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SQLiteRepo implements Repo on a local SQLite database (see db.OpenSQLite).
// created_at is stored as unix nanoseconds so ORDER BY is chronological.
type SQLiteRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r *SQLiteRepo) Persist(ctx context.Context, userID string, resume ProcessedResume) (Ack, error) {
	payload, err := json.Marshal(resume)
	if err != nil {
		return Ack{}, err
	}
	const insert = `
INSERT INTO processed_resumes (id, user_id, content_hash, source_file_name, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, content_hash) DO NOTHING`
	id := uuid.NewString()
	res, err := r.DB.ExecContext(ctx, insert,
		id,
		userID,
		resume.Source.ContentHash,
		resume.Source.FileName,
		string(payload),
		r.now().UnixNano(),
	)
	if err != nil {
		return Ack{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return Ack{ID: id, Created: true}, nil
	}

	const existing = `SELECT id FROM processed_resumes WHERE user_id = ? AND content_hash = ? LIMIT 1`
	if err := r.DB.QueryRowContext(ctx, existing, userID, resume.Source.ContentHash).Scan(&id); err != nil {
		return Ack{}, err
	}
	return Ack{ID: id, Created: false}, nil
}

func (r *SQLiteRepo) Get(ctx context.Context, userID, id string) (Record, error) {
	const query = `SELECT id, user_id, payload, created_at FROM processed_resumes WHERE id = ? LIMIT 1`
	rec, err := scanSQLite(r.DB.QueryRowContext(ctx, query, id))
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

func (r *SQLiteRepo) Latest(ctx context.Context, userID string) (Record, bool, error) {
	const query = `
SELECT id, user_id, payload, created_at FROM processed_resumes
WHERE user_id = ?
ORDER BY created_at DESC
LIMIT 1`
	rec, err := scanSQLite(r.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func scanSQLite(row *sql.Row) (Record, error) {
	var id, userID, payload string
	var created int64
	if err := row.Scan(&id, &userID, &payload, &created); err != nil {
		return Record{}, err
	}
	return decodeRecord(id, userID, []byte(payload), time.Unix(0, created).UTC())
}

func (r *SQLiteRepo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

var _ Repo = (*SQLiteRepo)(nil)
