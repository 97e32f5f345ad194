package checkpoint

import (
	"context"

	"resume-ingest/internal/resumes"
)

// ExtractedStore reports resumes persisted by the ingestion pipeline.
type ExtractedStore struct {
	Repo resumes.Repo
}

func (s ExtractedStore) Lookup(ctx context.Context, userID string) (Record, bool, error) {
	rec, ok, err := s.Repo.Latest(ctx, userID)
	if err != nil || !ok {
		return Record{}, false, err
	}
	return Record{ID: rec.ID, UpdatedAt: rec.CreatedAt}, true, nil
}
