package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"resume-ingest/internal/resumes"
)

func TestPGStoreLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM saved_resumes").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "updated_at"}).AddRow("saved-1", at))
	mock.ExpectQuery("FROM analyses").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	mock.ExpectQuery("FROM generated_resumes").
		WithArgs("u1").
		WillReturnError(errors.New("relation does not exist"))

	rec, ok, err := NewSavedResumeStore(db).Lookup(context.Background(), "u1")
	if err != nil || !ok || rec.ID != "saved-1" || !rec.UpdatedAt.Equal(at) {
		t.Fatalf("saved lookup: %+v %v %v", rec, ok, err)
	}
	if _, ok, err := NewAnalysisStore(db).Lookup(context.Background(), "u1"); ok || err != nil {
		t.Fatalf("analysis lookup: ok=%v err=%v", ok, err)
	}
	if _, _, err := NewGeneratedResumeStore(db).Lookup(context.Background(), "u1"); err == nil {
		t.Fatalf("expected generated lookup error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestExtractedStoreUsesLatestResume(t *testing.T) {
	repo := resumes.NewMemoryRepo()
	store := ExtractedStore{Repo: repo}

	if _, ok, err := store.Lookup(context.Background(), "u1"); ok || err != nil {
		t.Fatalf("expected empty lookup, got ok=%v err=%v", ok, err)
	}

	r := resumes.ProcessedResume{Name: "Jane", Source: resumes.Source{FileName: "cv.pdf", ContentHash: "h1"}}
	r.Normalize()
	ack, err := repo.Persist(context.Background(), "u1", r)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	rec, ok, err := store.Lookup(context.Background(), "u1")
	if err != nil || !ok || rec.ID != ack.ID {
		t.Fatalf("unexpected lookup %+v %v %v", rec, ok, err)
	}
}
