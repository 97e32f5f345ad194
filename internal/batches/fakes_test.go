package batches

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/credentials"
	"resume-ingest/internal/pipeline"
	"resume-ingest/internal/progress"
	"resume-ingest/internal/queue"
	"resume-ingest/internal/resumes"
	localstore "resume-ingest/internal/shared/storage/object/local"
)

const structuredJSON = `{"name":"Jane Doe","contact":{"email":"jane@example.com","phone":"","location":"","links":[]},"summary":"","workHistory":[],"education":[],"skills":["Go"]}`

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake image body")

type pageConverter struct{}

func (pageConverter) ConvertToImages(_ context.Context, doc adapters.Document) ([]adapters.PageImage, error) {
	return []adapters.PageImage{{PageNumber: 1, MimeType: adapters.MimePNG, Data: doc.Data}}, nil
}

type echoExtractor struct{}

func (echoExtractor) ExtractText(_ context.Context, page adapters.PageImage) (string, error) {
	return "Jane Doe resume text", nil
}

// gatedStructurer blocks each call until release is closed when gate is set.
type gatedStructurer struct {
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStructurer) Structure(_ context.Context, _ string) (json.RawMessage, error) {
	if s != nil && s.release != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.release
	}
	return json.RawMessage(structuredJSON), nil
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []queue.Message
	err  error
}

func (q *fakeQueue) Send(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

type fakeRemote struct {
	snaps     map[string]progress.Snapshot
	cancelled []string
}

func (r *fakeRemote) Load(_ context.Context, batchID string) (progress.Snapshot, error) {
	snap, ok := r.snaps[batchID]
	if !ok {
		return progress.Snapshot{}, progress.ErrSnapshotNotFound
	}
	return snap, nil
}

func (r *fakeRemote) RequestCancel(_ context.Context, batchID string) error {
	r.cancelled = append(r.cancelled, batchID)
	return nil
}

type harness struct {
	svc   *Service
	store *localstore.Store
	dir   string
	repo  *resumes.MemoryRepo
}

func newLocalHarness(t *testing.T, str *gatedStructurer) *harness {
	t.Helper()
	dir := t.TempDir()
	store := localstore.New(dir)
	repo := resumes.NewMemoryRepo()
	engine := pipeline.NewEngine(pageConverter{}, echoExtractor{}, str, repo, pipeline.DefaultConfig())
	coord := pipeline.NewCoordinator(engine, credentials.NewEnvProvider("conv", "ext", "str"), StoreLoader(store))
	svc, err := NewService(Options{Coordinator: coord, Store: store, Retention: time.Minute})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return &harness{svc: svc, store: store, dir: dir, repo: repo}
}

func png(name string) Upload {
	return Upload{Name: name, MimeType: "image/png", Body: bytesReader(pngBytes)}
}
