package batches

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/pipeline"
	"resume-ingest/internal/progress"
	"resume-ingest/internal/queue"
	"resume-ingest/internal/shared/metrics"
	"resume-ingest/internal/shared/storage/object"
	"resume-ingest/internal/shared/telemetry"
	"resume-ingest/internal/shared/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("batch not found")
	ErrUnavailable  = errors.New("batch processing unavailable")
)

// Upload is one file of a submission as received from the caller.
type Upload struct {
	Name     string
	MimeType string
	Body     io.Reader
}

// Limits bound a single submission.
type Limits struct {
	MaxFiles     int
	MaxFileBytes int64
}

// DefaultLimits allows 10 files of up to 10 MiB each.
func DefaultLimits() Limits {
	return Limits{MaxFiles: 10, MaxFileBytes: 10 << 20}
}

// RemoteStore reads batches that run in another process.
type RemoteStore interface {
	Load(ctx context.Context, batchID string) (progress.Snapshot, error)
	RequestCancel(ctx context.Context, batchID string) error
}

// Options configures a Service. Coordinator is required unless Queue is set, in
// which case Remote is required instead.
type Options struct {
	Coordinator *pipeline.Coordinator
	Store       object.ObjectStore
	Queue       queue.Client
	Remote      RemoteStore
	Sinks       []progress.Sink
	Limits      Limits
	Retention   time.Duration
}

// View is what callers see of a batch. Result is set once a local batch finished.
type View struct {
	progress.Snapshot
	Result *pipeline.BatchResult `json:"result,omitempty"`
}

// Service implements submitBatch, getBatchSnapshot and cancelBatch.
type Service struct {
	coordinator *pipeline.Coordinator
	store       object.ObjectStore
	queue       queue.Client
	remote      RemoteStore
	sinks       []progress.Sink
	limits      Limits
	retention   time.Duration

	now   func() time.Time
	newID func() string

	base     context.Context
	stopAll  context.CancelFunc
	mu       sync.Mutex
	batches  map[string]*entry
	inflight sync.WaitGroup
}

type entry struct {
	userID     string
	agg        *progress.Aggregator
	cancel     context.CancelFunc
	done       chan struct{}
	result     *pipeline.BatchResult
	finishedAt time.Time
}

// NewService validates opts and returns a ready Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("batches: object store is required")
	}
	if opts.Queue == nil && opts.Coordinator == nil {
		return nil, errors.New("batches: coordinator is required without a queue")
	}
	if opts.Queue != nil && opts.Remote == nil {
		return nil, errors.New("batches: queue mode requires a remote snapshot store")
	}
	limits := opts.Limits
	defaults := DefaultLimits()
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = defaults.MaxFiles
	}
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = defaults.MaxFileBytes
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		coordinator: opts.Coordinator,
		store:       opts.Store,
		queue:       opts.Queue,
		remote:      opts.Remote,
		sinks:       opts.Sinks,
		limits:      limits,
		retention:   retention,
		now:         time.Now,
		newID:       uuid.NewString,
		base:        base,
		stopAll:     stop,
		batches:     make(map[string]*entry),
	}, nil
}

// Limits returns the effective submission limits.
func (s *Service) Limits() Limits { return s.limits }

type staged struct {
	file pipeline.File
	data []byte
}

// Submit validates and stages uploads, then starts the batch in the background
// (or enqueues it in worker mode). It returns the batch ID immediately.
func (s *Service) Submit(ctx context.Context, userID string, uploads []Upload) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if len(uploads) == 0 {
		return "", fmt.Errorf("%w: at least one file is required", ErrInvalidInput)
	}
	if len(uploads) > s.limits.MaxFiles {
		return "", fmt.Errorf("%w: at most %d files per batch", ErrInvalidInput, s.limits.MaxFiles)
	}
	s.prune()

	files := make([]staged, 0, len(uploads))
	for _, up := range uploads {
		f, err := s.readUpload(up)
		if err != nil {
			return "", err
		}
		files = append(files, f)
	}

	batchID := s.newID()
	batch := pipeline.Batch{ID: batchID, UserID: userID, Files: make([]pipeline.File, 0, len(files))}
	for _, f := range files {
		key, _, _, err := s.store.Save(ctx, batchID, f.file.Name, bytes.NewReader(f.data))
		if err != nil {
			s.cleanup(context.WithoutCancel(ctx), batch)
			return "", fmt.Errorf("stage %s: %w", f.file.Name, err)
		}
		f.file.StorageKey = key
		batch.Files = append(batch.Files, f.file)
	}

	agg := progress.NewAggregator(batchID, userID, s.sinks...)
	pipeline.Register(batch, agg)

	if s.queue != nil {
		if err := s.enqueue(ctx, batch); err != nil {
			s.cleanup(context.WithoutCancel(ctx), batch)
			return "", err
		}
	} else {
		s.start(batch, agg)
	}

	metrics.IncBatchesSubmitted()
	telemetry.Info("batch.submitted", map[string]any{
		"batch_id": batchID,
		"user_id":  userID,
		"files":    len(batch.Files),
		"queued":   s.queue != nil,
	})
	return batchID, nil
}

func (s *Service) readUpload(up Upload) (staged, error) {
	name, err := util.SanitizeFileName(up.Name)
	if err != nil {
		return staged{}, fmt.Errorf("%w: %q: %v", ErrInvalidInput, up.Name, err)
	}
	if up.Body == nil {
		return staged{}, fmt.Errorf("%w: %s is empty", ErrInvalidInput, name)
	}
	data, err := io.ReadAll(io.LimitReader(up.Body, s.limits.MaxFileBytes+1))
	if err != nil {
		return staged{}, fmt.Errorf("%w: read %s: %v", ErrInvalidInput, name, err)
	}
	if len(data) == 0 {
		return staged{}, fmt.Errorf("%w: %s is empty", ErrInvalidInput, name)
	}
	if int64(len(data)) > s.limits.MaxFileBytes {
		return staged{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, name, s.limits.MaxFileBytes)
	}
	mime := adapters.ResolveMime(up.MimeType, http.DetectContentType(data), name, data)
	if !adapters.Supported(mime) {
		return staged{}, fmt.Errorf("%w: %s has unsupported type %q", ErrInvalidInput, name, mime)
	}
	return staged{
		file: pipeline.File{ID: s.newID(), Name: name, MimeType: mime, SizeBytes: int64(len(data))},
		data: data,
	}, nil
}

func (s *Service) enqueue(ctx context.Context, batch pipeline.Batch) error {
	msg := queue.Message{
		BatchID:    batch.ID,
		UserID:     batch.UserID,
		RequestID:  requestIDFromContext(ctx),
		Files:      make([]queue.FileRef, 0, len(batch.Files)),
		EnqueuedAt: s.now().UTC(),
		Version:    queue.MessageVersion,
	}
	for _, f := range batch.Files {
		msg.Files = append(msg.Files, queue.FileRef{
			ID: f.ID, Name: f.Name, MimeType: f.MimeType, SizeBytes: f.SizeBytes, StorageKey: f.StorageKey,
		})
	}
	if err := s.queue.Send(ctx, msg); err != nil {
		telemetry.Error("batch.enqueue_failed", map[string]any{"batch_id": batch.ID, "error": err.Error()})
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Service) start(batch pipeline.Batch, agg *progress.Aggregator) {
	runCtx, cancel := context.WithCancel(s.base)
	e := &entry{userID: batch.UserID, agg: agg, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.batches[batch.ID] = e
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		defer close(e.done)

		result, err := s.coordinator.Process(runCtx, batch, agg)
		if err != nil {
			telemetry.Warn("batch.aborted", map[string]any{"batch_id": batch.ID, "error": err.Error()})
		}
		s.cleanup(context.Background(), batch)

		s.mu.Lock()
		e.result = &result
		e.finishedAt = s.now()
		s.mu.Unlock()
	}()
}

// Snapshot returns the current view of a batch owned by userID.
func (s *Service) Snapshot(ctx context.Context, userID, batchID string) (View, error) {
	s.prune()
	if e, ok := s.lookup(userID, batchID); ok {
		s.mu.Lock()
		result := e.result
		s.mu.Unlock()
		return View{Snapshot: e.agg.Snapshot(), Result: result}, nil
	}
	if s.remote == nil {
		return View{}, ErrNotFound
	}
	snap, err := s.remote.Load(ctx, batchID)
	if errors.Is(err, progress.ErrSnapshotNotFound) {
		return View{}, ErrNotFound
	}
	if err != nil {
		return View{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if snap.UserID != userID {
		return View{}, ErrNotFound
	}
	return View{Snapshot: snap}, nil
}

// Result returns the outcome of a finished local batch. ok is false while the
// batch is still running.
func (s *Service) Result(userID, batchID string) (pipeline.BatchResult, bool, error) {
	e, found := s.lookup(userID, batchID)
	if !found {
		return pipeline.BatchResult{}, false, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.result == nil {
		return pipeline.BatchResult{}, false, nil
	}
	return *e.result, true, nil
}

// Cancel requests cancellation of a batch owned by userID. Files already
// finished keep their outcome; the running file stops at its next stage boundary.
// Cancelling a finished batch is a no-op.
func (s *Service) Cancel(ctx context.Context, userID, batchID string) error {
	if e, ok := s.lookup(userID, batchID); ok {
		e.cancel()
		telemetry.Info("batch.cancel_requested", map[string]any{"batch_id": batchID, "user_id": userID})
		return nil
	}
	if s.remote == nil {
		return ErrNotFound
	}
	snap, err := s.remote.Load(ctx, batchID)
	if errors.Is(err, progress.ErrSnapshotNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if snap.UserID != userID {
		return ErrNotFound
	}
	if err := s.remote.RequestCancel(ctx, batchID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	telemetry.Info("batch.cancel_requested", map[string]any{"batch_id": batchID, "user_id": userID, "remote": true})
	return nil
}

// Wait blocks until a local batch finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, batchID string) error {
	s.mu.Lock()
	e, ok := s.batches[batchID]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every running batch and waits for them until ctx ends.
func (s *Service) Close(ctx context.Context) error {
	s.stopAll()
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) lookup(userID, batchID string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.batches[batchID]
	if !ok || e.userID != userID {
		return nil, false
	}
	return e, true
}

// prune drops finished batches older than the retention window.
func (s *Service) prune() {
	cutoff := s.now().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.batches {
		if e.result != nil && e.finishedAt.Before(cutoff) {
			delete(s.batches, id)
		}
	}
}

// cleanup deletes the staged uploads of a batch. Failures are logged only.
func (s *Service) cleanup(ctx context.Context, batch pipeline.Batch) {
	for _, f := range batch.Files {
		if f.StorageKey == "" {
			continue
		}
		if err := s.store.Delete(ctx, f.StorageKey); err != nil {
			telemetry.Warn("batch.cleanup_failed", map[string]any{
				"batch_id": batch.ID, "storage_key": f.StorageKey, "error": err.Error(),
			})
		}
	}
}

// StoreLoader reads staged uploads back from store.
func StoreLoader(store object.ObjectStore) pipeline.Loader {
	return pipeline.LoaderFunc(func(ctx context.Context, f pipeline.File) ([]byte, error) {
		rc, err := store.Open(ctx, f.StorageKey)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	})
}

type requestIDKey struct{}

// WithRequestID attaches the HTTP request ID so queued messages can carry it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
