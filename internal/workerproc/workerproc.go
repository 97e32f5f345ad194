package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"resume-ingest/internal/pipeline"
	"resume-ingest/internal/progress"
	"resume-ingest/internal/queue"
	"resume-ingest/internal/shared/storage/object"
	"resume-ingest/internal/shared/telemetry"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrInvalidMessage indicates a decoded message that cannot describe a batch.
type ErrInvalidMessage struct {
	Meta      MessageMeta
	BatchID   string
	RequestID string
	Reason    string
}

func (e ErrInvalidMessage) Error() string { return "invalid batch message: " + e.Reason }

// ErrProcess indicates the batch could not run and the message should be redelivered.
type ErrProcess struct {
	BatchID   string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process batch"
	}
	return "process batch: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	invalid := func(reason string) error {
		return ErrInvalidMessage{Meta: meta, BatchID: msg.BatchID, RequestID: msg.RequestID, Reason: reason}
	}
	switch {
	case strings.TrimSpace(msg.BatchID) == "":
		return msg, meta, invalid("missing batch id")
	case strings.TrimSpace(msg.UserID) == "":
		return msg, meta, invalid("missing user id")
	case len(msg.Files) == 0:
		return msg, meta, invalid("no files")
	case msg.Version > queue.MessageVersion:
		return msg, meta, invalid("unsupported version")
	}
	for _, f := range msg.Files {
		if strings.TrimSpace(f.ID) == "" || strings.TrimSpace(f.StorageKey) == "" {
			return msg, meta, invalid("file without id or storage key")
		}
	}
	return msg, meta, nil
}

// CancelChecker reports cross-process cancellation requests.
type CancelChecker interface {
	CancelRequested(ctx context.Context, batchID string) (bool, error)
}

// Runner executes queued batches in the worker process.
type Runner struct {
	Coordinator  *pipeline.Coordinator
	Store        object.ObjectStore
	Cancels      CancelChecker
	Sinks        []progress.Sink
	PollInterval time.Duration
}

// RunBatch processes msg to a terminal state. A batch aborted by the credential
// provider returns ErrProcess and keeps its staged files so a redelivery can retry it.
// Any other outcome, including cancellation, deletes the staged files.
func (r *Runner) RunBatch(ctx context.Context, msg queue.Message) error {
	if r == nil || r.Coordinator == nil {
		return errors.New("batch runner not configured")
	}
	batch := pipeline.Batch{ID: msg.BatchID, UserID: msg.UserID, Files: make([]pipeline.File, 0, len(msg.Files))}
	for _, f := range msg.Files {
		batch.Files = append(batch.Files, pipeline.File{
			ID: f.ID, Name: f.Name, MimeType: f.MimeType, SizeBytes: f.SizeBytes, StorageKey: f.StorageKey,
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.Cancels != nil {
		go r.watchCancel(runCtx, cancel, batch.ID)
	}

	agg := progress.NewAggregator(batch.ID, batch.UserID, r.Sinks...)
	result, err := r.Coordinator.Process(runCtx, batch, agg)
	if errors.Is(err, pipeline.ErrCredentials) {
		return ErrProcess{BatchID: batch.ID, RequestID: msg.RequestID, Err: err}
	}
	r.cleanup(context.WithoutCancel(ctx), batch)

	telemetry.Info("worker.batch.finished", map[string]any{
		"batch_id":   batch.ID,
		"request_id": msg.RequestID,
		"completed":  len(result.Results),
		"failed":     len(result.Errors),
		"cancelled":  errors.Is(err, pipeline.ErrCancelled),
	})
	return nil
}

func (r *Runner) watchCancel(ctx context.Context, cancel context.CancelFunc, batchID string) {
	interval := r.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		requested, err := r.Cancels.CancelRequested(ctx, batchID)
		if err != nil {
			if ctx.Err() == nil {
				telemetry.Warn("worker.batch.cancel_check_failed", map[string]any{"batch_id": batchID, "error": err.Error()})
			}
			continue
		}
		if requested {
			telemetry.Info("worker.batch.cancel_observed", map[string]any{"batch_id": batchID})
			cancel()
			return
		}
	}
}

func (r *Runner) cleanup(ctx context.Context, batch pipeline.Batch) {
	if r.Store == nil {
		return
	}
	for _, f := range batch.Files {
		if err := r.Store.Delete(ctx, f.StorageKey); err != nil {
			telemetry.Warn("worker.batch.cleanup_failed", map[string]any{
				"batch_id": batch.ID, "storage_key": f.StorageKey, "error": err.Error(),
			})
		}
	}
}

// BatchRunner runs one decoded batch message.
type BatchRunner interface {
	RunBatch(ctx context.Context, msg queue.Message) error
}

// HandleMessage parses, validates, and processes a message payload.
func HandleMessage(ctx context.Context, runner BatchRunner, body string) error {
	if runner == nil {
		return errors.New("batch runner not configured")
	}
	msg, _, err := ParseMessage(body)
	if err != nil {
		return err
	}
	return runner.RunBatch(ctx, msg)
}
