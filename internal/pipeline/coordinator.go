package pipeline

import (
	"context"
	"errors"
	"fmt"

	"resume-ingest/internal/credentials"
	"resume-ingest/internal/progress"
	"resume-ingest/internal/resumes"
	"resume-ingest/internal/shared/metrics"
	"resume-ingest/internal/shared/telemetry"
)

// Batch is an ordered set of files submitted together. Order is processing order.
type Batch struct {
	ID     string
	UserID string
	Files  []File
}

// BatchResult lists what succeeded and what failed. ResumeIDs maps file ID to
// the persisted resume ID of each completed file.
type BatchResult struct {
	BatchID   string                    `json:"batchId"`
	Results   []resumes.ProcessedResume `json:"results"`
	Errors    []FileError               `json:"errors"`
	ResumeIDs map[string]string         `json:"resumeIds"`
}

// Loader fetches file bytes that were staged elsewhere.
type Loader interface {
	Load(ctx context.Context, f File) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, f File) ([]byte, error)

func (fn LoaderFunc) Load(ctx context.Context, f File) ([]byte, error) { return fn(ctx, f) }

// Coordinator processes a batch one file at a time.
type Coordinator struct {
	engine *Engine
	creds  credentials.Provider
	loader Loader
}

// NewCoordinator builds a coordinator. loader may be nil when files carry their data.
func NewCoordinator(engine *Engine, creds credentials.Provider, loader Loader) *Coordinator {
	return &Coordinator{engine: engine, creds: creds, loader: loader}
}

// Register creates the queued jobs of batch in agg so snapshots list every file
// before processing starts.
func Register(batch Batch, agg *progress.Aggregator) []*FileJob {
	jobs := make([]*FileJob, 0, len(batch.Files))
	for _, f := range batch.Files {
		jobs = append(jobs, NewFileJob(batch.UserID, f, agg))
	}
	return jobs
}

// Process runs every file of batch. Single-file failures are recorded in the
// result. The returned error is non-nil only when the batch itself was aborted:
// ErrCredentials before any file started, or ErrCancelled.
func (c *Coordinator) Process(ctx context.Context, batch Batch, agg *progress.Aggregator) (BatchResult, error) {
	result := BatchResult{
		BatchID:   batch.ID,
		Results:   []resumes.ProcessedResume{},
		Errors:    []FileError{},
		ResumeIDs: map[string]string{},
	}
	jobs := Register(batch, agg)
	total := len(jobs)
	if total == 0 {
		total = 1
	}
	terminal := 0
	agg.SetState(progress.StateRunning)

	logFields := map[string]any{"batch_id": batch.ID, "user_id": batch.UserID, "files": total}
	telemetry.Info("batch.started", logFields)

	creds, err := c.creds.GetProcessingCredentials(ctx)
	if err != nil {
		metrics.IncBatchesCredentialsFailed()
		telemetry.Error("batch.credentials_failed", map[string]any{"batch_id": batch.ID, "error": err.Error()})
		for _, job := range jobs {
			fe := &FileError{
				FileID: job.ID, FileName: job.Name, Stage: job.Stage,
				Class: ClassCredentials, Message: "processing services are unavailable right now", Err: err,
			}
			job.fail(fe, "Could not start processing: processing services are unavailable right now.")
			result.Errors = append(result.Errors, *fe)
		}
		agg.SetOverall(100)
		agg.SetState(progress.StateFailed)
		return result, fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	ctx = credentials.WithCredentials(ctx, creds)

	for i, job := range jobs {
		if ctx.Err() != nil {
			c.cancelRemaining(jobs[i:], &result)
			agg.SetOverall(100)
			agg.SetState(progress.StateCancelled)
			metrics.IncBatchesCancelled()
			telemetry.Info("batch.cancelled", map[string]any{"batch_id": batch.ID, "processed": i})
			return result, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		if len(job.Data) == 0 && c.loader != nil {
			data, err := c.loader.Load(ctx, job.File)
			if err != nil {
				telemetry.Error("file.load_failed", map[string]any{"batch_id": batch.ID, "file_id": job.ID, "error": err.Error()})
				fe := &FileError{
					FileID: job.ID, FileName: job.Name, Stage: job.Stage,
					Class: ClassStorage, Code: "load_failed", Message: "the uploaded file could not be read back", Err: err,
				}
				job.fail(fe, "Could not read the uploaded file.")
				metrics.IncFilesFailed()
				result.Errors = append(result.Errors, *fe)
				terminal++
				agg.SetOverall(terminal * 100 / total)
				continue
			}
			job.Data = data
		}

		resume, err := c.engine.Run(ctx, job)
		// Release the upload bytes as soon as the file is done.
		job.Data = nil
		terminal++
		var fe *FileError
		if errors.As(err, &fe) {
			result.Errors = append(result.Errors, *fe)
		} else {
			result.Results = append(result.Results, resume)
			result.ResumeIDs[job.ID] = job.ResumeID
		}
		agg.SetOverall(terminal * 100 / total)
	}

	if ctx.Err() != nil && len(result.Errors) > 0 && result.Errors[len(result.Errors)-1].Class == ClassCancelled {
		agg.SetState(progress.StateCancelled)
		metrics.IncBatchesCancelled()
		return result, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}

	agg.SetState(progress.StateCompleted)
	metrics.IncBatchesCompleted()
	telemetry.Info("batch.completed", map[string]any{
		"batch_id":  batch.ID,
		"user_id":   batch.UserID,
		"completed": len(result.Results),
		"failed":    len(result.Errors),
	})
	return result, nil
}

func (c *Coordinator) cancelRemaining(jobs []*FileJob, result *BatchResult) {
	for _, job := range jobs {
		fe := &FileError{
			FileID: job.ID, FileName: job.Name, Stage: job.Stage,
			Class: ClassCancelled, Message: "the batch was cancelled before this file started", Err: ErrCancelled,
		}
		job.fail(fe, "Cancelled before processing started.")
		result.Errors = append(result.Errors, *fe)
	}
}
