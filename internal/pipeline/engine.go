package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/adapters/conversion"
	"resume-ingest/internal/adapters/extraction"
	"resume-ingest/internal/adapters/structuring"
	"resume-ingest/internal/resumes"
	"resume-ingest/internal/shared/metrics"
	"resume-ingest/internal/shared/telemetry"
	"resume-ingest/internal/shared/util"
)

// pageSeparator joins page texts so structuring still sees page boundaries.
const pageSeparator = "\n\f\n"

// Config tunes the engine.
type Config struct {
	Retry              RetryPolicy
	PersistAttempts    int
	ConversionTimeout  time.Duration
	ExtractionTimeout  time.Duration
	StructuringTimeout time.Duration
	PersistTimeout     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Retry:              DefaultRetryPolicy(),
		PersistAttempts:    3,
		ConversionTimeout:  60 * time.Second,
		ExtractionTimeout:  45 * time.Second,
		StructuringTimeout: 90 * time.Second,
		PersistTimeout:     10 * time.Second,
	}
}

// Engine runs one FileJob through its stages.
type Engine struct {
	converter  conversion.Converter
	extractor  extraction.Extractor
	structurer structuring.Structurer
	store      resumes.Store
	cfg        Config
	sleep      func(time.Duration)
	now        func() time.Time
}

// NewEngine wires the adapters and the resume store.
func NewEngine(conv conversion.Converter, ext extraction.Extractor, str structuring.Structurer, store resumes.Store, cfg Config) *Engine {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = 3
	}
	return &Engine{
		converter:  conv,
		extractor:  ext,
		structurer: str,
		store:      store,
		cfg:        cfg,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// Run drives job to completed or failed. Cancellation of ctx is honoured only
// between stages; adapter calls run detached from it under their own timeouts.
// The returned error is always a *FileError.
func (e *Engine) Run(ctx context.Context, job *FileJob) (resumes.ProcessedResume, error) {
	started := e.now()
	job.now = e.now

	resume, err := e.run(ctx, job, started)
	if err != nil {
		fe := e.failJob(job, err)
		metrics.IncFilesFailed()
		metrics.ObserveFileDurationMs(float64(e.now().Sub(started).Milliseconds()))
		return resumes.ProcessedResume{}, fe
	}
	metrics.IncFilesCompleted()
	metrics.ObserveFileDurationMs(float64(resume.ProcessingDurationMs))
	telemetry.Info("file.completed", map[string]any{
		"file_id":     job.ID,
		"user_id":     job.UserID,
		"resume_id":   job.ResumeID,
		"duration_ms": resume.ProcessingDurationMs,
	})
	return resume, nil
}

func (e *Engine) run(ctx context.Context, job *FileJob, started time.Time) (resumes.ProcessedResume, error) {
	if job.Stage != StageQueued {
		return resumes.ProcessedResume{}, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, job.ID, job.Stage)
	}
	if len(job.Data) == 0 {
		return resumes.ProcessedResume{}, adapters.Permanent("upload", adapters.CodeCorruptInput, errors.New("file is empty"))
	}

	pages, err := e.convert(ctx, job)
	if err != nil {
		return resumes.ProcessedResume{}, err
	}
	text, err := e.extract(ctx, job, pages)
	if err != nil {
		return resumes.ProcessedResume{}, err
	}
	resume, err := e.structure(ctx, job, text)
	if err != nil {
		return resumes.ProcessedResume{}, err
	}

	if err := e.enter(ctx, job, StageValidating, "Validating extracted resume data…"); err != nil {
		return resumes.ProcessedResume{}, err
	}
	resume.Source = resumes.Source{
		FileName:    job.Name,
		MimeType:    job.MimeType,
		PageCount:   len(pages),
		ContentHash: util.ContentHash(job.Data),
	}
	resume.ProcessedAt = e.now().UTC()
	resume.ProcessingDurationMs = resume.ProcessedAt.Sub(started).Milliseconds()
	resume.Normalize()
	if err := resume.Validate(); err != nil {
		return resumes.ProcessedResume{}, err
	}

	if err := e.enter(ctx, job, StagePersisting, "Saving your resume…"); err != nil {
		return resumes.ProcessedResume{}, err
	}
	ack, err := e.persist(ctx, job, resume)
	if err != nil {
		return resumes.ProcessedResume{}, err
	}
	job.ResumeID = ack.ID
	if job.agg != nil {
		job.agg.SetResumeID(job.ID, ack.ID)
	}

	result := resume
	job.Result = &result
	if err := job.advance(StageCompleted, "Resume processed successfully."); err != nil {
		return resumes.ProcessedResume{}, err
	}
	return resume, nil
}

func (e *Engine) convert(ctx context.Context, job *FileJob) ([]adapters.PageImage, error) {
	if !adapters.NeedsConversion(job.MimeType) {
		if !adapters.IsImage(job.MimeType) {
			return nil, adapters.Permanent("upload", adapters.CodeUnsupportedFormat, fmt.Errorf("unsupported mime type %q", job.MimeType))
		}
		return []adapters.PageImage{{PageNumber: 1, MimeType: job.MimeType, Data: job.Data}}, nil
	}

	if err := e.enter(ctx, job, StageConverting, "Converting document to image format…"); err != nil {
		return nil, err
	}
	doc := adapters.Document{Name: job.Name, MimeType: job.MimeType, Data: job.Data}
	var pages []adapters.PageImage
	err := e.call(ctx, job, e.cfg.ConversionTimeout, e.retrier(), func(c context.Context) error {
		var err error
		pages, err = e.converter.ConvertToImages(c, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	pages, err = conversion.OrderPages(pages)
	if err != nil {
		return nil, err
	}
	job.record(20, fmt.Sprintf("Converted %s.", plural(len(pages), "page")))
	return pages, nil
}

func (e *Engine) extract(ctx context.Context, job *FileJob, pages []adapters.PageImage) (string, error) {
	if err := e.enter(ctx, job, StageExtracting, fmt.Sprintf("Extracting text from %s…", plural(len(pages), "page"))); err != nil {
		return "", err
	}
	texts := make([]string, 0, len(pages))
	for i, page := range pages {
		var text string
		err := e.call(ctx, job, e.cfg.ExtractionTimeout, e.retrier(), func(c context.Context) error {
			var err error
			text, err = e.extractor.ExtractText(c, page)
			return err
		})
		if err != nil {
			return "", err
		}
		texts = append(texts, norm.NFC.String(strings.TrimSpace(text)))
		pct := extractionStart + (extractionEnd-extractionStart)*(i+1)/len(pages)
		job.record(pct, fmt.Sprintf("Extracted text from page %d of %d.", i+1, len(pages)))
	}

	joined := strings.Join(texts, pageSeparator)
	if strings.TrimSpace(strings.ReplaceAll(joined, "\f", "")) == "" {
		return "", adapters.Permanent("extraction", adapters.CodeUnreadableImage, errors.New("no text found on any page"))
	}
	return joined, nil
}

func (e *Engine) structure(ctx context.Context, job *FileJob, text string) (resumes.ProcessedResume, error) {
	if err := e.enter(ctx, job, StageStructuring, "Structuring resume data…"); err != nil {
		return resumes.ProcessedResume{}, err
	}
	var raw json.RawMessage
	err := e.call(ctx, job, e.cfg.StructuringTimeout, e.retrier(), func(c context.Context) error {
		var err error
		raw, err = e.structurer.Structure(c, text)
		return err
	})
	if err != nil {
		return resumes.ProcessedResume{}, err
	}
	resume, err := resumes.DecodeStructured(raw)
	if err != nil {
		return resumes.ProcessedResume{}, adapters.Permanent("structuring", adapters.CodeMalformedOutput, err)
	}
	return resume, nil
}

func (e *Engine) persist(ctx context.Context, job *FileJob, resume resumes.ProcessedResume) (resumes.Ack, error) {
	r := e.retrier()
	r.Policy.MaxAttempts = e.cfg.PersistAttempts
	r.Retryable = func(err error) bool {
		var ve *resumes.ValidationError
		return !errors.As(err, &ve) && !errors.Is(err, context.Canceled)
	}
	var ack resumes.Ack
	err := e.call(ctx, job, e.cfg.PersistTimeout, r, func(c context.Context) error {
		var err error
		ack, err = e.store.Persist(c, job.UserID, resume)
		return err
	})
	return ack, err
}

// enter checks for cancellation at the stage boundary and moves job to stage.
func (e *Engine) enter(ctx context.Context, job *FileJob, stage Stage, msg string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w before %s: %w", ErrCancelled, stage, err)
	}
	return job.advance(stage, msg)
}

// call runs fn with retries. Each attempt gets its own timeout on a context that
// keeps ctx's values but not its cancellation.
func (e *Engine) call(ctx context.Context, job *FileJob, timeout time.Duration, r Retrier, fn func(context.Context) error) error {
	detached := context.WithoutCancel(ctx)
	stage := job.Stage
	return r.Do(detached, func(c context.Context) error {
		if timeout <= 0 {
			return fn(c)
		}
		attemptCtx, cancel := context.WithTimeout(c, timeout)
		defer cancel()
		return fn(attemptCtx)
	}, func(attempt, max int, err error, delay time.Duration) {
		metrics.IncAdapterRetries()
		telemetry.Warn("adapter.retry", map[string]any{
			"file_id":  job.ID,
			"stage":    string(stage),
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		job.record(job.ProgressPercent, fmt.Sprintf("%s attempt %d of %d failed: %s. Retrying in %dms…",
			stage.label(), attempt, max, reason(err), delay.Milliseconds()))
	})
}

func (e *Engine) retrier() Retrier {
	return Retrier{Policy: e.cfg.Retry, Sleep: e.sleep}
}

func (e *Engine) failJob(job *FileJob, err error) *FileError {
	stage := job.Stage
	class, code := classify(stage, err)
	fe := &FileError{
		FileID:   job.ID,
		FileName: job.Name,
		Stage:    stage,
		Class:    class,
		Code:     code,
		Message:  reason(err),
		Err:      err,
	}
	var msg string
	if class == ClassCancelled {
		msg = "Processing cancelled."
	} else {
		msg = fmt.Sprintf("%s failed: %s.", stage.label(), fe.Message)
	}
	job.fail(fe, msg)
	telemetry.Warn("file.failed", map[string]any{
		"file_id": job.ID,
		"user_id": job.UserID,
		"stage":   string(stage),
		"class":   string(class),
		"code":    code,
		"error":   err.Error(),
	})
	return fe
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
