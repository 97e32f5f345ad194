package pipeline

import (
	"context"
	"errors"
	"fmt"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/resumes"
	"resume-ingest/internal/shared/util"
)

var (
	// ErrCredentials aborts a batch before any file starts.
	ErrCredentials = errors.New("processing credentials unavailable")

	// ErrCancelled is returned when a batch stops on a cancel request.
	ErrCancelled = errors.New("batch cancelled")

	// ErrInvalidTransition signals a stage change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// ErrorClass groups file failures for callers.
type ErrorClass string

const (
	ClassTransientExhausted ErrorClass = "transient_exhausted"
	ClassPermanent          ErrorClass = "permanent"
	ClassValidation         ErrorClass = "validation"
	ClassStorage            ErrorClass = "storage"
	ClassCancelled          ErrorClass = "cancelled"
	ClassCredentials        ErrorClass = "credentials"
)

// FileError is the failure recorded for one file.
type FileError struct {
	FileID   string     `json:"fileId"`
	FileName string     `json:"fileName"`
	Stage    Stage      `json:"stage"`
	Class    ErrorClass `json:"class"`
	Code     string     `json:"code,omitempty"`
	Message  string     `json:"message"`
	Err      error      `json:"-"`
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s failed during %s (%s): %s", e.FileName, e.Stage, e.Class, e.Message)
}

func (e *FileError) Unwrap() error { return e.Err }

// RetryExhaustedError wraps the last error of a retried call.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// classify maps an error raised while in stage to a class and code.
func classify(stage Stage, err error) (ErrorClass, string) {
	var ve *resumes.ValidationError
	var re *RetryExhaustedError
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ClassCancelled, ""
	case errors.As(err, &ve):
		return ClassValidation, "invalid_resume"
	case stage == StagePersisting:
		return ClassStorage, "persist_failed"
	case errors.As(err, &re):
		return ClassTransientExhausted, adapters.CodeOf(err)
	default:
		return ClassPermanent, adapters.CodeOf(err)
	}
}

// reason renders err for users.
func reason(err error) string {
	switch adapters.CodeOf(err) {
	case adapters.CodeTimeout:
		return "the service timed out"
	case adapters.CodeRateLimited:
		return "the service is rate limiting requests"
	case adapters.CodeUnavailable:
		return "the service is temporarily unavailable"
	case adapters.CodeUnsupportedFormat:
		return "this file format is not supported"
	case adapters.CodeCorruptInput:
		return "the file appears to be damaged or empty"
	case adapters.CodeUnreadableImage:
		return "no readable text was found"
	case adapters.CodeMalformedOutput:
		return "the extracted data could not be understood"
	}
	var ve *resumes.ValidationError
	if errors.As(err, &ve) {
		return util.SanitizeMessage(ve.Error())
	}
	var re *RetryExhaustedError
	if errors.As(err, &re) {
		return reason(re.Err)
	}
	return util.SanitizeMessage(err.Error())
}
