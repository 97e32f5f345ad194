package pipeline

import (
	"fmt"
	"time"

	"resume-ingest/internal/progress"
	"resume-ingest/internal/resumes"
)

// File is one uploaded file. Data may be nil when the coordinator has a Loader.
type File struct {
	ID         string
	Name       string
	MimeType   string
	SizeBytes  int64
	StorageKey string
	Data       []byte
}

// FileJob tracks one file through the stages. Only the engine running the job
// mutates it, and it is frozen once terminal.
type FileJob struct {
	File
	UserID          string
	Stage           Stage
	ProgressPercent int
	Logs            []progress.LogLine
	Result          *resumes.ProcessedResume
	ResumeID        string
	Error           *FileError

	agg *progress.Aggregator
	now func() time.Time
}

// NewFileJob creates a queued job mirrored into agg.
func NewFileJob(userID string, f File, agg *progress.Aggregator) *FileJob {
	j := &FileJob{File: f, UserID: userID, Stage: StageQueued, Logs: []progress.LogLine{}, agg: agg, now: time.Now}
	if agg != nil {
		agg.AddFile(f.ID, f.Name, f.MimeType, f.SizeBytes, string(StageQueued))
	}
	return j
}

func (j *FileJob) advance(next Stage, msg string) error {
	if !j.Stage.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, next)
	}
	j.Stage = next
	j.raise(next.EntryProgress())
	j.appendLog(msg)
	if j.agg != nil {
		j.agg.Advance(j.ID, string(next), j.ProgressPercent, msg)
	}
	return nil
}

// record raises progress within the current stage and appends msg.
func (j *FileJob) record(pct int, msg string) {
	if j.Stage.Terminal() {
		return
	}
	j.raise(pct)
	j.appendLog(msg)
	if j.agg != nil {
		j.agg.Record(j.ID, j.ProgressPercent, msg)
	}
}

func (j *FileJob) fail(fe *FileError, msg string) {
	if j.Stage.Terminal() {
		return
	}
	j.Stage = StageFailed
	j.Error = fe
	j.appendLog(msg)
	if j.agg != nil {
		j.agg.Fail(j.ID, string(StageFailed), progress.FileError{
			Class:   string(fe.Class),
			Code:    fe.Code,
			Message: fe.Message,
		}, msg)
	}
}

func (j *FileJob) raise(pct int) {
	if pct > j.ProgressPercent {
		j.ProgressPercent = pct
	}
}

func (j *FileJob) appendLog(msg string) {
	if msg == "" {
		return
	}
	j.Logs = append(j.Logs, progress.LogLine{At: j.now().UTC(), Message: msg})
}
