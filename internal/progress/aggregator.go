// Package progress aggregates per-file progress and log lines for one batch and
// serves consistent snapshots to pollers and streaming subscribers.
package progress

import (
	"context"
	"sync"
	"time"

	"resume-ingest/internal/shared/telemetry"
)

// Batch states.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateCancelled = "cancelled"
	StateFailed    = "failed"
)

// LogLine is one user-facing log entry.
type LogLine struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// FileError is the failure recorded for a file.
type FileError struct {
	Class   string `json:"class"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// FileView is the read model of one file.
type FileView struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	MimeType        string     `json:"mimeType"`
	SizeBytes       int64      `json:"sizeBytes"`
	Stage           string     `json:"stage"`
	ProgressPercent int        `json:"progressPercent"`
	Logs            []LogLine  `json:"logs"`
	Error           *FileError `json:"error,omitempty"`
	ResumeID        string     `json:"resumeId,omitempty"`
}

// Snapshot is a point-in-time copy of a batch's progress.
type Snapshot struct {
	BatchID         string              `json:"batchId"`
	UserID          string              `json:"userId"`
	State           string              `json:"state"`
	OverallProgress int                 `json:"overallProgress"`
	LatestActivity  *LogLine            `json:"latestActivity,omitempty"`
	FileOrder       []string            `json:"fileOrder"`
	PerFile         map[string]FileView `json:"perFile"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// Event describes one change.
type Event struct {
	BatchID  string     `json:"batchId"`
	FileID   string     `json:"fileId,omitempty"`
	Stage    string     `json:"stage,omitempty"`
	Progress int        `json:"progress"`
	Log      *LogLine   `json:"log,omitempty"`
	Error    *FileError `json:"error,omitempty"`
	Overall  int        `json:"overallProgress"`
	State    string     `json:"state"`
}

// Sink receives every change after it is applied. Sinks run on the writer's
// goroutine and must not call back into the aggregator.
type Sink interface {
	Publish(ctx context.Context, snap Snapshot, ev Event) error
}

// Aggregator is safe for concurrent use. Writers replace per-file records under
// the lock; readers get deep copies.
type Aggregator struct {
	mu       sync.RWMutex
	batchID  string
	userID   string
	state    string
	overall  int
	latest   *LogLine
	order    []string
	files    map[string]*FileView
	updated  time.Time
	now      func() time.Time
	subs     map[int]chan Event
	nextSub  int
	sinks    []Sink
	sinkWait time.Duration
}

// NewAggregator returns an aggregator for one batch.
func NewAggregator(batchID, userID string, sinks ...Sink) *Aggregator {
	return &Aggregator{
		batchID:  batchID,
		userID:   userID,
		state:    StateQueued,
		files:    make(map[string]*FileView),
		now:      time.Now,
		subs:     make(map[int]chan Event),
		sinks:    sinks,
		sinkWait: 2 * time.Second,
	}
}

// AddFile registers a file in submission order. Registering a known file is a no-op.
func (a *Aggregator) AddFile(id, name, mimeType string, size int64, stage string) {
	a.mu.Lock()
	if _, ok := a.files[id]; ok {
		a.mu.Unlock()
		return
	}
	a.order = append(a.order, id)
	a.files[id] = &FileView{ID: id, Name: name, MimeType: mimeType, SizeBytes: size, Stage: stage, Logs: []LogLine{}}
	a.updated = a.now().UTC()
	ev := a.eventLocked(id)
	a.mu.Unlock()
	a.emit(ev)
}

// Record advances a file's progress and appends logLine when non-empty. Lower
// progress values are ignored.
func (a *Aggregator) Record(fileID string, progress int, logLine string) {
	a.update(fileID, func(f *FileView, ev *Event) {
		a.raise(f, progress)
		if logLine != "" {
			a.appendLog(f, ev, logLine)
		}
	})
}

// Advance moves a file to stage, raises its progress and appends logLine.
func (a *Aggregator) Advance(fileID, stage string, progress int, logLine string) {
	a.update(fileID, func(f *FileView, ev *Event) {
		f.Stage = stage
		a.raise(f, progress)
		if logLine != "" {
			a.appendLog(f, ev, logLine)
		}
	})
}

// Fail marks a file failed. Progress keeps its last value.
func (a *Aggregator) Fail(fileID, stage string, fe FileError, logLine string) {
	a.update(fileID, func(f *FileView, ev *Event) {
		f.Stage = stage
		e := fe
		f.Error = &e
		ev.Error = &e
		if logLine != "" {
			a.appendLog(f, ev, logLine)
		}
	})
}

// SetResumeID records the persisted resume for a completed file.
func (a *Aggregator) SetResumeID(fileID, resumeID string) {
	a.update(fileID, func(f *FileView, _ *Event) { f.ResumeID = resumeID })
}

// SetOverall sets the batch progress. It never decreases.
func (a *Aggregator) SetOverall(pct int) {
	a.mu.Lock()
	pct = clamp(pct)
	if pct > a.overall {
		a.overall = pct
	}
	a.updated = a.now().UTC()
	ev := a.eventLocked("")
	a.mu.Unlock()
	a.emit(ev)
}

// SetState sets the batch state.
func (a *Aggregator) SetState(state string) {
	a.mu.Lock()
	a.state = state
	a.updated = a.now().UTC()
	ev := a.eventLocked("")
	a.mu.Unlock()
	a.emit(ev)
}

// Snapshot returns a deep copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

// Subscribe returns a channel of events and a function to stop the subscription.
// Events are dropped for subscribers that fall behind.
func (a *Aggregator) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
			close(ch)
		})
	}
}

func (a *Aggregator) update(fileID string, fn func(*FileView, *Event)) {
	a.mu.Lock()
	f, ok := a.files[fileID]
	if !ok {
		a.mu.Unlock()
		telemetry.Warn("progress.unknown_file", map[string]any{"batch_id": a.batchID, "file_id": fileID})
		return
	}
	// Replace the record rather than mutating the one readers may have copied from.
	next := *f
	next.Logs = append(make([]LogLine, 0, len(f.Logs)+1), f.Logs...)
	ev := a.eventLocked(fileID)
	fn(&next, &ev)
	a.files[fileID] = &next
	a.updated = a.now().UTC()
	ev.Stage = next.Stage
	ev.Progress = next.ProgressPercent
	a.mu.Unlock()
	a.emit(ev)
}

func (a *Aggregator) raise(f *FileView, progress int) {
	if p := clamp(progress); p > f.ProgressPercent {
		f.ProgressPercent = p
	}
}

func (a *Aggregator) appendLog(f *FileView, ev *Event, msg string) {
	line := LogLine{At: a.now().UTC(), Message: msg}
	f.Logs = append(f.Logs, line)
	a.latest = &line
	ev.Log = &line
}

func (a *Aggregator) eventLocked(fileID string) Event {
	ev := Event{BatchID: a.batchID, FileID: fileID, Overall: a.overall, State: a.state}
	if f, ok := a.files[fileID]; ok {
		ev.Stage = f.Stage
		ev.Progress = f.ProgressPercent
	}
	return ev
}

func (a *Aggregator) snapshotLocked() Snapshot {
	snap := Snapshot{
		BatchID:         a.batchID,
		UserID:          a.userID,
		State:           a.state,
		OverallProgress: a.overall,
		FileOrder:       append([]string{}, a.order...),
		PerFile:         make(map[string]FileView, len(a.files)),
		UpdatedAt:       a.updated,
	}
	if a.latest != nil {
		l := *a.latest
		snap.LatestActivity = &l
	}
	for id, f := range a.files {
		view := *f
		view.Logs = append([]LogLine{}, f.Logs...)
		if f.Error != nil {
			e := *f.Error
			view.Error = &e
		}
		snap.PerFile[id] = view
	}
	return snap
}

func (a *Aggregator) emit(ev Event) {
	a.mu.RLock()
	for _, ch := range a.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	var snap Snapshot
	if len(a.sinks) > 0 {
		snap = a.snapshotLocked()
	}
	sinks := a.sinks
	a.mu.RUnlock()

	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), a.sinkWait)
		if err := s.Publish(ctx, snap, ev); err != nil {
			telemetry.Warn("progress.sink_failed", map[string]any{
				"batch_id": a.batchID,
				"error":    err.Error(),
			})
		}
		cancel()
	}
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
