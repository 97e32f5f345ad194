// Package pipeline drives uploaded files through conversion, extraction,
// structuring, validation and persistence, one file at a time per batch.
package pipeline

// Stage is a FileJob state.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageConverting  Stage = "converting"
	StageExtracting  Stage = "extracting"
	StageStructuring Stage = "structuring"
	StageValidating  Stage = "validating"
	StagePersisting  Stage = "persisting"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageQueued:      0,
	StageConverting:  1,
	StageExtracting:  2,
	StageStructuring: 3,
	StageValidating:  4,
	StagePersisting:  5,
	StageCompleted:   6,
}

// entryProgress is the progress reported when a stage is entered.
var entryProgress = map[Stage]int{
	StageQueued:      0,
	StageConverting:  10,
	StageExtracting:  30,
	StageStructuring: 65,
	StageValidating:  80,
	StagePersisting:  90,
	StageCompleted:   100,
}

// extractionSpan is the progress range covered by per-page extraction.
const (
	extractionStart = 30
	extractionEnd   = 60
)

// Terminal reports whether s is completed or failed.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// CanAdvanceTo reports whether next directly follows s. Converting may only be
// skipped from queued; failed is reachable from every non-terminal stage.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	if to == from+1 {
		return true
	}
	return s == StageQueued && next == StageExtracting
}

// EntryProgress is the progress percentage of a freshly entered stage.
func (s Stage) EntryProgress() int {
	return entryProgress[s]
}

func (s Stage) label() string {
	switch s {
	case StageConverting:
		return "Conversion"
	case StageExtracting:
		return "Extraction"
	case StageStructuring:
		return "Structuring"
	case StageValidating:
		return "Validation"
	case StagePersisting:
		return "Saving"
	default:
		return "Processing"
	}
}
