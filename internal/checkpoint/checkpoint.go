// Package checkpoint tells a returning user where to re-enter the resume flow.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"resume-ingest/internal/shared/metrics"
	"resume-ingest/internal/shared/telemetry"
)

// Kind is the furthest point a user reached.
type Kind string

const (
	KindSavedResume     Kind = "saved_resume"
	KindGeneratedResume Kind = "generated_resume"
	KindAnalysisResult  Kind = "analysis_result"
	KindExtractedResume Kind = "extracted_resume"
	KindNone            Kind = "none"
)

// priority ranks kinds; lower wins. A saved resume overrides everything else
// regardless of which record is newer.
var priority = map[Kind]int{
	KindSavedResume:     0,
	KindGeneratedResume: 1,
	KindAnalysisResult:  2,
	KindExtractedResume: 3,
}

// ErrInvalidInput indicates a missing user ID.
var ErrInvalidInput = errors.New("invalid input")

// Checkpoint is the resolution result.
type Checkpoint struct {
	Kind      Kind       `json:"kind"`
	RecordID  string     `json:"recordId,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Record is the winning record of one store.
type Record struct {
	ID        string
	UpdatedAt time.Time
}

// Store reports whether a user has data of one kind.
type Store interface {
	Lookup(ctx context.Context, userID string) (Record, bool, error)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, userID string) (Record, bool, error)

func (fn StoreFunc) Lookup(ctx context.Context, userID string) (Record, bool, error) {
	return fn(ctx, userID)
}

// Rule binds a kind to the store that answers for it.
type Rule struct {
	Kind  Kind
	Store Store
}

// LookupError is a failed store query. Resolution treats it as "not found".
type LookupError struct {
	Kind Kind
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("checkpoint lookup %s: %v", e.Kind, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Resolver evaluates rules in fixed priority order. It holds no state of its own.
type Resolver struct {
	rules   []Rule
	timeout time.Duration
}

// NewResolver orders rules by kind priority, so registration order does not
// matter. Unknown kinds and rules without a store are rejected.
func NewResolver(rules []Rule, lookupTimeout time.Duration) (*Resolver, error) {
	ordered := make([]Rule, 0, len(rules))
	seen := make(map[Kind]bool, len(rules))
	for _, r := range rules {
		if _, ok := priority[r.Kind]; !ok {
			return nil, fmt.Errorf("unknown checkpoint kind %q", r.Kind)
		}
		if r.Store == nil {
			return nil, fmt.Errorf("checkpoint kind %q has no store", r.Kind)
		}
		if seen[r.Kind] {
			return nil, fmt.Errorf("checkpoint kind %q registered twice", r.Kind)
		}
		seen[r.Kind] = true
		ordered = append(ordered, r)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return priority[ordered[i].Kind] < priority[ordered[j].Kind]
	})
	if lookupTimeout <= 0 {
		lookupTimeout = 2 * time.Second
	}
	return &Resolver{rules: ordered, timeout: lookupTimeout}, nil
}

// Resolve returns the highest-priority kind with data for userID, or KindNone.
func (r *Resolver) Resolve(ctx context.Context, userID string) Checkpoint {
	for _, rule := range r.rules {
		rec, found, err := r.lookup(ctx, rule, userID)
		if err != nil {
			metrics.IncCheckpointLookupErrors()
			telemetry.Warn("checkpoint.lookup_failed", map[string]any{
				"user_id": userID,
				"kind":    string(rule.Kind),
				"error":   err.Error(),
			})
			continue
		}
		if found {
			cp := Checkpoint{Kind: rule.Kind, RecordID: rec.ID}
			if !rec.UpdatedAt.IsZero() {
				at := rec.UpdatedAt.UTC()
				cp.UpdatedAt = &at
			}
			return cp
		}
	}
	return Checkpoint{Kind: KindNone}
}

func (r *Resolver) lookup(ctx context.Context, rule Rule, userID string) (rec Record, found bool, err error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = &LookupError{Kind: rule.Kind, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	rec, found, err = rule.Store.Lookup(lookupCtx, userID)
	if err != nil {
		return Record{}, false, &LookupError{Kind: rule.Kind, Err: err}
	}
	return rec, found, nil
}
