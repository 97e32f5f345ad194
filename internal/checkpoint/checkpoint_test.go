package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	mu    sync.Mutex
	calls int
	inner Store
}

func (s *countingStore) Lookup(ctx context.Context, userID string) (Record, bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.inner.Lookup(ctx, userID)
}

func failing(err error) Store {
	return StoreFunc(func(context.Context, string) (Record, bool, error) {
		return Record{}, false, err
	})
}

type stores struct {
	saved, generated, analysis, extracted *MemoryStore
}

func newStores() stores {
	return stores{NewMemoryStore(), NewMemoryStore(), NewMemoryStore(), NewMemoryStore()}
}

func (s stores) rules() []Rule {
	// Deliberately registered lowest priority first.
	return []Rule{
		{Kind: KindExtractedResume, Store: s.extracted},
		{Kind: KindAnalysisResult, Store: s.analysis},
		{Kind: KindGeneratedResume, Store: s.generated},
		{Kind: KindSavedResume, Store: s.saved},
	}
}

func TestResolvePriority(t *testing.T) {
	older := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		seed   func(s stores)
		want   Kind
		wantID string
	}{
		{
			name: "saved beats newer extracted",
			seed: func(s stores) {
				s.saved.Put("u1", Record{ID: "saved-1", UpdatedAt: older})
				s.extracted.Put("u1", Record{ID: "ext-1", UpdatedAt: newer})
			},
			want: KindSavedResume, wantID: "saved-1",
		},
		{
			name: "generated beats analysis",
			seed: func(s stores) {
				s.generated.Put("u1", Record{ID: "gen-1", UpdatedAt: older})
				s.analysis.Put("u1", Record{ID: "an-1", UpdatedAt: newer})
			},
			want: KindGeneratedResume, wantID: "gen-1",
		},
		{
			name: "analysis beats extracted",
			seed: func(s stores) {
				s.analysis.Put("u1", Record{ID: "an-1"})
				s.extracted.Put("u1", Record{ID: "ext-1"})
			},
			want: KindAnalysisResult, wantID: "an-1",
		},
		{
			name: "extracted only",
			seed: func(s stores) { s.extracted.Put("u1", Record{ID: "ext-1", UpdatedAt: newer}) },
			want: KindExtractedResume, wantID: "ext-1",
		},
		{
			name: "nothing",
			seed: func(stores) {},
			want: KindNone,
		},
		{
			name: "other user's data is ignored",
			seed: func(s stores) { s.saved.Put("u2", Record{ID: "saved-2"}) },
			want: KindNone,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := newStores()
			tt.seed(s)
			r, err := NewResolver(s.rules(), time.Second)
			require.NoError(t, err)

			cp := r.Resolve(context.Background(), "u1")
			assert.Equal(t, tt.want, cp.Kind)
			assert.Equal(t, tt.wantID, cp.RecordID)
		})
	}
}

func TestResolveStopsAtFirstHit(t *testing.T) {
	s := newStores()
	s.saved.Put("u1", Record{ID: "saved-1"})
	lower := &countingStore{inner: s.extracted}

	r, err := NewResolver([]Rule{
		{Kind: KindExtractedResume, Store: lower},
		{Kind: KindSavedResume, Store: s.saved},
	}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, KindSavedResume, r.Resolve(context.Background(), "u1").Kind)
	assert.Equal(t, 0, lower.calls)
}

func TestResolveSoftFailsLookupErrors(t *testing.T) {
	s := newStores()
	s.extracted.Put("u1", Record{ID: "ext-1"})
	lower := &countingStore{inner: s.extracted}

	r, err := NewResolver([]Rule{
		{Kind: KindSavedResume, Store: failing(errors.New("connection refused"))},
		{Kind: KindGeneratedResume, Store: StoreFunc(func(context.Context, string) (Record, bool, error) {
			panic("driver bug")
		})},
		{Kind: KindAnalysisResult, Store: s.analysis},
		{Kind: KindExtractedResume, Store: lower},
	}, time.Second)
	require.NoError(t, err)

	cp := r.Resolve(context.Background(), "u1")
	assert.Equal(t, KindExtractedResume, cp.Kind)
	assert.Equal(t, 1, lower.calls)
}

func TestResolveAllFailingIsNone(t *testing.T) {
	boom := failing(errors.New("timeout"))
	r, err := NewResolver([]Rule{
		{Kind: KindSavedResume, Store: boom},
		{Kind: KindExtractedResume, Store: boom},
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{Kind: KindNone}, r.Resolve(context.Background(), "u1"))
}

func TestResolveBoundsEachLookup(t *testing.T) {
	slow := StoreFunc(func(ctx context.Context, _ string) (Record, bool, error) {
		<-ctx.Done()
		return Record{}, false, ctx.Err()
	})
	s := newStores()
	s.extracted.Put("u1", Record{ID: "ext-1"})

	r, err := NewResolver([]Rule{
		{Kind: KindSavedResume, Store: slow},
		{Kind: KindExtractedResume, Store: s.extracted},
	}, 20*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	cp := r.Resolve(context.Background(), "u1")
	assert.Equal(t, KindExtractedResume, cp.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolveIsIdempotent(t *testing.T) {
	s := newStores()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.generated.Put("u1", Record{ID: "gen-1", UpdatedAt: at})
	r, err := NewResolver(s.rules(), time.Second)
	require.NoError(t, err)

	first := r.Resolve(context.Background(), "u1")
	second := r.Resolve(context.Background(), "u1")
	assert.Equal(t, first, second)
	require.NotNil(t, first.UpdatedAt)
	assert.True(t, at.Equal(*first.UpdatedAt))
}

func TestNewResolverRejectsBadRules(t *testing.T) {
	_, err := NewResolver([]Rule{{Kind: "draft", Store: NewMemoryStore()}}, 0)
	assert.Error(t, err)
	_, err = NewResolver([]Rule{{Kind: KindSavedResume}}, 0)
	assert.Error(t, err)
	_, err = NewResolver([]Rule{
		{Kind: KindSavedResume, Store: NewMemoryStore()},
		{Kind: KindSavedResume, Store: NewMemoryStore()},
	}, 0)
	assert.Error(t, err)
}
