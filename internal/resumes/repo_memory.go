package resumes

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo stores resumes in memory and is safe for concurrent use. Payloads are
// kept as JSON so reads return independent copies.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[string]memoryRecord
	byHash map[string]string
	byUser map[string][]string
	now    func() time.Time
}

type memoryRecord struct {
	userID    string
	payload   []byte
	createdAt time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]memoryRecord),
		byHash: make(map[string]string),
		byUser: make(map[string][]string),
		now:    time.Now,
	}
}

func (r *MemoryRepo) Persist(ctx context.Context, userID string, resume ProcessedResume) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	payload, err := json.Marshal(resume)
	if err != nil {
		return Ack{}, err
	}

	key := userID + "\x00" + resume.Source.ContentHash
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byHash[key]; ok {
		return Ack{ID: id, Created: false}, nil
	}
	id := uuid.NewString()
	r.byID[id] = memoryRecord{userID: userID, payload: payload, createdAt: r.now().UTC()}
	r.byHash[key] = id
	r.byUser[userID] = append(r.byUser[userID], id)
	return Ack{ID: id, Created: true}, nil
}

func (r *MemoryRepo) Get(ctx context.Context, userID, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.RLock()
	rec, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.userID != userID {
		return Record{}, ErrForbidden
	}
	return decodeRecord(id, rec.userID, rec.payload, rec.createdAt)
}

func (r *MemoryRepo) Latest(ctx context.Context, userID string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	r.mu.RLock()
	ids := r.byUser[userID]
	if len(ids) == 0 {
		r.mu.RUnlock()
		return Record{}, false, nil
	}
	id := ids[len(ids)-1]
	rec := r.byID[id]
	r.mu.RUnlock()

	out, err := decodeRecord(id, rec.userID, rec.payload, rec.createdAt)
	if err != nil {
		return Record{}, false, err
	}
	return out, true, nil
}

func decodeRecord(id, userID string, payload []byte, createdAt time.Time) (Record, error) {
	var resume ProcessedResume
	if err := json.Unmarshal(payload, &resume); err != nil {
		return Record{}, err
	}
	return Record{ID: id, UserID: userID, Resume: resume, CreatedAt: createdAt}, nil
}

var _ Repo = (*MemoryRepo)(nil)
