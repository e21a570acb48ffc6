package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/altheaworks/queryflow/types"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]*Checkpoint
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]*Checkpoint),
	}
}

// Save appends a checkpoint for the session.
func (s *MemoryStore) Save(ctx context.Context, sessionID string, state *types.AgentState, step string) (string, error) {
	if sessionID == "" || state == nil {
		return "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &Checkpoint{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Step:      step,
		Seq:       int64(len(s.sessions[sessionID])) + 1,
		State:     state.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	s.sessions[sessionID] = append(s.sessions[sessionID], cp)
	return cp.ID, nil
}

// LoadLatest returns the most recent checkpoint for the session.
func (s *MemoryStore) LoadLatest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.sessions[sessionID]
	if len(log) == 0 {
		return nil, ErrNotFound
	}
	return cloneCheckpoint(log[len(log)-1]), nil
}

// List returns checkpoints for the session, most recent first.
func (s *MemoryStore) List(ctx context.Context, sessionID string, limit int) ([]*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.sessions[sessionID]
	n := len(log)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*Checkpoint, 0, n)
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneCheckpoint(log[i]))
	}
	return out, nil
}

// DeleteAll removes every checkpoint for the session.
func (s *MemoryStore) DeleteAll(ctx context.Context, sessionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sessions[sessionID])
	delete(s.sessions, sessionID)
	return n, nil
}

func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	c := *cp
	c.State = cp.State.Clone()
	return &c
}
