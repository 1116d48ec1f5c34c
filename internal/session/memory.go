package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps states in a map. A positive ttl hides states that have not been
// touched for that long; zero keeps them until overwritten or deleted.
type MemoryStore struct {
	mu     sync.Mutex
	states map[int64]State
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		states: make(map[int64]State),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, userID int64) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if m.ttl > 0 && m.now().Sub(st.UpdatedAt) > m.ttl {
		delete(m.states, userID)
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MemoryStore) Put(ctx context.Context, userID int64, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *st
	c.UpdatedAt = m.now()
	m.states[userID] = c
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}
