package store

import (
	"context"
	"sync"

	"github.com/kopakash/loanbot/internal/loan"
)

type memoryStore struct {
	mu        sync.Mutex
	states    map[int64]loan.ApplicationState
	completed map[int64]struct{}
}

// NewMemory constructs the in-process Store. Its methods never return errors.
func NewMemory() Store {
	return &memoryStore{
		states:    make(map[int64]loan.ApplicationState),
		completed: make(map[int64]struct{}),
	}
}

func (m *memoryStore) Get(_ context.Context, userID int64) (loan.ApplicationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(userID), nil
}

func (m *memoryStore) load(userID int64) loan.ApplicationState {
	if st, ok := m.states[userID]; ok {
		return st.Clone()
	}
	return loan.NewState()
}

func (m *memoryStore) Set(_ context.Context, userID int64, st loan.ApplicationState) error {
	st.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userID] = st.Clone()
	return nil
}

func (m *memoryStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

func (m *memoryStore) Update(_ context.Context, userID int64, fn UpdateFunc) (loan.ApplicationState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.load(userID)
	changed, err := fn(&st)
	if err != nil {
		return m.load(userID), false, err
	}
	if !changed {
		return st, false, nil
	}
	st.Normalize()
	m.states[userID] = st.Clone()
	return st, true, nil
}

func (m *memoryStore) MarkCompleted(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[userID] = struct{}{}
	return nil
}

func (m *memoryStore) HasCompleted(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.completed[userID]
	return ok, nil
}
