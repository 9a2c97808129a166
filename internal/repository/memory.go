package repository

import (
	"context"
	"sync"

	"booking-assistant/internal/domain"
)

type memorySession struct {
	turns []domain.Turn
	state domain.SessionState
}

// Memory keeps session history in process. It backs local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*memorySession)}
}

func (m *Memory) LoadSession(_ context.Context, sessionID string, limit int) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.Session{ID: sessionID}, nil
	}
	turns := s.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	state := s.state
	state.VerifiedPhones = append([]string(nil), s.state.VerifiedPhones...)
	return domain.Session{
		ID:    sessionID,
		Turns: append([]domain.Turn(nil), turns...),
		State: state,
	}, nil
}

func (m *Memory) AppendTurns(_ context.Context, sessionID string, turns []domain.Turn, state domain.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &memorySession{}
		m.sessions[sessionID] = s
	}
	s.turns = append(s.turns, turns...)
	s.state = state
	s.state.VerifiedPhones = append([]string(nil), state.VerifiedPhones...)
	return nil
}

func (m *Memory) ResetSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
