// Package store ships the in-memory reference implementation of the durable
// store interfaces. A real deployment swaps in a persistent implementation;
// the coordinator only ever sees core.Store.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

type Memory struct {
	mu         sync.RWMutex
	meetings   map[domain.MeetingID]*domain.Meeting
	byRoomCode map[string]domain.MeetingID
	sessions   map[domain.SessionID]*domain.Session
}

func NewMemory() *Memory {
	return &Memory{
		meetings:   make(map[domain.MeetingID]*domain.Meeting),
		byRoomCode: make(map[string]domain.MeetingID),
		sessions:   make(map[domain.SessionID]*domain.Session),
	}
}

func (m *Memory) CreateMeeting(_ context.Context, mt *domain.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mt
	m.meetings[mt.ID] = &cp
	m.byRoomCode[domain.NormalizeRoomCode(mt.RoomCode)] = mt.ID
	return nil
}

func (m *Memory) Meeting(_ context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.meetings[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *mt
	return &cp, nil
}

func (m *Memory) MeetingByRoomCode(_ context.Context, code string) (*domain.Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRoomCode[domain.NormalizeRoomCode(code)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *m.meetings[id]
	return &cp, nil
}

func (m *Memory) UpdateMeeting(_ context.Context, mt *domain.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.meetings[mt.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *mt
	m.meetings[mt.ID] = &cp
	return nil
}

func (m *Memory) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) Session(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) OpenSessions(_ context.Context, meetingID domain.MeetingID) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.MeetingID == meetingID && s.Open() {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) OpenSessionsOlderThan(_ context.Context, cutoff time.Time) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.Open() && s.JoinedAt.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) UpdateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

var _ core.Store = (*Memory)(nil)
