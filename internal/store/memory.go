package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ttsalert/internal/model"
)

// Memory is an in-process Store. Contents are lost on restart.
type Memory struct {
	mu     sync.RWMutex
	userID string
	events map[string]model.Event
	now    func() time.Time
}

// NewMemory creates an empty Memory store owned by userID.
func NewMemory(userID string) *Memory {
	return &Memory{
		userID: userID,
		events: make(map[string]model.Event),
		now:    time.Now,
	}
}

func (m *Memory) List(_ context.Context) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(model.Event) bool { return true }), nil
}

func (m *Memory) CountOnDate(_ context.Context, date string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.events {
		if e.Date == date {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Insert(_ context.Context, e model.Event) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.NewString()
	if e.UserID == "" {
		e.UserID = m.userID
	}
	created := m.now().UTC()
	e.CreatedAt = &created
	m.events[e.ID] = e
	return e, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *Memory) MarkProcessed(_ context.Context, id, audioURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	e.Processed = true
	e.AudioURL = audioURL
	m.events[id] = e
	return nil
}

func (m *Memory) Pending(_ context.Context) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(e model.Event) bool { return !e.Processed }), nil
}

// sorted must be called with m.mu held.
func (m *Memory) sorted(keep func(model.Event) bool) []model.Event {
	out := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}
