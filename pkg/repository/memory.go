package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fractionalquest/copilot/pkg/model"
)

// Memory is an in-process store used by the console and tests
type Memory struct {
	mu       sync.RWMutex
	turns    map[string][]*model.MemoryTurn
	entities map[string]*model.Entities
}

func NewMemory() *Memory {
	return &Memory{
		turns:    make(map[string][]*model.MemoryTurn),
		entities: make(map[string]*model.Entities),
	}
}

// Seed adds entities for a user as if they had been remembered earlier
func (m *Memory) Seed(userID string, e *model.Entities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merge(userID, e)
}

func (m *Memory) StoreTurn(ctx context.Context, turn *model.MemoryTurn) error {
	t := *turn
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[t.UserID] = append(m.turns[t.UserID], &t)
	hints := turn.EntityHints()
	m.merge(t.UserID, &hints)
	return nil
}

func (m *Memory) merge(userID string, e *model.Entities) {
	if e == nil || e.Count() == 0 {
		return
	}
	cur, ok := m.entities[userID]
	if !ok {
		cur = &model.Entities{}
		m.entities[userID] = cur
	}
	cur.Roles = union(cur.Roles, e.Roles)
	cur.Locations = union(cur.Locations, e.Locations)
	cur.Interests = union(cur.Interests, e.Interests)
	cur.Experiences = union(cur.Experiences, e.Experiences)
}

func union(base, add []string) []string {
	for _, v := range add {
		if !slices.ContainsFunc(base, func(b string) bool { return strings.EqualFold(b, v) }) {
			base = append(base, v)
		}
	}
	return base
}

func (m *Memory) Entities(ctx context.Context, userID string) (*model.Entities, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur, ok := m.entities[userID]
	if !ok {
		return &model.Entities{}, nil
	}
	return &model.Entities{
		Roles:       slices.Clone(cur.Roles),
		Locations:   slices.Clone(cur.Locations),
		Interests:   slices.Clone(cur.Interests),
		Experiences: slices.Clone(cur.Experiences),
	}, nil
}

func (m *Memory) ListTurns(ctx context.Context, userID string, limit int) ([]*model.MemoryTurn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.turns[userID]
	out := make([]*model.MemoryTurn, 0, min(len(turns), max(limit, 0)))
	for i := len(turns) - 1; i >= 0 && len(out) < limit; i-- {
		t := *turns[i]
		out = append(out, &t)
	}
	return out, nil
}
