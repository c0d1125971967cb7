package records

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memrepo is an in-memory Store used when no database is configured.
type memrepo struct {
	mu sync.RWMutex

	byID   map[string]*MatchRecord
	byUser map[string][]string // user id -> match ids, first save order
}

func NewMemoryRepository() Store {
	return &memrepo{
		byID:   make(map[string]*MatchRecord),
		byUser: make(map[string][]string),
	}
}

func (m *memrepo) SaveMatch(ctx context.Context, rec *MatchRecord) error {
	if rec == nil || strings.TrimSpace(rec.MatchID) == "" {
		return ErrInvalidRecord
	}
	c := rec.clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.byID[c.MatchID]
	m.byID[c.MatchID] = c
	if existed {
		return nil
	}
	for _, p := range c.Players {
		m.byUser[p.UserID] = append(m.byUser[p.UserID], c.MatchID)
	}
	return nil
}

func (m *memrepo) GetMatch(ctx context.Context, matchID string) (*MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.byID[strings.TrimSpace(matchID)]; ok {
		return r.clone(), nil
	}
	return nil, nil
}

func (m *memrepo) RecentByUser(ctx context.Context, userID string, limit int) ([]*MatchRecord, error) {
	m.mu.RLock()
	ids := m.byUser[strings.TrimSpace(userID)]
	items := make([]*MatchRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if r, ok := m.byID[ids[i]]; ok {
			items = append(items, r.clone())
		}
	}
	m.mu.RUnlock()

	// StartedAt desc, later save first on ties
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].StartedAt.After(items[j].StartedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
