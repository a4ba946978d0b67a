package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mediavault/internal/vault"
)

// MemoryStore is an in-memory implementation of vault.Store. It backs the
// Resolver in tests and small throwaway deployments.
// Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	byToken map[string]*vault.MediaRecord
	byID    map[int64]*vault.MediaRecord
	groups  map[string][]*vault.GroupItem
	events  []*vault.ViewEvent
}

var _ vault.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byToken: make(map[string]*vault.MediaRecord),
		byID:    make(map[int64]*vault.MediaRecord),
		groups:  make(map[string][]*vault.GroupItem),
	}
}

func (m *MemoryStore) Put(_ context.Context, rec *vault.MediaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byToken[rec.Token]; exists {
		return fmt.Errorf("%w: duplicate token %s", vault.ErrStorageFailure, rec.Token)
	}

	m.nextID++
	rec.ID = m.nextID
	cp := *rec
	m.byToken[rec.Token] = &cp
	m.byID[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (*vault.MediaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byToken[token]
	if !ok {
		return nil, vault.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id int64) (*vault.MediaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, vault.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) IncrementView(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.byToken[token]; ok {
		rec.Views++
	}
	return nil
}

func (m *MemoryStore) PutGroup(ctx context.Context, rec *vault.MediaRecord, items []*vault.GroupItem) error {
	if err := m.Put(ctx, rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cps := make([]*vault.GroupItem, len(items))
	for i, it := range items {
		cp := *it
		cps[i] = &cp
	}
	m.groups[rec.Token] = cps
	return nil
}

func (m *MemoryStore) GetGroupItems(_ context.Context, token string) ([]*vault.GroupItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.groups[token]
	out := make([]*vault.GroupItem, len(items))
	for i, it := range items {
		cp := *it
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, ev *vault.ViewEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) CountEvents(_ context.Context, token string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, ev := range m.events {
		if ev.Token == token {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) TopByViews(_ context.Context, n int) ([]*vault.MediaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]*vault.MediaRecord, 0, len(m.byToken))
	for _, rec := range m.byToken {
		cp := *rec
		recs = append(recs, &cp)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Views != recs[j].Views {
			return recs[i].Views > recs[j].Views
		}
		return recs[i].ID < recs[j].ID
	})
	if len(recs) > n {
		recs = recs[:n]
	}
	return recs, nil
}

func (m *MemoryStore) CountByKind(_ context.Context) (map[vault.Kind]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[vault.Kind]int64)
	for _, rec := range m.byToken {
		counts[rec.Kind]++
	}
	return counts, nil
}

func (m *MemoryStore) Totals(_ context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var views int64
	for _, rec := range m.byToken {
		views += rec.Views
	}
	return int64(len(m.byToken)), views, nil
}

func (m *MemoryStore) ActivitySince(_ context.Context, since time.Time) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var views int64
	users := make(map[int64]struct{})
	for _, ev := range m.events {
		if !ev.ViewedAt.Before(since) {
			views++
			users[ev.UserID] = struct{}{}
		}
	}
	return views, int64(len(users)), nil
}

func (m *MemoryStore) Close() error { return nil }
