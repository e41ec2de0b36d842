package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used for tests and for running the
// gateway without persistence. It mirrors the SQLite store's semantics,
// including the compare-and-set refresh claim.
type MemoryStore struct {
	mu       sync.RWMutex
	creds    map[string]Credential
	order    []string
	progress RefreshProgress
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

// List returns all credentials in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Credential, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.creds[id])
	}
	return out, nil
}

// Get returns one credential by secret value.
func (s *MemoryStore) Get(ctx context.Context, id string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

// Insert adds credentials, ignoring duplicates.
func (s *MemoryStore) Insert(ctx context.Context, creds []Credential) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, c := range creds {
		if _, exists := s.creds[c.ID]; exists {
			continue
		}
		if c.Kind == "" {
			c.Kind = KindStandard
		}
		if c.Status == "" {
			c.Status = StatusActive
		}
		if c.RemainingQueries == 0 {
			c.RemainingQueries = QuotaUnknown
		}
		if c.RemainingElevated == 0 {
			c.RemainingElevated = QuotaUnknown
		}
		s.creds[c.ID] = c
		s.order = append(s.order, c.ID)
		added++
	}
	return added, nil
}

// Delete removes credentials by id.
func (s *MemoryStore) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := s.creds[id]; !ok {
			continue
		}
		delete(s.creds, id)
		removed++
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return removed, nil
}

func (s *MemoryStore) mutate(id string, fn func(*Credential)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return ErrNotFound
	}
	fn(&c)
	s.creds[id] = c
	return nil
}

// SetStatus updates the lifecycle status.
func (s *MemoryStore) SetStatus(ctx context.Context, id string, status Status) error {
	return s.mutate(id, func(c *Credential) { c.Status = status })
}

// SetCooldown sets or clears the cooldown instant.
func (s *MemoryStore) SetCooldown(ctx context.Context, id string, until time.Time) error {
	return s.mutate(id, func(c *Credential) { c.CooldownUntil = until })
}

// SetQuota updates the remaining query counters.
func (s *MemoryStore) SetQuota(ctx context.Context, id string, q Quotas) error {
	return s.mutate(id, func(c *Credential) {
		c.RemainingQueries = q.Remaining
		c.RemainingElevated = q.RemainingElevated
	})
}

// Touch records a selection instant.
func (s *MemoryStore) Touch(ctx context.Context, id string, at time.Time) error {
	return s.mutate(id, func(c *Credential) { c.LastUsedAt = at })
}

// SetNote updates the operator note.
func (s *MemoryStore) SetNote(ctx context.Context, id string, note string) error {
	return s.mutate(id, func(c *Credential) { c.Note = note })
}

// RefreshProgress returns the singleton refresh record.
func (s *MemoryStore) RefreshProgress(ctx context.Context) (RefreshProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress, nil
}

// TryStartRefresh claims the refresh record with compare-and-set
// semantics.
func (s *MemoryStore) TryStartRefresh(ctx context.Context, total int, force bool) (bool, RefreshProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress.Running && !force {
		return false, s.progress, nil
	}
	s.progress = RefreshProgress{Running: true, Total: total, UpdatedAt: time.Now()}
	return true, s.progress, nil
}

// UpdateRefresh overwrites the progress counters.
func (s *MemoryStore) UpdateRefresh(ctx context.Context, p RefreshProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now()
	s.progress = p
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
