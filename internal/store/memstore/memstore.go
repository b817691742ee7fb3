package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
)

// Store keeps battles in memory. Used for local runs and tests.
type Store struct {
	mu      sync.RWMutex
	battles map[string]engine.Battle
	now     func() time.Time
}

func New() *Store {
	return &Store{battles: make(map[string]engine.Battle), now: time.Now}
}

// WithClock replaces the clock used for UpdatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) FindByID(ctx context.Context, id string) (engine.Battle, error) {
	if err := ctx.Err(); err != nil {
		return engine.Battle{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.battles[id]
	if !ok {
		return engine.Battle{}, fmt.Errorf("battle %s: %w", id, store.ErrNotFound)
	}
	return engine.Clone(b), nil
}

func (s *Store) FindByTaskID(ctx context.Context, taskID string) (engine.Battle, error) {
	if err := ctx.Err(); err != nil {
		return engine.Battle{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.battles {
		if b.GeneratedSong != nil && b.GeneratedSong.TaskID == taskID {
			return engine.Clone(b), nil
		}
	}
	return engine.Battle{}, fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
}

func (s *Store) ListSongsInFlight(ctx context.Context) ([]engine.Battle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []engine.Battle
	for _, b := range s.battles {
		if b.GeneratedSong != nil && !b.GeneratedSong.Status.Terminal() {
			out = append(out, engine.Clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Save(ctx context.Context, b engine.Battle) (engine.Battle, error) {
	if err := ctx.Err(); err != nil {
		return engine.Battle{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.battles[b.ID]
	if exists && cur.Version != b.Version {
		return engine.Battle{}, fmt.Errorf("battle %s at version %d, have %d: %w", b.ID, cur.Version, b.Version, store.ErrConflict)
	}
	if !exists && b.Version != 0 {
		return engine.Battle{}, fmt.Errorf("battle %s: %w", b.ID, store.ErrNotFound)
	}

	saved := engine.Clone(b)
	saved.Version++
	saved.UpdatedAt = s.now().UTC()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = saved.UpdatedAt
	}
	s.battles[b.ID] = saved
	return engine.Clone(saved), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.battles[id]; !ok {
		return fmt.Errorf("battle %s: %w", id, store.ErrNotFound)
	}
	delete(s.battles, id)
	return nil
}
