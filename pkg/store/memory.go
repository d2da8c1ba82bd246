package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aidekit/scribe/pkg/page"
	"github.com/aidekit/scribe/pkg/wire"
)

// MemoryStore keeps aide state in process memory. It is the default for
// tests and local development; nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	aides       map[string]*memAide
	tailEntries int
	now         func() time.Time
}

type memAide struct {
	snapshot *page.Snapshot
	turns    []Turn
	version  int64
}

// NewMemoryStore returns an empty store whose conversation tails are bounded
// to tailEntries entries.
func NewMemoryStore(tailEntries int) *MemoryStore {
	return &MemoryStore{
		aides:       make(map[string]*memAide),
		tailEntries: tailEntries,
		now:         time.Now,
	}
}

// LoadTurnContext implements Store. Snapshots are cloned on the way out so
// callers can never alias stored state.
func (s *MemoryStore) LoadTurnContext(_ context.Context, aideID string) (*page.Snapshot, []TailEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.aides[aideID]
	if !ok {
		return page.NewSnapshot(), nil, nil
	}
	return a.snapshot.Clone(), buildTail(a.turns, s.tailEntries), nil
}

// AppendTurn implements Store.
func (s *MemoryStore) AppendTurn(_ context.Context, aideID string, turn Turn, final *page.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.aide(aideID)
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	a.turns = append(a.turns, turn)
	a.snapshot = final.Clone()
	a.version++
	return nil
}

// AppendDirectEdit implements Store. Direct edits advance the snapshot and
// the version but never enter the conversation tail.
func (s *MemoryStore) AppendDirectEdit(_ context.Context, aideID string, op wire.Op, result *page.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.aide(aideID)
	a.turns = append(a.turns, Turn{
		TurnID:    "edit-" + uuid.NewString(),
		Ops:       []wire.Op{op},
		CreatedAt: s.now(),
	})
	a.snapshot = result.Clone()
	a.version++
	return nil
}

// Snapshot implements Reader.
func (s *MemoryStore) Snapshot(_ context.Context, aideID string) (*page.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.aides[aideID]
	if !ok {
		return nil, ErrNotFound
	}
	return a.snapshot.Clone(), nil
}

// RecentTurns implements Reader.
func (s *MemoryStore) RecentTurns(_ context.Context, aideID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.aides[aideID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Turn, 0, limit)
	for i := len(a.turns) - 1; i >= 0 && len(out) < limit; i-- {
		if a.turns[i].UserMessage == "" {
			continue // direct edit
		}
		out = append(out, a.turns[i])
	}
	return out, nil
}

// Version returns the number of appends recorded for an aide. Test hook.
func (s *MemoryStore) Version(aideID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.aides[aideID]; ok {
		return a.version
	}
	return 0
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) aide(aideID string) *memAide {
	a, ok := s.aides[aideID]
	if !ok {
		a = &memAide{snapshot: page.NewSnapshot()}
		s.aides[aideID] = a
	}
	return a
}
