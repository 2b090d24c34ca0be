package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/qfround/matching-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	rounds        map[string]*model.Round
	votes         []model.Vote
	distributions map[string]*model.Distribution
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:        make(map[string]*model.Round),
		distributions: make(map[string]*model.Distribution),
	}
}

func (s *MemoryStore) CreateRound(_ context.Context, r *model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[r.ID]; exists {
		return fmt.Errorf("round %s: %w", r.ID, ErrConflict)
	}

	// Store a copy to avoid external mutation.
	copy := *r
	s.rounds[r.ID] = &copy
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, id string) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %s: %w", id, ErrNotFound)
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) ListRounds(_ context.Context) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := make([]model.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		rounds = append(rounds, *r)
	}
	sort.Slice(rounds, func(i, j int) bool {
		return rounds[i].CreatedAt.After(rounds[j].CreatedAt)
	})
	return rounds, nil
}

func (s *MemoryStore) InsertVote(_ context.Context, v *model.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[v.RoundID]; !ok {
		return fmt.Errorf("round %s: %w", v.RoundID, ErrNotFound)
	}
	s.votes = append(s.votes, *v)
	return nil
}

func (s *MemoryStore) GetVotesByRound(_ context.Context, roundID string) ([]model.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Vote
	for _, v := range s.votes {
		if v.RoundID == roundID {
			result = append(result, v)
		}
	}
	return result, nil
}

func (s *MemoryStore) FinalizeRound(_ context.Context, d *model.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[d.RoundID]
	if !ok {
		return fmt.Errorf("round %s: %w", d.RoundID, ErrNotFound)
	}
	if _, exists := s.distributions[d.RoundID]; exists || r.Status == model.StatusFinalized {
		return fmt.Errorf("finalize round %s: %w", d.RoundID, ErrConflict)
	}
	copy := *d
	copy.Entries = append([]model.DistributionEntry(nil), d.Entries...)
	s.distributions[d.RoundID] = &copy
	r.Status = model.StatusFinalized
	return nil
}

func (s *MemoryStore) GetDistribution(_ context.Context, roundID string) (*model.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.distributions[roundID]
	if !ok {
		return nil, fmt.Errorf("distribution for round %s: %w", roundID, ErrNotFound)
	}
	copy := *d
	copy.Entries = append([]model.DistributionEntry(nil), d.Entries...)
	return &copy, nil
}
