package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qfround/matching-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Votes are never cached: matching must always see the full vote set.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateRound(ctx context.Context, r *model.Round) error {
	if err := s.primary.CreateRound(ctx, r); err != nil {
		return err
	}
	s.cache(ctx, roundKey(r.ID), r)
	return nil
}

func (s *CachedStore) FinalizeRound(ctx context.Context, d *model.Distribution) error {
	if err := s.primary.FinalizeRound(ctx, d); err != nil {
		return err
	}
	// Invalidate the open round; next read will re-populate.
	s.rdb.Del(ctx, roundKey(d.RoundID))
	s.cache(ctx, distributionKey(d.RoundID), d)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	var r model.Round
	if s.lookup(ctx, roundKey(id), &r) {
		return &r, nil
	}

	// Cache miss: read from primary.
	round, err := s.primary.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, roundKey(id), round)
	return round, nil
}

// GetDistribution caches finalized distributions; they never change.
func (s *CachedStore) GetDistribution(ctx context.Context, roundID string) (*model.Distribution, error) {
	var d model.Distribution
	if s.lookup(ctx, distributionKey(roundID), &d) {
		return &d, nil
	}

	dist, err := s.primary.GetDistribution(ctx, roundID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, distributionKey(roundID), dist)
	return dist, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRounds(ctx context.Context) ([]model.Round, error) {
	return s.primary.ListRounds(ctx)
}

func (s *CachedStore) InsertVote(ctx context.Context, v *model.Vote) error {
	return s.primary.InsertVote(ctx, v)
}

func (s *CachedStore) GetVotesByRound(ctx context.Context, roundID string) ([]model.Vote, error) {
	return s.primary.GetVotesByRound(ctx, roundID)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst interface{}) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func roundKey(id string) string        { return fmt.Sprintf("round:%s", id) }
func distributionKey(id string) string { return fmt.Sprintf("distribution:%s", id) }
