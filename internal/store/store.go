// Package store defines the persistence interface for the matching engine.
// Implementations include PostgreSQL (source of truth), SQLite (single-file
// deployments), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/qfround/matching-engine/internal/model"
)

var (
	// ErrNotFound is returned when a round or distribution does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write collides with existing state.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Round operations ---

	// CreateRound persists a new round.
	CreateRound(ctx context.Context, round *model.Round) error

	// GetRound retrieves a round by its ID.
	GetRound(ctx context.Context, id string) (*model.Round, error)

	// ListRounds returns all rounds, newest first.
	ListRounds(ctx context.Context) ([]model.Round, error)

	// --- Immutable votes ---

	// InsertVote appends an immutable contribution record.
	InsertVote(ctx context.Context, vote *model.Vote) error

	// GetVotesByRound returns all votes cast in a round, oldest first.
	GetVotesByRound(ctx context.Context, roundID string) ([]model.Vote, error)

	// --- Distributions ---

	// FinalizeRound stores the distribution of an open round and closes the
	// round as one atomic write: either both happen or neither does. A round
	// has at most one distribution. It returns ErrNotFound for an unknown
	// round and ErrConflict for one that is already finalized.
	FinalizeRound(ctx context.Context, dist *model.Distribution) error

	// GetDistribution returns the finalized distribution of a round.
	GetDistribution(ctx context.Context, roundID string) (*model.Distribution, error)
}
