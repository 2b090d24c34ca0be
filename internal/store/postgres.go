package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/qfround/matching-engine/internal/model"
)

// postgresSchema creates the tables PostgresStore expects.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS rounds (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	token           TEXT NOT NULL,
	decimals        INTEGER NOT NULL,
	matching_pool   NUMERIC NOT NULL,
	minimum_amount  NUMERIC NOT NULL DEFAULT 0,
	contributor_cap NUMERIC NOT NULL DEFAULT 0,
	matching_cap    NUMERIC NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS votes (
	id          TEXT PRIMARY KEY,
	round_id    TEXT NOT NULL REFERENCES rounds(id),
	contributor TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	amount      NUMERIC NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS votes_round_id_idx ON votes (round_id);
CREATE TABLE IF NOT EXISTS distributions (
	round_id      TEXT PRIMARY KEY REFERENCES rounds(id),
	merkle_root   TEXT NOT NULL,
	matching_pool NUMERIC NOT NULL,
	total_matched NUMERIC NOT NULL,
	entries       JSONB NOT NULL,
	finalized_at  TIMESTAMPTZ NOT NULL
);`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates missing tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) CreateRound(ctx context.Context, r *model.Round) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (id, name, token, decimals, matching_pool, minimum_amount, contributor_cap, matching_cap, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		r.ID, r.Name, r.Token, r.Decimals,
		r.MatchingPool.String(), r.MinimumAmount.String(),
		r.ContributorCap.String(), r.MatchingCap.String(),
		r.Status, r.CreatedAt,
	)
	return pgError("create round "+r.ID, err)
}

const roundColumns = `id, name, token, decimals,
	matching_pool::TEXT, minimum_amount::TEXT, contributor_cap::TEXT, matching_cap::TEXT,
	status, created_at`

func (s *PostgresStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
	if err != nil {
		return nil, pgError("get round "+id, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRounds(ctx context.Context) ([]model.Round, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roundColumns+` FROM rounds ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

func (s *PostgresStore) InsertVote(ctx context.Context, v *model.Vote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO votes (id, round_id, contributor, recipient, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		v.ID, v.RoundID, v.Contributor, v.Recipient, v.Amount.String(), v.CreatedAt,
	)
	return pgError("insert vote "+v.ID, err)
}

func (s *PostgresStore) GetVotesByRound(ctx context.Context, roundID string) ([]model.Vote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, round_id, contributor, recipient, amount::TEXT, created_at
		 FROM votes WHERE round_id = $1 ORDER BY created_at, id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanVotes(rows)
}

func (s *PostgresStore) FinalizeRound(ctx context.Context, d *model.Distribution) error {
	entries, err := json.Marshal(d.Entries)
	if err != nil {
		return fmt.Errorf("encode distribution entries: %w", err)
	}
	op := "finalize round " + d.RoundID

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	// The row lock holds off a concurrent finalize until this one commits.
	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM rounds WHERE id = $1 FOR UPDATE`, d.RoundID).Scan(&status); err != nil {
		return pgError(op, err)
	}
	if status == model.StatusFinalized {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO distributions (round_id, merkle_root, matching_pool, total_matched, entries, finalized_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::JSONB, $6)`,
		d.RoundID, d.MerkleRoot, d.MatchingPool.String(), d.TotalMatched.String(),
		string(entries), d.FinalizedAt,
	); err != nil {
		return pgError(op, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE rounds SET status = $2 WHERE id = $1`, d.RoundID, model.StatusFinalized); err != nil {
		return pgError(op, err)
	}
	return pgError(op, tx.Commit(ctx))
}

func (s *PostgresStore) GetDistribution(ctx context.Context, roundID string) (*model.Distribution, error) {
	var d model.Distribution
	var pool, total, entries string

	err := s.pool.QueryRow(ctx,
		`SELECT round_id, merkle_root, matching_pool::TEXT, total_matched::TEXT, entries::TEXT, finalized_at
		 FROM distributions WHERE round_id = $1`, roundID).
		Scan(&d.RoundID, &d.MerkleRoot, &pool, &total, &entries, &d.FinalizedAt)
	if err != nil {
		return nil, pgError("get distribution "+roundID, err)
	}

	d.MatchingPool, _ = decimal.NewFromString(pool)
	d.TotalMatched, _ = decimal.NewFromString(total)
	if err := json.Unmarshal([]byte(entries), &d.Entries); err != nil {
		return nil, fmt.Errorf("decode distribution entries: %w", err)
	}
	return &d, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRound(row rowScanner) (*model.Round, error) {
	var r model.Round
	var pool, minimum, contributorCap, matchingCap string

	if err := row.Scan(&r.ID, &r.Name, &r.Token, &r.Decimals,
		&pool, &minimum, &contributorCap, &matchingCap,
		&r.Status, &r.CreatedAt); err != nil {
		return nil, err
	}

	r.MatchingPool, _ = decimal.NewFromString(pool)
	r.MinimumAmount, _ = decimal.NewFromString(minimum)
	r.ContributorCap, _ = decimal.NewFromString(contributorCap)
	r.MatchingCap, _ = decimal.NewFromString(matchingCap)
	return &r, nil
}

// sqlRows is the subset of pgx.Rows and *sql.Rows used for vote scans.
type sqlRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanVotes(rows sqlRows) ([]model.Vote, error) {
	var votes []model.Vote
	for rows.Next() {
		var v model.Vote
		var amount string

		if err := rows.Scan(&v.ID, &v.RoundID, &v.Contributor, &v.Recipient,
			&amount, &v.CreatedAt); err != nil {
			return nil, err
		}

		v.Amount, _ = decimal.NewFromString(amount)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// pgError maps driver errors onto the store's sentinel errors.
func pgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", op, ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
