package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/qfround/matching-engine/internal/model"
)

// sqliteSchema mirrors postgresSchema. Decimals are stored as TEXT so no
// precision is lost to SQLite's REAL affinity.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rounds (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	token           TEXT NOT NULL,
	decimals        INTEGER NOT NULL,
	matching_pool   TEXT NOT NULL,
	minimum_amount  TEXT NOT NULL,
	contributor_cap TEXT NOT NULL,
	matching_cap    TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS votes (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	round_id    TEXT NOT NULL REFERENCES rounds(id),
	contributor TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	amount      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS votes_round_id_idx ON votes (round_id);
CREATE TABLE IF NOT EXISTS distributions (
	round_id      TEXT PRIMARY KEY REFERENCES rounds(id),
	merkle_root   TEXT NOT NULL,
	matching_pool TEXT NOT NULL,
	total_matched TEXT NOT NULL,
	entries       TEXT NOT NULL,
	finalized_at  TIMESTAMP NOT NULL
);`

// SQLiteStore implements Store on a single SQLite file. Intended for
// single-instance deployments that need persistence without PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRound(ctx context.Context, r *model.Round) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rounds (id, name, token, decimals, matching_pool, minimum_amount, contributor_cap, matching_cap, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Token, r.Decimals,
		r.MatchingPool.String(), r.MinimumAmount.String(),
		r.ContributorCap.String(), r.MatchingCap.String(),
		r.Status, r.CreatedAt.UTC(),
	)
	return sqliteError("create round "+r.ID, err)
}

const sqliteRoundColumns = `id, name, token, decimals,
	matching_pool, minimum_amount, contributor_cap, matching_cap,
	status, created_at`

func (s *SQLiteStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	r, err := scanRound(s.db.QueryRowContext(ctx, `SELECT `+sqliteRoundColumns+` FROM rounds WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteError("get round "+id, err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRounds(ctx context.Context) ([]model.Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteRoundColumns+` FROM rounds ORDER BY created_at DESC`)
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

func (s *SQLiteStore) InsertVote(ctx context.Context, v *model.Vote) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO votes (id, round_id, contributor, recipient, amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.RoundID, v.Contributor, v.Recipient, v.Amount.String(), v.CreatedAt.UTC(),
	)
	return sqliteError("insert vote "+v.ID, err)
}

func (s *SQLiteStore) GetVotesByRound(ctx context.Context, roundID string) ([]model.Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, round_id, contributor, recipient, amount, created_at
		 FROM votes WHERE round_id = ? ORDER BY seq`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanVotes(rows)
}

func (s *SQLiteStore) FinalizeRound(ctx context.Context, d *model.Distribution) error {
	entries, err := json.Marshal(d.Entries)
	if err != nil {
		return fmt.Errorf("encode distribution entries: %w", err)
	}
	op := "finalize round " + d.RoundID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM rounds WHERE id = ?`, d.RoundID).Scan(&status); err != nil {
		return sqliteError(op, err)
	}
	if status == model.StatusFinalized {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO distributions (round_id, merkle_root, matching_pool, total_matched, entries, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.RoundID, d.MerkleRoot, d.MatchingPool.String(), d.TotalMatched.String(),
		string(entries), d.FinalizedAt.UTC(),
	); err != nil {
		return sqliteError(op, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE rounds SET status = ? WHERE id = ?`, model.StatusFinalized, d.RoundID); err != nil {
		return sqliteError(op, err)
	}
	return sqliteError(op, tx.Commit())
}

func (s *SQLiteStore) GetDistribution(ctx context.Context, roundID string) (*model.Distribution, error) {
	var d model.Distribution
	var pool, total, entries string
	var finalizedAt time.Time

	err := s.db.QueryRowContext(ctx,
		`SELECT round_id, merkle_root, matching_pool, total_matched, entries, finalized_at
		 FROM distributions WHERE round_id = ?`, roundID).
		Scan(&d.RoundID, &d.MerkleRoot, &pool, &total, &entries, &finalizedAt)
	if err != nil {
		return nil, sqliteError("get distribution "+roundID, err)
	}

	d.FinalizedAt = finalizedAt
	d.MatchingPool, _ = decimal.NewFromString(pool)
	d.TotalMatched, _ = decimal.NewFromString(total)
	if err := json.Unmarshal([]byte(entries), &d.Entries); err != nil {
		return nil, fmt.Errorf("decode distribution entries: %w", err)
	}
	return &d, nil
}

// sqliteError maps driver errors onto the store's sentinel errors.
func sqliteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		switch sqlErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s: %w", op, ErrConflict)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
