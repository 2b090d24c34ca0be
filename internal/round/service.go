// Package round provides the HTTP handlers for quadratic-funding rounds:
// creating rounds, recording votes, live matching, what-if estimates and
// finalization into a merkle payout distribution.
//
// Amounts cross the API in human units (decimal strings); the engine runs on
// them scaled by 10^decimals of the round's token.
package round

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/qfround/matching-engine/internal/address"
	"github.com/qfround/matching-engine/internal/metrics"
	"github.com/qfround/matching-engine/internal/model"
	"github.com/qfround/matching-engine/internal/qf"
	"github.com/qfround/matching-engine/internal/store"
)

// maxParallelEstimates bounds the goroutines one batch estimate may use.
const maxParallelEstimates = 8

// DefaultEstimateAmounts are the what-if amounts used when a request names none.
var DefaultEstimateAmounts = []decimal.Decimal{
	decimal.NewFromInt(0),
	decimal.NewFromInt(1),
	decimal.NewFromInt(10),
	decimal.NewFromInt(100),
	decimal.NewFromInt(1000),
}

// Service handles round operations. The mutex serializes vote recording
// against finalization so no vote lands in a round after its distribution
// was computed (single-instance).
type Service struct {
	store store.Store
	mu    sync.Mutex
	wsHub *WSHub // optional
}

// NewService creates a round service. hub may be nil.
func NewService(st store.Store, hub *WSHub) *Service {
	return &Service{store: st, wsHub: hub}
}

// --- Request/Response types ---

// CreateRoundRequest is the JSON body for round creation. Zero-valued caps
// and minimum disable the rule.
type CreateRoundRequest struct {
	Name           string          `json:"name"`
	Token          string          `json:"token"`
	Decimals       int32           `json:"decimals"`
	MatchingPool   decimal.Decimal `json:"matching_pool"`
	MinimumAmount  decimal.Decimal `json:"minimum_amount"`
	ContributorCap decimal.Decimal `json:"contributor_cap"`
	MatchingCap    decimal.Decimal `json:"matching_cap"`
}

// VoteRequest is the JSON body for POST /rounds/{roundID}/votes.
type VoteRequest struct {
	Contributor string          `json:"contributor"`
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
}

// BatchEstimateRequest asks for the same what-if amounts against several
// recipients. Empty Amounts means DefaultEstimateAmounts.
type BatchEstimateRequest struct {
	Contributor string            `json:"contributor"`
	Recipients  []string          `json:"recipients"`
	Amounts     []decimal.Decimal `json:"amounts"`
}

// ProofResponse is everything a recipient needs to claim from the payout
// contract.
type ProofResponse struct {
	RoundID    string   `json:"round_id"`
	Index      uint64   `json:"index"`
	Recipient  string   `json:"recipient"`
	Amount     string   `json:"amount"` // integer, 10^-decimals units
	Leaf       string   `json:"leaf"`
	Proof      []string `json:"proof"`
	MerkleRoot string   `json:"merkle_root"`
}

// --- HTTP Handlers ---

// CreateRound handles POST /api/v1/rounds
func (s *Service) CreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	rd := &model.Round{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Token:          req.Token,
		Decimals:       req.Decimals,
		MatchingPool:   req.MatchingPool,
		MinimumAmount:  req.MinimumAmount,
		ContributorCap: req.ContributorCap,
		MatchingCap:    req.MatchingCap,
		Status:         model.StatusOpen,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := poolOf(rd); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if _, err := EngineFor(rd); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.CreateRound(r.Context(), rd); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OpenRounds.Inc()

	slog.Info("round created",
		"id", rd.ID,
		"name", rd.Name,
		"token", rd.Token,
		"pool", rd.MatchingPool.String(),
	)

	writeJSON(w, http.StatusCreated, rd)
}

// ListRounds handles GET /api/v1/rounds
// Optionally filtered by ?status=open|finalized.
func (s *Service) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.store.ListRounds(r.Context())
	if err != nil {
		writeError(w, "failed to list rounds", http.StatusInternalServerError)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := rounds[:0]
		for _, rd := range rounds {
			if rd.Status == status {
				filtered = append(filtered, rd)
			}
		}
		rounds = filtered
	}
	if rounds == nil {
		rounds = []model.Round{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

// GetRound handles GET /api/v1/rounds/{roundID}
func (s *Service) GetRound(w http.ResponseWriter, r *http.Request) {
	rd, err := s.store.GetRound(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, "round not found", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

// AddVote handles POST /api/v1/rounds/{roundID}/votes
// Both addresses are stored in checksummed form; the amount is rounded to
// the token's decimals.
func (s *Service) AddVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	contributor, err := address.Normalize(req.Contributor)
	if err != nil {
		writeError(w, "contributor: "+err.Error(), http.StatusBadRequest)
		return
	}
	recipient, err := address.Normalize(req.Recipient)
	if err != nil {
		writeError(w, "recipient: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	rd, err := s.store.GetRound(ctx, chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, "round not found", statusFor(err))
		return
	}
	if rd.Status != model.StatusOpen {
		writeError(w, "round is not open for votes", http.StatusConflict)
		return
	}
	amount, err := qf.ToFixedPoint(req.Amount, rd.Decimals)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	vote := &model.Vote{
		ID:          uuid.New().String(),
		RoundID:     rd.ID,
		Contributor: contributor,
		Recipient:   recipient,
		Amount:      qf.FromFixedPoint(amount, rd.Decimals),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertVote(ctx, vote); err != nil {
		writeError(w, "failed to record vote", statusFor(err))
		return
	}
	metrics.VotesTotal.Inc()

	slog.Info("vote recorded",
		"vote_id", vote.ID,
		"round", rd.ID,
		"contributor", contributor,
		"recipient", recipient,
		"amount", vote.Amount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "vote_recorded",
			RoundID:     rd.ID,
			Contributor: contributor,
			Recipient:   recipient,
			Amount:      vote.Amount.String(),
		})
	}

	writeJSON(w, http.StatusCreated, vote)
}

// ListVotes handles GET /api/v1/rounds/{roundID}/votes
func (s *Service) ListVotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rd, err := s.store.GetRound(ctx, chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, "round not found", statusFor(err))
		return
	}
	votes, err := s.store.GetVotesByRound(ctx, rd.ID)
	if err != nil {
		writeError(w, "failed to list votes", http.StatusInternalServerError)
		return
	}
	if votes == nil {
		votes = []model.Vote{}
	}
	writeJSON(w, http.StatusOK, votes)
}

// GetMatching handles GET /api/v1/rounds/{roundID}/matching
// Always computed from the current vote set, even for finalized rounds.
func (s *Service) GetMatching(w http.ResponseWriter, r *http.Request) {
	rd, in, engine, err := s.load(r, chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	start := time.Now()
	res, err := engine.Compute(in)
	metrics.ObserveComputation("matching", start, err)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, MatchingOf(rd, res))
}

// Estimate handles GET /api/v1/rounds/{roundID}/estimate
// Query: recipient (required), contributor (optional, defaults to the zero
// address), amounts (comma-separated human units).
func (s *Service) Estimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recipient, err := address.Normalize(q.Get("recipient"))
	if err != nil {
		writeError(w, "recipient: "+err.Error(), http.StatusBadRequest)
		return
	}
	contributor, err := contributorOrDefault(q.Get("contributor"))
	if err != nil {
		writeError(w, "contributor: "+err.Error(), http.StatusBadRequest)
		return
	}
	amounts, err := ParseAmounts(q.Get("amounts"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rd, in, engine, err := s.load(r, chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	est, err := EstimateFor(engine, rd, in, contributor, recipient, amounts)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// BatchEstimates handles POST /api/v1/rounds/{roundID}/estimates
// Each recipient is estimated independently and in parallel over the same
// snapshot of votes.
func (s *Service) BatchEstimates(w http.ResponseWriter, r *http.Request) {
	var req BatchEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Recipients) == 0 {
		writeError(w, "recipients is required", http.StatusBadRequest)
		return
	}
	contributor, err := contributorOrDefault(req.Contributor)
	if err != nil {
		writeError(w, "contributor: "+err.Error(), http.StatusBadRequest)
		return
	}
	recipients := make([]string, len(req.Recipients))
	for i, raw := range req.Recipients {
		if recipients[i], err = address.Normalize(raw); err != nil {
			writeError(w, fmt.Sprintf("recipient %d: %v", i, err), http.StatusBadRequest)
			return
		}
	}
	amounts := req.Amounts
	if len(amounts) == 0 {
		amounts = DefaultEstimateAmounts
	}

	rd, in, engine, err := s.load(r, chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	out := make([]model.Estimate, len(recipients))
	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(maxParallelEstimates)
	for i, recipient := range recipients {
		i, recipient := i, recipient
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			est, err := EstimateFor(engine, rd, in, contributor, recipient, amounts)
			if err != nil {
				return fmt.Errorf("recipient %s: %w", recipient, err)
			}
			out[i] = *est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Finalize handles POST /api/v1/rounds/{roundID}/finalize
// Freezes the matching result into a merkle distribution and closes the
// round. A round can be finalized once.
func (s *Service) Finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	rd, in, engine, err := s.load(r, chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if rd.Status == model.StatusFinalized {
		writeError(w, "round is already finalized", http.StatusConflict)
		return
	}

	start := time.Now()
	res, err := engine.Compute(in)
	metrics.ObserveComputation("finalize", start, err)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	dist, err := DistributionOf(rd, in.MatchingPool, res)
	if err != nil {
		slog.Error("distribution build failed", "round", rd.ID, "err", err)
		writeError(w, "failed to build distribution: "+err.Error(), http.StatusInternalServerError)
		return
	}
	// The distribution and the closed status land together; a failed write
	// leaves the round open and finalizable.
	if err := s.store.FinalizeRound(ctx, dist); err != nil {
		slog.Error("finalize failed", "round", rd.ID, "err", err)
		writeError(w, "failed to finalize round", statusFor(err))
		return
	}
	metrics.RoundsFinalized.Inc()
	metrics.OpenRounds.Dec()

	slog.Info("round finalized",
		"round", rd.ID,
		"recipients", len(dist.Entries),
		"total_matched", dist.TotalMatched.String(),
		"merkle_root", dist.MerkleRoot,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "round_finalized",
			RoundID:      rd.ID,
			TotalMatched: dist.TotalMatched.String(),
			MerkleRoot:   dist.MerkleRoot,
		})
	}

	writeJSON(w, http.StatusOK, dist)
}

// GetDistribution handles GET /api/v1/rounds/{roundID}/distribution
func (s *Service) GetDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := s.store.GetDistribution(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, "distribution not found", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

// GetProof handles GET /api/v1/rounds/{roundID}/distribution/{recipient}/proof
func (s *Service) GetProof(w http.ResponseWriter, r *http.Request) {
	recipient, err := address.Normalize(chi.URLParam(r, "recipient"))
	if err != nil {
		writeError(w, "recipient: "+err.Error(), http.StatusBadRequest)
		return
	}
	dist, err := s.store.GetDistribution(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, "distribution not found", statusFor(err))
		return
	}

	resp, err := ProofOf(dist, recipient)
	switch {
	case errors.Is(err, ErrNoPayout):
		writeError(w, "recipient has no payout", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("proof build failed", "round", dist.RoundID, "err", err)
		writeError(w, "distribution is corrupt", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// load fetches a round and its votes and converts them to engine input.
func (s *Service) load(r *http.Request, roundID string) (*model.Round, qf.Input, *qf.Engine, error) {
	ctx := r.Context()
	rd, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, qf.Input{}, nil, fmt.Errorf("round %s: %w", roundID, err)
	}
	votes, err := s.store.GetVotesByRound(ctx, rd.ID)
	if err != nil {
		return nil, qf.Input{}, nil, fmt.Errorf("votes of round %s: %w", rd.ID, err)
	}
	in, err := InputOf(rd, votes)
	if err != nil {
		return nil, qf.Input{}, nil, err
	}
	engine, err := EngineFor(rd)
	if err != nil {
		return nil, qf.Input{}, nil, err
	}
	return rd, in, engine, nil
}

func contributorOrDefault(raw string) (string, error) {
	if raw == "" {
		return qf.HypotheticalContributor, nil
	}
	return address.Normalize(raw)
}

// ParseAmounts parses "0,1,10" into decimals; empty means the defaults.
func ParseAmounts(raw string) ([]decimal.Decimal, error) {
	if raw == "" {
		return DefaultEstimateAmounts, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]decimal.Decimal, len(parts))
	for i, p := range parts {
		v, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("amount %q is not a number", p)
		}
		out[i] = v
	}
	return out, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, qf.ErrInvalidContribution),
		errors.Is(err, qf.ErrInvalidPool),
		errors.Is(err, qf.ErrInvalidOptions),
		errors.Is(err, qf.ErrPrecisionOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, address.ErrInvalidAddress), errors.Is(err, address.ErrBadChecksum):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
