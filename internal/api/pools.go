package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/ledger"
	"github.com/predifi/pool-ledger/internal/model"
	"github.com/predifi/pool-ledger/internal/odds"
)

// CreatePoolRequest is the JSON body for POST /pools. The creator is the
// caller.
type CreatePoolRequest struct {
	Token            string          `json:"token" validate:"required"`
	EndTime          time.Time       `json:"end_time" validate:"required"`
	OptionsCount     uint32          `json:"options_count" validate:"gte=1"`
	Description      string          `json:"description"`
	URL              string          `json:"url"`
	Category         string          `json:"category"`
	InitialLiquidity decimal.Decimal `json:"initial_liquidity"`
	FeeBps           *uint32         `json:"fee_bps,omitempty" validate:"omitempty,lte=10000"`
}

// PredictionRequest is the JSON body for POST /pools/{poolID}/predictions.
type PredictionRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Outcome uint32          `json:"outcome" validate:"gte=1"`
}

// ResolveRequest is the JSON body for the resolve endpoints. Proof is
// required for oracle resolution.
type ResolveRequest struct {
	Outcome uint32 `json:"outcome" validate:"gte=1"`
	Proof   string `json:"proof,omitempty" validate:"max=1024"`
}

// CreatePool handles POST /api/v1/pools
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	creator, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreatePoolRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.engine.CreatePool(r.Context(), ledger.CreatePoolParams{
		Creator:      creator,
		Token:        req.Token,
		EndTime:      req.EndTime,
		OptionsCount: req.OptionsCount,
		Metadata: model.Metadata{
			Description: req.Description,
			URL:         req.URL,
			Category:    req.Category,
		},
		InitialLiquidity: req.InitialLiquidity,
		FeeBps:           req.FeeBps,
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	pool, err := s.engine.GetPool(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	pool, err := s.engine.GetPool(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// ListPools handles GET /api/v1/pools?category=&offset=&limit=
// Returns pool ids in the category, newest first.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := page(w, r)
	if !ok {
		return
	}
	ids, err := s.engine.GetPoolsByCategory(r.Context(), r.URL.Query().Get("category"), offset, limit)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// GetStakes handles GET /api/v1/pools/{poolID}/stakes
func (s *Service) GetStakes(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	stakes, err := s.engine.GetPoolOutcomeStakes(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stakes)
}

// GetOutcomeStake handles GET /api/v1/pools/{poolID}/stakes/{outcome}
// Unknown pools and outcomes read as zero.
func (s *Service) GetOutcomeStake(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	outcome, err := strconv.ParseUint(chi.URLParam(r, "outcome"), 10, 32)
	if err != nil {
		writeError(w, "outcome must be an unsigned integer", http.StatusBadRequest)
		return
	}
	stake, err := s.engine.GetOutcomeStake(r.Context(), id, uint32(outcome))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "outcome": outcome, "stake": stake})
}

// OddsResponse is the JSON body returned from GET /pools/{poolID}/odds.
type OddsResponse struct {
	PoolID        uint64             `json:"pool_id"`
	TotalStake    decimal.Decimal    `json:"total_stake"`
	Distributable decimal.Decimal    `json:"distributable"`
	Outcomes      []odds.OutcomeOdds `json:"outcomes"`
}

// GetOdds handles GET /api/v1/pools/{poolID}/odds
func (s *Service) GetOdds(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	book, err := s.engine.Odds(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OddsResponse{
		PoolID:        id,
		TotalStake:    book.Total(),
		Distributable: book.Distributable(),
		Outcomes:      book.All(),
	})
}

// CancelPool handles POST /api/v1/pools/{poolID}/cancel
func (s *Service) CancelPool(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	s.noContent(w, r, s.engine.CancelPool(r.Context(), who, id))
}

// MarkReady handles POST /api/v1/pools/{poolID}/ready
func (s *Service) MarkReady(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	s.noContent(w, r, s.engine.MarkPoolReady(r.Context(), id))
}

// ResolvePool handles POST /api/v1/pools/{poolID}/resolve
func (s *Service) ResolvePool(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.resolved(w, r, id, s.engine.ResolvePool(r.Context(), who, id, req.Outcome))
}

// OracleResolve handles POST /api/v1/pools/{poolID}/oracle-resolve
func (s *Service) OracleResolve(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.resolved(w, r, id, s.engine.OracleResolve(r.Context(), who, id, req.Outcome, req.Proof))
}

func (s *Service) resolved(w http.ResponseWriter, r *http.Request, id uint64, err error) {
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	pool, err := s.engine.GetPool(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// --- Stakes and settlement ---

// PlacePrediction handles POST /api/v1/pools/{poolID}/predictions
// A repeat call replaces the caller's earlier prediction.
func (s *Service) PlacePrediction(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	var req PredictionRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.PlacePrediction(r.Context(), user, id, req.Amount, req.Outcome)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetPrediction handles GET /api/v1/pools/{poolID}/predictions/{user}
func (s *Service) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	pred, err := s.engine.GetPrediction(r.Context(), chi.URLParam(r, "user"), id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// Claim handles POST /api/v1/pools/{poolID}/claim
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	res, err := s.engine.ClaimWinnings(r.Context(), user, id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetClaimed handles GET /api/v1/pools/{poolID}/claims/{user}
func (s *Service) GetClaimed(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	user := chi.URLParam(r, "user")
	claimed, err := s.engine.HasClaimed(r.Context(), user, id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "user": user, "claimed": claimed})
}

// GetUserPredictions handles GET /api/v1/users/{user}/predictions?offset=&limit=
func (s *Service) GetUserPredictions(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := page(w, r)
	if !ok {
		return
	}
	preds, err := s.engine.GetUserPredictions(r.Context(), chi.URLParam(r, "user"), offset, limit)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preds)
}
