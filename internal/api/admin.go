package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/model"
)

// InitRequest is the JSON body for POST /init.
type InitRequest struct {
	AccessControl          string `json:"access_control" validate:"required"`
	Treasury               string `json:"treasury" validate:"required"`
	FeeBps                 uint32 `json:"fee_bps" validate:"lte=10000"`
	ResolutionDelaySeconds int64  `json:"resolution_delay_seconds" validate:"gte=0"`
}

// ConfigResponse is the JSON body returned from GET /config.
type ConfigResponse struct {
	Treasury               string    `json:"treasury"`
	FeeBps                 uint32    `json:"fee_bps"`
	ResolutionDelaySeconds int64     `json:"resolution_delay_seconds"`
	InitializedAt          time.Time `json:"initialized_at"`
}

// StatusResponse is the JSON body returned from GET /status.
type StatusResponse struct {
	Paused    bool   `json:"paused"`
	PoolCount uint64 `json:"pool_count"`
}

// Init handles POST /api/v1/init. Open to anyone until the ledger is
// initialized; fails with 409 afterwards.
func (s *Service) Init(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if !s.decode(w, r, &req) {
		return
	}
	delay := time.Duration(req.ResolutionDelaySeconds) * time.Second
	if err := s.engine.Init(r.Context(), req.AccessControl, req.Treasury, req.FeeBps, delay); err != nil {
		writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetConfig handles GET /api/v1/config
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.GetConfig(r.Context())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{
		Treasury:               cfg.Treasury,
		FeeBps:                 cfg.FeeBps,
		ResolutionDelaySeconds: int64(cfg.ResolutionDelay / time.Second),
		InitializedAt:          cfg.InitializedAt,
	})
}

// GetStatus handles GET /api/v1/status
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	paused, err := s.engine.IsPaused(r.Context())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	n, err := s.engine.PoolCount(r.Context())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Paused: paused, PoolCount: n})
}

// SetFeeBps handles PUT /api/v1/config/fee
func (s *Service) SetFeeBps(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		FeeBps uint32 `json:"fee_bps" validate:"lte=10000"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.noContent(w, r, s.engine.SetFeeBps(r.Context(), admin, req.FeeBps))
}

// SetTreasury handles PUT /api/v1/config/treasury
func (s *Service) SetTreasury(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Treasury string `json:"treasury" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.noContent(w, r, s.engine.SetTreasury(r.Context(), admin, req.Treasury))
}

// SetResolutionDelay handles PUT /api/v1/config/resolution-delay
func (s *Service) SetResolutionDelay(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Seconds int64 `json:"resolution_delay_seconds" validate:"gte=0"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.noContent(w, r, s.engine.SetResolutionDelay(r.Context(), admin, time.Duration(req.Seconds)*time.Second))
}

// Pause handles POST /api/v1/pause
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	s.noContent(w, r, s.engine.Pause(r.Context(), admin))
}

// Unpause handles POST /api/v1/unpause
func (s *Service) Unpause(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	s.noContent(w, r, s.engine.Unpause(r.Context(), admin))
}

// --- Token whitelist ---

// ListTokens handles GET /api/v1/tokens
func (s *Service) ListTokens(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Whitelist(r.Context())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	if list == nil {
		list = []string{}
	}
	writeJSON(w, http.StatusOK, list)
}

// AddToken handles POST /api/v1/tokens
func (s *Service) AddToken(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Token string `json:"token" validate:"required,max=64"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.noContent(w, r, s.engine.AddTokenToWhitelist(r.Context(), admin, req.Token))
}

// GetToken handles GET /api/v1/tokens/{token}
func (s *Service) GetToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	allowed, err := s.engine.IsTokenAllowed(r.Context(), token)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "allowed": allowed})
}

// RemoveToken handles DELETE /api/v1/tokens/{token}
func (s *Service) RemoveToken(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	s.noContent(w, r, s.engine.RemoveTokenFromWhitelist(r.Context(), admin, chi.URLParam(r, "token")))
}

// --- Roles ---

// GrantRole handles POST /api/v1/roles
func (s *Service) GrantRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Identity string `json:"identity" validate:"required"`
		Role     string `json:"role" validate:"required,oneof=admin operator oracle"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.noContent(w, r, s.engine.GrantRole(r.Context(), admin, req.Identity, model.Role(req.Role)))
}

// RevokeRole handles DELETE /api/v1/roles/{role}/{identity}
func (s *Service) RevokeRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	role := model.Role(chi.URLParam(r, "role"))
	s.noContent(w, r, s.engine.RevokeRole(r.Context(), admin, chi.URLParam(r, "identity"), role))
}

// --- Balances ---

// GetBalance handles GET /api/v1/balances/{token}/{account}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	token, account := chi.URLParam(r, "token"), chi.URLParam(r, "account")
	bal, err := s.bank.Balance(r.Context(), token, account)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "account": account, "balance": bal})
}

// MintRequest is the JSON body for POST /dev/mint.
type MintRequest struct {
	Token   string          `json:"token" validate:"required"`
	Account string          `json:"account" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// Mint handles POST /api/v1/dev/mint. Only mounted when dev minting is
// enabled.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	if err := s.bank.Mint(r.Context(), req.Token, req.Account, req.Amount); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) noContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
