// Package api exposes the pool ledger over HTTP and streams its committed
// events over WebSocket.
//
// The calling identity is taken from the X-Caller header. Amounts travel as
// decimal strings; never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/predifi/pool-ledger/internal/ledger"
)

// CallerHeader carries the identity making a request.
const CallerHeader = "X-Caller"

// Bank reads balances and, in development, funds accounts.
type Bank interface {
	Balance(ctx context.Context, token, account string) (decimal.Decimal, error)
	Mint(ctx context.Context, token, account string, amount decimal.Decimal) error
}

// Service serves the ledger HTTP API.
type Service struct {
	engine   *ledger.Engine
	bank     Bank
	hub      *WSHub // optional
	validate *validator.Validate
	devMint  bool
}

// Options configures optional parts of the service.
type Options struct {
	// Hub serves /ws when set.
	Hub *WSHub
	// DevMint enables POST /dev/mint.
	DevMint bool
}

// NewService creates the HTTP service.
func NewService(engine *ledger.Engine, bank Bank, opts Options) *Service {
	return &Service{
		engine:   engine,
		bank:     bank,
		hub:      opts.Hub,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		devMint:  opts.DevMint,
	}
}

// Routes mounts every endpoint on r. The caller adds the /api/v1 prefix.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	// Configuration and access control.
	r.Post("/init", s.Init)
	r.Get("/config", s.GetConfig)
	r.Put("/config/fee", s.SetFeeBps)
	r.Put("/config/treasury", s.SetTreasury)
	r.Put("/config/resolution-delay", s.SetResolutionDelay)
	r.Get("/status", s.GetStatus)
	r.Post("/pause", s.Pause)
	r.Post("/unpause", s.Unpause)
	r.Get("/tokens", s.ListTokens)
	r.Post("/tokens", s.AddToken)
	r.Get("/tokens/{token}", s.GetToken)
	r.Delete("/tokens/{token}", s.RemoveToken)
	r.Post("/roles", s.GrantRole)
	r.Delete("/roles/{role}/{identity}", s.RevokeRole)

	// Pools.
	r.Get("/pools", s.ListPools)
	r.Post("/pools", s.CreatePool)
	r.Get("/pools/{poolID}", s.GetPool)
	r.Get("/pools/{poolID}/stakes", s.GetStakes)
	r.Get("/pools/{poolID}/stakes/{outcome}", s.GetOutcomeStake)
	r.Get("/pools/{poolID}/odds", s.GetOdds)
	r.Post("/pools/{poolID}/cancel", s.CancelPool)
	r.Post("/pools/{poolID}/ready", s.MarkReady)
	r.Post("/pools/{poolID}/resolve", s.ResolvePool)
	r.Post("/pools/{poolID}/oracle-resolve", s.OracleResolve)

	// Stakes and settlement.
	r.Post("/pools/{poolID}/predictions", s.PlacePrediction)
	r.Get("/pools/{poolID}/predictions/{user}", s.GetPrediction)
	r.Post("/pools/{poolID}/claim", s.Claim)
	r.Get("/pools/{poolID}/claims/{user}", s.GetClaimed)
	r.Get("/users/{user}/predictions", s.GetUserPredictions)

	// Balances.
	r.Get("/balances/{token}/{account}", s.GetBalance)
	if s.devMint {
		r.Post("/dev/mint", s.Mint)
	}
}

// --- Helpers ---

// decode reads a JSON body into dst and validates its struct tags.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, "invalid field "+verrs[0].Field()+": failed "+verrs[0].Tag(), http.StatusBadRequest)
			return false
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// caller returns the X-Caller identity, answering 401 when it is missing.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(CallerHeader)
	if id == "" {
		writeError(w, CallerHeader+" header is required", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

func poolID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "poolID"), 10, 64)
	if err != nil {
		writeError(w, "pool id must be an unsigned integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// page reads ?offset= and ?limit= with a default limit of MaxPageSize.
func page(w http.ResponseWriter, r *http.Request) (offset, limit uint32, ok bool) {
	q := r.URL.Query()
	limit = ledger.MaxPageSize
	for _, p := range []struct {
		name string
		dst  *uint32
	}{{"offset", &offset}, {"limit", &limit}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			writeError(w, p.name+" must be an unsigned integer", http.StatusBadRequest)
			return 0, 0, false
		}
		*p.dst = uint32(n)
	}
	return offset, limit, true
}

// statusFor maps a ledger error category to an HTTP status.
func statusFor(err error) int {
	switch ledger.Category(err) {
	case ledger.CategoryValidation:
		return http.StatusBadRequest
	case ledger.CategoryAuthorization:
		return http.StatusForbidden
	case ledger.CategoryNotFound:
		return http.StatusNotFound
	case ledger.CategoryConflict:
		return http.StatusConflict
	case ledger.CategoryArithmetic:
		return http.StatusUnprocessableEntity
	case ledger.CategoryResource:
		return http.StatusInsufficientStorage
	case ledger.CategoryExternal:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError answers with the status for err. Internal errors are
// logged and hidden from the client.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
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
