// Package model defines the core domain types shared across the pool ledger.
// All monetary values use shopspring/decimal; never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolStatus is the lifecycle state of a pool. Transitions are
// Open → Resolved or Open → Canceled, exactly once.
type PoolStatus string

const (
	StatusOpen     PoolStatus = "open"
	StatusResolved PoolStatus = "resolved"
	StatusCanceled PoolStatus = "canceled"
)

// Metadata describes the event a pool predicts.
type Metadata struct {
	Description string `json:"description"`
	URL         string `json:"url"`
	Category    string `json:"category"`
}

// Pool is a single prediction market instance with a fixed set of
// mutually exclusive outcomes numbered 1..OptionsCount.
type Pool struct {
	ID               uint64          `json:"id"`
	Creator          string          `json:"creator"`
	Token            string          `json:"token"`
	EndTime          time.Time       `json:"end_time"`
	OptionsCount     uint32          `json:"options_count"`
	Status           PoolStatus      `json:"status"`
	WinningOutcome   *uint32         `json:"winning_outcome,omitempty"`
	TotalStake       decimal.Decimal `json:"total_stake"`
	FeeBps           uint32          `json:"fee_bps"`
	FeeAmount        decimal.Decimal `json:"fee_amount"` // extracted at resolution
	Metadata         Metadata        `json:"metadata"`
	InitialLiquidity decimal.Decimal `json:"initial_liquidity"`
	ResolutionProof  string          `json:"resolution_proof,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

// Distributable is the amount shared among winners: stakes net of the
// protocol fee plus the creator's house liquidity.
func (p *Pool) Distributable() decimal.Decimal {
	return p.TotalStake.Sub(p.FeeAmount).Add(p.InitialLiquidity)
}

// Prediction is a user's current stake in one pool. A repeat stake replaces
// the record; it never accumulates.
type Prediction struct {
	Stake     decimal.Decimal `json:"stake"`
	Outcome   uint32          `json:"outcome"`
	Timestamp time.Time       `json:"timestamp"`
}

// Config is the process-wide ledger configuration. It moves from
// uninitialized to initialized once and is never reset.
type Config struct {
	Treasury        string        `json:"treasury"`
	FeeBps          uint32        `json:"fee_bps"`
	ResolutionDelay time.Duration `json:"resolution_delay"`
	Initialized     bool          `json:"initialized"`
	InitializedAt   time.Time     `json:"initialized_at"`
}

// Role is a privilege held by an identity.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleOracle   Role = "oracle"
)

// AccessControl holds the identity sets authorized for privileged calls.
type AccessControl struct {
	Admins    []string `json:"admins"`
	Operators []string `json:"operators"`
	Oracles   []string `json:"oracles"`
}

// Has reports whether identity holds role.
func (ac *AccessControl) Has(identity string, role Role) bool {
	for _, id := range ac.members(role) {
		if id == identity {
			return true
		}
	}
	return false
}

// Grant adds identity to role. Returns false if it was already present.
func (ac *AccessControl) Grant(identity string, role Role) bool {
	if ac.Has(identity, role) {
		return false
	}
	switch role {
	case RoleAdmin:
		ac.Admins = append(ac.Admins, identity)
	case RoleOperator:
		ac.Operators = append(ac.Operators, identity)
	case RoleOracle:
		ac.Oracles = append(ac.Oracles, identity)
	default:
		return false
	}
	return true
}

// Revoke removes identity from role. Returns false if it was not present.
func (ac *AccessControl) Revoke(identity string, role Role) bool {
	members := ac.members(role)
	for i, id := range members {
		if id != identity {
			continue
		}
		kept := append(append([]string{}, members[:i]...), members[i+1:]...)
		switch role {
		case RoleAdmin:
			ac.Admins = kept
		case RoleOperator:
			ac.Operators = kept
		case RoleOracle:
			ac.Oracles = kept
		}
		return true
	}
	return false
}

func (ac *AccessControl) members(role Role) []string {
	switch role {
	case RoleAdmin:
		return ac.Admins
	case RoleOperator:
		return ac.Operators
	case RoleOracle:
		return ac.Oracles
	}
	return nil
}

// UserPredictionDetail is one row of a user's paginated prediction history.
type UserPredictionDetail struct {
	PoolID         uint64          `json:"pool_id"`
	Stake          decimal.Decimal `json:"stake"`
	UserOutcome    uint32          `json:"user_outcome"`
	PoolEndTime    time.Time       `json:"pool_end_time"`
	PoolStatus     PoolStatus      `json:"pool_status"`
	WinningOutcome *uint32         `json:"winning_outcome,omitempty"`
}
