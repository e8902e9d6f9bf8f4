package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a committed ledger transition.
type EventType string

const (
	EventInit             EventType = "init"
	EventConfigUpdated    EventType = "config_updated"
	EventTokenWhitelisted EventType = "token_whitelisted"
	EventTokenRemoved     EventType = "token_removed"
	EventRoleGranted      EventType = "role_granted"
	EventRoleRevoked      EventType = "role_revoked"
	EventPaused           EventType = "paused"
	EventUnpaused         EventType = "unpaused"
	EventPoolCreated      EventType = "pool_created"
	EventPredictionPlaced EventType = "prediction_placed"
	EventHighValueStake   EventType = "high_value_prediction"
	EventPoolReady        EventType = "pool_ready"
	EventPoolResolved     EventType = "pool_resolved"
	EventPoolCanceled     EventType = "pool_canceled"
	EventWinningsClaimed  EventType = "winnings_claimed"
	EventStakeRefunded    EventType = "stake_refunded"
)

// Event is published after a call commits. Failed calls publish nothing.
type Event struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	PoolID    *uint64          `json:"pool_id,omitempty"`
	Actor     string           `json:"actor,omitempty"`
	Outcome   *uint32          `json:"outcome,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
