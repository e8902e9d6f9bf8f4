package store

import (
	"net/url"
	"strconv"
	"strings"
)

// Kind identifies one family of persisted entries. The string values are
// part of the stable on-disk schema and must not change.
type Kind string

const (
	KindPool                Kind = "pool"
	KindPrediction          Kind = "prediction"
	KindOutcomeStakes       Kind = "outcome_stakes"
	KindOutcomeStake        Kind = "outcome_stake" // legacy per-outcome mirror
	KindUserPredictionIndex Kind = "user_prediction_index"
	KindUserPredictionCount Kind = "user_prediction_count"
	KindHasClaimed          Kind = "has_claimed"
	KindTokenWhitelist      Kind = "token_whitelist"
	KindAccessControl       Kind = "access_control"
	KindConfig              Kind = "config"
	KindPaused              Kind = "paused"
	KindPoolIDCounter       Kind = "pool_id_counter"
	KindCategoryPoolCount   Kind = "category_pool_count"
	KindCategoryPoolIndex   Kind = "category_pool_index"
	KindBalance             Kind = "balance"
)

// Key addresses a single persisted entry. Only the fields relevant to the
// Kind are set; String renders the canonical form used by every backend.
type Key struct {
	Kind    Kind
	Subject string // user, category, or token depending on Kind
	Account string // balance holder
	PoolID  uint64
	Index   uint32 // outcome number or sequence position
}

func PoolKey(id uint64) Key { return Key{Kind: KindPool, PoolID: id} }

func PredictionKey(user string, poolID uint64) Key {
	return Key{Kind: KindPrediction, Subject: user, PoolID: poolID}
}

func OutcomeStakesKey(poolID uint64) Key { return Key{Kind: KindOutcomeStakes, PoolID: poolID} }

func OutcomeStakeKey(poolID uint64, outcome uint32) Key {
	return Key{Kind: KindOutcomeStake, PoolID: poolID, Index: outcome}
}

func UserPredictionIndexKey(user string, n uint32) Key {
	return Key{Kind: KindUserPredictionIndex, Subject: user, Index: n}
}

func UserPredictionCountKey(user string) Key {
	return Key{Kind: KindUserPredictionCount, Subject: user}
}

func HasClaimedKey(user string, poolID uint64) Key {
	return Key{Kind: KindHasClaimed, Subject: user, PoolID: poolID}
}

func CategoryPoolCountKey(category string) Key {
	return Key{Kind: KindCategoryPoolCount, Subject: category}
}

func CategoryPoolIndexKey(category string, n uint32) Key {
	return Key{Kind: KindCategoryPoolIndex, Subject: category, Index: n}
}

func BalanceKey(token, account string) Key {
	return Key{Kind: KindBalance, Subject: token, Account: account}
}

var (
	TokenWhitelistKey = Key{Kind: KindTokenWhitelist}
	AccessControlKey  = Key{Kind: KindAccessControl}
	ConfigKey         = Key{Kind: KindConfig}
	PausedKey         = Key{Kind: KindPaused}
	PoolIDCounterKey  = Key{Kind: KindPoolIDCounter}
)

// String renders the canonical key, e.g. "prediction/alice/42".
// Identity segments are path-escaped so they cannot collide.
func (k Key) String() string {
	parts := []string{string(k.Kind)}
	switch k.Kind {
	case KindPool, KindOutcomeStakes:
		parts = append(parts, u64(k.PoolID))
	case KindPrediction, KindHasClaimed:
		parts = append(parts, esc(k.Subject), u64(k.PoolID))
	case KindOutcomeStake:
		parts = append(parts, u64(k.PoolID), u32(k.Index))
	case KindUserPredictionIndex, KindCategoryPoolIndex:
		parts = append(parts, esc(k.Subject), u32(k.Index))
	case KindUserPredictionCount, KindCategoryPoolCount:
		parts = append(parts, esc(k.Subject))
	case KindBalance:
		parts = append(parts, esc(k.Subject), esc(k.Account))
	}
	return strings.Join(parts, "/")
}

func esc(s string) string { return url.PathEscape(s) }
func u64(n uint64) string { return strconv.FormatUint(n, 10) }
func u32(n uint32) string { return strconv.FormatUint(uint64(n), 10) }
