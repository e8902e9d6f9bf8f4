package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Amounts are whole token units held in the signed 128-bit range.
var (
	MaxAmount = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1)), 0)
	MinAmount = decimal.NewFromBigInt(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127)), 0)
)

// InRange reports whether v fits the signed 128-bit amount range.
func InRange(v decimal.Decimal) bool {
	return v.Cmp(MinAmount) >= 0 && v.Cmp(MaxAmount) <= 0
}

// IsWhole reports whether v has no fractional part.
func IsWhole(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(0))
}
