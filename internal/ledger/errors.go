package ledger

import (
	"errors"

	"github.com/predifi/pool-ledger/internal/store"
)

var (
	ErrNotInitialized     = errors.New("ledger: not initialized")
	ErrAlreadyInitialized = errors.New("ledger: already initialized")
	ErrUnauthorized       = errors.New("ledger: caller lacks required role")
	ErrPaused             = errors.New("ledger: paused")
	ErrLastAdmin          = errors.New("ledger: cannot revoke the last admin")

	ErrInvalidIdentity     = errors.New("ledger: identity must not be empty")
	ErrInvalidRole         = errors.New("ledger: unknown role")
	ErrInvalidFee          = errors.New("ledger: fee must be at most 10000 bps")
	ErrInvalidDelay        = errors.New("ledger: resolution delay must not be negative")
	ErrInvalidOptionsCount = errors.New("ledger: options count out of range")
	ErrInvalidEndTime      = errors.New("ledger: end time must be in the future")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrInvalidOutcome      = errors.New("ledger: outcome out of range")
	ErrInvalidMetadata     = errors.New("ledger: invalid metadata")
	ErrInvalidProof        = errors.New("ledger: resolution proof must not be empty")
	ErrTokenNotWhitelisted = errors.New("ledger: token not whitelisted")

	ErrPoolNotFound          = errors.New("ledger: pool not found")
	ErrNoPredictionFound     = errors.New("ledger: no prediction found")
	ErrPoolExpired           = errors.New("ledger: pool betting window has closed")
	ErrPoolAlreadyResolved   = errors.New("ledger: pool already resolved")
	ErrPoolCanceled          = errors.New("ledger: pool canceled")
	ErrPoolNotExpired        = errors.New("ledger: pool betting window still open")
	ErrResolutionDelayNotMet = errors.New("ledger: resolution delay not met")
	ErrPoolNotResolved       = errors.New("ledger: pool not resolved")
	ErrAlreadyClaimed        = errors.New("ledger: already claimed")
	ErrLosingOutcome         = errors.New("ledger: prediction did not win")

	ErrOverflow       = errors.New("ledger: arithmetic overflow")
	ErrTransferFailed = errors.New("ledger: token transfer failed")
)

// ErrorCategory groups errors by how a caller should react to them.
type ErrorCategory string

const (
	CategoryNone          ErrorCategory = ""
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryArithmetic    ErrorCategory = "arithmetic"
	CategoryResource      ErrorCategory = "resource"
	CategoryExternal      ErrorCategory = "external"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = []struct {
	cat  ErrorCategory
	errs []error
}{
	{CategoryResource, []error{store.ErrReadBudgetExceeded, store.ErrWriteBudgetExceeded, store.ErrEntryTooLarge}},
	{CategoryExternal, []error{ErrTransferFailed}},
	{CategoryArithmetic, []error{ErrOverflow}},
	{CategoryAuthorization, []error{ErrUnauthorized}},
	{CategoryNotFound, []error{ErrPoolNotFound, ErrNoPredictionFound}},
	{CategoryConflict, []error{
		ErrNotInitialized, ErrAlreadyInitialized, ErrPaused, ErrLastAdmin,
		ErrPoolExpired, ErrPoolAlreadyResolved, ErrPoolCanceled, ErrPoolNotExpired,
		ErrResolutionDelayNotMet, ErrPoolNotResolved, ErrAlreadyClaimed, ErrLosingOutcome,
	}},
	{CategoryValidation, []error{
		ErrInvalidIdentity, ErrInvalidRole, ErrInvalidFee, ErrInvalidDelay,
		ErrInvalidOptionsCount, ErrInvalidEndTime, ErrInvalidAmount, ErrInvalidOutcome,
		ErrInvalidMetadata, ErrInvalidProof, ErrTokenNotWhitelisted,
	}},
}

// Category classifies err. Unknown non-nil errors are internal.
func Category(err error) ErrorCategory {
	if err == nil {
		return CategoryNone
	}
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.cat
			}
		}
	}
	return CategoryInternal
}
