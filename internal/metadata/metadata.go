// Package metadata validates the descriptive fields attached to a pool:
// free-text description, reference URL, and category symbol.
package metadata

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/predifi/pool-ledger/internal/model"
)

// Size limits, in bytes.
const (
	MaxDescriptionBytes = 256
	MaxURLBytes         = 512
	MaxCategoryBytes    = 32
)

// DefaultCategory is used when a pool is created without a category.
const DefaultCategory = "general"

// categoryRegex matches a symbol: ASCII letters, digits and underscore.
// Example: sports_nba
var categoryRegex = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

var (
	ErrDescriptionTooLong = errors.New("metadata: description too long")
	ErrURLTooLong         = errors.New("metadata: url too long")
	ErrInvalidURL         = errors.New("metadata: invalid url")
	ErrInvalidCategory    = errors.New("metadata: invalid category")
)

// Normalize validates m and returns it with surrounding whitespace trimmed
// and an empty category replaced by DefaultCategory.
func Normalize(m model.Metadata) (model.Metadata, error) {
	m.Description = strings.TrimSpace(m.Description)
	m.URL = strings.TrimSpace(m.URL)
	m.Category = strings.TrimSpace(m.Category)

	if len(m.Description) > MaxDescriptionBytes {
		return m, fmt.Errorf("%w: %d bytes (max %d)", ErrDescriptionTooLong, len(m.Description), MaxDescriptionBytes)
	}
	if len(m.URL) > MaxURLBytes {
		return m, fmt.Errorf("%w: %d bytes (max %d)", ErrURLTooLong, len(m.URL), MaxURLBytes)
	}
	if m.URL != "" {
		u, err := url.Parse(m.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ipfs") {
			return m, fmt.Errorf("%w: %q", ErrInvalidURL, m.URL)
		}
	}
	if err := ValidateCategory(m.Category); err != nil {
		return m, err
	}
	if m.Category == "" {
		m.Category = DefaultCategory
	}
	return m, nil
}

// ValidateCategory checks a category symbol. The empty string is allowed.
func ValidateCategory(category string) error {
	if len(category) > MaxCategoryBytes || !categoryRegex.MatchString(category) {
		return fmt.Errorf("%w: %q (expected up to %d of [A-Za-z0-9_])",
			ErrInvalidCategory, category, MaxCategoryBytes)
	}
	return nil
}
