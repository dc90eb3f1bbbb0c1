// Package validator checks corpus entries and transactions before they reach
// the matcher. It enforces id and item constraints and returns per-field
// error details. Every ValidationError is skippable input.
package validator

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
)

const (
	maxIDLength   = 255
	maxItemLength = 1024
	// DefaultMaxItems bounds a single set or transaction when the caller
	// passes zero.
	DefaultMaxItems = 4096
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrSkippableInput
}

// Validate checks one id/items pair. An empty item list is reported, as are
// blank or oversized items. maxItems <= 0 means DefaultMaxItems.
func Validate(id string, items []string, maxItems int) error {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	errs := make(map[string]string)

	if len(id) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
	switch {
	case len(items) == 0:
		errs["items"] = "at least one item is required"
	case len(items) > maxItems:
		errs["items"] = fmt.Sprintf("at most %d items are allowed, got %d", maxItems, len(items))
	default:
		for i, item := range items {
			if strings.TrimSpace(item) == "" {
				errs["items"] = fmt.Sprintf("item %d is blank", i)
				break
			}
			if len(item) > maxItemLength {
				errs["items"] = fmt.Sprintf("item %d must be at most %d characters", i, maxItemLength)
				break
			}
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
