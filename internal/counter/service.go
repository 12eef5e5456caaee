// Package counter is the single write path for prompt counters. All deltas go
// through the store's atomic increment; nothing here reads a value before
// writing it back.
package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"promptlib/api/internal/store"
)

var (
	// ErrNotFound indicates the target prompt does not exist.
	ErrNotFound = errors.New("prompt not found")

	// ErrStorage indicates a retryable storage failure; the caller must not
	// treat its optimistic value as confirmed.
	ErrStorage = errors.New("counter storage unavailable")

	// ErrInvalidDelta indicates a delta the field does not allow.
	ErrInvalidDelta = errors.New("invalid counter delta")

	// ErrUnknownField indicates a field outside views/likes/copyCount.
	ErrUnknownField = errors.New("unknown counter field")
)

// ItemStore is the storage dependency; the production implementation is the
// Postgres store's single-UPDATE increment.
type ItemStore interface {
	IncrementCounter(ctx context.Context, promptID string, field store.CounterField, delta int) (int, error)
}

type Service struct {
	store ItemStore
}

func NewService(itemStore ItemStore) *Service {
	return &Service{store: itemStore}
}

// Increment applies delta to the named counter and returns the authoritative
// post-increment value. Callers overwrite their local copy with the result;
// adding to it would double-count.
func (s *Service) Increment(ctx context.Context, promptID, fieldName string, delta int) (int, error) {
	field, ok := store.ValidCounterField(fieldName)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, fieldName)
	}
	if err := validateDelta(field, delta); err != nil {
		return 0, err
	}

	value, err := s.store.IncrementCounter(ctx, promptID, field, delta)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return value, nil
}

// validateDelta enforces the per-field delta rules: likes may move by +1 or
// -1, views and copyCount only ever grow by +1.
func validateDelta(field store.CounterField, delta int) error {
	switch field {
	case store.FieldLikes:
		if delta != 1 && delta != -1 {
			return fmt.Errorf("%w: likes accepts +1 or -1, got %d", ErrInvalidDelta, delta)
		}
	default:
		if delta != 1 {
			return fmt.Errorf("%w: %s accepts only +1, got %d", ErrInvalidDelta, field, delta)
		}
	}
	return nil
}
