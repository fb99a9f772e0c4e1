package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConfiguration     = errors.New("invalid configuration")
	ErrInvalidRating     = errors.New("invalid rating")
)

// OpError records the scheduler operation and card that failed.
type OpError struct {
	Op     string
	CardID string
	Err    error
}

func (e *OpError) Error() string {
	if e.CardID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s card %s: %v", e.Op, e.CardID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
