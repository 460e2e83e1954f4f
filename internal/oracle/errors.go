package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UpstreamError wraps a failure of an external oracle or its transport.
// It aborts the triggering operation except where callers explicitly degrade
// (the contradiction sub-step of ingestion).
type UpstreamError struct {
	Oracle string // "embedding", "categorization", "entity_extraction", "contradiction", "generation"
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("oracle %s failed: %v", e.Oracle, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// UpstreamTimeout reports that an oracle call exhausted its time budget
type UpstreamTimeout struct {
	Oracle string
	Budget time.Duration
}

func (e *UpstreamTimeout) Error() string {
	return fmt.Sprintf("oracle %s timed out after %s", e.Oracle, e.Budget)
}

// ErrEmptyInput is returned before any network I/O when an oracle is handed
// nothing to work with
var ErrEmptyInput = errors.New("oracle input is empty")

// wrapErr classifies an oracle failure: deadline exhaustion becomes an
// UpstreamTimeout, everything else an UpstreamError.
func wrapErr(oracle string, budget time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamTimeout{Oracle: oracle, Budget: budget}
	}
	return &UpstreamError{Oracle: oracle, Err: err}
}
