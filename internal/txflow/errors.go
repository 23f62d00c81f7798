package txflow

import (
	"errors"
	"fmt"

	"clearClient/internal/model"
)

var (
	ErrUnresolvedInput  = errors.New("transaction inputs are not resolved")
	ErrApprovalRequired = errors.New("approval required")
	ErrInFlight         = errors.New("action already in flight")
	// ErrUserRejected is a cancellation before anything was broadcast.
	ErrUserRejected      = errors.New("rejected by user")
	ErrReverted          = errors.New("transaction reverted")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// SubmissionError carries the node's refusal of a transaction verbatim.
type SubmissionError struct {
	Kind model.TxKind
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
