package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxKind names the user action behind a transaction.
type TxKind string

const (
	TxApprove TxKind = "approve"
	TxSwap    TxKind = "swap"
	TxWrap    TxKind = "wrap"
)

// TxState is the lifecycle state of a single action.
type TxState string

const (
	TxIdle                 TxState = "idle"
	TxSubmitting           TxState = "submitting"
	TxAwaitingConfirmation TxState = "awaiting_confirmation"
	TxConfirmed            TxState = "confirmed"
	TxReverted             TxState = "reverted"
)

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool {
	return s == TxConfirmed || s == TxReverted
}

// TxOutcome is the final result of a submitted transaction.
type TxOutcome string

const (
	OutcomeNone    TxOutcome = ""
	OutcomeSuccess TxOutcome = "success"
	OutcomeFailed  TxOutcome = "failed"
	OutcomeDropped TxOutcome = "dropped"
)

// PendingTransaction tracks one submitted action.
type PendingTransaction struct {
	ID          string       `json:"id"`
	Kind        TxKind       `json:"kind"`
	Hash        *common.Hash `json:"hash,omitempty"`
	State       TxState      `json:"state"`
	Outcome     TxOutcome    `json:"outcome,omitempty"`
	Err         string       `json:"error,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
	FinalizedAt time.Time    `json:"finalized_at"`
	BlockNumber uint64       `json:"block_number,omitempty"`
}
