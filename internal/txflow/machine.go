package txflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"clearClient/internal/metrics"
	"clearClient/internal/model"
)

// Machine is the lifecycle of one action. Each approve, swap or wrap gets its own instance.
type Machine struct {
	mu      sync.Mutex
	tx      model.PendingTransaction
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewMachine(kind model.TxKind, m *metrics.Metrics) *Machine {
	return &Machine{
		tx:      model.PendingTransaction{ID: uuid.NewString(), Kind: kind, State: model.TxIdle},
		metrics: m,
		now:     time.Now,
	}
}

// Snapshot returns a copy of the tracked transaction.
func (m *Machine) Snapshot() model.PendingTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.tx
	if tx.Hash != nil {
		h := *tx.Hash
		tx.Hash = &h
	}
	return tx
}

func (m *Machine) State() model.TxState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.State
}

func (m *Machine) transition(from, to model.TxState) error {
	if m.tx.State != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, m.tx.State)
	}
	m.tx.State = to
	m.metrics.RecordTransition(string(m.tx.Kind), string(to))
	return nil
}

// Begin moves Idle to Submitting.
func (m *Machine) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(model.TxIdle, model.TxSubmitting); err != nil {
		return err
	}
	m.tx.Err = ""
	m.tx.Outcome = model.OutcomeNone
	return nil
}

// Abort returns a submission that never reached the network to Idle.
func (m *Machine) Abort(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(model.TxSubmitting, model.TxIdle); err != nil {
		return err
	}
	if cause != nil {
		m.tx.Err = cause.Error()
	}
	return nil
}

// Submitted records the pending hash.
func (m *Machine) Submitted(hash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(model.TxSubmitting, model.TxAwaitingConfirmation); err != nil {
		return err
	}
	m.tx.Hash = &hash
	m.tx.SubmittedAt = m.now()
	return nil
}

// Finalize settles a mined transaction.
func (m *Machine) Finalize(success bool, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	to, outcome := model.TxConfirmed, model.OutcomeSuccess
	if !success {
		to, outcome = model.TxReverted, model.OutcomeFailed
		m.tx.Err = ErrReverted.Error()
	}
	if err := m.transition(model.TxAwaitingConfirmation, to); err != nil {
		return err
	}
	m.tx.Outcome = outcome
	m.tx.BlockNumber = block
	m.tx.FinalizedAt = m.now()
	m.metrics.RecordOutcome(string(m.tx.Kind), string(outcome))
	return nil
}

// Drop gives up waiting for a receipt. The transaction may still be mined later.
func (m *Machine) Drop(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(model.TxAwaitingConfirmation, model.TxIdle); err != nil {
		return err
	}
	m.tx.Outcome = model.OutcomeDropped
	if cause != nil {
		m.tx.Err = cause.Error()
	}
	m.tx.FinalizedAt = m.now()
	m.metrics.RecordOutcome(string(m.tx.Kind), string(model.OutcomeDropped))
	return nil
}
