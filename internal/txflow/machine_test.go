package txflow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearClient/internal/model"
)

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine(model.TxSwap, nil)
	assert.Equal(t, model.TxIdle, m.State())
	require.NoError(t, m.Begin())
	require.NoError(t, m.Submitted(common.HexToHash("0x01")))
	require.NoError(t, m.Finalize(true, 10))

	tx := m.Snapshot()
	assert.Equal(t, model.TxConfirmed, tx.State)
	assert.True(t, tx.State.Terminal())
	assert.False(t, tx.SubmittedAt.IsZero())
	assert.False(t, tx.FinalizedAt.IsZero())
	assert.NotEmpty(t, tx.ID)
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := NewMachine(model.TxApprove, nil)
	assert.ErrorIs(t, m.Submitted(common.Hash{}), ErrInvalidTransition)
	assert.ErrorIs(t, m.Finalize(true, 1), ErrInvalidTransition)

	require.NoError(t, m.Begin())
	assert.ErrorIs(t, m.Begin(), ErrInvalidTransition)
	require.NoError(t, m.Abort(errors.New("nope")))
	assert.Equal(t, model.TxIdle, m.State())
	assert.Equal(t, "nope", m.Snapshot().Err)

	require.NoError(t, m.Begin(), "an aborted action can be re-initiated")
	assert.Empty(t, m.Snapshot().Err)
}

func TestMachineSnapshotIsACopy(t *testing.T) {
	m := NewMachine(model.TxWrap, nil)
	require.NoError(t, m.Begin())
	require.NoError(t, m.Submitted(common.HexToHash("0x02")))
	snap := m.Snapshot()
	*snap.Hash = common.Hash{}
	assert.Equal(t, common.HexToHash("0x02"), *m.Snapshot().Hash)
}
