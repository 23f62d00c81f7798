package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearClient/internal/model"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestJsonlJournalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.jsonl")
	j := NewJsonlJournal(path)
	ctx := context.Background()

	hash := common.HexToHash("0xabc")
	require.NoError(t, j.RecordTransaction(ctx, model.PendingTransaction{
		ID: "tx-1", Kind: model.TxSwap, Hash: &hash, State: model.TxConfirmed, Outcome: model.OutcomeSuccess,
	}))
	require.NoError(t, j.RecordRoute(ctx, model.RouteObservation{
		From:       common.HexToAddress("0x01"),
		To:         common.HexToAddress("0x02"),
		Status:     model.RouteStatus{IsOpen: true, DepegPercent: 0.1},
		ObservedAt: time.Unix(1_700_000_000, 0).UTC(),
	}))

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, "transaction", entries[0].Type)
	require.NotNil(t, entries[0].Transaction)
	assert.Equal(t, "tx-1", entries[0].Transaction.ID)
	assert.Equal(t, hash, *entries[0].Transaction.Hash)
	assert.Equal(t, "route", entries[1].Type)
	require.NotNil(t, entries[1].Route)
	assert.True(t, entries[1].Route.Status.IsOpen)
}

type failingJournal struct{ err error }

func (f failingJournal) RecordTransaction(context.Context, model.PendingTransaction) error {
	return f.err
}
func (f failingJournal) RecordRoute(context.Context, model.RouteObservation) error { return f.err }

func TestMultiWritesEverywhereAndJoinsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	boom := errors.New("db down")
	m := Multi{failingJournal{err: boom}, NewJsonlJournal(path)}

	err := m.RecordTransaction(context.Background(), model.PendingTransaction{ID: "tx-2"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, readEntries(t, path), 1)
}
