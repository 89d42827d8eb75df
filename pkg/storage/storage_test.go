package storage_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/pkg/storage"
	"github.com/absmach/fedrepair/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]*storage.Repositories {
	t.Helper()

	out := map[string]*storage.Repositories{}
	for _, cfg := range []storage.Config{
		{Type: "memory"},
		{Type: "badger", BadgerPath: filepath.Join(t.TempDir(), "badger")},
		{Type: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "test.db")},
		{Type: "file", FilePath: filepath.Join(t.TempDir(), "ledger")},
	} {
		repos, err := storage.NewRepositories(cfg)
		require.NoError(t, err, cfg.Type)
		if repos.Closer != nil {
			t.Cleanup(func() { repos.Closer.Close() })
		}
		out[cfg.Type] = repos
	}

	return out
}

func result(id string, state scheduler.State) scheduler.Result {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	return scheduler.Result{
		TaskID:   id,
		ClientID: "client-a",
		State:    state,
		Reason:   scheduler.ReasonThresholdMet,
		Layer:    task.Layer2,
		Patch: &task.Patch{
			ID:         id + "-2",
			TaskID:     id,
			Layer:      task.Layer2,
			Attempt:    2,
			Diff:       "@@ -1 +1 @@\n-a\n+b\n",
			Confidence: task.ConfidenceScore{Value: 0.8},
		},
		Attempts: []scheduler.AttemptRecord{
			{Layer: task.Layer1, Attempt: 1, Score: 0.3},
			{Layer: task.Layer2, Attempt: 2, Score: 0.8},
		},
		PolicyRound: 3,
		StartedAt:   at,
		FinishedAt:  at.Add(time.Second),
	}
}

func TestResultRepository(t *testing.T) {
	ctx := context.Background()

	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := repos.Results

			_, err := repo.Get(ctx, "missing")
			assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
			assert.ErrorIs(t, repo.Save(ctx, scheduler.Result{}), pkgerrors.ErrEmptyKey)

			for i := range 5 {
				require.NoError(t, repo.Save(ctx, result(fmt.Sprintf("task-%d", i), scheduler.StateExhausted)))
			}
			require.NoError(t, repo.Save(ctx, result("task-3", scheduler.StateResolved)))

			got, err := repo.Get(ctx, "task-3")
			require.NoError(t, err)
			assert.Equal(t, scheduler.StateResolved, got.State)
			assert.Equal(t, task.Layer2, got.Patch.Layer)
			assert.Equal(t, 0.8, got.Patch.Confidence.Value)
			assert.True(t, got.FinishedAt.Equal(result("x", 0).FinishedAt))

			page, total, err := repo.List(ctx, 1, 2)
			require.NoError(t, err)
			assert.Equal(t, uint64(5), total)
			require.Len(t, page, 2)
			assert.Equal(t, "task-1", page[0].TaskID)
			assert.Equal(t, "task-2", page[1].TaskID)

			page, _, err = repo.List(ctx, 10, 2)
			require.NoError(t, err)
			assert.Empty(t, page)
		})
	}
}

func TestLedger(t *testing.T) {
	ctx := context.Background()

	for name, repos := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ledger := repos.Ledger

			_, err := ledger.LatestUpdate(ctx)
			assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
			_, err = ledger.Round(ctx, 1)
			assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

			for _, round := range []uint64{2, 11, 9} {
				require.NoError(t, ledger.SaveUpdate(ctx, fl.GlobalPolicyUpdate{
					Round:    round,
					Policy:   policy.Default(),
					IssuedAt: time.Unix(int64(round), 0).UTC(),
				}))
			}

			latest, err := ledger.LatestUpdate(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(11), latest.Round)

			u, err := ledger.Update(ctx, 9)
			require.NoError(t, err)
			assert.Equal(t, policy.Default().Layers, u.Policy.Layers)

			state := fl.NewRoundState(4, []string{"a", "b"}, time.Unix(0, 0).UTC(), time.Minute)
			require.NoError(t, ledger.SaveRound(ctx, *state))
			state.Reports["a"] = fl.ClientRoundStatistics{ClientID: "a", Round: 4, TaskCount: 7}
			state.Completed = true
			require.NoError(t, ledger.SaveRound(ctx, *state))

			got, err := ledger.Round(ctx, 4)
			require.NoError(t, err)
			assert.True(t, got.Completed)
			assert.Equal(t, 7, got.Reports["a"].TaskCount)
			assert.Equal(t, []string{"b"}, got.Missing())
		})
	}
}

func TestLedgerKeepsFirstUpdate(t *testing.T) {
	ctx := context.Background()
	ledger := storage.NewLedger(storage.NewInMemoryStorage())

	first := fl.GlobalPolicyUpdate{Round: 5, Participants: []string{"a"}}
	second := fl.GlobalPolicyUpdate{Round: 5, Participants: []string{"a", "b"}}
	require.NoError(t, ledger.SaveUpdate(ctx, first))
	require.NoError(t, ledger.SaveUpdate(ctx, second))

	got, err := ledger.Update(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Participants)
}

func TestKeyValueStorage(t *testing.T) {
	ctx := context.Background()

	badgerKV, err := storage.NewBadgerStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { badgerKV.Close() })

	for name, kv := range map[string]storage.Storage{
		"memory": storage.NewInMemoryStorage(),
		"badger": badgerKV,
	} {
		t.Run(name, func(t *testing.T) {
			cases := []struct {
				desc string
				op   func() error
				err  error
			}{
				{desc: "create with empty key", op: func() error { return kv.Create(ctx, "", nil) }, err: pkgerrors.ErrEmptyKey},
				{desc: "create new key", op: func() error { return kv.Create(ctx, "a/1", []byte("one")) }},
				{desc: "create existing key", op: func() error { return kv.Create(ctx, "a/1", []byte("dup")) }, err: pkgerrors.ErrEntityExists},
				{desc: "update missing key", op: func() error { return kv.Update(ctx, "a/9", []byte("x")) }, err: pkgerrors.ErrNotFound},
				{desc: "update existing key", op: func() error { return kv.Update(ctx, "a/1", []byte("uno")) }},
				{desc: "put new key", op: func() error { return kv.Put(ctx, "a/2", []byte("two")) }},
				{desc: "put other prefix", op: func() error { return kv.Put(ctx, "b/1", []byte("other")) }},
			}
			for _, tc := range cases {
				assert.ErrorIs(t, tc.op(), tc.err, tc.desc)
			}

			val, err := kv.Get(ctx, "a/1")
			require.NoError(t, err)
			assert.Equal(t, []byte("uno"), val)

			vals, total, err := kv.List(ctx, "a/", 0, 10)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), total)
			assert.Equal(t, [][]byte{[]byte("uno"), []byte("two")}, vals)

			require.NoError(t, kv.Delete(ctx, "a/1"))
			_, err = kv.Get(ctx, "a/1")
			assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
		})
	}
}
