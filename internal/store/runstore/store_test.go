package runstore

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	run, err := s.CreateRun(ctx, Run{Symbol: "600519.SH", Seed: 42, Chains: 1, MaxIterations: 80, Config: json.RawMessage(`{"mode":"fast"}`)})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusPending, run.Status)

	require.NoError(t, s.SetStatus(ctx, run.ID, RunStatusRunning, ""))
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Nil(t, got.BestReturn)
	assert.JSONEq(t, `{"mode":"fast"}`, string(got.Config))

	require.NoError(t, s.Finish(ctx, run.ID, Outcome{
		Status:     RunStatusDone,
		Iterations: 80,
		Found:      true,
		BestStart:  120,
		BestLength: 640,
		BestReturn: 12.5,
		FirstDate:  "20100104",
		LastDate:   "20120820",
		Report:     map[string]float64{"accuracy": 0.61},
	}))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
	require.NotNil(t, got.BestStart)
	assert.Equal(t, 120, *got.BestStart)
	assert.Equal(t, 640, *got.BestLength)
	assert.Equal(t, 12.5, *got.BestReturn)
	assert.Equal(t, "20120820", got.LastDate)
	assert.NotNil(t, got.FinishedAt)
	assert.JSONEq(t, `{"accuracy":0.61}`, string(got.Report))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStore_UnknownRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, "missing", RunStatusFailed, "x"), ErrNotFound)
	assert.ErrorIs(t, s.Finish(ctx, "missing", Outcome{Status: RunStatusDone}), ErrNotFound)
}

func TestStore_IterationsKeepInfiniteAsNull(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	run, err := s.CreateRun(ctx, Run{Symbol: "X"})
	require.NoError(t, err)

	iters := []Iteration{
		{Iter: 2, Start: 5, Length: 500, Return: Float(math.Inf(-1)), Insufficient: true, BestReturn: Float(1), Temperature: 99},
		{Iter: 1, Start: 4, Length: 510, Return: Float(1), Accepted: true, BestReturn: Float(1), Temperature: 99.5},
	}
	require.NoError(t, s.AppendIterations(ctx, run.ID, iters))

	got, err := s.ListIterations(ctx, run.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Iter)
	assert.Equal(t, 1.0, *got[0].Return)
	assert.Nil(t, got[1].Return)
	assert.True(t, got[1].Insufficient)

	page, err := s.ListIterations(ctx, run.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 2, page[0].Iter)
}

func TestStore_SaveLedgerReplaces(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	run, err := s.CreateRun(ctx, Run{Symbol: "X"})
	require.NoError(t, err)

	rows := []LedgerRow{
		{Idx: 0, Date: "20220622", Price: "100", Signal: 1, Traded: 3300, Cash: "670000", Position: 3300, TotalValue: "1000000"},
		{Idx: 1, Date: "20220623", Price: "200", Signal: 0, Cash: "670000", Position: 3300, TotalValue: "1330000"},
	}
	require.NoError(t, s.SaveLedger(ctx, run.ID, rows))
	require.NoError(t, s.SaveLedger(ctx, run.ID, rows[:1]))

	got, err := s.ListLedger(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, rows[:1], got)
}
