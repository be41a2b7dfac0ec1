package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestOpen_Memory(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_FileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestWriteCycle_RoundTrip(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	c := Cycle{
		ID: "c-1", Seq: 1, JobID: "job-1", JobNumber: "J-100",
		Trigger: "field_changed", Value: "2025-12-25",
		Action: "create", Outcome: "ok",
		ReminderID: "r-1", ReminderNumber: "SR-1001", DueDate: "2025/12/25 00:00:00",
		StartedAt: t0, FinishedAt: t0.Add(700 * time.Millisecond),
	}
	require.NoError(t, s.WriteCycle(ctx, c))
	require.NoError(t, s.WriteCycle(ctx, c), "duplicate id is ignored")

	got, err := s.ReadCycles(ctx, "job-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c, got[0])
}

func TestReadCycles_NewestFirstAndFiltered(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	for i, job := range []string{"job-1", "job-2", "job-1", "job-1"} {
		require.NoError(t, s.WriteCycle(ctx, Cycle{
			ID: string(rune('a' + i)), Seq: int64(i + 1), JobID: job,
			Trigger: "field_changed", Outcome: "ok", StartedAt: t0, FinishedAt: t0,
		}))
	}

	all, err := s.ReadCycles(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	mine, err := s.ReadCycles(ctx, "job-1", 2)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, int64(4), mine[0].Seq)
	assert.Equal(t, int64(3), mine[1].Seq)

	none, err := s.ReadCycles(ctx, "job-9", 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestCountCycles(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	outcomes := []string{"ok", "error", "ok", "suppressed"}
	for i, o := range outcomes {
		require.NoError(t, s.WriteCycle(ctx, Cycle{
			ID: string(rune('a' + i)), Seq: int64(i + 1), JobID: "job-1",
			Trigger: "job_observed", Outcome: o, StartedAt: t0, FinishedAt: t0,
		}))
	}

	counts, err := s.CountCycles(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ok": 2, "error": 1, "suppressed": 1}, counts)
}

func TestObservations(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.WriteObservation(ctx, Observation{Seq: 1, JobID: "job-1", Kind: ObservedJob, JobNumber: "J-100", At: t0}))
	require.NoError(t, s.WriteObservation(ctx, Observation{Seq: 2, JobID: "job-1", Kind: ObservedField, Value: "2025-12-25", At: t0}))
	require.NoError(t, s.WriteObservation(ctx, Observation{Seq: 3, JobID: "job-2", Kind: ObservedNavigated, At: t0}))
	require.Error(t, s.WriteObservation(ctx, Observation{Seq: 3, JobID: "job-2", Kind: ObservedLeft, At: t0}))

	got, err := s.ReadObservations(ctx, "job-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ObservedJob, got[0].Kind)
	assert.Equal(t, "2025-12-25", got[1].Value)
	assert.True(t, got[1].At.Equal(t0))
}
