package engine

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/credential"
	"github.com/roach88/remsync/internal/reminder"
	"github.com/roach88/remsync/internal/remote"
	"github.com/roach88/remsync/internal/status"
	"github.com/roach88/remsync/internal/store"
	"github.com/roach88/remsync/internal/testutil"
	"github.com/roach88/remsync/internal/transport"
)

var (
	start = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	job1  = remote.Job{ID: "job-1", JobNumber: "J-100", CustomerID: "cust-1"}
)

type fixture struct {
	t       *testing.T
	fake    *testutil.FakeRemote
	clk     *testutil.ManualClock
	sink    *testutil.RecordingSink
	journal *store.Store
	eng     *Engine
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	creds  credential.Acquirer
	settle time.Duration
	wrap   func(Repository) Repository
}

func withRepo(wrap func(Repository) Repository) fixtureOption {
	return func(fc *fixtureConfig) { fc.wrap = wrap }
}

func withCreds(c credential.Acquirer) fixtureOption {
	return func(fc *fixtureConfig) { fc.creds = c }
}

func withSettle(d time.Duration) fixtureOption {
	return func(fc *fixtureConfig) { fc.settle = d }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	fc := fixtureConfig{
		creds: credential.NewSource([]credential.Lookup{credential.Static("tok")}),
	}
	for _, opt := range opts {
		opt(&fc)
	}

	nop := zap.NewNop().Sugar()
	fake := testutil.NewFakeRemote()
	clk := testutil.NewManualClock(start)
	client := transport.New(fake.URL(), transport.WithRetry(3, 0), transport.WithLogger(nop))
	repo := reminder.New(client, fc.creds, reminder.Settings{Description: "Automated creation"},
		reminder.WithClock(clk.Now),
		reminder.WithIDGenerator(testutil.NewSequentialIDs("rem").Generate),
		reminder.WithLogger(nop),
	)
	journal, err := store.Open(store.MemoryPath)
	require.NoError(t, err)

	var r Repository = repo
	if fc.wrap != nil {
		r = fc.wrap(repo)
	}

	sink := testutil.NewRecordingSink()
	eng := New(r, sink,
		WithClock(clk),
		WithSettle(fc.settle),
		WithLocation(time.UTC),
		WithJournal(journal),
		WithCycleIDs(testutil.NewSequentialIDs("cycle")),
		WithAppURL("https://go.tradifyhq.com"),
		WithLogger(nop),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		journal.Close()
		fake.Close()
	})

	return &fixture{t: t, fake: fake, clk: clk, sink: sink, journal: journal, eng: eng}
}

func (f *fixture) idle() {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(f.t, f.eng.Idle(ctx))
}

func (f *fixture) advance(d time.Duration) {
	f.t.Helper()
	f.idle()
	f.clk.Advance(d)
	f.idle()
}

// save reports a field save and lets the debounce elapse.
func (f *fixture) save(jobID, value string) {
	f.t.Helper()
	f.eng.FieldChanged(remote.FieldChange{JobID: jobID, Value: value})
	f.advance(DefaultDebounce)
}

func (f *fixture) observe(job remote.Job) {
	f.t.Helper()
	f.eng.JobObserved(job)
	f.idle()
}

func (f *fixture) cycles(jobID string) []store.Cycle {
	f.t.Helper()
	cycles, err := f.journal.ReadCycles(context.Background(), jobID, 0)
	require.NoError(f.t, err)
	return cycles
}

func TestEngine_JobObservedChecks(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	existing := f.fake.AddReminder(remote.Reminder{ID: "r-1", SourceJobID: "job-1", DueDate: "2025/12/25 00:00:00"})

	f.observe(job1)

	assert.Equal(t, []string{testutil.CallSearch}, f.fake.Kinds())
	assert.Equal(t, []status.Kind{status.KindChecking, status.KindHasReminder}, f.sink.Kinds("job-1"))

	snap, ok := f.eng.Snapshot("job-1")
	require.True(t, ok)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, "J-100", snap.JobNumber)
	require.NotNil(t, snap.Reminder)
	assert.Equal(t, existing.ServiceReminderNumber, snap.Reminder.ServiceReminderNumber)
}

func TestEngine_CreatesWhenNoReminder(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	f.observe(job1)

	f.save("job-1", "2025-12-25")

	assert.Equal(t, []string{testutil.CallSearch, testutil.CallSearch, testutil.CallCreate}, f.fake.Kinds())
	reminders := f.fake.RemindersForJob("job-1")
	require.Len(t, reminders, 1)
	assert.Equal(t, "2025/12/25 00:00:00", reminders[0].DueDate)
	assert.Equal(t, "cust-1", reminders[0].CustomerID)

	assert.Equal(t,
		[]status.Kind{status.KindChecking, status.KindNoReminder, status.KindChecking, status.KindHasReminder},
		f.sink.Kinds("job-1"))

	notes := f.sink.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, status.LevelSuccess, notes[0].Level)
	assert.Equal(t, "Service reminder created", notes[0].Title)
	assert.Equal(t, "https://go.tradifyhq.com/#/servicereminder/rem-1", notes[0].Link)

	cycles := f.cycles("job-1")
	require.Len(t, cycles, 2)
	assert.Equal(t, "create", cycles[0].Action)
	assert.Equal(t, "ok", cycles[0].Outcome)
	assert.Equal(t, "check", cycles[1].Action)
}

func TestEngine_DeletesWhenCleared(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	r1 := f.fake.AddReminder(remote.Reminder{ID: "r-1", SourceJobID: "job-1", DueDate: "2025/12/25 00:00:00"})
	f.observe(job1)

	f.save("job-1", "")

	calls := f.fake.Calls()
	require.Equal(t, testutil.CallDelete, calls[len(calls)-1].Kind)
	assert.Contains(t, string(calls[len(calls)-1].Body), r1.ID)
	assert.Empty(t, f.fake.RemindersForJob("job-1"))

	last, ok := f.sink.Last("job-1")
	require.True(t, ok)
	assert.Equal(t, status.KindNoReminder, last.Kind)

	snap, _ := f.eng.Snapshot("job-1")
	assert.Nil(t, snap.Reminder)
	assert.True(t, snap.ReminderKnown)
}

func TestEngine_ClearedWithoutReminderIsNoop(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	f.observe(job1)

	f.save("job-1", "   ")

	assert.Equal(t, []string{testutil.CallSearch, testutil.CallSearch}, f.fake.Kinds())
	notes := f.sink.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "Service due date cleared", notes[0].Title)
}

func TestEngine_FieldChangeWithoutJobIDDropped(t *testing.T) {
	f := newFixture(t)

	f.eng.FieldChanged(remote.FieldChange{JobNumber: "J-100", Value: "2025-12-25"})
	assert.Zero(t, f.eng.QueueLen())
	f.advance(DefaultDebounce)

	_, ok := f.eng.Snapshot("")
	assert.False(t, ok)
	assert.Empty(t, f.eng.Snapshots())
	assert.Empty(t, f.fake.Calls())
}

func TestEngine_DebounceCoalescesBursts(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	f.observe(job1)

	for _, v := range []string{"2025-12-01", "2025-12-02", "2025-12-03"} {
		f.eng.FieldChanged(remote.FieldChange{JobID: "job-1", Value: v})
		f.advance(300 * time.Millisecond)
	}
	assert.Equal(t, 0, f.fake.Hits(testutil.CallCreate))

	f.advance(DefaultDebounce)

	assert.Equal(t, 1, f.fake.Hits(testutil.CallCreate))
	reminders := f.fake.RemindersForJob("job-1")
	require.Len(t, reminders, 1)
	assert.Equal(t, "2025/12/03 00:00:00", reminders[0].DueDate)

	snap, _ := f.eng.Snapshot("job-1")
	assert.Equal(t, 1, snap.Cycles)
	assert.False(t, snap.DebouncePending)
}

func TestEngine_SameValueTwiceUpdatesInPlace(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	f.observe(job1)

	f.save("job-1", "2025-12-25")
	f.save("job-1", "2025-12-25")

	assert.Equal(t, 1, f.fake.Hits(testutil.CallCreate))
	assert.Equal(t, 1, f.fake.Hits(testutil.CallUpdate))
	reminders := f.fake.RemindersForJob("job-1")
	require.Len(t, reminders, 1)
	assert.Equal(t, "2025/12/25 00:00:00", reminders[0].DueDate)
}

func TestEngine_TodayAcceptedYesterdayRejected(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	job2 := remote.Job{ID: "job-2", JobNumber: "J-200"}
	f.fake.AddJob(job2)
	f.observe(job1)
	f.observe(job2)

	f.save("job-1", "2025-06-01T23:59:00")
	f.save("job-2", "2025-05-31")

	require.Len(t, f.fake.RemindersForJob("job-1"), 1)
	assert.Equal(t, "2025/06/01 00:00:00", f.fake.RemindersForJob("job-1")[0].DueDate)
	assert.Empty(t, f.fake.RemindersForJob("job-2"))

	cycles := f.cycles("job-2")
	require.NotEmpty(t, cycles)
	assert.Equal(t, "invalid", cycles[0].Outcome)
	assert.Equal(t, string(InPast), cycles[0].Validation)
	assert.Equal(t, string(ErrCodeValidation), cycles[0].ErrorCode)

	last, _ := f.sink.Last("job-2")
	assert.Equal(t, status.KindNoReminder, last.Kind)
}

func TestEngine_InvalidValueDeletesExisting(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	f.fake.AddReminder(remote.Reminder{ID: "r-1", SourceJobID: "job-1", DueDate: "2025/12/25 00:00:00"})
	f.observe(job1)

	f.save("job-1", "next tuesday")

	assert.Empty(t, f.fake.RemindersForJob("job-1"))
	notes := f.sink.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, status.LevelWarning, notes[0].Level)
	assert.Contains(t, notes[0].Message, "is not a date")
}

func TestEngine_TransportFlakeWithinBudget(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	f.observe(job1)
	f.fake.FailNext(testutil.CallCreate, http.StatusBadGateway, http.StatusServiceUnavailable)

	f.save("job-1", "2025-12-25")

	assert.Equal(t, 3, f.fake.Hits(testutil.CallCreate))
	assert.Len(t, f.fake.RemindersForJob("job-1"), 1)
	last, _ := f.sink.Last("job-1")
	assert.Equal(t, status.KindHasReminder, last.Kind)
}

func TestEngine_TransportExhaustedReported(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	f.observe(job1)
	f.fake.FailNext(testutil.CallCreate, 500, 500, 500)

	f.save("job-1", "2025-12-25")

	last, _ := f.sink.Last("job-1")
	assert.Equal(t, status.KindError, last.Kind)
	cycles := f.cycles("job-1")
	assert.Equal(t, string(ErrCodeTransportExhausted), cycles[0].ErrorCode)

	// The engine is ready for the next trigger.
	f.save("job-1", "2025-12-25")
	assert.Len(t, f.fake.RemindersForJob("job-1"), 1)
}

func TestEngine_CredentialUnavailable(t *testing.T) {
	never := credential.NewSource([]credential.Lookup{credential.NewCaptured()},
		credential.WithInterval(time.Millisecond),
		credential.WithMaxWait(20*time.Millisecond),
		credential.WithLogger(zap.NewNop().Sugar()),
	)
	f := newFixture(t, withCreds(never))
	f.fake.AddJob(job1)

	f.save("job-1", "2025-12-25")

	assert.Empty(t, f.fake.Calls())
	last, _ := f.sink.Last("job-1")
	assert.Equal(t, status.KindError, last.Kind)
	cycles := f.cycles("job-1")
	require.Len(t, cycles, 1)
	assert.Equal(t, string(ErrCodeCredentialUnavailable), cycles[0].ErrorCode)
}

func TestEngine_UnobservedJobIsFetched(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)

	f.save("job-1", "2025-12-25")

	assert.Equal(t, []string{testutil.CallFetchJob, testutil.CallSearch, testutil.CallCreate}, f.fake.Kinds())
	snap, _ := f.eng.Snapshot("job-1")
	assert.Equal(t, "J-100", snap.JobNumber)
}

func TestEngine_NavigatedFetchesAfterWait(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)

	f.eng.Navigated("job-1")
	f.advance(DefaultJobFetchWait - time.Millisecond)
	assert.Empty(t, f.fake.Calls())

	f.advance(time.Millisecond)
	assert.Equal(t, []string{testutil.CallFetchJob, testutil.CallSearch}, f.fake.Kinds())

	snap, _ := f.eng.Snapshot("job-1")
	assert.True(t, snap.Active)
	assert.Equal(t, "J-100", snap.JobNumber)
}

func TestEngine_NavigatedNoFetchWhenObserved(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)

	f.eng.Navigated("job-1")
	f.observe(job1)
	f.advance(DefaultJobFetchWait)

	assert.Equal(t, 0, f.fake.Hits(testutil.CallFetchJob))
	assert.Equal(t, 1, f.fake.Hits(testutil.CallSearch))
}

func TestEngine_LeftSuppressesInFlightResult(t *testing.T) {
	f := newFixture(t, withSettle(DefaultSettle))
	f.fake.AddJob(job1)
	f.eng.JobObserved(job1)

	f.eng.FieldChanged(remote.FieldChange{JobID: "job-1", Value: "2025-12-25"})
	require.NoError(t, f.eng.Idle(context.Background()))
	f.clk.Advance(DefaultDebounce)

	// The cycle is now parked on its settle timer.
	require.Eventually(t, func() bool { return f.clk.Pending() == 1 }, 5*time.Second, time.Millisecond)
	f.eng.Left("job-1")
	require.Eventually(t, func() bool {
		s, _ := f.eng.Snapshot("job-1")
		return s.Generation == 1
	}, 5*time.Second, time.Millisecond)

	f.clk.Advance(DefaultSettle)
	f.idle()

	// The call completed but nothing was shown.
	assert.Len(t, f.fake.RemindersForJob("job-1"), 1)
	last, _ := f.sink.Last("job-1")
	assert.Equal(t, status.KindChecking, last.Kind)
	assert.Empty(t, f.sink.Notifications())

	cycles := f.cycles("job-1")
	require.NotEmpty(t, cycles)
	assert.True(t, cycles[0].Suppressed)
}

// heldSearch holds the first Search's result until release is closed.
type heldSearch struct {
	Repository
	release chan struct{}
	once    sync.Once
}

func (h *heldSearch) Search(ctx context.Context, jobNumber, jobID string) (*remote.Reminder, error) {
	first := false
	h.once.Do(func() { first = true })
	found, err := h.Repository.Search(ctx, jobNumber, jobID)
	if first {
		select {
		case <-h.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return found, err
}

func TestEngine_LateCheckDoesNotOverwriteCycle(t *testing.T) {
	held := &heldSearch{release: make(chan struct{})}
	f := newFixture(t, withRepo(func(r Repository) Repository {
		held.Repository = r
		return held
	}))
	f.fake.AddJob(job1)

	// The observe check has searched (no reminder yet) and is held.
	f.eng.JobObserved(job1)
	require.Eventually(t, func() bool { return f.fake.Hits(testutil.CallSearch) == 1 }, 5*time.Second, time.Millisecond)
	f.eng.FieldChanged(remote.FieldChange{JobID: "job-1", Value: "2025-12-25"})
	require.Eventually(t, func() bool { return f.clk.Pending() == 1 }, 5*time.Second, time.Millisecond)
	f.clk.Advance(DefaultDebounce)

	require.Eventually(t, func() bool {
		last, ok := f.sink.Last("job-1")
		return ok && last.Kind == status.KindHasReminder
	}, 5*time.Second, time.Millisecond)
	require.Len(t, f.fake.RemindersForJob("job-1"), 1)

	// The check now finishes with its search from before the create.
	close(held.release)
	f.idle()

	last, _ := f.sink.Last("job-1")
	assert.Equal(t, status.KindHasReminder, last.Kind)
	assert.Equal(t, []status.Kind{status.KindChecking, status.KindChecking, status.KindHasReminder}, f.sink.Kinds("job-1"))

	snap, ok := f.eng.Snapshot("job-1")
	require.True(t, ok)
	require.NotNil(t, snap.Reminder)
	assert.Equal(t, "SR-1001", snap.Reminder.ServiceReminderNumber)
	assert.Equal(t, PhaseIdle, snap.Phase)

	var suppressed int
	for _, c := range f.cycles("job-1") {
		if c.Suppressed {
			suppressed++
		}
	}
	assert.Equal(t, 1, suppressed)
}

func TestEngine_ChangeDuringCycleRereadsAndReruns(t *testing.T) {
	f := newFixture(t, withSettle(DefaultSettle))
	f.fake.AddJob(job1)

	f.eng.JobObserved(job1)
	f.eng.FieldChanged(remote.FieldChange{JobID: "job-1", Value: "2025-12-25"})
	require.NoError(t, f.eng.Idle(context.Background()))
	f.clk.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return f.clk.Pending() == 1 }, 5*time.Second, time.Millisecond)

	// A newer value arrives while the first cycle is settling.
	f.eng.FieldChanged(remote.FieldChange{JobID: "job-1", Value: "2026-01-10"})
	require.Eventually(t, func() bool {
		s, _ := f.eng.Snapshot("job-1")
		return s.Value == "2026-01-10" && s.DebouncePending
	}, 5*time.Second, time.Millisecond)

	// Settle ends first; the cycle must act on the value read after it.
	f.clk.Advance(DefaultSettle)
	require.Eventually(t, func() bool { return f.fake.Hits(testutil.CallCreate) == 1 }, 5*time.Second, time.Millisecond)
	require.Equal(t, "2026/01/10 00:00:00", f.fake.RemindersForJob("job-1")[0].DueDate)

	// Then the debounce elapses and a second cycle runs.
	f.clk.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return f.clk.Pending() == 1 }, 5*time.Second, time.Millisecond)
	f.clk.Advance(DefaultSettle)
	f.idle()

	assert.Equal(t, 1, f.fake.Hits(testutil.CallCreate))
	assert.Equal(t, 1, f.fake.Hits(testutil.CallUpdate))
	reminders := f.fake.RemindersForJob("job-1")
	require.Len(t, reminders, 1)
	assert.Equal(t, "2026/01/10 00:00:00", reminders[0].DueDate)
}

func TestEngine_AtMostOneReminderPerJob(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	f.observe(job1)

	for _, v := range []string{"2025-12-25", "", "2026-02-01", "garbage", "2026-03-01", "2026-03-01"} {
		f.save("job-1", v)
		assert.LessOrEqual(t, len(f.fake.RemindersForJob("job-1")), 1, "after %q", v)
	}
	assert.Len(t, f.fake.RemindersForJob("job-1"), 1)
}

func TestEngine_SearchFailureOnObserve(t *testing.T) {
	f := newFixture(t)
	f.fake.AddJob(job1)
	f.fake.Shapeless(testutil.CallSearch)

	f.observe(job1)

	last, _ := f.sink.Last("job-1")
	assert.Equal(t, status.KindError, last.Kind)
	notes := f.sink.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "Error searching for reminder", notes[0].Title)
	assert.Equal(t, string(ErrCodeUnexpectedShape), f.cycles("job-1")[0].ErrorCode)
}

func TestEngine_ReconcileNowUsesJobField(t *testing.T) {
	f := newFixture(t)
	due := "2025-12-25"
	f.fake.AddJob(remote.Job{ID: "job-1", JobNumber: "J-100", ServiceDueDate: &due})

	rep, err := f.eng.ReconcileNow(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, rep.Action)
	assert.Equal(t, TriggerManual, rep.Trigger)
	assert.Equal(t, "job J-100: created SR-1001 due 2025/12/25 00:00:00", rep.Summary())

	rep, err = f.eng.ReconcileNow(context.Background(), "job-404")
	require.Error(t, err)
	assert.NotNil(t, rep.Err)
}

func TestEngine_StopEndsRun(t *testing.T) {
	eng := New(nil, nil, WithLogger(zap.NewNop().Sugar()))
	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	eng.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	require.NoError(t, eng.Idle(context.Background()))
}
