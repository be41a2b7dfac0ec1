package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/credential"
	"github.com/roach88/remsync/internal/engine"
	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/reminder"
	"github.com/roach88/remsync/internal/remote"
	"github.com/roach88/remsync/internal/store"
	"github.com/roach88/remsync/internal/testutil"
	"github.com/roach88/remsync/internal/transport"
)

const (
	// AppURL is the application URL used for notification links.
	AppURL = "https://app.test"

	stepTimeout       = 10 * time.Second
	missingCredWait   = 20 * time.Millisecond
	missingCredPoll   = 5 * time.Millisecond
	defaultAttempts   = 3
	reminderDescrText = "Automated creation"
)

// Harness holds one scenario's running system.
type Harness struct {
	scenario *Scenario
	fake     *testutil.FakeRemote
	clock    *testutil.ManualClock
	sink     *testutil.RecordingSink
	journal  *store.Store
	engine   *engine.Engine
	jobs     map[string]remote.Job
	logger   *zap.SugaredLogger
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes engine and transport logs to l. Logs are discarded
// by default.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario in a fresh system and evaluates its
// expectations. An error means the scenario could not be executed; a
// failed expectation is reported through Result.Pass.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		jobs:     make(map[string]remote.Job),
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.setup(); err != nil {
		return nil, err
	}
	defer h.journal.Close()
	defer h.fake.Close()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	result := NewResult(scenario.Name)
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, errors.Wrapf(err, "step %d (%s)", i, step.Kind())
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateExpectations(result, scenario.Expect) {
		result.AddError(msg)
	}
	return result, nil
}

// RunDir runs every scenario in dir.
func RunDir(ctx context.Context, dir string, opts ...Option) ([]*Result, error) {
	scenarios, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	results := make([]*Result, 0, len(scenarios))
	for _, s := range scenarios {
		r, err := Run(ctx, s, opts...)
		if err != nil {
			return results, errors.Wrapf(err, "scenario %s", s.Name)
		}
		results = append(results, r)
	}
	return results, nil
}

func (h *Harness) setup() error {
	s := h.scenario
	now := DefaultNow
	if s.Now != "" {
		parsed, err := time.Parse(time.RFC3339, s.Now)
		if err != nil {
			return errors.Wrapf(err, "now %q", s.Now)
		}
		now = parsed
	}

	h.fake = testutil.NewFakeRemote()
	for _, j := range s.Jobs {
		job := remote.Job{
			ID:             j.ID,
			JobNumber:      j.Number,
			CustomerID:     j.Customer,
			SiteID:         j.Site,
			ServiceDueDate: j.Due,
		}
		h.jobs[j.ID] = job
		h.fake.AddJob(job)
	}
	for _, r := range s.Reminders {
		job := h.jobs[r.Job]
		h.fake.AddReminder(remote.Reminder{
			ID:                    r.ID,
			SourceJobID:           r.Job,
			CustomerID:            job.CustomerID,
			SiteID:                job.SiteID,
			DueDate:               r.Due,
			Description:           reminderDescrText,
			Status:                1,
			ServiceReminderNumber: r.Number,
			ReminderEmailSendMode: remote.EmailSendManual,
		})
	}

	lookups := []credential.Lookup{credential.Static("scenario-token")}
	credOpts := []credential.Option{credential.WithLogger(h.logger)}
	if s.Credential == CredentialMissing {
		lookups = nil
		credOpts = append(credOpts, credential.WithMaxWait(missingCredWait), credential.WithInterval(missingCredPoll))
	}
	creds := credential.NewSource(lookups, credOpts...)

	attempts := s.Attempts
	if attempts == 0 {
		attempts = defaultAttempts
	}
	client := transport.New(h.fake.URL(),
		transport.WithRetry(attempts, 0),
		transport.WithLogger(h.logger),
	)

	h.clock = testutil.NewManualClock(now)
	repo := reminder.New(client, creds, reminder.Settings{Description: reminderDescrText},
		reminder.WithClock(h.clock.Now),
		reminder.WithIDGenerator(testutil.NewSequentialIDs("reminder").Generate),
		reminder.WithLogger(h.logger),
	)

	journal, err := store.Open(store.MemoryPath)
	if err != nil {
		h.fake.Close()
		return errors.Wrap(err, "open journal")
	}
	h.journal = journal

	h.sink = testutil.NewRecordingSink()
	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithSettle(0),
		engine.WithLocation(time.UTC),
		engine.WithJournal(journal),
		engine.WithCycleIDs(testutil.NewSequentialIDs("cycle")),
		engine.WithAppURL(AppURL),
		engine.WithLogger(h.logger),
	}
	if s.Debounce > 0 {
		opts = append(opts, engine.WithDebounce(s.Debounce))
	}
	h.engine = engine.New(repo, h.sink, opts...)
	return nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) error {
	if err := h.idle(ctx); err != nil {
		return err
	}

	switch {
	case step.Observe != "":
		job := h.jobs[step.Observe]
		h.engine.JobObserved(job)
		result.addTrace(i, "observe", fmt.Sprintf("%s due %q", job.JobNumber, job.DueValue()))

	case step.Save != nil:
		job := h.jobs[step.Save.Job]
		value := step.Save.Value
		job.ServiceDueDate = &value
		h.jobs[job.ID] = job
		h.fake.AddJob(job)
		h.engine.FieldChanged(remote.FieldChange{JobID: job.ID, JobNumber: job.JobNumber, Value: value})
		result.addTrace(i, "save", fmt.Sprintf("%s = %q", job.JobNumber, value))

	case step.Advance != 0:
		h.clock.Advance(step.Advance)
		result.addTrace(i, "advance", step.Advance.String())

	case step.Navigate != "":
		h.engine.Navigated(step.Navigate)
		result.addTrace(i, "navigate", step.Navigate)

	case step.Leave != "":
		h.engine.Left(step.Leave)
		result.addTrace(i, "leave", step.Leave)

	case step.Reconcile != "":
		cctx, cancel := context.WithTimeout(ctx, stepTimeout)
		rep, err := h.engine.ReconcileNow(cctx, step.Reconcile)
		cancel()
		detail := rep.Summary()
		if err != nil {
			detail = "failed: " + detail
		}
		result.addTrace(i, "reconcile", detail)

	case step.Fail != nil:
		h.fake.FailNext(step.Fail.Kind, step.Fail.Statuses...)
		result.addTrace(i, "fail", fmt.Sprintf("%s %v", step.Fail.Kind, step.Fail.Statuses))
	}

	return h.idle(ctx)
}

func (h *Harness) idle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := h.engine.Idle(ctx); err != nil {
		return errors.Wrap(err, "engine did not go idle")
	}
	return nil
}

func (h *Harness) collect(ctx context.Context, result *Result) error {
	for _, c := range h.fake.Calls() {
		result.Attempts[c.Kind]++
		if !c.Failed {
			result.Calls = append(result.Calls, c.Kind)
		}
	}

	result.Reminders = h.fake.Reminders()
	sort.Slice(result.Reminders, func(i, j int) bool {
		return result.Reminders[i].SourceJobID < result.Reminders[j].SourceJobID
	})

	for id := range h.jobs {
		kinds := h.sink.Kinds(id)
		if len(kinds) == 0 {
			continue
		}
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		result.Statuses[id] = names
	}
	result.Notifications = h.sink.Notifications()

	cycles, err := h.journal.ReadCycles(ctx, "", 0)
	if err != nil {
		return errors.Wrap(err, "read journal")
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].Seq < cycles[j].Seq })
	result.Cycles = cycles
	return nil
}
