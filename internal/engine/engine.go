package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/clock"
	"github.com/roach88/remsync/internal/logger"
	"github.com/roach88/remsync/internal/remote"
	"github.com/roach88/remsync/internal/status"
	"github.com/roach88/remsync/internal/store"
)

// Defaults for the engine's timers.
const (
	DefaultDebounce     = time.Second
	DefaultSettle       = 500 * time.Millisecond
	DefaultJobFetchWait = 3 * time.Second
	DefaultCycleTimeout = 60 * time.Second
)

// Repository is the reminder API the engine drives.
// *reminder.Repository implements it.
type Repository interface {
	Search(ctx context.Context, jobNumber, jobID string) (*remote.Reminder, error)
	Create(ctx context.Context, job remote.Job, due time.Time) (remote.Reminder, error)
	Update(ctx context.Context, existing remote.Reminder, due time.Time) (remote.Reminder, error)
	Delete(ctx context.Context, existing remote.Reminder) error
	FetchJob(ctx context.Context, jobID string) (remote.Job, error)
}

// Journal records cycles and observations. *store.Store implements it.
type Journal interface {
	WriteCycle(ctx context.Context, c store.Cycle) error
	WriteObservation(ctx context.Context, o store.Observation) error
}

// CycleIDGenerator generates unique cycle IDs.
// Implemented by UUIDv7Generator; tests use testutil.SequentialIDs.
type CycleIDGenerator interface {
	Generate() string
}

// Engine is the single-writer reconciliation loop.
//
// All per-job state is mutated in the Run goroutine. Remote work runs in
// separate goroutines that post their results back as events; they read
// job state only through the lock-protected job contexts, after every
// suspension point.
//
// Thread-safety model:
//   - JobObserved, FieldChanged, Navigated, Left: safe from any goroutine
//   - Snapshot, Snapshots, Idle: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	repo    Repository
	sink    status.Sink
	journal Journal
	ids     CycleIDGenerator
	clk     clock.Clock
	seq     *clock.Logical
	logger  *zap.SugaredLogger

	debounce     time.Duration
	settle       time.Duration
	jobFetchWait time.Duration
	cycleTimeout time.Duration
	layouts      []string
	loc          *time.Location
	appURL       string

	queue    *eventQueue
	inflight atomic.Int64
	runCtx   context.Context

	mu   sync.RWMutex
	jobs map[string]*jobContext
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock driving debounce, settle and fetch timers.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithDebounce sets the quiet period after the last field change.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.debounce = d }
}

// WithSettle sets the pause between a cycle's search and its decision.
func WithSettle(d time.Duration) Option {
	return func(e *Engine) { e.settle = d }
}

// WithJobFetchWait sets how long after Navigated the engine waits for the
// host application's own job fetch before fetching the job itself.
func WithJobFetchWait(d time.Duration) Option {
	return func(e *Engine) { e.jobFetchWait = d }
}

// WithCycleTimeout bounds a whole cycle.
func WithCycleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.cycleTimeout = d }
}

// WithDateLayouts sets the accepted due date layouts.
func WithDateLayouts(layouts []string) Option {
	return func(e *Engine) { e.layouts = layouts }
}

// WithLocation sets the zone in which "today" and due dates are evaluated.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithJournal records cycles and observations.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithCycleIDs sets the cycle ID generator.
func WithCycleIDs(g CycleIDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithAppURL sets the base for reminder deep links in notifications.
func WithAppURL(u string) Option {
	return func(e *Engine) { e.appURL = u }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. Call Run to start processing.
func New(repo Repository, sink status.Sink, opts ...Option) *Engine {
	e := &Engine{
		repo:         repo,
		sink:         sink,
		ids:          UUIDv7Generator{},
		clk:          clock.Real{},
		seq:          clock.NewLogical(),
		debounce:     DefaultDebounce,
		settle:       DefaultSettle,
		jobFetchWait: DefaultJobFetchWait,
		cycleTimeout: DefaultCycleTimeout,
		layouts:      DefaultDateLayouts,
		loc:          time.Local,
		queue:        newEventQueue(),
		runCtx:       context.Background(),
		jobs:         make(map[string]*jobContext),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = status.Discard{}
	}
	if e.logger == nil {
		e.logger = logger.Named(nil, "engine")
	}
	return e
}

// JobObserved reports a job snapshot seen in traffic.
func (e *Engine) JobObserved(job remote.Job) {
	j := job
	e.queue.Enqueue(Event{Type: EventJobObserved, JobID: job.ID, Job: &j})
}

// FieldChanged reports a successful save of a job's triggering field.
// A change without a job ID is dropped.
func (e *Engine) FieldChanged(change remote.FieldChange) {
	if change.JobID == "" {
		e.logger.Warnw("dropping field change without a job ID", "job", change.JobNumber, "value", change.Value)
		return
	}
	e.queue.Enqueue(Event{Type: EventFieldChanged, JobID: change.JobID, Value: change.Value})
}

// Navigated reports that jobID is now on screen.
func (e *Engine) Navigated(jobID string) {
	e.queue.Enqueue(Event{Type: EventNavigated, JobID: jobID})
}

// Left reports navigation away from jobID. Results of work already in
// flight for it are journaled but no longer reported to the sinks.
func (e *Engine) Left(jobID string) {
	e.queue.Enqueue(Event{Type: EventLeft, JobID: jobID})
}

// QueueLen returns the number of events waiting.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// A failing event is logged and processing continues; nothing an event
// does is fatal to the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	e.logger.Infow("engine starting",
		"debounce", e.debounce, "settle", e.settle, "cycle_timeout", e.cycleTimeout, "location", e.loc.String())
	defer e.stopTimers()

	for {
		if event, ok := e.queue.TryDequeue(); ok {
			e.dispatch(event)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Infow("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue, so this also fires
			// on Stop.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Infow("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue, which causes Run to return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Idle blocks until the queue is drained and no remote work is in flight.
// Work waiting on a timer that has not fired does not count as in flight,
// so tests driving a manual clock can call Idle between advances.
func (e *Engine) Idle(ctx context.Context) error {
	for {
		done := make(chan struct{})
		if !e.queue.Enqueue(Event{Type: eventBarrier, done: done}) {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if e.inflight.Load() == 0 && e.queue.Len() == 0 {
			return nil
		}
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch routes one event. Panics are recovered and logged.
// Called only from the Run goroutine.
func (e *Engine) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("event handler panicked", "event", ev.Type.String(), "job_id", ev.JobID, "panic", r)
		}
	}()

	switch ev.Type {
	case EventJobObserved:
		e.onJobObserved(ev)
	case EventFieldChanged:
		e.onFieldChanged(ev)
	case EventNavigated:
		e.onNavigated(ev)
	case EventLeft:
		e.onLeft(ev)
	case eventDebounceElapsed:
		e.onDebounceElapsed(ev)
	case eventFetchDue:
		e.onFetchDue(ev)
	case eventCheckDone:
		e.onCheckDone(ev)
	case eventCycleDone:
		e.onCycleDone(ev)
	case eventBarrier:
		close(ev.done)
	default:
		e.logger.Warnw("unknown event type", "type", int(ev.Type))
	}
}

// spawn runs fn in a goroutine counted by Idle. fn's result must be
// enqueued before it returns.
func (e *Engine) spawn(fn func()) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Add(-1)
		fn()
	}()
}

// Snapshot returns the state of jobID's context.
func (e *Engine) Snapshot(jobID string) (JobState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	jc, ok := e.jobs[jobID]
	if !ok {
		return JobState{}, false
	}
	return jc.state(), true
}

// Snapshots returns every job context's state, ordered by job ID.
func (e *Engine) Snapshots() []JobState {
	e.mu.RLock()
	out := make([]JobState, 0, len(e.jobs))
	for _, jc := range e.jobs {
		out = append(out, jc.state())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

func (e *Engine) stopTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, jc := range e.jobs {
		jc.stopDebounce()
		jc.stopFetch()
	}
}

func (e *Engine) now() time.Time {
	return e.clk.Now().In(e.loc)
}

func (e *Engine) observe(jobID, kind, jobNumber, value string) {
	if e.journal == nil {
		return
	}
	o := store.Observation{Seq: e.seq.Next(), JobID: jobID, Kind: kind, JobNumber: jobNumber, Value: value, At: e.clk.Now()}
	if err := e.journal.WriteObservation(e.runCtx, o); err != nil {
		e.logger.Warnw("journal write failed", "kind", kind, "job_id", jobID, "error", err)
	}
}
