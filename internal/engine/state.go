package engine

import (
	"github.com/roach88/remsync/internal/clock"
	"github.com/roach88/remsync/internal/remote"
	"github.com/roach88/remsync/internal/status"
)

// Phase is where a job context is in its lifecycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseChecking    Phase = "checking"
	PhaseReconciling Phase = "reconciling"
)

// jobContext is the engine's state for one job. Fields are written only
// by the Run goroutine, under Engine.mu.
type jobContext struct {
	id string

	// job is the latest snapshot, replaced wholesale.
	job *remote.Job
	// pending is the reminder the last successful search or cycle left.
	pending *remote.Reminder
	known   bool

	value    string
	hasValue bool

	debounce    clock.Timer
	debounceSeq uint64
	fetch       clock.Timer

	phase    Phase
	checking bool
	running  bool
	rerun    bool
	// started counts cycles started; a check that saw fewer is stale.
	started uint64

	// gen is bumped on Left; results from an older gen are not reported.
	gen    uint64
	active bool

	last   status.Status
	cycles int
}

func (jc *jobContext) stopDebounce() {
	if jc.debounce != nil {
		jc.debounce.Stop()
		jc.debounce = nil
	}
}

func (jc *jobContext) stopFetch() {
	if jc.fetch != nil {
		jc.fetch.Stop()
		jc.fetch = nil
	}
}

// JobState is a read-only view of a job context.
type JobState struct {
	JobID           string           `json:"jobId"`
	JobNumber       string           `json:"jobNumber,omitempty"`
	Phase           Phase            `json:"phase"`
	Value           string           `json:"value,omitempty"`
	HasValue        bool             `json:"hasValue"`
	Reminder        *remote.Reminder `json:"reminder,omitempty"`
	ReminderKnown   bool             `json:"reminderKnown"`
	Active          bool             `json:"active"`
	Generation      uint64           `json:"generation"`
	DebouncePending bool             `json:"debouncePending"`
	Running         bool             `json:"running"`
	Status          status.Status    `json:"status"`
	Cycles          int              `json:"cycles"`
}

func (jc *jobContext) state() JobState {
	s := JobState{
		JobID:           jc.id,
		Phase:           jc.phase,
		Value:           jc.value,
		HasValue:        jc.hasValue,
		ReminderKnown:   jc.known,
		Active:          jc.active,
		Generation:      jc.gen,
		DebouncePending: jc.debounce != nil,
		Running:         jc.running,
		Status:          jc.last,
		Cycles:          jc.cycles,
	}
	if jc.job != nil {
		s.JobNumber = jc.job.JobNumber
	}
	if jc.pending != nil {
		r := *jc.pending
		s.Reminder = &r
	}
	return s
}

// liveState is what a running cycle re-reads after each suspension.
type liveState struct {
	job      *remote.Job
	value    string
	hasValue bool
}

// contextLocked returns jobID's context, creating it. Caller holds e.mu.
func (e *Engine) contextLocked(jobID string) *jobContext {
	jc, ok := e.jobs[jobID]
	if !ok {
		jc = &jobContext{id: jobID, phase: PhaseIdle}
		e.jobs[jobID] = jc
	}
	return jc
}

// readLive returns a reader of jobID's current cached job and value.
func (e *Engine) readLive(jobID string) func() liveState {
	return func() liveState {
		e.mu.RLock()
		defer e.mu.RUnlock()
		jc, ok := e.jobs[jobID]
		if !ok {
			return liveState{}
		}
		ls := liveState{value: jc.value, hasValue: jc.hasValue}
		if jc.job != nil {
			j := *jc.job
			ls.job = &j
		}
		return ls
	}
}
