package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/remsync/internal/clock"
	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/remote"
	"github.com/roach88/remsync/internal/status"
	"github.com/roach88/remsync/internal/store"
)

// Triggers recorded on reports.
const (
	TriggerJobObserved  = "job_observed"
	TriggerNavigated    = "navigated"
	TriggerFieldChanged = "field_changed"
	TriggerManual       = "manual"
)

// ActionCheck marks a search-only run started by a job observation.
const ActionCheck Action = "check"

// Report is the outcome of one cycle or check.
type Report struct {
	CycleID    string
	JobID      string
	JobNumber  string
	Trigger    string
	Value      string
	Action     Action
	Validation *ValidationError
	Before     *remote.Reminder
	After      *remote.Reminder
	// Fetched is set when the engine had to load the job itself.
	Fetched    *remote.Job
	Err        *CycleError
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome is the journal's one-word summary.
func (r Report) Outcome() string {
	switch {
	case r.Err != nil:
		return "error"
	case r.Validation != nil:
		return "invalid"
	default:
		return "ok"
	}
}

// Summary is a one-line description for logs and the CLI.
func (r Report) Summary() string {
	job := r.JobNumber
	if job == "" {
		job = r.JobID
	}
	if r.Err != nil {
		return fmt.Sprintf("job %s: %s", job, r.Err.Message)
	}
	switch r.Action {
	case ActionCreate:
		return fmt.Sprintf("job %s: created %s due %s", job, r.After.ServiceReminderNumber, r.After.DueDate)
	case ActionUpdate:
		return fmt.Sprintf("job %s: moved %s from %s to %s", job, r.After.ServiceReminderNumber, r.Before.DueDate, r.After.DueDate)
	case ActionDelete:
		if r.Validation != nil {
			return fmt.Sprintf("job %s: %s; deleted %s", job, r.Validation.Error(), r.Before.ServiceReminderNumber)
		}
		return fmt.Sprintf("job %s: deleted %s", job, r.Before.ServiceReminderNumber)
	case ActionCheck:
		if r.After != nil {
			return fmt.Sprintf("job %s: has %s due %s", job, r.After.ServiceReminderNumber, r.After.DueDate)
		}
		return fmt.Sprintf("job %s: no reminder", job)
	}
	if r.Validation != nil {
		return fmt.Sprintf("job %s: %s; no reminder to delete", job, r.Validation.Error())
	}
	return fmt.Sprintf("job %s: nothing to do", job)
}

// reconcile runs one cycle: load the job if unknown, search, settle,
// re-read cached state, decide, act. read is consulted again after every
// suspension so a newer snapshot or value is never missed.
func (e *Engine) reconcile(ctx context.Context, cycleID, jobID, trigger string, read func() liveState) Report {
	rep := Report{CycleID: cycleID, JobID: jobID, Trigger: trigger, StartedAt: e.clk.Now()}
	fail := func(err error) Report {
		rep.Err = NewCycleError(jobID, cycleID, err)
		rep.FinishedAt = e.clk.Now()
		return rep
	}

	job := read().job
	if job == nil {
		fetched, err := e.repo.FetchJob(ctx, jobID)
		if err != nil {
			return fail(errors.Wrap(err, "load job"))
		}
		job = &fetched
		rep.Fetched = &fetched
	}
	rep.JobNumber = job.JobNumber

	existing, err := e.repo.Search(ctx, job.JobNumber, job.ID)
	if err != nil {
		return fail(err)
	}
	rep.Before = existing

	if err := clock.Sleep(ctx, e.clk, e.settle); err != nil {
		return fail(errors.Wrap(err, "settle"))
	}

	live := read()
	if live.job != nil {
		job = live.job
		rep.JobNumber = job.JobNumber
	}
	value := live.value
	if !live.hasValue {
		value = job.DueValue()
	}

	d := Decide(value, existing != nil, e.now(), e.layouts)
	rep.Action = d.Action
	rep.Value = d.Value
	rep.Validation = d.Validation

	e.logger.Debugw("decided",
		"cycle", cycleID, "job", rep.JobNumber, "value", d.Value, "exists", existing != nil, "action", string(d.Action))

	switch d.Action {
	case ActionCreate:
		saved, err := e.repo.Create(ctx, *job, d.Due)
		if err != nil {
			return fail(err)
		}
		rep.After = &saved
	case ActionUpdate:
		saved, err := e.repo.Update(ctx, *existing, d.Due)
		if err != nil {
			return fail(err)
		}
		rep.After = &saved
	case ActionDelete:
		if err := e.repo.Delete(ctx, *existing); err != nil {
			return fail(err)
		}
	}

	rep.FinishedAt = e.clk.Now()
	return rep
}

// check loads the job if needed and searches for its reminder.
func (e *Engine) check(ctx context.Context, cycleID, jobID, trigger string, job *remote.Job) Report {
	rep := Report{CycleID: cycleID, JobID: jobID, Trigger: trigger, Action: ActionCheck, StartedAt: e.clk.Now()}
	if job == nil {
		fetched, err := e.repo.FetchJob(ctx, jobID)
		if err != nil {
			rep.Err = NewCycleError(jobID, cycleID, errors.Wrap(err, "load job"))
			rep.FinishedAt = e.clk.Now()
			return rep
		}
		job = &fetched
		rep.Fetched = &fetched
	}
	rep.JobNumber = job.JobNumber

	existing, err := e.repo.Search(ctx, job.JobNumber, job.ID)
	if err != nil {
		rep.Err = NewCycleError(jobID, cycleID, err)
	}
	rep.Before = existing
	rep.After = existing
	rep.FinishedAt = e.clk.Now()
	return rep
}

// ReconcileNow runs one cycle for jobID outside the loop, using the job's
// own current field value as fetched from the API. It does not touch the
// loop's job contexts; it is meant for one-shot use.
func (e *Engine) ReconcileNow(ctx context.Context, jobID string) (Report, error) {
	cycleID := e.ids.Generate()
	ctx, cancel := context.WithTimeout(ctx, e.cycleTimeout)
	defer cancel()

	e.setStatus(jobID, status.Checking())
	rep := e.reconcile(ctx, cycleID, jobID, TriggerManual, func() liveState { return liveState{} })
	e.journalReport(context.WithoutCancel(ctx), rep, false)
	e.publish(rep)
	if rep.Err != nil {
		return rep, rep.Err
	}
	return rep, nil
}

func (e *Engine) journalReport(ctx context.Context, rep Report, suppressed bool) {
	if e.journal == nil {
		return
	}
	c := store.Cycle{
		ID:         rep.CycleID,
		Seq:        e.seq.Next(),
		JobID:      rep.JobID,
		JobNumber:  rep.JobNumber,
		Trigger:    rep.Trigger,
		Value:      rep.Value,
		Action:     string(rep.Action),
		Outcome:    rep.Outcome(),
		Suppressed: suppressed,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
	}
	if rep.Validation != nil {
		c.Validation = string(rep.Validation.Kind)
		c.ErrorCode = string(ErrCodeValidation)
		c.ErrorMessage = rep.Validation.Error()
	}
	if rep.Err != nil {
		c.ErrorCode = string(rep.Err.Code)
		c.ErrorMessage = rep.Err.Message
	}
	if r := rep.After; r != nil {
		c.ReminderID, c.ReminderNumber, c.DueDate = r.ID, r.ServiceReminderNumber, r.DueDate
	} else if r := rep.Before; r != nil {
		c.ReminderID, c.ReminderNumber = r.ID, r.ServiceReminderNumber
	}
	if err := e.journal.WriteCycle(ctx, c); err != nil {
		e.logger.Warnw("journal write failed", "cycle", rep.CycleID, "error", err)
	}
}
