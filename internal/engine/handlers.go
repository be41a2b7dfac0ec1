package engine

import (
	"context"

	"github.com/roach88/remsync/internal/remote"
	"github.com/roach88/remsync/internal/status"
	"github.com/roach88/remsync/internal/store"
)

// Event handlers. Each is called only from the Run goroutine.

func (e *Engine) onJobObserved(ev Event) {
	e.mu.Lock()
	jc := e.contextLocked(ev.JobID)
	jc.job = ev.Job
	jc.stopFetch()
	start := !jc.running && !jc.checking
	if start {
		jc.checking = true
		jc.phase = PhaseChecking
	}
	gen := jc.gen
	e.mu.Unlock()

	e.logger.Debugw("job observed", "job_id", ev.JobID, "job", ev.Job.JobNumber, "due", ev.Job.DueValue())
	e.observe(ev.JobID, store.ObservedJob, ev.Job.JobNumber, ev.Job.DueValue())
	if start {
		e.startCheck(ev.JobID, TriggerJobObserved, ev.Job, gen)
	}
}

func (e *Engine) onFieldChanged(ev Event) {
	e.mu.Lock()
	jc := e.contextLocked(ev.JobID)
	jc.value = ev.Value
	jc.hasValue = true
	jc.stopDebounce()
	jc.debounceSeq++
	seq, jobID := jc.debounceSeq, jc.id
	jc.debounce = e.clk.AfterFunc(e.debounce, func() {
		e.queue.Enqueue(Event{Type: eventDebounceElapsed, JobID: jobID, seq: seq})
	})
	e.mu.Unlock()

	e.logger.Debugw("field changed", "job_id", ev.JobID, "value", ev.Value, "debounce_seq", seq)
	e.observe(ev.JobID, store.ObservedField, "", ev.Value)
}

func (e *Engine) onDebounceElapsed(ev Event) {
	e.mu.Lock()
	jc := e.contextLocked(ev.JobID)
	if ev.seq != jc.debounceSeq {
		e.mu.Unlock()
		return
	}
	jc.debounce = nil
	if jc.running {
		jc.rerun = true
		e.mu.Unlock()
		e.logger.Debugw("cycle running, rerun queued", "job_id", ev.JobID)
		return
	}
	e.mu.Unlock()

	e.startCycle(ev.JobID, TriggerFieldChanged)
}

func (e *Engine) onNavigated(ev Event) {
	e.mu.Lock()
	jc := e.contextLocked(ev.JobID)
	jc.active = true
	job := jc.job
	gen := jc.gen
	start := job != nil && !jc.running && !jc.checking
	if start {
		jc.checking = true
		jc.phase = PhaseChecking
	}
	if job == nil {
		jc.stopFetch()
		jobID := jc.id
		jc.fetch = e.clk.AfterFunc(e.jobFetchWait, func() {
			e.queue.Enqueue(Event{Type: eventFetchDue, JobID: jobID, gen: gen})
		})
	}
	e.mu.Unlock()

	e.observe(ev.JobID, store.ObservedNavigated, "", "")
	if start {
		e.startCheck(ev.JobID, TriggerNavigated, job, gen)
	}
}

func (e *Engine) onLeft(ev Event) {
	e.mu.Lock()
	jc := e.contextLocked(ev.JobID)
	jc.gen++
	jc.active = false
	jc.stopFetch()
	e.mu.Unlock()

	e.observe(ev.JobID, store.ObservedLeft, "", "")
}

// onFetchDue fires when the host application never loaded a job the user
// navigated to; the engine then fetches it itself.
func (e *Engine) onFetchDue(ev Event) {
	e.mu.Lock()
	jc := e.contextLocked(ev.JobID)
	jc.fetch = nil
	if jc.job != nil || ev.gen != jc.gen || jc.checking || jc.running {
		e.mu.Unlock()
		return
	}
	jc.checking = true
	jc.phase = PhaseChecking
	e.mu.Unlock()

	e.logger.Infow("job not seen in traffic, fetching", "job_id", ev.JobID, "waited", e.jobFetchWait)
	e.startCheck(ev.JobID, TriggerNavigated, nil, ev.gen)
}

func (e *Engine) startCheck(jobID, trigger string, job *remote.Job, gen uint64) {
	e.mu.Lock()
	epoch := e.contextLocked(jobID).started
	e.mu.Unlock()

	cycleID := e.ids.Generate()
	e.setStatus(jobID, status.Checking())
	ctx := e.runCtx
	e.spawn(func() {
		cctx, cancel := context.WithTimeout(ctx, e.cycleTimeout)
		defer cancel()
		rep := e.check(cctx, cycleID, jobID, trigger, job)
		e.queue.Enqueue(Event{Type: eventCheckDone, JobID: jobID, gen: gen, epoch: epoch, report: &rep})
	})
}

func (e *Engine) onCheckDone(ev Event) {
	rep := *ev.report

	e.mu.Lock()
	jc := e.contextLocked(ev.JobID)
	jc.checking = false
	if rep.Fetched != nil && jc.job == nil {
		jc.job = rep.Fetched
	}
	running := jc.running
	// A cycle started after this search did; its result is newer.
	stale := ev.epoch != jc.started
	if !running {
		jc.phase = PhaseIdle
		if rep.Err == nil && !stale {
			jc.pending = rep.After
			jc.known = true
		}
	}
	current := ev.gen == jc.gen
	e.mu.Unlock()

	e.journalReport(e.runCtx, rep, !current || stale)
	if rep.Err != nil {
		e.logger.Warnw("reminder check failed", "job_id", ev.JobID, "code", string(rep.Err.Code), "error", rep.Err.Message)
	} else {
		e.logger.Infow("reminder checked", "summary", rep.Summary())
	}

	// A cycle that started meanwhile owns the status now.
	if current && !running && !stale {
		e.publishCheck(rep)
	}
}

func (e *Engine) startCycle(jobID, trigger string) {
	e.mu.Lock()
	jc := e.contextLocked(jobID)
	jc.running = true
	jc.started++
	jc.phase = PhaseReconciling
	gen := jc.gen
	e.mu.Unlock()

	cycleID := e.ids.Generate()
	e.logger.Debugw("cycle starting", "cycle", cycleID, "job_id", jobID, "trigger", trigger)
	e.setStatus(jobID, status.Checking())

	read := e.readLive(jobID)
	ctx := e.runCtx
	e.spawn(func() {
		cctx, cancel := context.WithTimeout(ctx, e.cycleTimeout)
		defer cancel()
		rep := e.reconcile(cctx, cycleID, jobID, trigger, read)
		e.queue.Enqueue(Event{Type: eventCycleDone, JobID: jobID, gen: gen, report: &rep})
	})
}

func (e *Engine) onCycleDone(ev Event) {
	rep := *ev.report

	e.mu.Lock()
	jc := e.contextLocked(ev.JobID)
	jc.running = false
	jc.phase = PhaseIdle
	jc.cycles++
	if rep.Fetched != nil && jc.job == nil {
		jc.job = rep.Fetched
	}
	if rep.Err == nil {
		jc.pending = rep.After
		jc.known = true
	}
	rerun := jc.rerun
	jc.rerun = false
	current := ev.gen == jc.gen
	e.mu.Unlock()

	e.journalReport(e.runCtx, rep, !current)
	if rep.Err != nil {
		e.logger.Warnw("cycle failed", "cycle", rep.CycleID, "job_id", ev.JobID, "code", string(rep.Err.Code), "error", rep.Err.Message)
	} else {
		e.logger.Infow("cycle complete", "cycle", rep.CycleID, "summary", rep.Summary())
	}

	if current {
		e.publish(rep)
	} else {
		e.logger.Debugw("navigated away, cycle result not reported", "cycle", rep.CycleID, "job_id", ev.JobID)
	}

	if rerun {
		e.startCycle(ev.JobID, TriggerFieldChanged)
	}
}
