package engine

import (
	"fmt"

	"github.com/roach88/remsync/internal/status"
)

// setStatus records s as jobID's latest status and forwards it.
func (e *Engine) setStatus(jobID string, s status.Status) {
	e.mu.Lock()
	if jc, ok := e.jobs[jobID]; ok {
		jc.last = s
	}
	e.mu.Unlock()
	e.sink.SetStatus(jobID, s)
}

func (e *Engine) notify(rep Report, level status.Level, title, message string) {
	n := status.Notification{
		JobID:     rep.JobID,
		JobNumber: rep.JobNumber,
		Level:     level,
		Title:     title,
		Message:   message,
		At:        e.clk.Now(),
	}
	if rep.After != nil {
		n.Link = status.ReminderLink(e.appURL, rep.After.ID)
	}
	e.sink.Notify(n)
}

// publishCheck reports the result of a search-only check.
func (e *Engine) publishCheck(rep Report) {
	switch {
	case rep.Err != nil:
		e.setStatus(rep.JobID, status.Error(rep.Err.Message))
		e.notify(rep, status.LevelError, "Error searching for reminder", rep.Err.Message)
	case rep.After != nil:
		e.setStatus(rep.JobID, status.HasReminder(*rep.After))
	default:
		e.setStatus(rep.JobID, status.NoReminder())
	}
}

// publish reports a finished cycle.
func (e *Engine) publish(rep Report) {
	if rep.Err != nil {
		e.setStatus(rep.JobID, status.Error(rep.Err.Message))
		e.notify(rep, status.LevelError, "Failed to sync reminder", rep.Err.Message)
		return
	}

	switch rep.Action {
	case ActionCreate:
		e.setStatus(rep.JobID, status.HasReminder(*rep.After))
		e.notify(rep, status.LevelSuccess, "Service reminder created",
			fmt.Sprintf("Job %s: %s due %s", rep.JobNumber, rep.After.ServiceReminderNumber, rep.Value))

	case ActionUpdate:
		e.setStatus(rep.JobID, status.HasReminder(*rep.After))
		e.notify(rep, status.LevelSuccess, "Service reminder updated",
			fmt.Sprintf("Job %s: %s due %s", rep.JobNumber, rep.After.ServiceReminderNumber, rep.Value))

	case ActionDelete:
		e.setStatus(rep.JobID, status.NoReminder())
		if rep.Validation != nil {
			e.notify(rep, status.LevelWarning, "Invalid service due date",
				fmt.Sprintf("Job %s: %s; %s deleted", rep.JobNumber, rep.Validation.Error(), rep.Before.ServiceReminderNumber))
			return
		}
		e.notify(rep, status.LevelSuccess, "Service reminder deleted",
			fmt.Sprintf("Job %s: %s", rep.JobNumber, rep.Before.ServiceReminderNumber))

	default:
		e.setStatus(rep.JobID, status.NoReminder())
		if rep.Validation != nil {
			e.notify(rep, status.LevelWarning, "Invalid service due date",
				fmt.Sprintf("Job %s: %s; no reminder to delete", rep.JobNumber, rep.Validation.Error()))
			return
		}
		e.notify(rep, status.LevelInfo, "Service due date cleared",
			fmt.Sprintf("Job %s: no reminder to delete", rep.JobNumber))
	}
}
