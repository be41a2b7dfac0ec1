// Package status carries the agent's user-facing output: per-job status
// transitions and notifications. Sinks render them; none hold logic.
package status

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/remote"
)

// Kind is a job's reminder status.
type Kind string

const (
	KindChecking    Kind = "checking"
	KindNoReminder  Kind = "noReminder"
	KindHasReminder Kind = "hasReminder"
	KindError       Kind = "error"
)

// Status is one status transition for a job.
type Status struct {
	Kind     Kind             `json:"kind"`
	Reminder *remote.Reminder `json:"reminder,omitempty"`
	Message  string           `json:"message,omitempty"`
}

func Checking() Status   { return Status{Kind: KindChecking} }
func NoReminder() Status { return Status{Kind: KindNoReminder} }

// HasReminder reports r as the job's live reminder.
func HasReminder(r remote.Reminder) Status {
	return Status{Kind: KindHasReminder, Reminder: &r}
}

// Error reports a failed cycle.
func Error(message string) Status {
	return Status{Kind: KindError, Message: message}
}

// String renders the status for logs and CLI output.
func (s Status) String() string {
	switch s.Kind {
	case KindHasReminder:
		if s.Reminder != nil {
			return string(s.Kind) + "(" + s.Reminder.ServiceReminderNumber + ")"
		}
	case KindError:
		return string(s.Kind) + "(" + s.Message + ")"
	}
	return string(s.Kind)
}

// Level grades a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a human-readable message about one job.
type Notification struct {
	JobID     string    `json:"jobId"`
	JobNumber string    `json:"jobNumber"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives status transitions and notifications.
// Implementations must not block the caller for long.
type Sink interface {
	SetStatus(jobID string, s Status)
	Notify(n Notification)
}

// ReminderLink is the application deep link to a reminder.
func ReminderLink(appURL, reminderID string) string {
	if appURL == "" || reminderID == "" {
		return ""
	}
	return strings.TrimRight(appURL, "/") + "/#/servicereminder/" + reminderID
}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) SetStatus(jobID string, s Status) {
	for _, sink := range m {
		sink.SetStatus(jobID, s)
	}
}

func (m Multi) Notify(n Notification) {
	for _, sink := range m {
		sink.Notify(n)
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) SetStatus(string, Status) {}
func (Discard) Notify(Notification)      {}

// LogSink writes statuses and notifications to a logger.
type LogSink struct {
	Logger *zap.SugaredLogger
}

func (l LogSink) SetStatus(jobID string, s Status) {
	l.Logger.Infow("status", "job_id", jobID, "status", s.String())
}

func (l LogSink) Notify(n Notification) {
	fields := []any{"job", n.JobNumber, "title", n.Title, "message", n.Message}
	if n.Link != "" {
		fields = append(fields, "link", n.Link)
	}
	switch n.Level {
	case LevelError:
		l.Logger.Errorw("notification", fields...)
	case LevelWarning:
		l.Logger.Warnw("notification", fields...)
	default:
		l.Logger.Infow("notification", fields...)
	}
}
