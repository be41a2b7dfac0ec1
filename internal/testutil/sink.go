package testutil

import (
	"sync"

	"github.com/roach88/remsync/internal/status"
)

// StatusRecord is one SetStatus call.
type StatusRecord struct {
	JobID  string
	Status status.Status
}

// RecordingSink is a status.Sink that remembers everything it receives.
//
// Thread-safety: all methods are safe for concurrent use.
type RecordingSink struct {
	mu       sync.Mutex
	statuses []StatusRecord
	notes    []status.Notification
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// SetStatus implements status.Sink.
func (r *RecordingSink) SetStatus(jobID string, s status.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, StatusRecord{JobID: jobID, Status: s})
}

// Notify implements status.Sink.
func (r *RecordingSink) Notify(n status.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

// Kinds returns the status kinds reported for jobID, in order.
func (r *RecordingSink) Kinds(jobID string) []status.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := []status.Kind{}
	for _, s := range r.statuses {
		if s.JobID == jobID {
			kinds = append(kinds, s.Status.Kind)
		}
	}
	return kinds
}

// Last returns the latest status reported for jobID.
func (r *RecordingSink) Last(jobID string) (status.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.statuses) - 1; i >= 0; i-- {
		if r.statuses[i].JobID == jobID {
			return r.statuses[i].Status, true
		}
	}
	return status.Status{}, false
}

// Notifications returns every notification received.
func (r *RecordingSink) Notifications() []status.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]status.Notification(nil), r.notes...)
}
