package harness

import (
	"github.com/roach88/remsync/internal/remote"
	"github.com/roach88/remsync/internal/status"
	"github.com/roach88/remsync/internal/store"
)

// TraceEvent is one executed step.
type TraceEvent struct {
	Step   int    `json:"step"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Result is the outcome of running a scenario.
type Result struct {
	Name string `json:"name"`

	// Pass is true when every expectation held.
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	Trace         []TraceEvent          `json:"trace"`
	Calls         []string              `json:"calls"`
	Attempts      map[string]int        `json:"attempts"`
	Reminders     []remote.Reminder     `json:"reminders"`
	Statuses      map[string][]string   `json:"statuses"`
	Notifications []status.Notification `json:"notifications"`
	// Cycles are journal rows, oldest first.
	Cycles []store.Cycle `json:"cycles"`
}

// NewResult creates a passing result.
func NewResult(name string) *Result {
	return &Result{
		Name:     name,
		Pass:     true,
		Trace:    []TraceEvent{},
		Calls:    []string{},
		Attempts: map[string]int{},
		Statuses: map[string][]string{},
	}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(step int, kind, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Kind: kind, Detail: detail})
}
