package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Summary renders the deterministic parts of a result as text: calls,
// statuses, final reminders, notifications, and journaled cycles.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", r.Name)
	fmt.Fprintf(&b, "calls: %s\n", strings.Join(r.Calls, " "))
	for _, job := range sortedKeys(r.Statuses) {
		fmt.Fprintf(&b, "status %s: %s\n", job, strings.Join(r.Statuses[job], " "))
	}
	for _, rem := range r.Reminders {
		fmt.Fprintf(&b, "reminder %s: %s %s\n", rem.SourceJobID, rem.ServiceReminderNumber, rem.DueDate)
	}
	for _, n := range r.Notifications {
		fmt.Fprintf(&b, "notify %s: %s\n", n.Level, n.Title)
	}
	for _, c := range r.Cycles {
		line := fmt.Sprintf("cycle %s: %s %s %s", c.ID, c.Trigger, c.Action, c.Outcome)
		if c.ErrorCode != "" {
			line += " " + c.ErrorCode
		}
		if c.Suppressed {
			line += " suppressed"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// RunWithGolden runs scenario and compares its Summary with
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, []byte(result.Summary()))
	return result
}
