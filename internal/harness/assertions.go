package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ExpectationError describes one expectation that did not hold.
type ExpectationError struct {
	Field    string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ExpectationError) Error() string {
	return fmt.Sprintf("expect.%s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// EvaluateExpectations checks result against expect and returns one
// message per failed expectation.
func EvaluateExpectations(result *Result, expect Expect) []string {
	var errs []error

	if expect.Calls != nil {
		errs = append(errs, compareList("calls", expect.Calls, result.Calls))
	}

	for _, kind := range sortedKeys(expect.Attempts) {
		if got := result.Attempts[kind]; got != expect.Attempts[kind] {
			errs = append(errs, &ExpectationError{
				Field:    "attempts." + kind,
				Expected: fmt.Sprint(expect.Attempts[kind]),
				Actual:   fmt.Sprint(got),
			})
		}
	}

	if expect.Reminders != nil {
		errs = append(errs, assertReminders(*expect.Reminders, result))
	}

	for _, job := range sortedKeys(expect.Statuses) {
		errs = append(errs, compareList("statuses."+job, expect.Statuses[job], result.Statuses[job]))
	}

	if expect.Notifications != nil {
		titles := make([]string, len(result.Notifications))
		for i, n := range result.Notifications {
			titles[i] = n.Title
		}
		errs = append(errs, compareList("notifications", expect.Notifications, titles))
	}

	if expect.Cycles != nil {
		got := map[string]int{}
		for _, c := range result.Cycles {
			got[c.Outcome]++
		}
		for _, outcome := range sortedKeys(expect.Cycles) {
			if got[outcome] != expect.Cycles[outcome] {
				errs = append(errs, &ExpectationError{
					Field:    "cycles." + outcome,
					Expected: fmt.Sprint(expect.Cycles[outcome]),
					Actual:   fmt.Sprint(got[outcome]),
				})
			}
		}
	}

	var msgs []string
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

func assertReminders(want []ReminderExpect, result *Result) error {
	var got []string
	for _, r := range result.Reminders {
		got = append(got, r.SourceJobID+" "+r.DueDate)
	}
	var expected []string
	for _, r := range want {
		expected = append(expected, r.Job+" "+r.Due)
	}
	sort.Strings(got)
	sort.Strings(expected)
	if err := compareList("reminders", expected, got); err != nil {
		return err
	}

	for _, w := range want {
		if w.Number == "" {
			continue
		}
		found := false
		for _, r := range result.Reminders {
			if r.SourceJobID == w.Job && r.ServiceReminderNumber == w.Number {
				found = true
				break
			}
		}
		if !found {
			return &ExpectationError{
				Field:    "reminders",
				Expected: fmt.Sprintf("%s numbered %s", w.Job, w.Number),
				Actual:   "no such reminder",
			}
		}
	}
	return nil
}

func compareList(field string, want, got []string) error {
	if len(want) == 0 && len(got) == 0 {
		return nil
	}
	if reflect.DeepEqual(want, got) {
		return nil
	}
	return &ExpectationError{Field: field, Expected: formatList(want), Actual: formatList(got)}
}

func formatList(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
