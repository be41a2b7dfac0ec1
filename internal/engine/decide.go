package engine

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/remote"
)

// Action is what a cycle does to the job's reminder.
type Action string

const (
	ActionNone   Action = "none"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ValidationKind says why a non-empty value was rejected.
type ValidationKind string

const (
	InvalidFormat ValidationKind = "invalid_format"
	InPast        ValidationKind = "in_past"
)

// ErrValidation marks every ValidationError.
var ErrValidation = errors.New("service due date rejected")

// ValidationError is a rejected triggering value. It is user-facing
// information, not a fault.
type ValidationError struct {
	Kind  ValidationKind
	Value string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case InPast:
		return "service due date " + e.Value + " is in the past"
	default:
		return "service due date " + e.Value + " is not a date"
	}
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DefaultDateLayouts are the accepted spellings of a due date.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	remote.DateTimeLayout,
}

// Normalize returns value in NFKC form with surrounding space removed.
func Normalize(value string) string {
	return strings.TrimSpace(norm.NFKC.String(value))
}

// ParseDue parses value as a calendar date in now's location and checks
// it is not before now's date. Time of day is ignored on both sides.
// The value must already be normalized and non-empty.
func ParseDue(value string, now time.Time, layouts []string) (time.Time, error) {
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	loc := now.Location()

	var due time.Time
	parsed := false
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			due = t.In(loc)
			parsed = true
			break
		}
	}
	if !parsed {
		return time.Time{}, &ValidationError{Kind: InvalidFormat, Value: value}
	}

	if remote.Midnight(due).Before(remote.Midnight(now)) {
		return time.Time{}, &ValidationError{Kind: InPast, Value: value}
	}
	return due, nil
}

// Decision is the outcome of the decision table.
type Decision struct {
	Action     Action
	Value      string
	Due        time.Time
	Validation *ValidationError
}

// Decide applies the decision table to a triggering value and whether a
// reminder currently exists.
//
//	value                existing  action
//	empty                no        none
//	empty                yes       delete
//	invalid or past      no        none (validation reported)
//	invalid or past      yes       delete (validation reported)
//	valid                no        create
//	valid                yes       update
func Decide(value string, exists bool, now time.Time, layouts []string) Decision {
	v := Normalize(value)
	if v == "" {
		if exists {
			return Decision{Action: ActionDelete, Value: v}
		}
		return Decision{Action: ActionNone, Value: v}
	}

	due, err := ParseDue(v, now, layouts)
	if err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		if exists {
			return Decision{Action: ActionDelete, Value: v, Validation: ve}
		}
		return Decision{Action: ActionNone, Value: v, Validation: ve}
	}

	if exists {
		return Decision{Action: ActionUpdate, Value: v, Due: due}
	}
	return Decision{Action: ActionCreate, Value: v, Due: due}
}
