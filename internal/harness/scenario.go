package harness

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/testutil"
)

// DefaultNow is the manual clock's starting time.
var DefaultNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// Credential modes.
const (
	CredentialStatic  = "static"
	CredentialMissing = "missing"
)

// Scenario is one end-to-end reconciliation test.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Now is the clock's starting time in RFC3339. Empty uses DefaultNow.
	Now string `yaml:"now,omitempty"`

	// Debounce overrides the engine's debounce window.
	Debounce time.Duration `yaml:"debounce,omitempty"`

	// Credential is "static" (default) or "missing". A missing credential
	// makes every acquisition fail after a short wait.
	Credential string `yaml:"credential,omitempty"`

	// Attempts overrides the transport's maximum attempts.
	Attempts int `yaml:"attempts,omitempty"`

	Jobs      []JobFixture      `yaml:"jobs"`
	Reminders []ReminderFixture `yaml:"reminders,omitempty"`
	Steps     []Step            `yaml:"steps"`
	Expect    Expect            `yaml:"expect"`
}

// JobFixture is a job the fake API knows.
type JobFixture struct {
	ID       string  `yaml:"id"`
	Number   string  `yaml:"number"`
	Customer string  `yaml:"customer,omitempty"`
	Site     *string `yaml:"site,omitempty"`
	Due      *string `yaml:"due,omitempty"`
}

// ReminderFixture is a reminder present before the scenario starts.
type ReminderFixture struct {
	ID     string `yaml:"id"`
	Job    string `yaml:"job"`
	Due    string `yaml:"due"`
	Number string `yaml:"number,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Observe   string        `yaml:"observe,omitempty"`
	Save      *SaveStep     `yaml:"save,omitempty"`
	Advance   time.Duration `yaml:"advance,omitempty"`
	Navigate  string        `yaml:"navigate,omitempty"`
	Leave     string        `yaml:"leave,omitempty"`
	Reconcile string        `yaml:"reconcile,omitempty"`
	Fail      *FailStep     `yaml:"fail,omitempty"`
}

// SaveStep is the user saving the service due date on a job.
type SaveStep struct {
	Job   string `yaml:"job"`
	Value string `yaml:"value"`
}

// FailStep makes the next calls of one kind answer with error statuses.
type FailStep struct {
	Kind     string `yaml:"kind"`
	Statuses []int  `yaml:"statuses"`
}

// Expect lists what must hold after the last step. Absent fields are not
// checked.
type Expect struct {
	// Calls are the kinds of successful API calls, in order.
	Calls []string `yaml:"calls,omitempty"`
	// Attempts counts requests per kind, failed ones included.
	Attempts map[string]int `yaml:"attempts,omitempty"`
	// Reminders is the complete final reminder set. An explicit empty
	// list asserts there are none.
	Reminders *[]ReminderExpect `yaml:"reminders,omitempty"`
	// Statuses are the status kinds reported per job, in order.
	Statuses map[string][]string `yaml:"statuses,omitempty"`
	// Notifications are notification titles, in order.
	Notifications []string `yaml:"notifications,omitempty"`
	// Cycles counts journaled cycles by outcome.
	Cycles map[string]int `yaml:"cycles,omitempty"`
}

// ReminderExpect matches one final reminder. Empty Number is not checked.
type ReminderExpect struct {
	Job    string `yaml:"job"`
	Due    string `yaml:"due"`
	Number string `yaml:"number,omitempty"`
}

// Kind names the step's action.
func (s Step) Kind() string {
	switch {
	case s.Observe != "":
		return "observe"
	case s.Save != nil:
		return "save"
	case s.Advance != 0:
		return "advance"
	case s.Navigate != "":
		return "navigate"
	case s.Leave != "":
		return "leave"
	case s.Reconcile != "":
		return "reconcile"
	case s.Fail != nil:
		return "fail"
	}
	return ""
}

func (s Step) set() int {
	n := 0
	for _, on := range []bool{
		s.Observe != "", s.Save != nil, s.Advance != 0, s.Navigate != "",
		s.Leave != "", s.Reconcile != "", s.Fail != nil,
	} {
		if on {
			n++
		}
	}
	return n
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so a typo cannot silently disable an expectation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario file")
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read scenario dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	scenarios := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "%s", name)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

var callKinds = map[string]bool{
	testutil.CallSearch:   true,
	testutil.CallCreate:   true,
	testutil.CallUpdate:   true,
	testutil.CallDelete:   true,
	testutil.CallFetchJob: true,
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if s.Now != "" {
		if _, err := time.Parse(time.RFC3339, s.Now); err != nil {
			return errors.Wrapf(err, "now %q", s.Now)
		}
	}
	switch s.Credential {
	case "", CredentialStatic, CredentialMissing:
	default:
		return errors.Newf("credential must be %q or %q (got %q)", CredentialStatic, CredentialMissing, s.Credential)
	}
	if s.Debounce < 0 || s.Attempts < 0 {
		return errors.New("debounce and attempts must not be negative")
	}

	jobs := make(map[string]bool, len(s.Jobs))
	for i, j := range s.Jobs {
		if j.ID == "" || j.Number == "" {
			return errors.Newf("jobs[%d]: id and number are required", i)
		}
		if jobs[j.ID] {
			return errors.Newf("jobs[%d]: duplicate id %s", i, j.ID)
		}
		jobs[j.ID] = true
	}
	for i, r := range s.Reminders {
		if r.ID == "" || r.Due == "" {
			return errors.Newf("reminders[%d]: id and due are required", i)
		}
		if !jobs[r.Job] {
			return errors.Newf("reminders[%d]: unknown job %q", i, r.Job)
		}
	}

	for i, step := range s.Steps {
		if n := step.set(); n != 1 {
			return errors.Newf("steps[%d]: exactly one action is required (got %d)", i, n)
		}
		switch {
		case step.Observe != "" && !jobs[step.Observe]:
			return errors.Newf("steps[%d]: observe: unknown job %q", i, step.Observe)
		case step.Save != nil && !jobs[step.Save.Job]:
			return errors.Newf("steps[%d]: save: unknown job %q", i, step.Save.Job)
		case step.Advance < 0:
			return errors.Newf("steps[%d]: advance must be positive", i)
		case step.Fail != nil && !callKinds[step.Fail.Kind]:
			return errors.Newf("steps[%d]: fail: unknown call kind %q", i, step.Fail.Kind)
		case step.Fail != nil && len(step.Fail.Statuses) == 0:
			return errors.Newf("steps[%d]: fail: statuses are required", i)
		}
	}

	for i, kind := range s.Expect.Calls {
		if !callKinds[kind] {
			return errors.Newf("expect.calls[%d]: unknown call kind %q", i, kind)
		}
	}
	for kind := range s.Expect.Attempts {
		if !callKinds[kind] {
			return errors.Newf("expect.attempts: unknown call kind %q", kind)
		}
	}
	return nil
}
