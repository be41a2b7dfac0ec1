package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/remsync/internal/remote"
)

// Call kinds recorded by FakeRemote.
const (
	CallSearch   = "search"
	CallCreate   = "create"
	CallUpdate   = "update"
	CallDelete   = "delete"
	CallFetchJob = "fetch_job"
)

// RemoteCall is one request received by FakeRemote.
type RemoteCall struct {
	Kind   string
	Token  string
	Body   []byte
	Failed bool
}

// FakeRemote is an in-memory stand-in for the host application's API,
// served over httptest. It keeps reminders, answers list queries by job
// number text, applies save envelopes, and serves job details. Failures
// can be injected per call kind.
type FakeRemote struct {
	mu        sync.Mutex
	reminders []remote.Reminder
	jobs      map[string]remote.Job
	calls     []RemoteCall
	failNext  map[string][]int
	garbled   map[string]bool
	shapeless map[string]bool
	number    int
	server    *httptest.Server
}

// NewFakeRemote starts a fake API server. Call Close when done.
func NewFakeRemote() *FakeRemote {
	f := &FakeRemote{
		jobs:      make(map[string]remote.Job),
		failNext:  make(map[string][]int),
		garbled:   make(map[string]bool),
		shapeless: make(map[string]bool),
		number:    1000,
	}
	f.server = httptest.NewServer(f)
	return f
}

// URL is the API base to configure transports with.
func (f *FakeRemote) URL() string { return f.server.URL }

// Close stops the server.
func (f *FakeRemote) Close() { f.server.Close() }

// AddJob registers a job for job detail requests and list matching.
func (f *FakeRemote) AddJob(job remote.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
}

// AddReminder seeds a reminder. Missing numbers are assigned.
func (f *FakeRemote) AddReminder(r remote.Reminder) remote.Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ServiceReminderNumber == "" || r.ServiceReminderNumber == remote.NewReminderNumber {
		f.number++
		r.ServiceReminderNumber = fmt.Sprintf("SR-%d", f.number)
		r.ServiceReminderSequence = f.number
	}
	f.reminders = append(f.reminders, r)
	return r
}

// FailNext makes the next len(statuses) calls of kind answer with those
// HTTP statuses.
func (f *FakeRemote) FailNext(kind string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[kind] = append(f.failNext[kind], statuses...)
}

// Garble makes every successful call of kind answer with a non-JSON body.
func (f *FakeRemote) Garble(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.garbled[kind] = true
}

// Shapeless makes every successful call of kind answer with valid JSON
// that lacks the expected fields.
func (f *FakeRemote) Shapeless(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shapeless[kind] = true
}

// Reminders returns a copy of the stored reminders.
func (f *FakeRemote) Reminders() []remote.Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.Reminder(nil), f.reminders...)
}

// RemindersForJob returns the stored reminders whose source is jobID.
func (f *FakeRemote) RemindersForJob(jobID string) []remote.Reminder {
	var out []remote.Reminder
	for _, r := range f.Reminders() {
		if r.SourceJobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// Calls returns every request received, including failed ones.
func (f *FakeRemote) Calls() []RemoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RemoteCall(nil), f.calls...)
}

// Kinds returns the kinds of successful calls, in order.
func (f *FakeRemote) Kinds() []string {
	var kinds []string
	for _, c := range f.Calls() {
		if !c.Failed {
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

// Hits counts requests of kind, including failed ones.
func (f *FakeRemote) Hits(kind string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// ServeHTTP implements http.Handler.
func (f *FakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	kind, err := classify(r.URL.Path, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	call := RemoteCall{Kind: kind, Token: r.Header.Get("requestverificationantiforgerytoken"), Body: body}
	if queue := f.failNext[kind]; len(queue) > 0 {
		f.failNext[kind] = queue[1:]
		call.Failed = true
		f.calls = append(f.calls, call)
		http.Error(w, "injected failure", queue[0])
		return
	}
	f.calls = append(f.calls, call)

	if f.garbled[kind] {
		_, _ = io.WriteString(w, "<html>Service Unavailable</html>")
		return
	}
	if f.shapeless[kind] {
		_, _ = io.WriteString(w, `{"Message":"ok"}`)
		return
	}

	var resp any
	switch kind {
	case CallSearch:
		resp = f.list(body)
	case CallCreate, CallUpdate, CallDelete:
		resp, err = f.save(kind, body)
	case CallFetchJob:
		resp, err = f.jobDetail(body)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func classify(path string, body []byte) (string, error) {
	switch {
	case strings.HasSuffix(path, remote.EndpointReminderList):
		return CallSearch, nil
	case strings.HasSuffix(path, remote.EndpointJobDetail):
		return CallFetchJob, nil
	case strings.HasSuffix(path, remote.EndpointSaveChanges):
		var bundle remote.SaveBundle
		if err := json.Unmarshal(body, &bundle); err != nil || len(bundle.Entities) != 1 {
			return "", fmt.Errorf("bad save bundle")
		}
		switch bundle.Entities[0].EntityAspect.EntityState {
		case remote.StateAdded:
			return CallCreate, nil
		case remote.StateModified:
			return CallUpdate, nil
		case remote.StateDeleted:
			return CallDelete, nil
		}
		return "", fmt.Errorf("unknown entity state")
	}
	return "", fmt.Errorf("unknown endpoint %s", path)
}

// list matches the query against job numbers as free text, like the real
// API, and sorts by due date.
func (f *FakeRemote) list(body []byte) remote.ListResponse {
	var req remote.ListRequest
	_ = json.Unmarshal(body, &req)

	data := []remote.Reminder{}
	for _, r := range f.reminders {
		number := f.jobs[r.SourceJobID].JobNumber
		if req.SearchQuery == "" || strings.Contains(number, req.SearchQuery) || strings.Contains(r.ServiceReminderNumber, req.SearchQuery) {
			data = append(data, r)
		}
	}
	sort.SliceStable(data, func(i, j int) bool { return data[i].DueDate < data[j].DueDate })
	if len(data) > req.Page.PageSize && req.Page.PageSize > 0 {
		data = data[:req.Page.PageSize]
	}
	return remote.ListResponse{Data: data}
}

func (f *FakeRemote) save(kind string, body []byte) (remote.SaveResult, error) {
	var bundle remote.SaveBundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return remote.SaveResult{}, err
	}
	entity := bundle.Entities[0].Reminder

	switch kind {
	case CallCreate:
		f.number++
		entity.ServiceReminderNumber = fmt.Sprintf("SR-%d", f.number)
		entity.ServiceReminderSequence = f.number
		f.reminders = append(f.reminders, entity)
		return remote.SaveResult{Entities: []remote.Reminder{entity}}, nil

	case CallUpdate:
		for i := range f.reminders {
			if f.reminders[i].ID == entity.ID {
				f.reminders[i] = entity
				return remote.SaveResult{Entities: []remote.Reminder{entity}}, nil
			}
		}
		return remote.SaveResult{}, fmt.Errorf("reminder %s not found", entity.ID)

	default:
		for i := range f.reminders {
			if f.reminders[i].ID == entity.ID {
				f.reminders = append(f.reminders[:i], f.reminders[i+1:]...)
				return remote.SaveResult{Entities: []remote.Reminder{entity}}, nil
			}
		}
		return remote.SaveResult{}, fmt.Errorf("reminder %s not found", entity.ID)
	}
}

func (f *FakeRemote) jobDetail(body []byte) (map[string]any, error) {
	var req remote.JobDetailRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	job, ok := f.jobs[req.ID]
	if !ok {
		return nil, fmt.Errorf("job %s not found", req.ID)
	}
	return map[string]any{
		"ChildData": map[string]any{
			"JobStaffMembers": []any{map[string]any{"Job": job}},
		},
	}, nil
}
