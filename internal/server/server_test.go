package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/engine"
	"github.com/roach88/remsync/internal/status"
	"github.com/roach88/remsync/internal/store"
)

type fakeEngine struct {
	mu     sync.Mutex
	states map[string]engine.JobState
	events []string
	queued int
}

func newFakeEngine(states ...engine.JobState) *fakeEngine {
	f := &fakeEngine{states: make(map[string]engine.JobState)}
	for _, s := range states {
		f.states[s.JobID] = s
	}
	return f
}

func (f *fakeEngine) Snapshot(jobID string) (engine.JobState, bool) {
	s, ok := f.states[jobID]
	return s, ok
}

func (f *fakeEngine) Snapshots() []engine.JobState {
	out := []engine.JobState{}
	for _, id := range []string{"J-1", "J-2"} {
		if s, ok := f.states[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeEngine) Navigated(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "navigated:"+jobID)
}

func (f *fakeEngine) Left(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "left:"+jobID)
}

func (f *fakeEngine) QueueLen() int {
	return f.queued
}

func newJournal(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestStatus_SingleJob(t *testing.T) {
	eng := newFakeEngine(engine.JobState{JobID: "J-1", JobNumber: "J0001", Phase: engine.PhaseIdle, Status: status.NoReminder()})
	srv := New(eng, nil, nil, nil, zap.NewNop().Sugar())

	w := get(t, srv, Prefix+"/status?job=J-1")
	require.Equal(t, http.StatusOK, w.Code)

	var got engine.JobState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "J0001", got.JobNumber)
	assert.Equal(t, status.KindNoReminder, got.Status.Kind)
}

func TestStatus_AllJobs(t *testing.T) {
	eng := newFakeEngine(engine.JobState{JobID: "J-1"}, engine.JobState{JobID: "J-2"})
	srv := New(eng, nil, nil, nil, zap.NewNop().Sugar())

	w := get(t, srv, Prefix+"/status")
	require.Equal(t, http.StatusOK, w.Code)

	var got []engine.JobState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "J-1", got[0].JobID)
}

func TestStatus_UnknownJob(t *testing.T) {
	srv := New(newFakeEngine(), nil, nil, nil, zap.NewNop().Sugar())
	w := get(t, srv, Prefix+"/status?job=missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown job missing")
}

func TestStatus_MethodNotAllowed(t *testing.T) {
	srv := New(newFakeEngine(), nil, nil, nil, zap.NewNop().Sugar())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, Prefix+"/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodGet, w.Header().Get("Allow"))
}

func TestJournal_ReturnsCyclesAndObservations(t *testing.T) {
	journal := newJournal(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, job := range []string{"J-1", "J-2", "J-1"} {
		require.NoError(t, journal.WriteCycle(ctx, store.Cycle{
			ID: "cycle-" + string(rune('a'+i)), Seq: int64(i + 1), JobID: job,
			Trigger: "field_changed", Action: "create", Outcome: "ok",
			StartedAt: at, FinishedAt: at,
		}))
	}
	require.NoError(t, journal.WriteObservation(ctx, store.Observation{Seq: 10, JobID: "J-1", Kind: store.ObservedJob, At: at}))

	srv := New(newFakeEngine(), journal, nil, nil, zap.NewNop().Sugar())
	w := get(t, srv, Prefix+"/journal?job=J-1&limit=5")
	require.Equal(t, http.StatusOK, w.Code)

	var got journalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Cycles, 2)
	assert.Equal(t, "cycle-c", got.Cycles[0].ID, "newest first")
	require.Len(t, got.Observations, 1)
	assert.Equal(t, store.ObservedJob, got.Observations[0].Kind)
}

func TestJournal_EmptyIsArrays(t *testing.T) {
	srv := New(newFakeEngine(), newJournal(t), nil, nil, zap.NewNop().Sugar())
	w := get(t, srv, Prefix+"/journal")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cycles":[],"observations":[]}`, w.Body.String())
}

func TestJournal_BadLimit(t *testing.T) {
	srv := New(newFakeEngine(), newJournal(t), nil, nil, zap.NewNop().Sugar())
	for _, limit := range []string{"0", "-3", "abc"} {
		w := get(t, srv, Prefix+"/journal?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, w.Code, limit)
	}
}

func TestJournal_Disabled(t *testing.T) {
	srv := New(newFakeEngine(), nil, nil, nil, zap.NewNop().Sugar())
	w := get(t, srv, Prefix+"/journal")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNavigate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"job to job", `{"from":"J-1","to":"J-2"}`, []string{"left:J-1", "navigated:J-2"}},
		{"into a job", `{"to":"J-2"}`, []string{"navigated:J-2"}},
		{"out of a job", `{"from":"J-1"}`, []string{"left:J-1"}},
		{"reload", `{"from":"J-1","to":"J-1"}`, []string{"navigated:J-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			srv := New(eng, nil, nil, nil, zap.NewNop().Sugar())

			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, Prefix+"/navigate", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusAccepted, w.Code)
			assert.Equal(t, tt.want, eng.events)
		})
	}
}

func TestNavigate_BadBody(t *testing.T) {
	eng := newFakeEngine()
	srv := New(eng, nil, nil, nil, zap.NewNop().Sugar())

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, Prefix+"/navigate", strings.NewReader("{")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, eng.events)
}

func TestProxyReceivesEverythingElse(t *testing.T) {
	proxy := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "proxied "+r.URL.Path)
	})
	srv := New(newFakeEngine(), nil, nil, proxy, zap.NewNop().Sugar())

	w := get(t, srv, "/api/Job/GetJobDetailData")
	assert.Equal(t, "proxied /api/Job/GetJobDetailData", w.Body.String())
}

func TestFeedMounted(t *testing.T) {
	feed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := New(newFakeEngine(), nil, feed, nil, zap.NewNop().Sugar())

	w := get(t, srv, Prefix+"/ws")
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(newFakeEngine(engine.JobState{JobID: "J-1"}), nil, nil, nil, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + Prefix + "/status?job=J-1")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHealth_ReportsQueueAndToken(t *testing.T) {
	eng := newFakeEngine()
	eng.queued = 3
	seen := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	srv := New(eng, nil, nil, nil, zap.NewNop().Sugar(), WithTokenSeen(func() time.Time { return seen }))

	w := get(t, srv, Prefix+"/health")
	require.Equal(t, http.StatusOK, w.Code)

	var got HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 3, got.QueueLen)
	require.NotNil(t, got.TokenSeenAt)
	assert.True(t, seen.Equal(*got.TokenSeenAt))
}

func TestHealth_OmitsTokenNeverSeen(t *testing.T) {
	srv := New(newFakeEngine(), nil, nil, nil, zap.NewNop().Sugar(), WithTokenSeen(func() time.Time { return time.Time{} }))

	w := get(t, srv, Prefix+"/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "token_seen_at")
	assert.Contains(t, w.Body.String(), `"queue_len":0`)
}
