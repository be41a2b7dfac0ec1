package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "testdata/scenarios"

func TestScenarios(t *testing.T) {
	scenarios, err := LoadDir(scenarioDir)
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "expectations failed:\n%s\n\n%s",
				strings.Join(result.Errors, "\n"), result.Summary())
		})
	}
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"01_create_reminder.yaml", "06_transport_exhausted.yaml"} {
		s, err := LoadScenario(filepath.Join(scenarioDir, name))
		require.NoError(t, err)
		t.Run(s.Name, func(t *testing.T) {
			RunWithGolden(t, s)
		})
	}
}

func TestRun_FailedExpectationsReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Expectations that cannot hold"
jobs:
  - { id: J-1, number: J0001 }
steps:
  - observe: J-1
expect:
  calls: [search, create]
  attempts: { search: 2 }
  reminders:
    - { job: J-1, due: "2025/06/10 00:00:00" }
  statuses:
    J-1: [checking, hasReminder]
  notifications: ["Service reminder created"]
  cycles: { ok: 5 }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	joined := strings.Join(result.Errors, "\n")
	for _, field := range []string{
		"expect.calls", "expect.attempts.search", "expect.reminders",
		"expect.statuses.J-1", "expect.notifications", "expect.cycles.ok",
	} {
		assert.Contains(t, joined, field)
	}
}

func TestRun_Trace(t *testing.T) {
	s, err := LoadScenario(filepath.Join(scenarioDir, "01_create_reminder.yaml"))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, TraceEvent{Step: 0, Kind: "observe", Detail: `J0042 due ""`}, result.Trace[0])
	assert.Equal(t, TraceEvent{Step: 1, Kind: "save", Detail: `J0042 = "2025-06-10"`}, result.Trace[1])
	assert.Equal(t, TraceEvent{Step: 2, Kind: "advance", Detail: "1s"}, result.Trace[2])
}

func TestRunDir(t *testing.T) {
	results, err := RunDir(context.Background(), scenarioDir)
	require.NoError(t, err)

	scenarios, err := LoadDir(scenarioDir)
	require.NoError(t, err)
	assert.Len(t, results, len(scenarios))
}
