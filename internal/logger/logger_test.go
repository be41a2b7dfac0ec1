package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{JSON: true, Output: &buf})
	require.NoError(t, err)

	l.Infow("reminder created", "job", "J-100")
	require.NoError(t, l.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "reminder created", entry["msg"])
	assert.Equal(t, "J-100", entry["job"])
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	var quiet, loud bytes.Buffer

	q, err := New(Options{Output: &quiet})
	require.NoError(t, err)
	q.Debug("hidden")

	l, err := New(Options{Verbose: true, Output: &loud})
	require.NoError(t, err)
	l.Debug("shown")

	assert.Empty(t, quiet.String())
	assert.True(t, strings.Contains(loud.String(), "shown"))
}

func TestInitialize_ReplacesGlobal(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev; JSONOutput = false })

	var buf bytes.Buffer
	require.NoError(t, Initialize(Options{JSON: true, Output: &buf}))

	assert.True(t, JSONOutput)
	Named(nil, "engine").Info("hello")
	assert.Contains(t, buf.String(), `"logger":"engine"`)
}
