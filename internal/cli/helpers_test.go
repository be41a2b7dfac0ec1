package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"
)

func init() {
	pterm.DisableColor()
}

// writeConfig writes a TOML config pointing the API at apiBase.
func writeConfig(t *testing.T, apiBase, token string) string {
	t.Helper()
	body := fmt.Sprintf(`[remote]
api_base = %q

[transport]
max_attempts = 1
base_delay = "0s"

[credential]
token = %q
max_wait = "100ms"
interval = "10ms"

[engine]
settle = "0s"
location = "UTC"
`, apiBase, token)
	path := filepath.Join(t.TempDir(), "remsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}
