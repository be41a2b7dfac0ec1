package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run reconciliation scenarios",
		Long: `Run scenario files against an in-process fake of the job API.

Each scenario drives the real engine, repository and transport through
job loads, saves, navigation and injected failures, then checks the
calls made, the reminders left behind and the statuses reported.

A scenario with a golden file under <scenarios-dir>/golden/ must also
match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  remsync test ./scenarios
  remsync test ./scenarios --filter "*debounce*"
  remsync test ./scenarios --update
  remsync test ./scenarios --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd.Context(), opts, args[0], newFormatter(rootOpts, cmd.OutOrStdout()))
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by file name glob")

	return cmd
}

func runTests(ctx context.Context, opts *TestOptions, dir string, out *OutputFormatter) error {
	if ctx == nil {
		ctx = context.Background()
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	if len(files) == 0 {
		return out.Success(result, "No scenarios found.")
	}

	for _, file := range files {
		sr := runScenario(ctx, file, opts, out)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	summary := fmt.Sprintf("%d passed, %d failed, %d total", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		_ = out.Error("SCENARIOS_FAILED", summary, result)
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return out.Success(result, summary)
}

// findScenarioFiles lists YAML files in dir whose base name, without
// extension, matches filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return errors.Wrap(err, "invalid filter pattern")
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func runScenario(ctx context.Context, file string, opts *TestOptions, out *OutputFormatter) ScenarioResult {
	fail := func(name string, errs ...string) ScenarioResult {
		if !out.JSON() {
			fmt.Fprintln(out.Writer, pterm.Red("✗ ")+name)
			for _, e := range errs {
				fmt.Fprintln(out.Writer, "  "+e)
			}
		}
		return ScenarioResult{Name: name, Errors: errs}
	}
	pass := func(name, note string) ScenarioResult {
		if !out.JSON() {
			fmt.Fprintln(out.Writer, pterm.Green("✓ ")+name+note)
		}
		return ScenarioResult{Name: name, Pass: true}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), fmt.Sprintf("load error: %v", err))
	}

	result, err := harness.Run(ctx, scenario)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("execution error: %v", err))
	}

	goldenPath := goldenFilePath(file)
	if opts.Update {
		if err := writeGolden(goldenPath, result); err != nil {
			return fail(scenario.Name, fmt.Sprintf("golden update error: %v", err))
		}
		if !result.Pass {
			return fail(scenario.Name, result.Errors...)
		}
		return pass(scenario.Name, " (golden updated)")
	}

	errs := append([]string(nil), result.Errors...)
	if want, err := os.ReadFile(goldenPath); err == nil {
		if string(want) != result.Summary() {
			errs = append(errs, "summary does not match golden file (run with --update to regenerate)")
		}
	} else if !os.IsNotExist(err) {
		errs = append(errs, fmt.Sprintf("golden read error: %v", err))
	}

	if len(errs) > 0 {
		return fail(scenario.Name, errs...)
	}
	return pass(scenario.Name, "")
}

// goldenFilePath returns the golden file path for a scenario file.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func writeGolden(path string, result *harness.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create golden directory")
	}
	if err := os.WriteFile(path, []byte(result.Summary()), 0o644); err != nil {
		return errors.Wrap(err, "write golden file")
	}
	return nil
}
