package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/remsync/internal/engine"
	"github.com/roach88/remsync/internal/remote"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	JobID string
}

// SearchResult is the JSON payload of the search command.
type SearchResult struct {
	JobNumber string           `json:"job_number"`
	JobID     string           `json:"job_id"`
	Found     bool             `json:"found"`
	Reminder  *remote.Reminder `json:"reminder,omitempty"`
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <job-number>",
		Short: "Look up a job's service reminder",
		Long: `Search the reminder list the way a reconciliation cycle does.

The API matches the job number as free text, so --job-id is required to
pick the reminder that actually belongs to the job.

Examples:
  remsync search J0042 --job-id 3fa85f64-5717-4562-b3fc-2c963f66afa6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), opts, args[0], newFormatter(rootOpts, cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVar(&opts.JobID, "job-id", "", "source job ID the reminder must belong to")
	_ = cmd.MarkFlagRequired("job-id")

	return cmd
}

func runSearch(ctx context.Context, opts *SearchOptions, jobNumber string, out *OutputFormatter) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	c, err := assemble(cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	found, err := c.repo.Search(ctx, jobNumber, opts.JobID)
	if err != nil {
		ce := engine.NewCycleError(opts.JobID, "", err)
		_ = out.Error(string(ce.Code), ce.Message, nil)
		return WrapExitError(ExitFailure, "search failed", err)
	}

	result := SearchResult{JobNumber: jobNumber, JobID: opts.JobID, Found: found != nil, Reminder: found}
	if found == nil {
		return out.Success(result, fmt.Sprintf("job %s has no service reminder", jobNumber))
	}
	return out.Success(result, fmt.Sprintf("job %s: %s due %s", jobNumber, found.ServiceReminderNumber, found.DueDate))
}
