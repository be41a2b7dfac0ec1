package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/remsync/internal/engine"
	"github.com/roach88/remsync/internal/remote"
)

// ReconcileResult is the JSON payload of the reconcile command.
type ReconcileResult struct {
	CycleID    string           `json:"cycle_id"`
	JobID      string           `json:"job_id"`
	JobNumber  string           `json:"job_number"`
	Value      string           `json:"value"`
	Action     string           `json:"action"`
	Outcome    string           `json:"outcome"`
	Validation string           `json:"validation,omitempty"`
	Reminder   *remote.Reminder `json:"reminder,omitempty"`
	Summary    string           `json:"summary"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <job-id>",
		Short: "Reconcile one job's reminder now",
		Long: `Load the job from the API and apply its current service due date:
create, move, or delete its service reminder as needed.

Needs a credential from credential.token, credential.file, or
credential.redis_addr; there is no proxy to capture one from.

Exit codes:
  0 - Reconciled (including "nothing to do")
  1 - The cycle failed
  2 - Command error

Examples:
  remsync reconcile 3fa85f64-5717-4562-b3fc-2c963f66afa6
  REMSYNC_CREDENTIAL_TOKEN=... remsync reconcile <job-id> --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), rootOpts, args[0], newFormatter(rootOpts, cmd.OutOrStdout()))
		},
	}
	return cmd
}

func runReconcile(ctx context.Context, opts *RootOptions, jobID string, out *OutputFormatter) error {
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

	rep, err := c.engine.ReconcileNow(ctx, jobID)
	result := reconcileResult(rep)
	if err != nil {
		code := "INTERNAL"
		if rep.Err != nil {
			code = string(rep.Err.Code)
		}
		_ = out.Error(code, rep.Summary(), result)
		if engine.IsCredentialError(err) {
			return WrapExitError(ExitFailure, "reconcile failed: no session token available from the configured credential sources", err)
		}
		return WrapExitError(ExitFailure, "reconcile failed", err)
	}
	return out.Success(result, rep.Summary())
}

func reconcileResult(rep engine.Report) ReconcileResult {
	r := ReconcileResult{
		CycleID:   rep.CycleID,
		JobID:     rep.JobID,
		JobNumber: rep.JobNumber,
		Value:     rep.Value,
		Action:    string(rep.Action),
		Outcome:   rep.Outcome(),
		Reminder:  rep.After,
		Summary:   rep.Summary(),
	}
	if rep.Validation != nil {
		r.Validation = string(rep.Validation.Kind)
	}
	return r
}
