package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/remsync/internal/config"
	"github.com/roach88/remsync/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Config loads configuration once per invocation.
func (o *RootOptions) Config() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.Verbose {
		cfg.Log.Verbose = true
	}
	o.cfg = cfg
	return cfg, nil
}

// NewRootCommand creates the root command for the remsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "remsync",
		Short: "remsync - service reminder reconciliation agent",
		Long: `remsync keeps one service reminder per job in step with the job's
service due date.

It sits in front of the job management application as a reverse proxy,
watches job loads and saves, and creates, moves, or deletes the job's
service reminder through the application's own API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			return logger.Initialize(logger.Options{
				JSON:    cfg.Log.JSON || opts.Format == "json",
				Verbose: cfg.Log.Verbose,
				Output:  cmd.ErrOrStderr(),
			})
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ./remsync.toml or ~/.config/remsync/remsync.toml)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
