package cli

import (
	"context"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/remsync/internal/server"
	"github.com/roach88/remsync/internal/status"
	"github.com/roach88/remsync/internal/tap"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Upstream string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the intercepting proxy and reconciliation engine",
		Long: `Run the reverse proxy in front of the job management application.

Point the browser at the listen address. Job loads and saves passing
through the proxy drive reconciliation; the session token is captured
from the application's own requests.

Admin endpoints live under /_remsync/: status, journal, navigate, ws.

Examples:
  remsync serve
  remsync serve --listen 127.0.0.1:9000 --upstream https://go.tradifyhq.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides proxy.listen)")
	cmd.Flags().StringVar(&opts.Upstream, "upstream", "", "upstream application URL (overrides proxy.upstream)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	listen := cfg.Proxy.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}
	upstreamRaw := cfg.Proxy.Upstream
	if opts.Upstream != "" {
		upstreamRaw = opts.Upstream
	}
	upstream, err := url.Parse(upstreamRaw)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return NewExitError(ExitCommandError, "invalid upstream URL "+upstreamRaw)
	}

	hub := status.NewHub(named("hub"))
	defer hub.Close()

	c, err := assemble(cfg, true, hub)
	if err != nil {
		return err
	}
	defer c.Close()

	t := tap.New(nil, c.engine, c.captured, named("tap"))
	srv := server.New(c.engine, c.journal, hub, tap.NewProxy(upstream, t), named("server"),
		server.WithTokenSeen(c.captured.SeenAt))

	named("serve").Infow("starting", "listen", listen, "upstream", upstream.String(), "api", cfg.Remote.APIBase)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = c.engine.Run(ctx)
	}()

	err = srv.ListenAndServe(ctx, listen)
	cancel()
	<-engineDone
	if err != nil {
		return WrapExitError(ExitFailure, "serve failed", err)
	}
	return nil
}
