package cli

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/config"
	"github.com/roach88/remsync/internal/credential"
	"github.com/roach88/remsync/internal/engine"
	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/logger"
	"github.com/roach88/remsync/internal/reminder"
	"github.com/roach88/remsync/internal/status"
	"github.com/roach88/remsync/internal/store"
	"github.com/roach88/remsync/internal/transport"
)

// components is the assembled agent. serve uses all of it; the one-shot
// commands use the repository and, for reconcile, the engine.
type components struct {
	cfg      *config.Config
	captured *credential.Captured
	creds    *credential.Source
	client   *transport.Client
	repo     *reminder.Repository
	journal  *store.Store
	hub      *status.Hub
	engine   *engine.Engine
	closers  []func() error
}

// assemble builds components from cfg. withCapture adds the token lookup
// fed by the proxy; sinks are appended to the log sink.
func assemble(cfg *config.Config, withCapture bool, sinks ...status.Sink) (*components, error) {
	log := logger.Logger
	c := &components{cfg: cfg}

	var lookups []credential.Lookup
	if withCapture {
		c.captured = credential.NewCaptured()
		lookups = append(lookups, c.captured)
	}
	lookups = append(lookups, c.credentialLookups()...)
	if len(lookups) == 0 {
		return nil, NewExitError(ExitCommandError,
			"no credential source configured: set credential.token, credential.file, or credential.redis_addr")
	}
	c.creds = credential.NewSource(lookups,
		credential.WithInterval(cfg.Credential.Interval),
		credential.WithMaxWait(cfg.Credential.MaxWait),
		credential.WithLogger(logger.Named(log, "credential")),
	)

	topts := []transport.Option{
		transport.WithTimeout(cfg.Transport.Timeout),
		transport.WithRetry(cfg.Transport.MaxAttempts, cfg.Transport.BaseDelay),
		transport.WithAPIVersion(cfg.Remote.ClientAPIVersion),
		transport.WithLogger(logger.Named(log, "transport")),
	}
	if cfg.Transport.RatePerSecond > 0 {
		topts = append(topts, transport.WithRateLimit(cfg.Transport.RatePerSecond, cfg.Transport.Burst))
	}
	c.client = transport.New(cfg.Remote.APIBase, topts...)

	c.repo = reminder.New(c.client, c.creds, reminder.Settings{
		Description:   cfg.Remote.Description,
		CreatedBy:     cfg.Remote.CreatedBy,
		TenantID:      cfg.Remote.TenantID,
		EmailSendMode: cfg.Remote.EmailSendMode,
	}, reminder.WithLogger(logger.Named(log, "reminder")))

	journal, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	c.journal = journal
	c.closers = append(c.closers, journal.Close)

	all := status.Multi{status.LogSink{Logger: logger.Named(log, "status")}}
	all = append(all, sinks...)
	if cfg.Notify.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Notify.RedisAddr})
		c.closers = append(c.closers, client.Close)
		all = append(all, status.NewRedisNotifier(client, cfg.Notify.RedisList, logger.Named(log, "notify")))
	}

	loc, err := cfg.Engine.LoadLocation()
	if err != nil {
		c.Close()
		return nil, WrapExitError(ExitCommandError, "invalid engine.location", err)
	}
	c.engine = engine.New(c.repo, all,
		engine.WithDebounce(cfg.Engine.Debounce),
		engine.WithSettle(cfg.Engine.Settle),
		engine.WithJobFetchWait(cfg.Engine.JobFetchWait),
		engine.WithCycleTimeout(cfg.Engine.CycleTimeout),
		engine.WithDateLayouts(cfg.Engine.DateLayouts),
		engine.WithLocation(loc),
		engine.WithJournal(journal),
		engine.WithAppURL(cfg.Remote.AppURL),
		engine.WithLogger(logger.Named(log, "engine")),
	)
	return c, nil
}

// credentialLookups lists the configured token sources in priority order:
// static token, envelope file, redis envelope.
func (c *components) credentialLookups() []credential.Lookup {
	cc := c.cfg.Credential
	var lookups []credential.Lookup
	if cc.Token != "" {
		lookups = append(lookups, credential.Static(cc.Token))
	}
	if cc.File != "" {
		lookups = append(lookups, credential.Envelope{
			Store: credential.FileKV{Path: cc.File},
			Key:   cc.FileKey,
			Field: cc.EnvelopeField,
		})
	}
	if cc.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cc.RedisAddr})
		c.closers = append(c.closers, client.Close)
		lookups = append(lookups, credential.Envelope{
			Store: credential.NewRedisKV(client),
			Key:   cc.RedisKey,
			Field: cc.EnvelopeField,
		})
	}
	return lookups
}

// Close releases the journal and redis clients.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if len(errs) > 0 {
		return errors.Wrap(errs[0], "close")
	}
	return nil
}

func named(name string) *zap.SugaredLogger {
	return logger.Named(nil, name)
}
