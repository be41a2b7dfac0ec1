// Package credential acquires the short-lived session token every remote
// call needs.
//
// The token is owned by the host application. The agent only reads it:
// from the application's own outgoing requests (Captured), from a
// key-value location holding a JSON envelope (Envelope over FileKV or
// RedisKV), or from an operator-supplied value (Static). Callers acquire
// immediately before each logical operation and never cache the result,
// since the host may rotate the token at any time.
package credential

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/logger"
)

// ErrUnavailable is returned when no token appears within the maximum wait.
var ErrUnavailable = errors.New("credential unavailable")

// Defaults for Source.
const (
	DefaultInterval = 250 * time.Millisecond
	DefaultMaxWait  = 10 * time.Second
)

// Acquirer yields a token for one logical operation.
type Acquirer interface {
	Acquire(ctx context.Context) (string, error)
}

// Lookup reads a token once without waiting.
type Lookup interface {
	Lookup(ctx context.Context) (token string, ok bool, err error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context) (string, bool, error)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context) (string, bool, error) {
	return f(ctx)
}

// Source polls its lookups in order until one yields a token.
type Source struct {
	lookups  []Lookup
	interval time.Duration
	maxWait  time.Duration
	logger   *zap.SugaredLogger
}

// Option configures a Source.
type Option func(*Source)

// WithInterval sets the pause between polling rounds.
func WithInterval(d time.Duration) Option {
	return func(s *Source) { s.interval = d }
}

// WithMaxWait bounds the total time Acquire may wait.
func WithMaxWait(d time.Duration) Option {
	return func(s *Source) { s.maxWait = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Source) { s.logger = l }
}

// NewSource creates a Source trying lookups in the given order.
func NewSource(lookups []Lookup, opts ...Option) *Source {
	s := &Source{
		lookups:  lookups,
		interval: DefaultInterval,
		maxWait:  DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named(nil, "credential")
	}
	return s
}

// Acquire returns the first non-empty token, polling every interval until
// maxWait elapses. Lookup errors are logged and treated as "not yet".
func (s *Source) Acquire(ctx context.Context) (string, error) {
	deadline := time.NewTimer(s.maxWait)
	defer deadline.Stop()

	for round := 1; ; round++ {
		if token, ok := s.lookupOnce(ctx); ok {
			if round > 1 {
				s.logger.Debugw("credential acquired after waiting", "rounds", round)
			}
			return token, nil
		}

		pause := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			pause.Stop()
			return "", errors.Mark(errors.Wrap(ctx.Err(), "waiting for credential"), ErrUnavailable)
		case <-deadline.C:
			pause.Stop()
			return "", errors.WithHint(
				errors.Wrapf(ErrUnavailable, "no token after %s", s.maxWait),
				"load any job page so the host application sends its token through the proxy",
			)
		case <-pause.C:
		}
	}
}

func (s *Source) lookupOnce(ctx context.Context) (string, bool) {
	for _, l := range s.lookups {
		token, ok, err := l.Lookup(ctx)
		if err != nil {
			s.logger.Debugw("credential lookup failed", "error", err)
			continue
		}
		token = strings.TrimSpace(token)
		if ok && token != "" {
			return token, true
		}
	}
	return "", false
}

// Static is a fixed, operator-supplied token. Empty means absent.
type Static string

// Lookup implements Lookup.
func (s Static) Lookup(context.Context) (string, bool, error) {
	return string(s), s != "", nil
}
