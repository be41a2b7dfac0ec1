package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/errors"
)

const pushTimeout = 2 * time.Second

// redisPusher is the part of a redis client RedisNotifier uses.
type redisPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisNotifier pushes notifications as JSON onto a redis list, for an
// external dispatcher to pop. Statuses are not forwarded.
type RedisNotifier struct {
	client redisPusher
	key    string
	logger *zap.SugaredLogger
}

// NewRedisNotifier creates a notifier pushing onto list key.
func NewRedisNotifier(client redisPusher, key string, logger *zap.SugaredLogger) *RedisNotifier {
	return &RedisNotifier{client: client, key: key, logger: logger}
}

func (r *RedisNotifier) SetStatus(string, Status) {}

// Notify enqueues n. Failures are logged, never returned.
func (r *RedisNotifier) Notify(n Notification) {
	if err := r.Push(context.Background(), n); err != nil {
		r.logger.Warnw("notification not queued", "job", n.JobNumber, "error", err)
	}
}

// Push enqueues n and reports the outcome.
func (r *RedisNotifier) Push(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "encode notification")
	}
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := r.client.LPush(ctx, r.key, data).Err(); err != nil {
		return errors.Wrapf(err, "lpush %s", r.key)
	}
	return nil
}
