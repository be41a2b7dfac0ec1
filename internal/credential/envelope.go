package credential

import (
	"context"
	"encoding/json"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/remsync/internal/errors"
)

// KV reads a single string value by key.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// Envelope reads a token out of a JSON envelope stored under Key,
// e.g. {"token":"CfDJ8..."}.
type Envelope struct {
	Store KV
	Key   string
	// Field names the envelope member holding the token; default "token".
	Field string
}

// Lookup implements Lookup.
func (e Envelope) Lookup(ctx context.Context) (string, bool, error) {
	raw, ok, err := e.Store.Get(ctx, e.Key)
	if err != nil || !ok {
		return "", false, err
	}

	var env map[string]any
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", false, errors.Wrapf(err, "credential envelope %q is not JSON", e.Key)
	}

	field := e.Field
	if field == "" {
		field = "token"
	}
	token, _ := env[field].(string)
	return token, token != "", nil
}

// FileKV reads keys from a JSON object file, typically an export of the
// host application's browser storage. String values are returned as-is;
// object values are returned re-encoded so an Envelope can parse them.
// The file is re-read on every Get.
type FileKV struct {
	Path string
}

// Get implements KV.
func (f FileKV) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "read %s", f.Path)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return "", false, errors.Wrapf(err, "parse %s", f.Path)
	}

	raw, ok := entries[key]
	if !ok || string(raw) == "null" {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true, nil
	}
	return string(raw), true, nil
}

// redisGetter is the part of *redis.Client that RedisKV uses.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisKV reads keys from redis, for deployments where a companion
// browser extension mirrors the host application's storage there.
type RedisKV struct {
	client redisGetter
}

// NewRedisKV creates a RedisKV over client.
func NewRedisKV(client redisGetter) *RedisKV {
	return &RedisKV{client: client}
}

// Get implements KV. A missing key is not an error.
func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}
