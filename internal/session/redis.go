package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/pipeline-web/internal/log"
	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

const (
	DefaultKeyPrefix = "sess:"
	// DefaultTTL applies when the cookie has no max age.
	DefaultTTL = 24 * time.Hour
)

// ErrStoreUnavailable wraps every failed round trip to Redis.
var ErrStoreUnavailable = errors.New("session store unavailable")

// RedisStore keeps each session as a JSON document under prefix+id with a
// TTL matching the cookie lifetime.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Get(ctx context.Context, id string) (map[string]any, bool, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		// a corrupt entry is treated as absent, the next save overwrites it
		return nil, false, nil
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, true, nil
}

func (s *RedisStore) Set(ctx context.Context, id string, values map[string]any, ttl time.Duration) error {
	if values == nil {
		values = map[string]any{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return xerrors.Wrapf(err, "encode session %s", id)
	}
	if err := s.client.Set(ctx, s.key(id), data, ttlOrDefault(ttl)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Touch resets the TTL. Touching an id that no longer exists is not an error.
func (s *RedisStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(id), ttlOrDefault(ttl)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Ping reports whether Redis answers, for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close releases the client if the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func unavailable(err error) error {
	return xerrors.WithStack(errors.Join(ErrStoreUnavailable, err))
}

type ConnectOptions struct {
	Addr     string
	Password string
	Prefix   string
	// Deadline bounds the whole connect loop. Each attempt is bounded by
	// AttemptTimeout.
	Deadline       time.Duration
	AttemptTimeout time.Duration
	Logger         log.Logger
}

// Connect opens a Redis client and retries a ping with exponential backoff
// until it answers or the deadline passes. The returned store owns the
// client and must be closed on shutdown.
func Connect(ctx context.Context, opts ConnectOptions) (*RedisStore, error) {
	if opts.Deadline <= 0 {
		opts.Deadline = 30 * time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 2 * time.Second
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DialTimeout:  opts.AttemptTimeout,
		ReadTimeout:  opts.AttemptTimeout,
		WriteTimeout: opts.AttemptTimeout,
	})
	store := NewRedisStore(client, opts.Prefix)
	store.owned = true

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pctx, cancel := context.WithTimeout(ctx, opts.AttemptTimeout)
		defer cancel()
		return struct{}{}, store.Ping(pctx)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(opts.Deadline),
		backoff.WithNotify(func(err error, next time.Duration) {
			L.Warn(ctx, "redis not ready, retrying", "addr", opts.Addr, "retry_in", next.String(), "error", err)
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, xerrors.Wrapf(err, "connect redis at %s", opts.Addr)
	}

	L.Info(ctx, "redis connected", "addr", opts.Addr)
	return store, nil
}
