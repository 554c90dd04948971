package macro

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is the macro cache consumed by the planner and written by the run
// loop. Absence is a normal outcome, not an error: implementations must
// degrade to "absent" when the backing store is unreachable so the agent
// keeps running statelessly.
type Store interface {
	Get(ctx context.Context, domain, intent, fp string) (Macro, bool)
	Set(ctx context.Context, domain, intent, fp string, m Macro)
	Stats() Stats
}

// RedisStore keeps macros in Redis with a fixed TTL per write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// Config mirrors the connection options the CLI exposes.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects to Redis. An unreachable server is logged but not
// fatal: the store stays usable and simply reports every key as absent
// until the backend comes back.
func NewRedis(cfg Config, logger zerolog.Logger) *RedisStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("macro store unreachable, running without learning")
	} else {
		logger.Info().Str("addr", cfg.Addr).Dur("ttl", cfg.TTL).Msg("macro store connected")
	}
	return &RedisStore{client: client, ttl: cfg.TTL, logger: logger}
}

func (s *RedisStore) Get(ctx context.Context, domain, intent, fp string) (Macro, bool) {
	key := Key(domain, intent, fp)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		s.misses.Add(1)
		return Macro{}, false
	}
	if err != nil {
		s.errs.Add(1)
		s.misses.Add(1)
		s.logger.Debug().Err(err).Str("key", key).Msg("macro get failed, treating as absent")
		return Macro{}, false
	}
	var m Macro
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		s.errs.Add(1)
		s.misses.Add(1)
		s.logger.Warn().Err(err).Str("key", key).Msg("macro payload corrupt, treating as absent")
		return Macro{}, false
	}
	s.hits.Add(1)
	return m, true
}

// Set unconditionally overwrites the key and resets its TTL. Best-effort:
// a failed write is logged and dropped.
func (s *RedisStore) Set(ctx context.Context, domain, intent, fp string, m Macro) {
	key := Key(domain, intent, fp)
	data, err := json.Marshal(m)
	if err != nil {
		s.errs.Add(1)
		s.logger.Warn().Err(err).Str("key", key).Msg("macro marshal failed")
		return
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.errs.Add(1)
		s.logger.Debug().Err(err).Str("key", key).Msg("macro set failed, dropped")
	}
}

func (s *RedisStore) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Errors: s.errs.Load()}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Disabled returns a store that never learns and never hits. Used when the
// deployment runs cold-only or without a Redis endpoint.
func Disabled() Store { return disabledStore{} }

type disabledStore struct{}

func (disabledStore) Get(context.Context, string, string, string) (Macro, bool) {
	return Macro{}, false
}
func (disabledStore) Set(context.Context, string, string, string, Macro) {}
func (disabledStore) Stats() Stats                                       { return Stats{} }
