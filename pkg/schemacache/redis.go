package schemacache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// RedisConfig - подключение к Redis-бэкенду кэша схемы
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Redis - разделяемый между процессами кэш метаданных схемы.
// Все ошибки Redis логируются и превращаются в промах кэша.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

var _ Cache = (*Redis)(nil)

// NewRedis создает Redis-бэкенд кэша схемы
func NewRedis(cfg RedisConfig, log zerolog.Logger) *Redis {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{client: client, ttl: ttl, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) ([]string, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn().Err(err).Str("key", key).Msg("schema cache read failed, falling back to direct query")
		}
		return nil, false
	}
	var values []string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("schema cache entry is not decodable, dropping it")
		r.client.Del(ctx, key)
		return nil, false
	}
	return values, true
}

func (r *Redis) Put(ctx context.Context, key string, values []string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	raw, err := yaml.Marshal(values)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("failed to encode schema cache entry")
		return
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("schema cache write failed")
	}
}

func (r *Redis) Invalidate(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("schema cache invalidation failed")
	}
}

func (r *Redis) InvalidateTable(ctx context.Context, dialect, database, table string) {
	pattern := tablePrefix(dialect, database, table) + "*"
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		r.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.log.Warn().Err(err).Str("pattern", pattern).Msg("schema cache table invalidation failed")
	}
}

// Close закрывает соединение с Redis
func (r *Redis) Close() error {
	return r.client.Close()
}
