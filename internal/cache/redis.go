package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/logger"
)

// RedisStore keeps field groups in hashes, reference lists in lists and
// memberships in sets. A batch runs inside one MULTI/EXEC transaction.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions holds connection settings for a RedisStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedis connects to Redis and verifies the connection
func OpenRedis(ctx context.Context, opts RedisOptions, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	logger.Get().Debug("Connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return NewRedisStore(client, ttl), nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Write issues the batch as one transactional pipeline
func (s *RedisStore) Write(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, o := range b.ops {
			switch o.kind {
			case opPutFields:
				if len(o.fields) == 0 {
					continue
				}
				args := make([]interface{}, 0, 2*len(o.fields))
				for k, v := range o.fields {
					args = append(args, k, v)
				}
				pipe.HSet(ctx, o.key, args...)
				pipe.Expire(ctx, o.key, s.ttl)

			case opReplaceList:
				pipe.Del(ctx, o.key)
				if len(o.values) == 0 {
					continue
				}
				pipe.RPush(ctx, o.key, toArgs(o.values)...)
				pipe.Expire(ctx, o.key, s.ttl)

			case opReplaceMembers, opAddMembers:
				if o.kind == opReplaceMembers {
					pipe.Del(ctx, o.key)
				}
				if len(o.values) == 0 {
					continue
				}
				pipe.SAdd(ctx, o.key, toArgs(o.values)...)
				pipe.Expire(ctx, o.key, s.ttl)

			case opDeleteFields:
				if len(o.values) > 0 {
					pipe.HDel(ctx, o.key, o.values...)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis batch failed: %w", err)
	}
	return nil
}

// Fields reads the requested hash fields, skipping absent ones
func (s *RedisStore) Fields(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	if len(fields) == 0 {
		return out, nil
	}

	vals, err := s.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET %s: %w", key, err)
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[fields[i]] = str
		}
	}
	return out, nil
}

// List returns the full list at key
func (s *RedisStore) List(ctx context.Context, key string) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE %s: %w", key, err)
	}
	return vals, nil
}

// Members returns the set at key
func (s *RedisStore) Members(ctx context.Context, key string) ([]string, error) {
	vals, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %s: %w", key, err)
	}
	return vals, nil
}

// Exists reports whether key is present
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS %s: %w", key, err)
	}
	return n > 0, nil
}

// TTL returns the expiration window
func (s *RedisStore) TTL() time.Duration {
	return s.ttl
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
