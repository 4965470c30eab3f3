package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror copies run results and checkpoints into Redis. Runs are
// indexed by sorted sets scored by save time.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures the mirror.
type RedisOption func(*RedisMirror)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(m *RedisMirror) {
		m.prefix = prefix
	}
}

// WithTTL expires mirrored entries. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(m *RedisMirror) {
		m.ttl = ttl
	}
}

// NewRedisMirror connects to the server at addr.
func NewRedisMirror(addr, password string, db int, opts ...RedisOption) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisMirrorFromClient(client, opts...)
}

// NewRedisMirrorFromClient wraps an existing client.
func NewRedisMirrorFromClient(client *redis.Client, opts ...RedisOption) *RedisMirror {
	m := &RedisMirror{
		client: client,
		prefix: "cropseg:",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ping checks the server is reachable.
func (m *RedisMirror) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func (m *RedisMirror) key(kind, ts string) string {
	return m.prefix + kind + ":" + ts
}

// SaveResults stores the encoded params and metrics of run ts.
func (m *RedisMirror) SaveResults(ctx context.Context, ts string, params, metrics []byte) error {
	score := float64(time.Now().UnixMicro())
	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.key("params", ts), params, m.ttl)
	pipe.Set(ctx, m.key("metrics", ts), metrics, m.ttl)
	pipe.ZAdd(ctx, m.prefix+"runs", redis.Z{Score: score, Member: ts})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror results to redis: %w", err)
	}
	return nil
}

// SaveModel stores an encoded checkpoint.
func (m *RedisMirror) SaveModel(ctx context.Context, ts string, checkpoint []byte) error {
	score := float64(time.Now().UnixMicro())
	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.key("model", ts), checkpoint, m.ttl)
	pipe.ZAdd(ctx, m.prefix+"models", redis.Z{Score: score, Member: ts})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror model to redis: %w", err)
	}
	return nil
}

// Runs lists mirrored run timestamps, oldest first.
func (m *RedisMirror) Runs(ctx context.Context) ([]string, error) {
	runs, err := m.client.ZRange(ctx, m.prefix+"runs", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Metrics returns the encoded metrics of run ts.
func (m *RedisMirror) Metrics(ctx context.Context, ts string) ([]byte, error) {
	data, err := m.client.Get(ctx, m.key("metrics", ts)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics %s: %w", ts, err)
	}
	return data, nil
}

// LatestModel returns the newest checkpoint and its timestamp. Index
// entries whose key has expired are pruned.
func (m *RedisMirror) LatestModel(ctx context.Context) ([]byte, string, error) {
	index := m.prefix + "models"
	for {
		latest, err := m.client.ZRevRange(ctx, index, 0, 0).Result()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read model index: %w", err)
		}
		if len(latest) == 0 {
			return nil, "", ErrNoModel
		}

		ts := latest[0]
		data, err := m.client.Get(ctx, m.key("model", ts)).Bytes()
		if errors.Is(err, redis.Nil) {
			if err := m.client.ZRem(ctx, index, ts).Err(); err != nil {
				return nil, "", fmt.Errorf("failed to prune model index: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to load model %s: %w", ts, err)
		}
		return data, ts, nil
	}
}
