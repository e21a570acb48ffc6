package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/altheaworks/queryflow/types"
)

// RedisStore is a Redis-backed Store for distributed deployments.
// Each session maps to a Redis LIST of JSON-encoded checkpoints plus a
// counter key providing the monotonic per-session sequence.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreConfig configures the Redis checkpoint store.
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// NewRedisStore connects to Redis and returns a checkpoint store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "queryflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: prefix + "ckpt:",
	}, nil
}

// NewRedisStoreFromClient wraps an existing client, primarily for tests.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "queryflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "ckpt:"}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks store health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) logKey(sessionID string) string {
	return s.keyPrefix + "log:" + sessionID
}

func (s *RedisStore) seqKey(sessionID string) string {
	return s.keyPrefix + "seq:" + sessionID
}

// Save appends a checkpoint to the session's list.
func (s *RedisStore) Save(ctx context.Context, sessionID string, state *types.AgentState, step string) (string, error) {
	if sessionID == "" || state == nil {
		return "", ErrInvalidInput
	}

	seq, err := s.client.Incr(ctx, s.seqKey(sessionID)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate checkpoint seq: %w", err)
	}

	cp := &Checkpoint{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Step:      step,
		Seq:       seq,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := s.client.RPush(ctx, s.logKey(sessionID), data).Err(); err != nil {
		return "", fmt.Errorf("failed to append checkpoint: %w", err)
	}
	return cp.ID, nil
}

// LoadLatest returns the last element of the session's list.
func (s *RedisStore) LoadLatest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	data, err := s.client.LIndex(ctx, s.logKey(sessionID), -1).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return unmarshalCheckpoint([]byte(data))
}

// List returns checkpoints most recent first.
func (s *RedisStore) List(ctx context.Context, sessionID string, limit int) ([]*Checkpoint, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	values, err := s.client.LRange(ctx, s.logKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	// LRange returns oldest first; reverse to most recent first.
	out := make([]*Checkpoint, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		cp, err := unmarshalCheckpoint([]byte(values[i]))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// DeleteAll removes the session's list and sequence counter.
func (s *RedisStore) DeleteAll(ctx context.Context, sessionID string) (int, error) {
	n, err := s.client.LLen(ctx, s.logKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count checkpoints: %w", err)
	}

	if err := s.client.Del(ctx, s.logKey(sessionID), s.seqKey(sessionID)).Err(); err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return int(n), nil
}

func unmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
