package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore 以单个 hash 保存目录：field 为房间 ID，value 为 JSON
type redisStore struct {
	client redis.UniversalClient
	key    string
}

// newRedisStore 创建 Redis 存储
func newRedisStore(cfg *RedisConfig) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	return &redisStore{client: client, key: cfg.Key}, nil
}

func (r *redisStore) Put(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if err := r.client.HSet(ctx, r.key, e.RoomID, data).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrOperation, err)
	}
	return nil
}

func (r *redisStore) Get(ctx context.Context, roomID string) (Entry, error) {
	data, err := r.client.HGet(ctx, r.key, roomID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("%w: %w", ErrOperation, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return e, nil
}

func (r *redisStore) Delete(ctx context.Context, roomID string) error {
	if err := r.client.HDel(ctx, r.key, roomID).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrOperation, err)
	}
	return nil
}

func (r *redisStore) List(ctx context.Context) ([]Entry, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOperation, err)
	}

	out := make([]Entry, 0, len(fields))
	for _, raw := range fields {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *redisStore) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrOperation, err)
	}
	return nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
