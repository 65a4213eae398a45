package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis — хранилище сессий в Redis (общее для нескольких узлов).
// Сессия хранится как Hash с полями: code, exh, start (unix millis).
type Redis struct {
	rdb *redis.Client
}

// NewRedis создаёт клиент из URL (например, redis://:pass@host:6379/0).
func NewRedis(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{rdb: rdb}, nil
}

// NewRedisWithClient оборачивает готовый клиент.
func NewRedisWithClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Get(ctx context.Context, clientID string) (*Session, error) {
	m, err := r.rdb.HGetAll(ctx, key(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}

	if len(m) == 0 {
		return nil, ErrNotFound
	}

	ms, err := strconv.ParseInt(m["start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}

	return &Session{
		PickupCode:   m["code"],
		ExhibitionID: m["exh"],
		StartTime:    time.UnixMilli(ms).UTC(),
	}, nil
}

func (r *Redis) Put(ctx context.Context, clientID string, s Session, ttl time.Duration) error {
	kv := map[string]string{
		"code":  s.PickupCode,
		"exh":   s.ExhibitionID,
		"start": strconv.FormatInt(s.StartTime.UnixMilli(), 10),
	}

	k := key(clientID)

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, kv)
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put session: %w", err)
	}

	return nil
}

func (r *Redis) Delete(ctx context.Context, clientID string) error {
	if err := r.rdb.Del(ctx, key(clientID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
