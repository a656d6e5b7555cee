package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"docchat/internal/model"
)

// RedisHistory stores each session as a redis list of JSON turns that expires after ttl
// without activity.
type RedisHistory struct {
	client   *redisv9.Client
	maxTurns int
	ttl      time.Duration
}

func NewRedisHistory(client *redisv9.Client, maxTurns int, ttl time.Duration) *RedisHistory {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisHistory{client: client, maxTurns: maxTurns, ttl: ttl}
}

func (h *RedisHistory) Get(ctx context.Context, key string) ([]model.Turn, error) {
	raw, err := h.client.LRange(ctx, key, 0, -1).Result()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get history failed: %w", err)
	}

	turns := make([]model.Turn, 0, len(raw))
	for _, item := range raw {
		var turn model.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("unmarshal cached turn failed: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (h *RedisHistory) Append(ctx context.Context, key string, turns ...model.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		payload, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal turn failed: %w", err)
		}
		values = append(values, payload)
	}

	pipe := h.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-h.maxTurns), -1)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append history failed: %w", err)
	}
	return nil
}

func (h *RedisHistory) Clear(ctx context.Context, key string) error {
	if err := h.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}
