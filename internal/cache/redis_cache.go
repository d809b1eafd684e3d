package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"wastedesk/backend/internal/domain"
)

const choiceKeyPrefix = "wastedesk:session-choices:"

type RedisChoiceCache struct {
	client *redis.Client
}

func NewRedisChoiceCache(addr string, password string, db int) *RedisChoiceCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisChoiceCache{client: client}
}

func (c *RedisChoiceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisChoiceCache) Close() error {
	return c.client.Close()
}

func (c *RedisChoiceCache) Get(ctx context.Context, sessionID int64) ([]domain.ProductChoice, bool, error) {
	val, err := c.client.Get(ctx, choiceKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var choices []domain.ProductChoice
	if err := json.Unmarshal([]byte(val), &choices); err != nil {
		return nil, false, err
	}
	return choices, true, nil
}

func (c *RedisChoiceCache) Set(ctx context.Context, sessionID int64, choices []domain.ProductChoice, ttl time.Duration) error {
	if choices == nil {
		choices = []domain.ProductChoice{}
	}
	payload, err := json.Marshal(choices)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, choiceKey(sessionID), payload, ttl).Err()
}

func choiceKey(sessionID int64) string {
	return fmt.Sprintf("%s%d", choiceKeyPrefix, sessionID)
}
