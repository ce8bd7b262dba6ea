package devices

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence:"

// RedisPresence stores device liveness as TTL'd keys so a crashed device
// drops offline without a sweep.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func (p *RedisPresence) Touch(ctx context.Context, deviceID string) error {
	return p.client.Set(ctx, presenceKeyPrefix+deviceID, "1", StalenessThreshold).Err()
}

func (p *RedisPresence) Alive(ctx context.Context, deviceID string) (bool, error) {
	_, err := p.client.Get(ctx, presenceKeyPrefix+deviceID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
