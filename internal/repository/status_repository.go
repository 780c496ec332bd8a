package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pai-tutor-go/pkg/eduapi"

	"github.com/go-redis/redis/v8"
)

// StatusRepository 缓存 GET /ai/status 的结果。状态只作提示用，不参与配额判断。
type StatusRepository interface {
	Get(ctx context.Context, userID uint) (*eduapi.Status, error)
	Set(ctx context.Context, userID uint, status *eduapi.Status, ttl time.Duration) error
}

type redisStatusRepository struct {
	redisClient *redis.Client
}

// NewStatusRepository 创建一个新的 StatusRepository 实例。
func NewStatusRepository(redisClient *redis.Client) StatusRepository {
	return &redisStatusRepository{redisClient: redisClient}
}

func statusKey(userID uint) string {
	return fmt.Sprintf("tutor:status:%d", userID)
}

// Get 读取缓存的状态，未命中时返回 (nil, nil)。
func (r *redisStatusRepository) Get(ctx context.Context, userID uint) (*eduapi.Status, error) {
	data, err := r.redisClient.Get(ctx, statusKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ai status: %w", err)
	}
	var status eduapi.Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ai status: %w", err)
	}
	return &status, nil
}

// Set 写入状态缓存。
func (r *redisStatusRepository) Set(ctx context.Context, userID uint, status *eduapi.Status, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal ai status: %w", err)
	}
	if err := r.redisClient.Set(ctx, statusKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ai status: %w", err)
	}
	return nil
}
