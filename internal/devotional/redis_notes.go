package devotional

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quiet-time/quiet-time/internal/config"
)

const notesKeyPrefix = "quiet-time:notes:"

// redisNotes 是可选的 Redis 后端，适合把笔记放进已有的本地 Redis 实例。
type redisNotes struct {
	client *redis.Client
}

func newRedisNotes(cfg config.NotesConfig) (*redisNotes, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &redisNotes{client: client}, nil
}

func (n *redisNotes) Get(ctx context.Context, date string) (string, error) {
	if err := ValidateNoteDate(date); err != nil {
		return "", err
	}
	text, err := n.client.Get(ctx, notesKeyPrefix+date).Result()
	if err == redis.Nil {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return text, nil
}

func (n *redisNotes) Set(ctx context.Context, date, text string) error {
	if err := ValidateNoteDate(date); err != nil {
		return err
	}
	// 笔记不设 TTL：离线应用的数据只由用户覆盖，不会过期。
	if err := n.client.Set(ctx, notesKeyPrefix+date, text, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
