package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/model"
)

const (
	// ProgressKeyPrefix is the key prefix for per-deed publish progress
	ProgressKeyPrefix = "progress:post:"

	// ProgressTTL bounds how long an abandoned progress entry lives
	ProgressTTL = time.Hour
)

// ProgressCache mirrors publish progress so clients can poll it while the
// publish request is in flight.
type ProgressCache interface {
	// Set stores the current stage and percent.
	// Uses pipeline: HSET + EXPIRE (refresh TTL)
	Set(ctx context.Context, postID, stage string, percent int) error

	// ResetAfter lets the entry expire after delay, so readers see zero
	// again once it lapses. Called on success and failure alike.
	ResetAfter(ctx context.Context, postID string, delay time.Duration) error

	// Get returns the stored progress, or zero percent when nothing is stored.
	Get(ctx context.Context, postID string) (*model.ProgressResponse, error)
}

// RedisProgressCache implements ProgressCache using Redis hashes.
type RedisProgressCache struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewProgressCache creates a new ProgressCache backed by Redis.
func NewProgressCache(client *redis.Client, log *logrus.Entry) *RedisProgressCache {
	return &RedisProgressCache{client: client, log: log}
}

func progressKey(postID string) string {
	return ProgressKeyPrefix + postID
}

func (c *RedisProgressCache) Set(ctx context.Context, postID, stage string, percent int) error {
	key := progressKey(postID)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, "stage", stage, "percent", percent)
	pipe.Expire(ctx, key, ProgressTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warnf("Set FAILED: post=%s stage=%s percent=%d err=%v", postID, stage, percent, err)
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

func (c *RedisProgressCache) ResetAfter(ctx context.Context, postID string, delay time.Duration) error {
	if delay <= 0 {
		delay = time.Millisecond
	}
	if err := c.client.PExpire(ctx, progressKey(postID), delay).Err(); err != nil {
		c.log.Warnf("ResetAfter FAILED: post=%s err=%v", postID, err)
		return fmt.Errorf("reset progress: %w", err)
	}
	return nil
}

func (c *RedisProgressCache) Get(ctx context.Context, postID string) (*model.ProgressResponse, error) {
	values, err := c.client.HGetAll(ctx, progressKey(postID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	resp := &model.ProgressResponse{PostID: postID, Stage: values["stage"]}
	if raw, ok := values["percent"]; ok {
		pct, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse progress percent %q: %w", raw, err)
		}
		resp.Percent = pct
	}
	return resp, nil
}
