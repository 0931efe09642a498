package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher defines the interface for publishing events to a stream.
type Publisher interface {
	// Publish adds an event to the specified stream.
	// Returns the message ID assigned by Redis.
	Publish(ctx context.Context, stream string, event DeedEvent) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client *redis.Client
	maxLen int64
	log    *logrus.Entry
}

// NewPublisher creates a new Publisher backed by Redis Streams. Streams are
// trimmed to roughly maxLen entries; 0 disables trimming.
func NewPublisher(client *redis.Client, maxLen int64, log *logrus.Entry) *RedisPublisher {
	return &RedisPublisher{client: client, maxLen: maxLen, log: log}
}

// Publish adds an event to the stream using XADD.
// Uses "*" for auto-generated message ID (timestamp-sequence).
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event DeedEvent) (string, error) {
	startTime := time.Now()

	values, err := event.ToMap()
	if err != nil {
		p.log.Errorf("Publish FAILED: stream=%s type=%s err=%v", stream, event.Type, err)
		return "", fmt.Errorf("serialize event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	messageID, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.log.Errorf("Publish FAILED: stream=%s type=%s post=%s err=%v", stream, event.Type, event.PostID, err)
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	p.log.Infof("Publish OK: stream=%s type=%s post=%s msgID=%s duration=%v",
		stream, event.Type, event.PostID, messageID, time.Since(startTime))
	return messageID, nil
}
