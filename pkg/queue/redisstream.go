package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// RedisStreams implements Broker on top of Redis Streams with consumer groups.
// XADD publishes, XREADGROUP consumes, XACK acknowledges; entries left pending
// by a dead worker are recovered with XAUTOCLAIM.
type RedisStreams struct {
	rdb *redis.Client
}

func NewRedisStreams(rdb *redis.Client) *RedisStreams {
	return &RedisStreams{rdb: rdb}
}

// EnsureGroup creates the consumer group for a stream if it does not exist yet.
func (b *RedisStreams) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (b *RedisStreams) Publish(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (b *RedisStreams) Consume(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Delivery, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}
	var out []Delivery
	for _, s := range res {
		for _, msg := range s.Messages {
			out = append(out, toDelivery(msg))
		}
	}
	return out, nil
}

func (b *RedisStreams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return b.rdb.XAck(ctx, stream, group, ids...).Err()
}

func (b *RedisStreams) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Delivery, error) {
	msgs, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    int64(count),
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xautoclaim %s: %w", stream, err)
	}
	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toDelivery(msg))
	}
	return out, nil
}

func (b *RedisStreams) Close() error {
	return b.rdb.Close()
}

func toDelivery(msg redis.XMessage) Delivery {
	var payload []byte
	if v, ok := msg.Values[payloadField]; ok {
		if s, ok := v.(string); ok {
			payload = []byte(s)
		}
	}
	return Delivery{ID: msg.ID, Payload: payload}
}
