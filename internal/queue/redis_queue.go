// Package queue is the Redis-backed task queue carrying analysis job ids from
// the API to the workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VCBorges/automatizai-challenge/internal/config"
)

// RedisQueue coordinates ready, in-flight and scheduled job ids in Redis.
// Delivery is at-least-once: a lease that is neither acked nor extended is
// reclaimed by RequeueExpired.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	jobMetaPrefix string
	visibilityTTL time.Duration
	dlqKey        string
}

// NewRedisClient builds the shared go-redis client from config.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisQueue builds a queue over client using the key prefix, DLQ name and
// visibility timeout from cfg.
func NewRedisQueue(client *redis.Client, cfg config.Config) *RedisQueue {
	prefix := cfg.QueuePrefix
	if prefix == "" {
		prefix = "analysis"
	}
	dlq := cfg.DLQName
	if dlq == "" {
		dlq = prefix + ":dlq"
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		readyKey:      prefix + ":ready",
		inflightKey:   prefix + ":inflight",
		scheduledKey:  prefix + ":scheduled",
		jobMetaPrefix: prefix + ":jobmeta:",
		visibilityTTL: visibility,
		dlqKey:        dlq,
	}
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// VisibilityTimeout is the lease length granted by DequeueWithLease.
func (q *RedisQueue) VisibilityTimeout() time.Duration { return q.visibilityTTL }

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue makes jobID ready for delivery.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.HSetNX(ctx, q.metaKey(jobID), "attempts", 0)
	pipe.RPush(ctx, q.readyKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// DequeueWithLease pops a ready job and places it into inflight with a
// visibility timeout. It returns "" when nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAddXX(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// Nack releases the lease, counts the failed attempt and schedules a
// redelivery after delay. It returns the attempt count so far.
func (q *RedisQueue) Nack(ctx context.Context, jobID string, delay time.Duration) (int, error) {
	pipe := q.client.TxPipeline()
	attempts := pipe.HIncrBy(ctx, q.metaKey(jobID), "attempts", 1)
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(time.Now().Add(delay).UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(attempts.Val()), nil
}

// Attempts returns how many times jobID was nacked.
func (q *RedisQueue) Attempts(ctx context.Context, jobID string) (int, error) {
	v, err := q.client.HGet(ctx, q.metaKey(jobID), "attempts").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// DeadLetter drops jobID from every queue structure and appends it to the DLQ.
func (q *RedisQueue) DeadLetter(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZRem(ctx, q.scheduledKey, jobID)
	pipe.LRem(ctx, q.readyKey, 0, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	pipe.RPush(ctx, q.dlqKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled jobs into the ready list. It returns
// how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.due(ctx, q.scheduledKey, now, limit)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	if err := q.moveToReady(ctx, q.scheduledKey, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.due(ctx, q.inflightKey, now, limit)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	if err := q.moveToReady(ctx, q.inflightKey, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *RedisQueue) due(ctx context.Context, key string, now time.Time, limit int64) ([]string, error) {
	return q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
}

func (q *RedisQueue) moveToReady(ctx context.Context, from string, ids []string) error {
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, from, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DLQPeek reads the oldest dead-lettered job ids.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
