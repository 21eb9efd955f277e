package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/VCBorges/automatizai-challenge/internal/config"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisQueue(client, config.Config{QueuePrefix: "test", DLQName: "test:dlq", VisibilityTimeout: time.Minute})
	return q, mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if depth, _ := q.ReadyDepth(ctx); depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}
	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "job-1" {
		t.Fatalf("dequeue: %q %v", id, err)
	}
	if score, err := mr.ZScore("test:inflight", "job-1"); err != nil || score == 0 {
		t.Fatalf("expected lease in inflight set: %v %v", score, err)
	}
	if id, _ := q.DequeueWithLease(ctx); id != "" {
		t.Fatalf("expected empty queue, got %q", id)
	}
	if err := q.Ack(ctx, "job-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if mr.Exists("test:jobmeta:job-1") {
		t.Fatalf("meta should be removed on ack")
	}
}

func TestNackCountsAttemptsAndSchedules(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, "job-1")
	_, _ = q.DequeueWithLease(ctx)

	attempts, err := q.Nack(ctx, "job-1", time.Second)
	if err != nil || attempts != 1 {
		t.Fatalf("nack: %d %v", attempts, err)
	}
	if n, _ := q.PromoteScheduled(ctx, time.Now(), 10); n != 0 {
		t.Fatalf("job promoted before its delay")
	}
	if n, _ := q.PromoteScheduled(ctx, time.Now().Add(2*time.Second), 10); n != 1 {
		t.Fatalf("expected promotion after delay, got %d", n)
	}
	_, _ = q.DequeueWithLease(ctx)
	attempts, _ = q.Nack(ctx, "job-1", 0)
	if attempts != 2 {
		t.Fatalf("expected attempts to accumulate, got %d", attempts)
	}
	if got, _ := q.Attempts(ctx, "job-1"); got != 2 {
		t.Fatalf("attempts: %d", got)
	}
}

func TestDeadLetter(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, "job-1")
	_, _ = q.DequeueWithLease(ctx)

	if err := q.DeadLetter(ctx, "job-1"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	ids, _ := q.DLQPeek(ctx, 10)
	if len(ids) != 1 || ids[0] != "job-1" {
		t.Fatalf("dlq: %v", ids)
	}
	if expired, _ := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10); len(expired) != 0 {
		t.Fatalf("dead-lettered job must not be requeued: %v", expired)
	}
}

func TestRequeueExpiredAndExtendLease(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, "job-1")
	_ = q.Enqueue(ctx, "job-2")
	_, _ = q.DequeueWithLease(ctx)
	_, _ = q.DequeueWithLease(ctx)

	if err := q.ExtendLease(ctx, "job-2", 10*time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	ids, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(ids) != 1 || ids[0] != "job-1" {
		t.Fatalf("expected only job-1 to expire, got %v", ids)
	}
	if id, _ := q.DequeueWithLease(ctx); id != "job-1" {
		t.Fatalf("expected job-1 redelivered, got %q", id)
	}
}

func TestExtendLeaseIgnoresAckedJob(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, "job-1")
	_, _ = q.DequeueWithLease(ctx)
	_ = q.Ack(ctx, "job-1")

	if err := q.ExtendLease(ctx, "job-1", time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if _, err := mr.ZScore("test:inflight", "job-1"); err == nil {
		t.Fatalf("extend must not resurrect an acked lease")
	}
}
