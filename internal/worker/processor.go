// Package worker consumes analysis job ids from the queue and drives them
// through the coordinator.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VCBorges/automatizai-challenge/internal/analysis"
	"github.com/VCBorges/automatizai-challenge/internal/config"
	"github.com/VCBorges/automatizai-challenge/internal/retry"
	"github.com/VCBorges/automatizai-challenge/internal/telemetry"
)

// Queue is the subset of the task queue the worker uses.
type Queue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, jobID string, extension time.Duration) error
	Ack(ctx context.Context, jobID string) error
	Nack(ctx context.Context, jobID string, delay time.Duration) (int, error)
	Attempts(ctx context.Context, jobID string) (int, error)
	DeadLetter(ctx context.Context, jobID string) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// Executor runs one analysis job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// Sweeper repairs jobs the queue lost track of.
type Sweeper interface {
	RequeueStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	FailAbandoned(ctx context.Context, olderThan time.Duration) (int, error)
}

// Processor drives the worker execution loop.
type Processor struct {
	cfg        config.Config
	queue      Queue
	exec       Executor
	sweeper    Sweeper
	workerID   string
	log        *slog.Logger
	sweepEvery time.Duration
}

func NewProcessor(cfg config.Config, q Queue, exec Executor, sweeper Sweeper, workerID string, log *slog.Logger) *Processor {
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.WorkerPollInterval <= 0 {
		cfg.WorkerPollInterval = time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ScheduledBatchSize <= 0 {
		cfg.ScheduledBatchSize = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		cfg:        cfg,
		queue:      q,
		exec:       exec,
		sweeper:    sweeper,
		workerID:   workerID,
		log:        log.With("worker_id", workerID),
		sweepEvery: 30 * time.Second,
	}
}

// Run starts WorkerConcurrency consumers plus the housekeeping loop and
// blocks until ctx is cancelled. Jobs already leased are finished before Run
// returns.
func (p *Processor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.WorkerConcurrency; i++ {
		g.Go(func() error {
			p.consume(gctx)
			return nil
		})
	}
	g.Go(func() error {
		p.housekeep(gctx)
		return nil
	})
	p.log.Info("worker.started", "concurrency", p.cfg.WorkerConcurrency)
	err := g.Wait()
	p.log.Info("worker.stopped")
	return err
}

func (p *Processor) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("worker.dequeue.failed", "error", err)
			}
			sleep(ctx, p.cfg.WorkerPollInterval)
			continue
		}
		if jobID == "" {
			sleep(ctx, p.cfg.WorkerPollInterval)
			continue
		}
		p.process(context.WithoutCancel(ctx), jobID)
	}
}

// process executes one delivery and settles it with the queue.
func (p *Processor) process(ctx context.Context, jobID string) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	stop := p.heartbeat(ctx, jobID)
	err := p.exec.Execute(ctx, jobID)
	stop()

	var already *analysis.AlreadyRunningError
	switch {
	case err == nil:
		p.ack(ctx, jobID)
	case errors.Is(err, analysis.ErrNotFound):
		p.log.Warn("worker.job.not_found", "job_id", jobID)
		p.ack(ctx, jobID)
	case errors.As(err, &already):
		p.log.Info("worker.job.duplicate_delivery", "job_id", jobID, "status", already.Status)
		p.ack(ctx, jobID)
	default:
		p.retryLater(ctx, jobID, err)
	}
}

func (p *Processor) ack(ctx context.Context, jobID string) {
	if err := p.queue.Ack(ctx, jobID); err != nil {
		p.log.Error("worker.ack.failed", "job_id", jobID, "error", err)
	}
}

func (p *Processor) retryLater(ctx context.Context, jobID string, cause error) {
	attempts, err := p.queue.Attempts(ctx, jobID)
	if err != nil {
		p.log.Warn("worker.attempts.read_failed", "job_id", jobID, "error", err)
	}
	attempts++
	if attempts >= p.cfg.MaxAttempts {
		if err := p.queue.DeadLetter(ctx, jobID); err != nil {
			p.log.Error("worker.dead_letter.failed", "job_id", jobID, "error", err)
			return
		}
		telemetry.WorkerDeadLetter.Inc()
		p.log.Error("worker.job.dead_lettered", "job_id", jobID, "attempts", attempts, "error", cause)
		return
	}
	delay := retry.Backoff(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts)
	if _, err := p.queue.Nack(ctx, jobID, delay); err != nil {
		p.log.Error("worker.nack.failed", "job_id", jobID, "error", err)
		return
	}
	telemetry.WorkerNacks.Inc()
	p.log.Warn("worker.job.nack", "job_id", jobID, "attempts", attempts, "delay", delay.String(), "error", cause)
}

// heartbeat extends the lease every half visibility timeout until stopped.
func (p *Processor) heartbeat(ctx context.Context, jobID string) (stop func()) {
	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.VisibilityTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				if err := p.queue.ExtendLease(hctx, jobID, p.cfg.VisibilityTimeout); err != nil && hctx.Err() == nil {
					p.log.Warn("worker.lease.extend_failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Processor) housekeep(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.WorkerPollInterval)
	defer ticker.Stop()
	lastSweep := time.Time{}
	for {
		p.Tick(ctx, time.Now())
		if p.sweeper != nil && time.Since(lastSweep) >= p.sweepEvery {
			p.Sweep(ctx)
			lastSweep = time.Now()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick promotes due retries, reclaims expired leases and refreshes the queue
// depth gauge.
func (p *Processor) Tick(ctx context.Context, now time.Time) {
	if _, err := p.queue.PromoteScheduled(ctx, now, int64(p.cfg.ScheduledBatchSize)); err != nil && ctx.Err() == nil {
		p.log.Warn("worker.promote.failed", "error", err)
	}
	reclaimed, err := p.queue.RequeueExpired(ctx, now, int64(p.cfg.ScheduledBatchSize))
	if err != nil && ctx.Err() == nil {
		p.log.Warn("worker.requeue_expired.failed", "error", err)
	}
	if len(reclaimed) > 0 {
		p.log.Warn("worker.leases.reclaimed", "count", len(reclaimed), "job_ids", reclaimed)
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
}

// Sweep re-enqueues stale PENDING jobs and fails abandoned RUNNING jobs.
func (p *Processor) Sweep(ctx context.Context) {
	if n, err := p.sweeper.RequeueStale(ctx, p.cfg.StalePendingAfter, p.cfg.ScheduledBatchSize); err != nil {
		p.log.Warn("worker.sweep.pending_failed", "error", err)
	} else if n > 0 {
		p.log.Info("worker.sweep.pending_requeued", "count", n)
	}
	if n, err := p.sweeper.FailAbandoned(ctx, p.cfg.StaleRunningAfter); err != nil {
		p.log.Warn("worker.sweep.abandoned_failed", "error", err)
	} else if n > 0 {
		p.log.Warn("worker.sweep.abandoned_failed_jobs", "count", n)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
