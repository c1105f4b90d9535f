package cart

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/metrics"
)

type mirrorWriter interface {
	UpsertIncrement(ctx context.Context, userID uuid.UUID, line Line) error
	SetQuantity(ctx context.Context, userID uuid.UUID, line Line) error
	Delete(ctx context.Context, userID, productID uuid.UUID, size string) error
	DeleteAll(ctx context.Context, userID uuid.UUID) error
}

// MirrorQueueConfig sizes the mirror workers.
type MirrorQueueConfig struct {
	Workers     int
	QueueSize   int
	MaxRetries  uint64
	BaseBackoff time.Duration
}

// MirrorQueue replicates session cart mutations to the per-user store in the background.
// Ops are sharded by user so the writes of one user apply in submission order.
type MirrorQueue struct {
	writer  mirrorWriter
	cfg     MirrorQueueConfig
	logg    *logger.Logger
	metrics *metrics.CartMetrics

	mu      sync.RWMutex
	shards  []chan mirrorJob
	closed  bool
	started bool
	wg      sync.WaitGroup
}

type mirrorJob struct {
	op     MirrorOp
	logCtx context.Context
}

// NewMirrorQueue validates cfg and allocates the shards. Call Start to run workers.
func NewMirrorQueue(writer mirrorWriter, cfg MirrorQueueConfig, logg *logger.Logger, m *metrics.CartMetrics) (*MirrorQueue, error) {
	if writer == nil {
		return nil, fmt.Errorf("mirror writer required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	shards := make([]chan mirrorJob, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan mirrorJob, cfg.QueueSize)
	}
	return &MirrorQueue{
		writer:  writer,
		cfg:     cfg,
		logg:    logg,
		metrics: m,
		shards:  shards,
	}, nil
}

// Start launches one worker per shard. Workers stop when Drain closes the shards.
func (q *MirrorQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for _, shard := range q.shards {
		q.wg.Add(1)
		go q.work(ctx, shard)
	}
}

// Enqueue hands op to the shard of its user. It never blocks: a full shard drops the op
// with a warning and reports false.
func (q *MirrorQueue) Enqueue(ctx context.Context, op MirrorOp) bool {
	if op.IsZero() || op.UserID == uuid.Nil {
		return true
	}
	logCtx := q.logg.WithFields(context.WithoutCancel(ctx), map[string]any{
		"user_id":   op.UserID.String(),
		"mirror_op": string(op.Kind),
	})

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(logCtx, op, "mirror queue closed")
		return false
	}
	select {
	case q.shards[q.shardFor(op.UserID)] <- mirrorJob{op: op, logCtx: logCtx}:
		q.metrics.QueueDelta(1)
		return true
	default:
		q.drop(logCtx, op, "mirror queue full")
		return false
	}
}

// Drain stops accepting ops and waits for the queued ones to be written, or for ctx.
func (q *MirrorQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, shard := range q.shards {
			close(shard)
		}
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain mirror queue: %w", ctx.Err())
	}
}

func (q *MirrorQueue) work(ctx context.Context, shard <-chan mirrorJob) {
	defer q.wg.Done()
	for job := range shard {
		q.metrics.QueueDelta(-1)
		q.apply(ctx, job)
	}
}

func (q *MirrorQueue) apply(ctx context.Context, job mirrorJob) {
	kind := string(job.op.Kind)
	backoff := retry.WithMaxRetries(q.cfg.MaxRetries, retry.WithJitterPercent(20, retry.NewExponential(q.cfg.BaseBackoff)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			q.metrics.ObserveMirror(kind, metrics.MirrorRetried)
		}
		if err := q.write(ctx, job.op); err != nil {
			logCtx := q.logg.WithFields(job.logCtx, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			q.logg.Warn(logCtx, "cart.mirror.write_failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		q.metrics.ObserveMirror(kind, metrics.MirrorFailed)
		q.logg.Error(q.logg.WithField(job.logCtx, "attempts", attempt), "cart.mirror.abandoned", err)
		return
	}
	q.metrics.ObserveMirror(kind, metrics.MirrorApplied)
}

func (q *MirrorQueue) write(ctx context.Context, op MirrorOp) error {
	switch op.Kind {
	case MirrorUpsertIncrement:
		return q.writer.UpsertIncrement(ctx, op.UserID, op.Line)
	case MirrorSetQuantity:
		return q.writer.SetQuantity(ctx, op.UserID, op.Line)
	case MirrorDelete:
		return q.writer.Delete(ctx, op.UserID, op.Line.ProductID, op.Line.Size)
	case MirrorDeleteAll:
		return q.writer.DeleteAll(ctx, op.UserID)
	default:
		return errors.New("unknown mirror op " + string(op.Kind))
	}
}

func (q *MirrorQueue) drop(ctx context.Context, op MirrorOp, reason string) {
	q.metrics.ObserveMirror(string(op.Kind), metrics.MirrorDropped)
	q.logg.Warn(q.logg.WithField(ctx, "reason", reason), "cart.mirror.dropped")
}

func (q *MirrorQueue) shardFor(userID uuid.UUID) int {
	h := fnv.New32a()
	_, _ = h.Write(userID[:])
	return int(h.Sum32() % uint32(len(q.shards)))
}
