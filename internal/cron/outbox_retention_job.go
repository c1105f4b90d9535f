package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

const (
	outboxRetentionDays    = 30
	dlqRetentionDays       = 90
	defaultRetentionBatch  = 500
	outboxRetentionJobName = "outbox-retention"
)

// OutboxRetentionJobParams configure the outbox cleanup. Retention periods are in days.
type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Repository   publishedPruner
	DLQ          dlqPruner
	Retention    int
	DLQRetention int
	BatchSize    int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type dlqPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

// NewOutboxRetentionJob builds the job that prunes published order events and old
// dead letters. Unpublished rows are never touched. DLQ is optional.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		outbox:       params.Repository,
		dlq:          params.DLQ,
		retention:    positiveOr(params.Retention, outboxRetentionDays),
		dlqRetention: positiveOr(params.DLQRetention, dlqRetentionDays),
		batchSize:    positiveOr(params.BatchSize, defaultRetentionBatch),
		now:          time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	outbox       publishedPruner
	dlq          dlqPruner
	retention    int
	dlqRetention int
	batchSize    int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return outboxRetentionJobName }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	published, err := j.prune(ctx, daysBefore(now, j.retention), j.outbox.DeletePublishedBefore)
	if err != nil {
		return fmt.Errorf("prune published events: %w", err)
	}

	var deadLetters int64
	if j.dlq != nil {
		deadLetters, err = j.prune(ctx, daysBefore(now, j.dlqRetention), j.dlq.DeleteFailedBefore)
		if err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"retention_days":     j.retention,
		"dlq_retention_days": j.dlqRetention,
		"published_deleted":  published,
		"dlq_deleted":        deadLetters,
	}), "outbox retention cleanup complete")
	return nil
}

type pruneFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)

// prune deletes in batches, one transaction each, so a large backlog never holds
// row locks the publisher is waiting on.
func (j *outboxRetentionJob) prune(ctx context.Context, cutoff time.Time, del pruneFunc) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			deleted, err = del(ctx, tx, cutoff, j.batchSize)
			return err
		})
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < int64(j.batchSize) {
			return total, nil
		}
	}
}

func daysBefore(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
