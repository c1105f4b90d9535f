package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

func TestOutboxRetentionJobUsesDefaultCutoffs(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	published := &fakePruner{}
	dlq := &fakePruner{}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: published, DLQ: dlq})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-outboxRetentionDays * 24 * time.Hour); !published.lastCutoff.Equal(want) {
		t.Fatalf("expected published cutoff %s, got %s", want, published.lastCutoff)
	}
	if want := now.Add(-dlqRetentionDays * 24 * time.Hour); !dlq.lastCutoff.Equal(want) {
		t.Fatalf("expected dlq cutoff %s, got %s", want, dlq.lastCutoff)
	}
	if published.lastLimit != defaultRetentionBatch {
		t.Fatalf("expected default batch %d, got %d", defaultRetentionBatch, published.lastLimit)
	}
}

func TestOutboxRetentionJobHonorsConfiguredRetention(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	published := &fakePruner{}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: published, Retention: 7})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-7 * 24 * time.Hour); !published.lastCutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, published.lastCutoff)
	}
}

func TestOutboxRetentionJobDeletesInBatches(t *testing.T) {
	published := &fakePruner{batches: []int64{3, 3, 1}}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: published, BatchSize: 3})

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if published.calls != 3 {
		t.Fatalf("expected three batches, got %d", published.calls)
	}
}

func TestOutboxRetentionJobStopsWhenCanceled(t *testing.T) {
	published := &fakePruner{batches: []int64{3, 3, 3, 3}}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: published, BatchSize: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if published.calls != 0 {
		t.Fatalf("expected no deletes after cancel, got %d", published.calls)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	dlq := &fakePruner{err: errors.New("boom")}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: &fakePruner{}, DLQ: dlq})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewOutboxRetentionJobRequiresRepository(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logger.Nop(),
		DB:     passthroughTx{},
	})
	if err == nil {
		t.Fatal("expected missing repository to fail")
	}
}

func newRetentionJob(t *testing.T, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.Nop()
	params.DB = passthroughTx{}
	if params.DLQ == nil {
		params.DLQ = &fakePruner{}
	}
	jobIface, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

// fakePruner returns batches in order, then zero.
type fakePruner struct {
	batches    []int64
	lastCutoff time.Time
	lastLimit  int
	calls      int
	err        error
}

func (f *fakePruner) next(cutoff time.Time, limit int) (int64, error) {
	f.calls++
	f.lastCutoff = cutoff
	f.lastLimit = limit
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

func (f *fakePruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	return f.next(cutoff, limit)
}

func (f *fakePruner) DeleteFailedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	return f.next(cutoff, limit)
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
