package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

func setupOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`).Error)
	require.NoError(t, db.Exec(`
CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`).Error)
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX ux_outbox_dlq_event_id ON outbox_dlq (event_id);`).Error)

	return db
}

type recordedData struct {
	OrderID string `json:"order_id"`
}

func emitOrder(t *testing.T, db *gorm.DB, svc *Service, orderID uuid.UUID) {
	t.Helper()
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderRecorded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          recordedData{OrderID: orderID.String()},
		})
	})
	require.NoError(t, err)
}

func TestEmitWritesEnvelope(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), logger.Nop())
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	orderID := uuid.New()
	userID := uuid.New()
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderRecorded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{UserID: &userID, Role: "customer"},
			Data:          recordedData{OrderID: orderID.String()},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)
	assert.Nil(t, rows[0].PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.True(t, fixed.Equal(envelope.OccurredAt))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, userID, *envelope.Actor.UserID)

	var data recordedData
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, orderID.String(), data.OrderID)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), logger.Nop())

	boom := errors.New("order insert failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderRecorded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          recordedData{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRejectsUnknownTypes(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), logger.Nop())

	err := svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.OutboxEventType("nope"),
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)

	err = svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.EventOrderRecorded,
		AggregateType: enums.AggregateOrder,
	})
	require.ErrorContains(t, err, "aggregate id")

	err = svc.Emit(context.Background(), nil, DomainEvent{
		EventType:     enums.EventOrderRecorded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, logger.Nop())

	first, second, third := uuid.New(), uuid.New(), uuid.New()
	emitOrder(t, db, svc, first)
	emitOrder(t, db, svc, second)
	emitOrder(t, db, svc, third)

	var rows []models.OutboxEvent
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, rows, 3)
	assert.Equal(t, first, rows[0].AggregateID)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, rows[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, rows[1].ID, errors.New("pubsub unavailable")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, rows[2].ID, errors.New("bad payload"), 3)
	}))

	var remaining []models.OutboxEvent
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		remaining, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, remaining, 1)
	assert.Equal(t, second, remaining[0].AggregateID)
	assert.Equal(t, 1, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)
	assert.Equal(t, "pubsub unavailable", *remaining[0].LastError)
}

func TestRepositoryDeletePublishedBefore(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, logger.Nop())

	emitOrder(t, db, svc, uuid.New())
	emitOrder(t, db, svc, uuid.New())

	var rows []models.OutboxEvent
	require.NoError(t, db.Order("created_at ASC").Find(&rows).Error)
	require.Len(t, rows, 2)

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("id = ?", rows[0].ID).Update("published_at", old).Error)

	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, time.Now().UTC().Add(-24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDLQRepositoryInsertAndFind(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewDLQRepository(db)

	eventID := uuid.New()
	msg := "decode order_recorded payload: unexpected end of JSON input"
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventOrderRecorded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonNonRetryable,
			ErrorMessage:  &msg,
			AttemptCount:  1,
		})
	}))

	found, err := repo.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, found.ErrorReason)

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDLQRepositoryReinsertOverwritesFailure(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewDLQRepository(db)
	eventID := uuid.New()

	insert := func(reason enums.OutboxDLQErrorReason, msg string, attempts int) {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return repo.InsertTx(tx, models.OutboxDLQ{
				EventID:       eventID,
				EventType:     enums.EventOrderPaymentUpdated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Payload:       json.RawMessage(`{}`),
				ErrorReason:   reason,
				ErrorMessage:  &msg,
				AttemptCount:  attempts,
			})
		}))
	}
	insert(enums.OutboxDLQReasonNonRetryable, "topic missing", 1)
	insert(enums.OutboxDLQReasonMaxAttempts, "max publish attempts reached", 10)

	var count int64
	require.NoError(t, db.Model(&models.OutboxDLQ{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	found, err := repo.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, found.ErrorReason)
	assert.Equal(t, 10, found.AttemptCount)
}

func TestDLQRepositoryRequiresEventID(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewDLQRepository(db)
	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.InsertTx(tx, models.OutboxDLQ{ErrorReason: enums.OutboxDLQReasonUnknownEvent})
	})
	assert.Error(t, err)
}

func TestTruncateRunesKeepsValidUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "ab", truncateRunes("abé", 3))
	assert.Equal(t, "abé", truncateRunes("abéd", 4))
}

func TestRepositoryDeletePublishedBeforeHonorsLimit(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, logger.Nop())
	for i := 0; i < 3; i++ {
		emitOrder(t, db, svc, uuid.New())
	}
	old := time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("1 = 1").Update("published_at", old).Error)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = repo.DeletePublishedBefore(context.Background(), nil, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestDLQRepositoryDeleteFailedBefore(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewDLQRepository(db)
	now := time.Now().UTC()
	for _, failedAt := range []time.Time{now.Add(-100 * 24 * time.Hour), now.Add(-time.Hour)} {
		failedAt := failedAt
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return repo.InsertTx(tx, models.OutboxDLQ{
				EventID:       uuid.New(),
				EventType:     enums.EventOrderRecorded,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Payload:       json.RawMessage(`{}`),
				ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
				FailedAt:      failedAt,
			})
		}))
	}

	deleted, err := repo.DeleteFailedBefore(context.Background(), nil, now.Add(-90*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var count int64
	require.NoError(t, db.Model(&models.OutboxDLQ{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
