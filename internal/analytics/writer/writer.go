package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/threadline-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/threadline-backend/pkg/bigquery"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the analytics writer behavior.
type Config struct {
	OrderFactsTable string
	BatchSize       int
	RetryPolicy     RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter inserts order fact rows into BigQuery with retries and optional batching.
type BigQueryWriter struct {
	client    tableInserter
	table     string
	batchSize int
	retry     RetryPolicy

	mu     sync.Mutex
	buffer []types.OrderFactRow
}

// New creates a new BigQueryWriter backed by a shared client.
func New(client *pkgbigquery.Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.OrderFactsTable)
	if table == "" {
		return nil, errors.New("order facts table is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	policy := cfg.RetryPolicy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = defaultInitialBackoff
	}
	if policy.MaximumBackoff <= 0 {
		policy.MaximumBackoff = defaultMaximumBackoff
	}
	if policy.MaximumBackoff < policy.InitialBackoff {
		policy.MaximumBackoff = policy.InitialBackoff
	}

	return &BigQueryWriter{
		client:    client,
		table:     table,
		batchSize: batchSize,
		retry:     policy,
	}, nil
}

// InsertOrderFact buffers a row and flushes once the batch size is reached.
func (w *BigQueryWriter) InsertOrderFact(ctx context.Context, row types.OrderFactRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, row)
	if len(w.buffer) >= w.batchSize {
		return w.flushLocked(ctx)
	}
	return nil
}

// Flush writes any buffered rows immediately.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *BigQueryWriter) flushLocked(ctx context.Context) error {
	if len(w.buffer) == 0 {
		return nil
	}
	rows := make([]any, len(w.buffer))
	for i := range w.buffer {
		rows[i] = orderFactSaver{row: w.buffer[i]}
	}

	// A failed batch is dropped too; the caller nacks and Pub/Sub redelivers.
	err := w.insertWithRetry(ctx, rows)
	w.buffer = nil
	return err
}

func (w *BigQueryWriter) insertWithRetry(ctx context.Context, rows []any) error {
	backoff := retry.WithMaxRetries(
		uint64(w.retry.MaxAttempts-1),
		retry.WithCappedDuration(w.retry.MaximumBackoff, retry.NewExponential(w.retry.InitialBackoff)),
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, w.table, rows)
		if err == nil {
			return nil
		}
		if isRetryableBigQueryError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s rows: %w", w.table, err)
	}
	return nil
}

// isRetryableBigQueryError treats a batch error as retryable only when every row
// failed for a transient reason; one bad row makes the batch permanent.
func isRetryableBigQueryError(err error) bool {
	var (
		multi   cbigquery.MultiError
		put     cbigquery.PutMultiError
		apiErr  *googleapi.Error
		grpcErr interface{ GRPCStatus() *status.Status }
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &multi):
		return allRetryable(multi)
	case errors.As(err, &put):
		errs := make([]error, 0, len(put))
		for _, row := range put {
			errs = append(errs, row.Errors)
		}
		return allRetryable(errs)
	case errors.As(err, &apiErr):
		return isRetryableHTTPCode(apiErr.Code)
	case errors.As(err, &grpcErr):
		st := grpcErr.GRPCStatus()
		return st != nil && isRetryableGRPCCode(st.Code())
	}
	return false
}

func allRetryable(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !isRetryableBigQueryError(err) {
			return false
		}
	}
	return true
}

func isRetryableHTTPCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryableGRPCCode(code codes.Code) bool {
	switch code {
	case codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.ResourceExhausted,
		codes.Unavailable:
		return true
	default:
		return false
	}
}

// OrderFactColumns lists every column orderFactSaver writes; the worker checks the
// live table for them at startup.
var OrderFactColumns = []string{
	"event_id", "event_type", "occurred_at", "order_id", "user_id",
	"payment_status", "previous_status", "provider", "reference_id",
	"order_total", "item_count", "items",
	"shipping_city", "shipping_state", "shipping_country", "source",
}

// orderFactSaver encodes a row by hand so NULL columns stay NULL, and uses the event
// id as insert id so a redelivered event is deduplicated by the streaming API.
type orderFactSaver struct {
	row types.OrderFactRow
}

func (s orderFactSaver) Save() (map[string]cbigquery.Value, string, error) {
	r := s.row
	values := map[string]cbigquery.Value{
		"event_id":         r.EventID,
		"event_type":       r.EventType,
		"occurred_at":      r.OccurredAt,
		"order_id":         r.OrderID,
		"user_id":          stringOrNil(r.UserID),
		"payment_status":   r.PaymentStatus,
		"previous_status":  stringOrNil(r.PreviousStatus),
		"provider":         stringOrNil(r.Provider),
		"reference_id":     stringOrNil(r.ReferenceID),
		"order_total":      nil,
		"item_count":       nil,
		"items":            nil,
		"shipping_city":    stringOrNil(r.ShippingCity),
		"shipping_state":   stringOrNil(r.ShippingState),
		"shipping_country": stringOrNil(r.ShippingCountry),
		"source":           stringOrNil(r.Source),
	}
	if r.OrderTotal != nil {
		values["order_total"] = cbigquery.NumericString(r.OrderTotal)
	}
	if r.ItemCount != nil {
		values["item_count"] = *r.ItemCount
	}
	if r.Items.Valid {
		values["items"] = r.Items.JSONVal
	}
	return values, r.EventID, nil
}

func stringOrNil(v *string) cbigquery.Value {
	if v == nil {
		return nil
	}
	return *v
}

// EncodeJSON serializes the provided payload so it can be stored in BigQuery JSON columns.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	case []byte:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	}

	marshaled, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	if len(marshaled) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(marshaled)}, nil
}
