package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/threadline-backend/internal/orders"
	"github.com/angelmondragon/threadline-backend/internal/payment"
	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

const (
	defaultReconcileLookback = 48 * time.Hour
	// Orders younger than this may still receive their webhook.
	reconcileGracePeriod = 10 * time.Minute
	reconcileBatchSize   = 200
	reconcileSource      = "reconcile"
)

// PaymentReconcileJobParams configure the pending payment reconciler.
type PaymentReconcileJobParams struct {
	Logger   *logger.Logger
	Orders   pendingOrderLister
	Settler  paymentSettler
	Checker  payment.StatusChecker
	Lookback time.Duration
}

type pendingOrderLister interface {
	ListCreatedBetween(ctx context.Context, filters orders.ListFilters, limit int) ([]models.Order, error)
}

type paymentSettler interface {
	MarkPaidByReference(ctx context.Context, reference, source string) (*orders.OrderDTO, bool, error)
}

// NewPaymentReconcileJob builds the job that asks the processor about orders still
// pending after their callback window and settles the ones it reports as paid.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("order service required")
	}
	if params.Checker == nil {
		return nil, fmt.Errorf("payment status checker required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	return &paymentReconcileJob{
		logg:     params.Logger,
		orders:   params.Orders,
		settler:  params.Settler,
		checker:  params.Checker,
		lookback: lookback,
		now:      time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg     *logger.Logger
	orders   pendingOrderLister
	settler  paymentSettler
	checker  payment.StatusChecker
	lookback time.Duration
	now      func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	from := now.Add(-j.lookback)
	to := now.Add(-reconcileGracePeriod)
	pending := enums.PaymentStatusPending

	rows, err := j.orders.ListCreatedBetween(ctx, orders.ListFilters{
		PaymentStatus: &pending,
		CreatedFrom:   &from,
		CreatedTo:     &to,
	}, reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}

	var (
		errs    error
		checked int
		settled int
	)
	for _, order := range rows {
		if order.OrderDetails.Payment.Provider != j.checker.Provider() {
			continue
		}
		reference := orderReference(order)
		if reference == "" {
			continue
		}
		checked++
		orderCtx := j.logg.WithFields(ctx, map[string]any{
			"order_id":  order.ID.String(),
			"reference": reference,
		})
		status, err := j.checker.CheckStatus(orderCtx, reference)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("check %s: %w", reference, err))
			continue
		}
		if status != enums.PaymentStatusSuccessful {
			j.logg.Debug(j.logg.WithField(orderCtx, "processor_status", status.String()), "payment still unsettled")
			continue
		}
		_, changed, err := j.settler.MarkPaidByReference(orderCtx, reference, reconcileSource)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("settle %s: %w", reference, err))
			continue
		}
		if changed {
			settled++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"window_from": from,
		"window_to":   to,
		"pending":     len(rows),
		"checked":     checked,
		"settled":     settled,
	})
	j.logg.Info(logCtx, "payment reconcile complete")
	return errs
}

func orderReference(order models.Order) string {
	if ref := strings.TrimSpace(order.ReferenceID); ref != "" {
		return ref
	}
	return strings.TrimSpace(order.IdempotencyKey)
}
