package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/repo"
	"order-fulfillment/internal/service"
)

type Options struct {
	Interval          time.Duration
	StuckPaymentAge   time.Duration
	ProvisionRetryAge time.Duration
	BatchSize         int
}

// ReconciliationWorker periodically settles orders that no trigger moved:
// payments the gateway never pushed, paid orders without a shipment, and active shipments.
type ReconciliationWorker struct {
	orderRepo   repo.OrderRepo
	payments    service.PaymentReconciler
	provisioner service.ShipmentProvisioner
	tracker     service.TrackingSynchronizer
	opts        Options
	log         *zap.Logger
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	payments service.PaymentReconciler,
	provisioner service.ShipmentProvisioner,
	tracker service.TrackingSynchronizer,
	opts Options,
	log *zap.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		orderRepo:   orderRepo,
		payments:    payments,
		provisioner: provisioner,
		tracker:     tracker,
		opts:        opts,
		log:         log.Named("worker"),
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.opts.Interval)
	defer ticker.Stop()

	rw.log.Info("reconciliation worker started", zap.Duration("interval", rw.opts.Interval))

	for {
		select {
		case <-ctx.Done():
			rw.log.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			rw.RunOnce(ctx)
		}
	}
}

// Summary counts what one pass touched.
type Summary struct {
	PaymentsPolled    int
	PaymentsUpdated   int
	ShipmentsRetried  int
	ShipmentsCreated  int
	TrackingRefreshed int
	Failures          int
}

// RunOnce performs a single pass. Failures on one order are logged and do not stop the pass.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) Summary {
	var sum Summary
	rw.pollStuckPayments(ctx, &sum)
	rw.retryProvisioning(ctx, &sum)
	rw.refreshTracking(ctx, &sum)

	if sum != (Summary{}) {
		rw.log.Info("reconciliation pass finished",
			zap.Int("payments_polled", sum.PaymentsPolled),
			zap.Int("payments_updated", sum.PaymentsUpdated),
			zap.Int("shipments_retried", sum.ShipmentsRetried),
			zap.Int("shipments_created", sum.ShipmentsCreated),
			zap.Int("tracking_refreshed", sum.TrackingRefreshed),
			zap.Int("failures", sum.Failures),
		)
	}
	return sum
}

func (rw *ReconciliationWorker) find(ctx context.Context, filter repo.StuckFilter) []domain.Order {
	filter.Limit = rw.opts.BatchSize
	orders, err := rw.orderRepo.FindStuckOrders(ctx, filter)
	if err != nil {
		rw.log.Error("failed to load orders", zap.Any("statuses", filter.Statuses), zap.Error(err))
		return nil
	}
	return orders
}

func (rw *ReconciliationWorker) pollStuckPayments(ctx context.Context, sum *Summary) {
	orders := rw.find(ctx, repo.StuckFilter{
		Statuses:          []domain.OrderStatus{domain.OrderNew, domain.OrderPendingPayment},
		OlderThan:         rw.opts.StuckPaymentAge,
		RequireGatewayTxn: true,
	})
	for _, order := range orders {
		if ctx.Err() != nil {
			return
		}
		res, err := rw.payments.PollStatus(ctx, order.ID)
		if err != nil {
			sum.Failures++
			rw.log.Warn("payment poll failed", zap.Int64("order_id", order.ID), zap.Error(err))
			continue
		}
		sum.PaymentsPolled++
		if res.Updated {
			sum.PaymentsUpdated++
			rw.log.Info("stuck payment reconciled",
				zap.Int64("order_id", order.ID),
				zap.String("status", string(res.Status)),
			)
		}
	}
}

func (rw *ReconciliationWorker) retryProvisioning(ctx context.Context, sum *Summary) {
	orders := rw.find(ctx, repo.StuckFilter{
		Statuses:        []domain.OrderStatus{domain.OrderPaid},
		OlderThan:       rw.opts.ProvisionRetryAge,
		WithoutShipment: true,
	})
	for _, order := range orders {
		if ctx.Err() != nil {
			return
		}
		sum.ShipmentsRetried++
		res, err := rw.provisioner.ProvisionShipment(ctx, order.ID)
		if err != nil {
			sum.Failures++
			fields := []zap.Field{zap.Int64("order_id", order.ID), zap.Error(err)}
			if se, ok := service.AsError(err); ok {
				fields = append(fields, zap.String("code", se.Code), zap.Bool("can_retry", se.Retryable))
			}
			rw.log.Warn("shipment retry failed", fields...)
			continue
		}
		if res.Created {
			sum.ShipmentsCreated++
		}
	}
}

func (rw *ReconciliationWorker) refreshTracking(ctx context.Context, sum *Summary) {
	orders := rw.find(ctx, repo.StuckFilter{
		Statuses:          []domain.OrderStatus{domain.OrderPacked, domain.OrderShipped},
		ByTrackingRefresh: true,
	})
	for _, order := range orders {
		if ctx.Err() != nil {
			return
		}
		if _, err := rw.tracker.RefreshTracking(ctx, order.ID); err != nil {
			sum.Failures++
			rw.log.Warn("tracking refresh failed", zap.Int64("order_id", order.ID), zap.Error(err))
			continue
		}
		sum.TrackingRefreshed++
	}
}
