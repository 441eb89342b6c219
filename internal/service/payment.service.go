package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/logger"
	"order-fulfillment/internal/metrics"
	"order-fulfillment/internal/repo"
)

// Reasons reported when a notification causes no transition.
const (
	ReasonReplay            = "replay"
	ReasonUnrecognized      = "unrecognized_status"
	ReasonStale             = "stale_notification"
	ReasonRefundReview      = "requires_refund_review"
	ReasonSuperseded        = "superseded"
	ReasonIllegalTransition = "illegal_transition"
)

// Verification sources of a PollResult.
const (
	SourceGateway         = "gateway"
	SourceLocalUnverified = "local_unverified"
	SourceLocal           = "local"
)

// NotificationOutcome describes what a payment notification did to its order.
type NotificationOutcome struct {
	OrderID        int64              `json:"order_id"`
	PreviousStatus domain.OrderStatus `json:"previous_status"`
	Status         domain.OrderStatus `json:"status"`
	Transitioned   bool               `json:"transitioned"`
	Reason         string             `json:"reason,omitempty"`
	StockRestored  int                `json:"stock_restored,omitempty"`
	Shipment       *ProvisionResult   `json:"shipment,omitempty"`
	// ShipmentError is set when payment was confirmed but provisioning failed; the payment stands.
	ShipmentError *Error `json:"shipment_error,omitempty"`
}

type PollResult struct {
	OrderID            int64              `json:"order_id"`
	Status             domain.OrderStatus `json:"status"`
	PaymentStatus      string             `json:"payment_status"`
	PaidAt             *time.Time         `json:"paid_at"`
	Updated            bool               `json:"updated"`
	VerificationSource string             `json:"verification_source"`
	ShipmentError      *Error             `json:"shipment_error,omitempty"`
}

type PaymentReconciler interface {
	// HandleNotification applies a pushed gateway notification. Duplicate and out-of-order
	// deliveries converge without error.
	HandleNotification(ctx context.Context, n domain.PaymentNotification) (*NotificationOutcome, error)
	// PollStatus verifies the order's payment against the gateway, falling back to the stored state.
	PollStatus(ctx context.Context, orderID int64) (*PollResult, error)
}

type paymentReconciler struct {
	db          *sql.DB
	orderRepo   repo.OrderRepo
	gateway     payment.PaymentGateway
	stock       StockReconciler
	provisioner ShipmentProvisioner
	notifier    Notifier
	metrics     *metrics.Recorder
	log         *zap.Logger
}

func NewPaymentReconciler(
	db *sql.DB,
	orderRepo repo.OrderRepo,
	gateway payment.PaymentGateway,
	stock StockReconciler,
	provisioner ShipmentProvisioner,
	notifier Notifier,
	recorder *metrics.Recorder,
	log *zap.Logger,
) PaymentReconciler {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &paymentReconciler{
		db:          db,
		orderRepo:   orderRepo,
		gateway:     gateway,
		stock:       stock,
		provisioner: provisioner,
		notifier:    notifier,
		metrics:     recorder,
		log:         log.Named("payment"),
	}
}

func (s *paymentReconciler) HandleNotification(ctx context.Context, n domain.PaymentNotification) (*NotificationOutcome, error) {
	order, err := s.orderRepo.FindByGatewayTxnId(ctx, n.TransactionID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		s.metrics.Notification("order_not_found")
		return nil, NewNotFound(CodeOrderNotFound, fmt.Sprintf("no order for gateway transaction %s", n.TransactionID))
	}

	out, err := s.reconcile(ctx, order, n)
	if err != nil {
		if se, ok := AsError(err); ok {
			s.metrics.Notification(se.Code)
		}
		return nil, err
	}
	return out, nil
}

func (s *paymentReconciler) reconcile(ctx context.Context, order *domain.Order, n domain.PaymentNotification) (*NotificationOutcome, error) {
	log := logger.FromContext(ctx, s.log).With(
		zap.Int64("order_id", order.ID),
		zap.String("transaction_id", n.TransactionID),
		zap.String("transaction_status", n.TransactionStatus),
		zap.String("fraud_status", n.FraudStatus),
	)
	out := &NotificationOutcome{OrderID: order.ID, PreviousStatus: order.Status, Status: order.Status}

	target, ok := domain.MapPaymentStatus(n.TransactionStatus, n.FraudStatus)
	if !ok {
		out.Reason = ReasonUnrecognized
		s.metrics.Notification(out.Reason)
		log.Info("gateway status carries no transition")
		return out, nil
	}

	if !domain.CanTransition(order.Status, target) {
		out.Reason = noTransitionReason(order.Status, target)
		s.metrics.Notification(out.Reason)
		if out.Reason == ReasonRefundReview {
			log.Warn("payment reversal on an order past payment, refund review required", zap.String("status", string(order.Status)))
		} else {
			log.Info("notification ignored", zap.String("status", string(order.Status)), zap.String("reason", out.Reason))
		}
		return out, nil
	}

	if target == domain.OrderPaid && n.HasGrossAmount && n.GrossAmount != order.Total {
		log.Warn("gross amount does not match order total", zap.Int64("gross_amount", n.GrossAmount), zap.Int64("total", order.Total))
		return nil, NewValidation(CodeAmountMismatch,
			fmt.Sprintf("gross amount %d does not match order total %d", n.GrossAmount, order.Total))
	}

	fields := repo.TransitionFields{
		PaymentStatus: n.TransactionStatus,
		PaymentMethod: n.PaymentType,
		Note:          paymentNote(n),
	}
	applied, restored, err := s.transition(ctx, order.ID, target, fields)
	if err != nil {
		return nil, err
	}

	fresh, err := s.orderRepo.FindById(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	out.Status = fresh.Status

	if !applied {
		out.Reason = ReasonSuperseded
		s.metrics.Notification(out.Reason)
		log.Info("order advanced by a concurrent writer", zap.String("status", string(fresh.Status)))
		return out, nil
	}

	out.Transitioned = true
	out.StockRestored = restored
	s.metrics.Notification("transitioned")
	s.metrics.Transition(string(order.Status), string(target))
	log.Info("order transitioned", zap.String("from", string(order.Status)), zap.String("to", string(target)))

	if target != domain.OrderPaid {
		return out, nil
	}

	s.notifier.PaymentConfirmed(ctx, fresh)
	shipment, err := s.provisioner.ProvisionShipment(ctx, order.ID)
	if err != nil {
		se, ok := AsError(err)
		if !ok {
			se = NewUnavailable(CodeShippingUnavailable, "shipment provisioning failed, try again later", err)
		}
		out.ShipmentError = se
		log.Warn("payment confirmed, shipment provisioning failed", zap.String("code", se.Code), zap.Error(err))
		return out, nil
	}
	out.Shipment = shipment
	out.Status = shipment.Status
	return out, nil
}

// transition applies the status change and, on cancellation, restores stock in the same transaction.
func (s *paymentReconciler) transition(ctx context.Context, orderID int64, target domain.OrderStatus, fields repo.TransitionFields) (bool, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	applied, err := s.orderRepo.ApplyTransition(ctx, tx, orderID, domain.SourcesFor(target), target, fields)
	if err != nil || !applied {
		return false, 0, err
	}

	restored := 0
	if target == domain.OrderCancelled {
		if restored, err = s.stock.RestoreStock(ctx, tx, orderID); err != nil {
			return false, 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return true, restored, nil
}

func noTransitionReason(current, target domain.OrderStatus) string {
	switch {
	case current == target:
		return ReasonReplay
	case target == domain.OrderPaid && domain.ReachedPaid(current):
		return ReasonReplay
	case target == domain.OrderPendingPayment && current != domain.OrderNew:
		return ReasonStale
	case target == domain.OrderCancelled && domain.ReachedPaid(current):
		return ReasonRefundReview
	case target == domain.OrderPaid && current == domain.OrderCancelled:
		// funds captured for an order that was already voided
		return ReasonRefundReview
	}
	return ReasonIllegalTransition
}

func paymentNote(n domain.PaymentNotification) string {
	note := "Gateway reported " + n.TransactionStatus
	if n.PaymentType != "" {
		note += " via " + n.PaymentType
	}
	if n.FraudStatus != "" && n.FraudStatus != domain.FraudAccept {
		note += " (fraud: " + n.FraudStatus + ")"
	}
	return note
}

func (s *paymentReconciler) PollStatus(ctx context.Context, orderID int64) (*PollResult, error) {
	order, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderNotFound(orderID)
	}
	log := logger.FromContext(ctx, s.log).With(zap.Int64("order_id", orderID))

	if order.GatewayTxnID == nil {
		return pollResult(order, SourceLocal), nil
	}

	n, err := s.gateway.CheckStatus(ctx, *order.GatewayTxnID)
	if err != nil {
		log.Warn("gateway status check failed, serving stored state", zap.Error(err))
		return pollResult(order, SourceLocalUnverified), nil
	}
	if n.TransactionID == "" {
		n.TransactionID = *order.GatewayTxnID
	}

	out, err := s.reconcile(ctx, order, n)
	if err != nil {
		var se *Error
		if errors.As(err, &se) && se.Kind == KindValidation {
			// the gateway answered but its report cannot be applied; the stored state stands
			log.Warn("gateway report rejected", zap.String("code", se.Code), zap.Error(err))
			res := pollResult(order, SourceGateway)
			res.PaymentStatus = n.TransactionStatus
			return res, nil
		}
		return nil, err
	}

	fresh, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	res := pollResult(fresh, SourceGateway)
	res.PaymentStatus = n.TransactionStatus
	res.Updated = out.Transitioned
	res.ShipmentError = out.ShipmentError
	return res, nil
}

func pollResult(o *domain.Order, source string) *PollResult {
	return &PollResult{
		OrderID:            o.ID,
		Status:             o.Status,
		PaymentStatus:      o.PaymentStatus,
		PaidAt:             o.PaidAt,
		VerificationSource: source,
	}
}
