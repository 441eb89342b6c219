package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/shipping"
	"order-fulfillment/internal/logger"
	"order-fulfillment/internal/metrics"
	"order-fulfillment/internal/repo"
)

// Notifier is the fire-and-forget notification collaborator.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, o *domain.Order)
	ShipmentCreated(ctx context.Context, o *domain.Order, s domain.Shipment)
}

type noopNotifier struct{}

func (noopNotifier) PaymentConfirmed(context.Context, *domain.Order) {}
func (noopNotifier) ShipmentCreated(context.Context, *domain.Order, domain.Shipment) {}

type ProvisionResult struct {
	OrderID       int64              `json:"order_id"`
	Status        domain.OrderStatus `json:"status"`
	ShipmentID    string             `json:"shipment_id"`
	TrackingRef   string             `json:"tracking_ref,omitempty"`
	WaybillNumber string             `json:"waybill_number,omitempty"`
	// Created is false when the order already had a shipment.
	Created  bool          `json:"created"`
	Tracking *TrackingView `json:"tracking,omitempty"`
}

type ShipmentProvisioner interface {
	ProvisionShipment(ctx context.Context, orderID int64) (*ProvisionResult, error)
}

type shipmentProvisioner struct {
	db        *sql.DB
	orderRepo repo.OrderRepo
	provider  shipping.Provider
	tracker   TrackingSynchronizer
	notifier  Notifier
	origin    domain.ShipmentContact
	timeout   time.Duration
	metrics   *metrics.Recorder
	log       *zap.Logger
}

func NewShipmentProvisioner(
	db *sql.DB,
	orderRepo repo.OrderRepo,
	provider shipping.Provider,
	tracker TrackingSynchronizer,
	notifier Notifier,
	origin domain.ShipmentContact,
	timeout time.Duration,
	recorder *metrics.Recorder,
	log *zap.Logger,
) ShipmentProvisioner {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &shipmentProvisioner{
		db:        db,
		orderRepo: orderRepo,
		provider:  provider,
		tracker:   tracker,
		notifier:  notifier,
		origin:    origin,
		timeout:   timeout,
		metrics:   recorder,
		log:       log.Named("shipment"),
	}
}

func (s *shipmentProvisioner) ProvisionShipment(ctx context.Context, orderID int64) (*ProvisionResult, error) {
	order, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderNotFound(orderID)
	}
	log := logger.FromContext(ctx, s.log).With(zap.Int64("order_id", orderID))

	if order.HasShipment() {
		s.metrics.Provision("existing")
		return s.existing(ctx, order, log), nil
	}

	if order.Status != domain.OrderPaid {
		return nil, NewConflict(CodeOrderNotPaid, fmt.Sprintf("order %d is %s; shipments are created for paid orders", orderID, order.Status))
	}
	if missing := domain.MissingShippingInfo(order); len(missing) > 0 {
		s.metrics.Provision("incomplete")
		e := NewValidation(CodeIncompleteShippingInfo, "missing "+strings.Join(missing, ", "))
		e.Retryable = true
		return nil, e
	}

	items, err := s.orderRepo.FindItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, NewValidation(CodeOrderHasNoItems, fmt.Sprintf("order %d has no items to ship", orderID))
	}

	req := domain.BuildShipmentRequest(order, items, s.origin)
	shipment, err := s.create(ctx, req)
	if err != nil {
		s.metrics.Provision("failed")
		log.Warn("shipment creation failed", zap.String("reference", req.ReferenceID), zap.Error(err))
		return nil, err
	}

	applied, err := s.record(ctx, order, shipment)
	if err != nil {
		// the provider holds a shipment under this order's reference; a retry re-sends the same reference
		log.Error("shipment created but not recorded", zap.String("shipment_id", shipment.ID), zap.Error(err))
		return nil, err
	}

	fresh, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !applied {
		log.Warn("shipment discarded, order already moved",
			zap.String("shipment_id", shipment.ID),
			zap.String("status", string(fresh.Status)),
			zap.String("recorded_shipment_id", domain.Deref(fresh.ShipmentID)),
		)
		s.metrics.Provision("discarded")
		if fresh.HasShipment() {
			return resultFor(fresh, false), nil
		}
		return nil, NewConflict(CodeOrderNotPaid, fmt.Sprintf("order %d is %s; shipments are created for paid orders", orderID, fresh.Status))
	}

	s.metrics.Transition(string(domain.OrderPaid), string(domain.OrderPacked))
	s.metrics.Provision("created")
	s.notifier.ShipmentCreated(ctx, fresh, shipment)
	log.Info("shipment created",
		zap.String("shipment_id", shipment.ID),
		zap.String("courier", req.CourierCompany),
		zap.String("service", req.CourierType),
	)
	return resultFor(fresh, true), nil
}

func (s *shipmentProvisioner) existing(ctx context.Context, order *domain.Order, log *zap.Logger) *ProvisionResult {
	res := resultFor(order, false)
	view, err := s.tracker.RefreshTracking(ctx, order.ID)
	if err != nil {
		log.Warn("tracking refresh after existing shipment failed", zap.Error(err))
		return res
	}
	res.Tracking = view
	res.Status = view.Status
	res.TrackingRef = view.TrackingRef
	res.WaybillNumber = view.WaybillNumber
	return res
}

func (s *shipmentProvisioner) create(ctx context.Context, req domain.ShipmentRequest) (domain.Shipment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	shipment, err := s.provider.CreateShipment(ctx, req)
	switch {
	case err == nil:
		return shipment, nil
	case errors.Is(err, shipping.ErrRejected):
		e := NewValidation(CodeShipmentRejected, "shipping provider rejected the shipment request")
		e.Retryable = true
		e.Err = err
		return domain.Shipment{}, e
	default:
		return domain.Shipment{}, NewUnavailable(CodeShippingUnavailable, "shipping provider unavailable, try again later", err)
	}
}

// record moves the order paid -> packed and stores the shipment identifiers in one transaction.
// Nothing is stored when the order is no longer paid.
func (s *shipmentProvisioner) record(ctx context.Context, order *domain.Order, shipment domain.Shipment) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	note := "Shipment created"
	if shipment.Courier != "" {
		note += " with " + strings.ToUpper(shipment.Courier)
	}
	applied, err := s.orderRepo.ApplyTransition(ctx, tx, order.ID,
		domain.SourcesFor(domain.OrderPacked), domain.OrderPacked,
		repo.TransitionFields{ShippingStatus: shipment.Status, Note: note},
	)
	if err != nil || !applied {
		return false, err
	}

	err = s.orderRepo.SetShipmentIdentifiers(ctx, tx, order.ID, repo.ShipmentIdentifiers{
		ShipmentID:     shipment.ID,
		TrackingRef:    shipment.TrackingRef,
		WaybillNumber:  shipment.WaybillNumber,
		ShippingStatus: shipment.Status,
	})
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func resultFor(o *domain.Order, created bool) *ProvisionResult {
	return &ProvisionResult{
		OrderID:       o.ID,
		Status:        o.Status,
		ShipmentID:    domain.Deref(o.ShipmentID),
		TrackingRef:   domain.Deref(o.TrackingRef),
		WaybillNumber: domain.Deref(o.WaybillNumber),
		Created:       created,
	}
}
