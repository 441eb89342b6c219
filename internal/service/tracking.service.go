package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/shipping"
	"order-fulfillment/internal/logger"
	"order-fulfillment/internal/metrics"
	"order-fulfillment/internal/repo"
)

// TrackingView is the tracking state of one order as last seen from the carrier.
type TrackingView struct {
	OrderID        int64                  `json:"order_id"`
	Status         domain.OrderStatus     `json:"status"`
	ShipmentID     string                 `json:"shipment_id,omitempty"`
	TrackingRef    string                 `json:"tracking_ref,omitempty"`
	WaybillNumber  string                 `json:"waybill_number,omitempty"`
	ShippingStatus string                 `json:"shipping_status,omitempty"`
	Pending        bool                   `json:"pending"`
	Available      bool                   `json:"tracking_available"`
	Events         []domain.TrackingEvent `json:"events"`
	NewEvents      int                    `json:"new_events"`
	// EligibleForCompletion is set once the carrier reports delivery; completion itself is ConfirmDelivery.
	EligibleForCompletion bool `json:"eligible_for_completion"`
}

type TrackingSynchronizer interface {
	RefreshTracking(ctx context.Context, orderID int64) (*TrackingView, error)
	ConfirmDelivery(ctx context.Context, orderID int64) (*domain.Order, error)
}

type trackingSynchronizer struct {
	orderRepo repo.OrderRepo
	provider  shipping.Provider
	timeout   time.Duration
	metrics   *metrics.Recorder
	log       *zap.Logger
}

func NewTrackingSynchronizer(
	orderRepo repo.OrderRepo,
	provider shipping.Provider,
	timeout time.Duration,
	recorder *metrics.Recorder,
	log *zap.Logger,
) TrackingSynchronizer {
	return &trackingSynchronizer{
		orderRepo: orderRepo,
		provider:  provider,
		timeout:   timeout,
		metrics:   recorder,
		log:       log.Named("tracking"),
	}
}

func newTrackingView(o *domain.Order) *TrackingView {
	return &TrackingView{
		OrderID:        o.ID,
		Status:         o.Status,
		ShipmentID:     domain.Deref(o.ShipmentID),
		TrackingRef:    domain.Deref(o.TrackingRef),
		WaybillNumber:  domain.Deref(o.WaybillNumber),
		ShippingStatus: o.ShippingStatus,
		Events:         []domain.TrackingEvent{},
	}
}

func (s *trackingSynchronizer) RefreshTracking(ctx context.Context, orderID int64) (*TrackingView, error) {
	order, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderNotFound(orderID)
	}

	view := newTrackingView(order)
	log := logger.FromContext(ctx, s.log).With(zap.Int64("order_id", orderID), zap.String("shipment_id", view.ShipmentID))
	defer s.markRefreshed(ctx, orderID, log)

	if !order.HasShipment() {
		view.Pending = true
		s.metrics.TrackingRefresh("pending")
		return view, nil
	}

	// provider calls share one short budget; store writes use the caller's context
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	shipment, err := s.provider.GetShipment(pctx, view.ShipmentID)
	if err != nil {
		log.Warn("shipment lookup unavailable", zap.Error(err))
		s.metrics.TrackingRefresh("unavailable")
		return view, nil
	}

	if err := s.resolveIdentifiers(ctx, order, view, shipment); err != nil {
		return nil, err
	}
	if view.TrackingRef == "" {
		// carrier has not assigned a reference yet
		view.Available = true
		s.metrics.TrackingRefresh("awaiting_reference")
		return view, nil
	}

	events, err := s.provider.GetTracking(pctx, view.TrackingRef)
	if err != nil {
		log.Warn("tracking temporarily unavailable", zap.String("tracking_ref", view.TrackingRef), zap.Error(err))
		s.metrics.TrackingRefresh("unavailable")
		return view, nil
	}
	view.Available = true
	view.Events = events

	if err := s.foldEvents(ctx, order, view, log); err != nil {
		return nil, err
	}
	s.metrics.TrackingRefresh("refreshed")
	return view, nil
}

// markRefreshed stamps the attempt whatever the provider answered.
func (s *trackingSynchronizer) markRefreshed(ctx context.Context, orderID int64, log *zap.Logger) {
	if err := s.orderRepo.MarkTrackingRefreshed(ctx, orderID); err != nil {
		log.Warn("failed to stamp tracking refresh", zap.Error(err))
	}
}

// resolveIdentifiers persists a tracking reference or waybill that appeared since the last refresh.
func (s *trackingSynchronizer) resolveIdentifiers(ctx context.Context, order *domain.Order, view *TrackingView, shipment domain.Shipment) error {
	ids := repo.ShipmentIdentifiers{}
	if view.TrackingRef == "" && shipment.TrackingRef != "" {
		ids.TrackingRef = shipment.TrackingRef
		view.TrackingRef = shipment.TrackingRef
	}
	if view.WaybillNumber == "" && shipment.WaybillNumber != "" {
		ids.WaybillNumber = shipment.WaybillNumber
		view.WaybillNumber = shipment.WaybillNumber
	}
	if ids.TrackingRef == "" && ids.WaybillNumber == "" {
		return nil
	}
	if err := s.orderRepo.SetShipmentIdentifiers(ctx, nil, order.ID, ids); err != nil {
		return fmt.Errorf("persist shipment identifiers of order %d: %w", order.ID, err)
	}
	return nil
}

func (s *trackingSynchronizer) foldEvents(ctx context.Context, order *domain.Order, view *TrackingView, log *zap.Logger) error {
	for _, e := range view.Events {
		event := e.StatusEvent(order.ID)
		inserted, err := s.orderRepo.AppendStatusEvent(ctx, nil, &event)
		if err != nil {
			return fmt.Errorf("append carrier event of order %d: %w", order.ID, err)
		}
		if inserted {
			view.NewEvents++
		}
	}

	latest, ok := latestEvent(view.Events)
	if !ok || !latest.Status.Known() {
		return nil
	}
	view.ShippingStatus = string(latest.Status)

	if order.Status == domain.OrderPacked && latest.Status.SignalsPickup() {
		applied, err := s.orderRepo.ApplyTransition(ctx, nil, order.ID,
			[]domain.OrderStatus{domain.OrderPacked}, domain.OrderShipped,
			repo.TransitionFields{ShippingStatus: view.ShippingStatus, Note: latest.Note, At: eventTime(latest)},
		)
		if err != nil {
			return err
		}
		if applied {
			view.Status = domain.OrderShipped
			s.metrics.Transition(string(domain.OrderPacked), string(domain.OrderShipped))
			log.Info("order shipped", zap.String("carrier_status", latest.RawStatus))
		}
	} else if view.ShippingStatus != order.ShippingStatus {
		err := s.orderRepo.SetShipmentIdentifiers(ctx, nil, order.ID, repo.ShipmentIdentifiers{ShippingStatus: view.ShippingStatus})
		if err != nil {
			return err
		}
	}

	if latest.Status == domain.TrackingDelivered {
		view.EligibleForCompletion = view.Status == domain.OrderShipped
		if view.EligibleForCompletion {
			log.Info("carrier reports delivery, awaiting confirmation")
		}
	}
	return nil
}

// latestEvent picks the most recent timestamped event; the last reported one when none carries a timestamp.
func latestEvent(events []domain.TrackingEvent) (domain.TrackingEvent, bool) {
	if len(events) == 0 {
		return domain.TrackingEvent{}, false
	}
	latest := -1
	for i, e := range events {
		if e.OccurredAt == nil {
			continue
		}
		if latest < 0 || !e.OccurredAt.Before(*events[latest].OccurredAt) {
			latest = i
		}
	}
	if latest < 0 {
		return events[len(events)-1], true
	}
	return events[latest], true
}

func eventTime(e domain.TrackingEvent) time.Time {
	if e.OccurredAt != nil {
		return *e.OccurredAt
	}
	return time.Now()
}

func (s *trackingSynchronizer) ConfirmDelivery(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderNotFound(orderID)
	}
	if order.Status == domain.OrderCompleted {
		return order, nil
	}
	if order.Status != domain.OrderShipped {
		return nil, NewConflict(CodeOrderNotShipped, fmt.Sprintf("order %d is %s; only shipped orders can be completed", orderID, order.Status))
	}

	applied, err := s.orderRepo.ApplyTransition(ctx, nil, orderID,
		domain.SourcesFor(domain.OrderCompleted), domain.OrderCompleted,
		repo.TransitionFields{ShippingStatus: string(domain.TrackingDelivered), Note: "Delivery confirmed"},
	)
	if err != nil {
		return nil, err
	}
	if applied {
		s.metrics.Transition(string(domain.OrderShipped), string(domain.OrderCompleted))
		logger.FromContext(ctx, s.log).Info("order completed", zap.Int64("order_id", orderID))
	}

	order, err = s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderCompleted {
		return nil, NewConflict(CodeOrderNotShipped, fmt.Sprintf("order %d moved to %s", orderID, order.Status))
	}
	return order, nil
}
