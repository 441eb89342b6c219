package shipping

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"order-fulfillment/internal/domain"
)

// MemoryProvider is an in-process shipping provider for the simulator and tests.
// Created shipments carry neither waybill nor tracking reference until AssignWaybill is called.
type MemoryProvider struct {
	mu          sync.RWMutex
	shipments   map[string]domain.Shipment
	requests    map[string]domain.ShipmentRequest
	history     map[string][]domain.TrackingEvent
	createErr   error
	trackingErr error
	latency     time.Duration
	creates     int
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		shipments: make(map[string]domain.Shipment),
		requests:  make(map[string]domain.ShipmentRequest),
		history:   make(map[string][]domain.TrackingEvent),
	}
}

// FailCreates makes CreateShipment return err until cleared with nil.
func (p *MemoryProvider) FailCreates(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// FailTracking makes GetTracking return err until cleared with nil.
func (p *MemoryProvider) FailTracking(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trackingErr = err
}

// SetLatency delays every call, honouring ctx cancellation.
func (p *MemoryProvider) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// Creates counts successful CreateShipment calls.
func (p *MemoryProvider) Creates() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.creates
}

// Request returns the request a shipment was created from.
func (p *MemoryProvider) Request(shipmentID string) (domain.ShipmentRequest, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	req, ok := p.requests[shipmentID]
	return req, ok
}

// AssignWaybill resolves the carrier identifiers of a shipment, as the provider does some time after creation.
func (p *MemoryProvider) AssignWaybill(shipmentID, waybill, trackingRef string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.shipments[shipmentID]
	if !ok {
		return
	}
	s.WaybillNumber = waybill
	s.TrackingRef = trackingRef
	s.Status = "allocated"
	p.shipments[shipmentID] = s
}

// AddTrackingEvent appends one carrier history entry for trackingRef.
func (p *MemoryProvider) AddTrackingEvent(trackingRef, rawStatus string, at *time.Time, note string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[trackingRef] = append(p.history[trackingRef], domain.TrackingEvent{
		Status:     domain.NormalizeCarrierStatus(rawStatus),
		RawStatus:  rawStatus,
		OccurredAt: at,
		Note:       note,
	})
}

func (p *MemoryProvider) CreateShipment(ctx context.Context, req domain.ShipmentRequest) (domain.Shipment, error) {
	if err := p.wait(ctx); err != nil {
		return domain.Shipment{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return domain.Shipment{}, p.createErr
	}

	s := domain.Shipment{
		ID:      "shp-" + uuid.NewString(),
		Status:  "confirmed",
		Courier: req.CourierCompany,
	}
	p.shipments[s.ID] = s
	p.requests[s.ID] = req
	p.creates++
	return s, nil
}

func (p *MemoryProvider) GetShipment(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	if err := p.wait(ctx); err != nil {
		return domain.Shipment{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.shipments[shipmentID]
	if !ok {
		return domain.Shipment{}, ErrShipmentNotFound
	}
	return s, nil
}

func (p *MemoryProvider) GetTracking(ctx context.Context, trackingRef string) ([]domain.TrackingEvent, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.trackingErr != nil {
		return nil, p.trackingErr
	}
	events := make([]domain.TrackingEvent, len(p.history[trackingRef]))
	copy(events, p.history[trackingRef])
	return events, nil
}

func (p *MemoryProvider) wait(ctx context.Context) error {
	p.mu.RLock()
	latency := p.latency
	p.mu.RUnlock()
	if latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
