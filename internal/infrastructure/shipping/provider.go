package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"order-fulfillment/internal/domain"
)

var (
	ErrShipmentNotFound = errors.New("shipping: shipment not found")
	ErrUnavailable      = errors.New("shipping: provider unavailable")
	ErrRejected         = errors.New("shipping: request rejected")
)

// Provider is the shipping provider as seen by the fulfillment core.
// Shipment ids and tracking references are distinct and may be resolved at different times.
type Provider interface {
	CreateShipment(ctx context.Context, req domain.ShipmentRequest) (domain.Shipment, error)
	GetShipment(ctx context.Context, shipmentID string) (domain.Shipment, error)
	// GetTracking returns the carrier history for a tracking reference, oldest first, already normalized.
	GetTracking(ctx context.Context, trackingRef string) ([]domain.TrackingEvent, error)
}

type httpProvider struct {
	baseURL string
	apiKey  string
	loc     *time.Location
	client  *http.Client
}

// NewHTTPProvider builds the provider client. Zone-less carrier timestamps are read in loc.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration, loc *time.Location) Provider {
	return &httpProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		loc:     loc,
		client:  &http.Client{Timeout: timeout},
	}
}

type courierPayload struct {
	Company    string  `json:"company"`
	Type       string  `json:"type"`
	WaybillID  *string `json:"waybill_id"`
	TrackingID *string `json:"tracking_id"`
}

type shipmentPayload struct {
	ID      string         `json:"id"`
	Status  string         `json:"status"`
	Courier courierPayload `json:"courier"`
}

func (p shipmentPayload) toDomain() domain.Shipment {
	return domain.Shipment{
		ID:            p.ID,
		Status:        p.Status,
		Courier:       p.Courier.Company,
		WaybillNumber: domain.Deref(p.Courier.WaybillID),
		TrackingRef:   domain.Deref(p.Courier.TrackingID),
	}
}

type historyPayload struct {
	Status    string           `json:"status"`
	Note      string           `json:"note"`
	UpdatedAt string           `json:"updated_at"`
	Location  *domain.Location `json:"location"`
}

type trackingPayload struct {
	ID        string           `json:"id"`
	WaybillID string           `json:"waybill_id"`
	Status    string           `json:"status"`
	History   []historyPayload `json:"history"`
}

func (p *httpProvider) CreateShipment(ctx context.Context, req domain.ShipmentRequest) (domain.Shipment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.Shipment{}, err
	}

	var out shipmentPayload
	if err := p.do(ctx, http.MethodPost, "/v1/orders", body, &out); err != nil {
		return domain.Shipment{}, err
	}
	if out.ID == "" {
		return domain.Shipment{}, fmt.Errorf("%w: response without shipment id", ErrUnavailable)
	}
	return out.toDomain(), nil
}

func (p *httpProvider) GetShipment(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	var out shipmentPayload
	if err := p.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(shipmentID), nil, &out); err != nil {
		return domain.Shipment{}, err
	}
	return out.toDomain(), nil
}

func (p *httpProvider) GetTracking(ctx context.Context, trackingRef string) ([]domain.TrackingEvent, error) {
	var out trackingPayload
	if err := p.do(ctx, http.MethodGet, "/v1/trackings/"+url.PathEscape(trackingRef), nil, &out); err != nil {
		return nil, err
	}

	events := make([]domain.TrackingEvent, 0, len(out.History))
	for _, h := range out.History {
		event := domain.TrackingEvent{
			Status:    domain.NormalizeCarrierStatus(h.Status),
			RawStatus: h.Status,
			Note:      h.Note,
			Location:  h.Location,
		}
		if h.UpdatedAt != "" {
			// unparseable timestamps keep the event, ordered last
			if at, err := domain.ParseGatewayTime(h.UpdatedAt, p.loc); err == nil {
				event.OccurredAt = &at
			}
		}
		events = append(events, event)
	}
	return events, nil
}

func (p *httpProvider) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrShipmentNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
