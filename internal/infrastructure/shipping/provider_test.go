package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-fulfillment/internal/domain"
)

func TestHTTPProviderCreateShipment(t *testing.T) {
	var got domain.ShipmentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "api-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"shp-1","status":"confirmed","courier":{"company":"jne","type":"reg","waybill_id":null,"tracking_id":null}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "api-key", time.Second, nil)
	s, err := p.CreateShipment(context.Background(), domain.ShipmentRequest{ReferenceID: "order-7", CourierCompany: "jne", CourierType: "reg"})
	require.NoError(t, err)

	assert.Equal(t, "order-7", got.ReferenceID)
	assert.Equal(t, "shp-1", s.ID)
	assert.Empty(t, s.WaybillNumber)
	assert.Empty(t, s.TrackingRef)
}

func TestHTTPProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/orders":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid postal code"}`))
		case "/v1/orders/shp-down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "k", time.Second, nil)
	ctx := context.Background()

	_, err := p.CreateShipment(ctx, domain.ShipmentRequest{})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = p.GetShipment(ctx, "shp-down")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = p.GetShipment(ctx, "shp-missing")
	assert.ErrorIs(t, err, ErrShipmentNotFound)
}

func TestHTTPProviderGetShipmentAndTracking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/orders/shp-1":
			_, _ = w.Write([]byte(`{"id":"shp-1","status":"allocated","courier":{"company":"jne","waybill_id":"WB123","tracking_id":"trk-9"}}`))
		case "/v1/trackings/trk-9":
			_, _ = w.Write([]byte(`{"id":"trk-9","waybill_id":"WB123","status":"dropping_off","history":[
				{"status":"picked","note":"Courier picked up parcel","updated_at":"2024-05-02T09:00:00+07:00"},
				{"status":"dropping_off","note":"On the way","updated_at":"2024-05-02 13:30:00","location":{"name":"Jakarta Hub"}},
				{"status":"weighing","note":"","updated_at":""}
			]}`))
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "k", time.Second, time.FixedZone("WIB", 7*60*60))
	ctx := context.Background()

	s, err := p.GetShipment(ctx, "shp-1")
	require.NoError(t, err)
	assert.Equal(t, "WB123", s.WaybillNumber)
	assert.Equal(t, "trk-9", s.TrackingRef)

	events, err := p.GetTracking(ctx, "trk-9")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, domain.TrackingPickedUp, events[0].Status)
	assert.Equal(t, "picked", events[0].RawStatus)
	require.NotNil(t, events[0].OccurredAt)
	assert.Equal(t, time.Date(2024, 5, 2, 2, 0, 0, 0, time.UTC), events[0].OccurredAt.UTC())

	assert.Equal(t, domain.TrackingInTransit, events[1].Status)
	require.NotNil(t, events[1].OccurredAt)
	assert.Equal(t, time.Date(2024, 5, 2, 6, 30, 0, 0, time.UTC), events[1].OccurredAt.UTC())
	require.NotNil(t, events[1].Location)
	assert.Equal(t, "Jakarta Hub", events[1].Location.Name)

	assert.Equal(t, domain.TrackingStatus("weighing"), events[2].Status)
	assert.Nil(t, events[2].OccurredAt)
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	s, err := p.CreateShipment(ctx, domain.ShipmentRequest{ReferenceID: "order-1", CourierCompany: "jne"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Creates())

	got, err := p.GetShipment(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.WaybillNumber)

	p.AssignWaybill(s.ID, "WB1", "trk-1")
	got, err = p.GetShipment(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "WB1", got.WaybillNumber)
	assert.Equal(t, "trk-1", got.TrackingRef)

	at := time.Now()
	p.AddTrackingEvent("trk-1", "picked", &at, "picked up")
	events, err := p.GetTracking(ctx, "trk-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TrackingPickedUp, events[0].Status)

	boom := errors.New("boom")
	p.FailCreates(boom)
	_, err = p.CreateShipment(ctx, domain.ShipmentRequest{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.Creates())

	p.SetLatency(time.Second)
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = p.GetTracking(short, "trk-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
