package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/metrics"
	"order-fulfillment/internal/service"
)

const testSecret = "whsec-test"

type fakePayments struct {
	notifications []domain.PaymentNotification
	outcome       *service.NotificationOutcome
	poll          *service.PollResult
	err           error
}

func (f *fakePayments) HandleNotification(_ context.Context, n domain.PaymentNotification) (*service.NotificationOutcome, error) {
	f.notifications = append(f.notifications, n)
	return f.outcome, f.err
}

func (f *fakePayments) PollStatus(_ context.Context, id int64) (*service.PollResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.poll, nil
}

type fakeProvisioner struct {
	res *service.ProvisionResult
	err error
}

func (f *fakeProvisioner) ProvisionShipment(context.Context, int64) (*service.ProvisionResult, error) {
	return f.res, f.err
}

type fakeTracker struct {
	view  *service.TrackingView
	order *domain.Order
	err   error
}

func (f *fakeTracker) RefreshTracking(context.Context, int64) (*service.TrackingView, error) {
	return f.view, f.err
}

func (f *fakeTracker) ConfirmDelivery(context.Context, int64) (*domain.Order, error) {
	return f.order, f.err
}

type fakeTimeline struct{}

func (fakeTimeline) Timeline(_ context.Context, id int64) (*service.Timeline, error) {
	return &service.Timeline{OrderID: id, Status: domain.OrderPaid}, nil
}

type fakeHealth map[string]string

func (f fakeHealth) Health(context.Context) map[string]string { return f }

type fixture struct {
	router      *gin.Engine
	payments    *fakePayments
	provisioner *fakeProvisioner
	tracker     *fakeTracker
	metrics     *metrics.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		payments:    &fakePayments{},
		provisioner: &fakeProvisioner{},
		tracker:     &fakeTracker{},
		metrics:     metrics.New(),
	}
	h := NewHandler(f.payments, f.provisioner, f.tracker, fakeTimeline{}, fakeHealth{"status": "up"}, time.UTC)
	f.router = NewRouter(RouterConfig{WebhookSecret: testSecret, CORSOrigins: []string{"*"}}, h, f.metrics, zap.NewNop())
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func webhookRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	return req
}

func sign(body string) string {
	return hex.EncodeToString(Sign([]byte(testSecret), []byte(body)))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const settlementBody = `{"transaction_id":"txn-1","order_id":"order-5","transaction_status":"settlement","fraud_status":"accept","payment_type":"qris","gross_amount":"75000.00","transaction_time":"2024-05-01 10:00:00"}`

func TestWebhookRejectsBadSignatures(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"not hex", "zz-not-hex"},
		{"wrong secret", hex.EncodeToString(Sign([]byte("other"), []byte(settlementBody)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(webhookRequest(settlementBody, tt.signature))

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, service.CodeInvalidSignature, body.Error)
			assert.NotEmpty(t, body.RequestID)
			assert.Empty(t, f.payments.notifications)
		})
	}
}

func TestWebhookProcessesSignedNotification(t *testing.T) {
	f := newFixture(t)
	f.payments.outcome = &service.NotificationOutcome{
		OrderID:      5,
		Status:       domain.OrderPaid,
		Transitioned: true,
		ShipmentError: &service.Error{
			Kind: service.KindUnavailable, Code: service.CodeShippingUnavailable, Message: "try later", Retryable: true,
		},
	}

	rec := f.do(webhookRequest(settlementBody, "sha256="+sign(settlementBody)))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.payments.notifications, 1)
	n := f.payments.notifications[0]
	assert.Equal(t, "txn-1", n.TransactionID)
	assert.Equal(t, int64(75000), n.GrossAmount)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "paid", out["status"])
	shipmentErr := out["shipment_error"].(map[string]any)
	assert.Equal(t, true, shipmentErr["can_retry"])
	assert.Equal(t, service.CodeShippingUnavailable, shipmentErr["error"])
}

func TestWebhookMalformedPayload(t *testing.T) {
	f := newFixture(t)
	body := `{"transaction_status":"settlement"}`

	rec := f.do(webhookRequest(body, sign(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decodeError(t, rec)
	assert.Equal(t, service.CodeMalformedNotification, errBody.Error)
	assert.Contains(t, errBody.Message, "transaction_id is required")
	assert.Empty(t, f.payments.notifications)
}

func TestWebhookUnknownOrder(t *testing.T) {
	f := newFixture(t)
	f.payments.err = service.NewNotFound(service.CodeOrderNotFound, "no order for gateway transaction txn-1")

	rec := f.do(webhookRequest(settlementBody, sign(settlementBody)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, service.CodeOrderNotFound, body.Error)
	assert.False(t, body.CanRetry)
}

func TestPaymentStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	paidAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.payments.poll = &service.PollResult{
		OrderID: 5, Status: domain.OrderPaid, PaymentStatus: "settlement", PaidAt: &paidAt,
		Updated: true, VerificationSource: service.SourceGateway,
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/orders/5/payment-status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "paid", out["status"])
	assert.Equal(t, "settlement", out["payment_status"])
	assert.Equal(t, "gateway", out["verification_source"])
	assert.Equal(t, true, out["updated"])
	assert.Equal(t, "2024-05-01T10:00:00Z", out["paid_at"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/orders/abc/payment-status", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShipmentEndpointErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		canRetry bool
	}{
		{"incomplete shipping info", func() error {
			e := service.NewValidation(service.CodeIncompleteShippingInfo, "missing destination.phone")
			e.Retryable = true
			return e
		}(), http.StatusUnprocessableEntity, true},
		{"provider down", service.NewUnavailable(service.CodeShippingUnavailable, "try later", nil), http.StatusServiceUnavailable, true},
		{"not paid", service.NewConflict(service.CodeOrderNotPaid, "order 5 is new"), http.StatusConflict, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.provisioner.err = tt.err

			rec := f.do(httptest.NewRequest(http.MethodPost, "/api/v1/orders/5/shipment", nil))
			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, tt.canRetry, body.CanRetry)
		})
	}
}

func TestShipmentEndpointCreated(t *testing.T) {
	f := newFixture(t)
	f.provisioner.res = &service.ProvisionResult{OrderID: 5, Status: domain.OrderPacked, ShipmentID: "shp-1", Created: true}

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/v1/orders/5/shipment", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	f.provisioner.res.Created = false
	rec = f.do(httptest.NewRequest(http.MethodPost, "/api/v1/orders/5/shipment", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTrackingTimelineAndComplete(t *testing.T) {
	f := newFixture(t)
	f.tracker.view = &service.TrackingView{OrderID: 5, Status: domain.OrderShipped, Available: true, EligibleForCompletion: true}
	f.tracker.order = &domain.Order{ID: 5, Status: domain.OrderCompleted}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/orders/5/tracking", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"eligible_for_completion":true`)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/orders/5/timeline", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order_id":5`)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/api/v1/orders/5/complete", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestHealthMetricsAndRequestID(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fulfillment_http_requests_total{route="/health",status="200"} 1`)
}

func TestUnclassifiedErrorsAreInternal(t *testing.T) {
	f := newFixture(t)
	f.tracker.err = assert.AnError

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/orders/5/tracking", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "internal_error", body.Error)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
