package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-fulfillment/internal/domain"
)

// packedOrder runs an order through payment and shipment creation.
func packedOrder(t *testing.T, h *harness) *domain.Order {
	t.Helper()
	s := h.seed(t, domain.OrderNew)
	out, err := h.notify(t, s.txnID, domain.TxnSettlement, domain.FraudAccept)
	require.NoError(t, err)
	require.Equal(t, domain.OrderPacked, out.Status)
	return h.reload(t, s.order.ID)
}

func TestRefreshTrackingLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	unshipped := h.seed(t, domain.OrderPendingPayment)
	view, err := h.tracker.RefreshTracking(ctx, unshipped.order.ID)
	require.NoError(t, err)
	assert.True(t, view.Pending)
	assert.Empty(t, view.Events)

	order := packedOrder(t, h)
	shipmentID := domain.Deref(order.ShipmentID)

	view, err = h.tracker.RefreshTracking(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, view.Pending)
	assert.True(t, view.Available)
	assert.Empty(t, view.TrackingRef)

	h.provider.AssignWaybill(shipmentID, "JNE0012345", "trk-1")
	picked := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	h.provider.AddTrackingEvent("trk-1", "picked", &picked, "Courier picked up parcel")

	view, err = h.tracker.RefreshTracking(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "JNE0012345", view.WaybillNumber)
	assert.Equal(t, "trk-1", view.TrackingRef)
	assert.Equal(t, 1, view.NewEvents)
	assert.Equal(t, domain.OrderShipped, view.Status)
	assert.False(t, view.EligibleForCompletion)

	stored := h.reload(t, order.ID)
	assert.Equal(t, domain.OrderShipped, stored.Status)
	assert.Equal(t, "JNE0012345", domain.Deref(stored.WaybillNumber))
	assert.Equal(t, "trk-1", domain.Deref(stored.TrackingRef))
	assert.Equal(t, string(domain.TrackingPickedUp), stored.ShippingStatus)

	// refetching the same history adds nothing
	view, err = h.tracker.RefreshTracking(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.NewEvents)
	assert.Equal(t, 1, h.eventCount(t, order.ID, string(domain.TrackingPickedUp)))

	delivered := picked.Add(26 * time.Hour)
	h.provider.AddTrackingEvent("trk-1", "delivered", &delivered, "Received by Siti")
	view, err = h.tracker.RefreshTracking(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.NewEvents)
	assert.True(t, view.EligibleForCompletion)
	assert.Equal(t, domain.OrderShipped, h.reload(t, order.ID).Status)

	completed, err := h.tracker.ConfirmDelivery(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, completed.Status)

	again, err := h.tracker.ConfirmDelivery(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, again.Status)
	assert.Equal(t, 1, h.eventCount(t, order.ID, string(domain.OrderCompleted)))
}

func TestRefreshTrackingNeverClearsIdentifiers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := packedOrder(t, h)
	shipmentID := domain.Deref(order.ShipmentID)

	h.provider.AssignWaybill(shipmentID, "WB-1", "trk-1")
	_, err := h.tracker.RefreshTracking(ctx, order.ID)
	require.NoError(t, err)

	h.provider.AssignWaybill(shipmentID, "", "")
	_, err = h.tracker.RefreshTracking(ctx, order.ID)
	require.NoError(t, err)

	stored := h.reload(t, order.ID)
	assert.Equal(t, shipmentID, domain.Deref(stored.ShipmentID))
	assert.Equal(t, "WB-1", domain.Deref(stored.WaybillNumber))
	assert.Equal(t, "trk-1", domain.Deref(stored.TrackingRef))
}

func TestRefreshTrackingDegradesWhenProviderIsUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := packedOrder(t, h)
	h.provider.AssignWaybill(domain.Deref(order.ShipmentID), "WB-1", "trk-1")

	h.provider.FailTracking(errors.New("503 from carrier"))
	view, err := h.tracker.RefreshTracking(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, view.Available)
	assert.Equal(t, domain.OrderPacked, view.Status)
	// identifiers resolved before the tracking call are kept
	assert.Equal(t, "trk-1", domain.Deref(h.reload(t, order.ID).TrackingRef))

	h.provider.FailTracking(nil)
	h.provider.SetLatency(3 * testTrackingTimeout)
	started := time.Now()
	view, err = h.tracker.RefreshTracking(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, view.Available)
	assert.Less(t, time.Since(started), 2*testTrackingTimeout)
	assert.Equal(t, domain.OrderPacked, h.reload(t, order.ID).Status)
}

func TestConfirmDeliveryRequiresShippedOrder(t *testing.T) {
	h := newHarness(t)
	order := packedOrder(t, h)

	_, err := h.tracker.ConfirmDelivery(context.Background(), order.ID)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindConflict, se.Kind)
	assert.Equal(t, CodeOrderNotShipped, se.Code)
}

func TestProvisionShipmentPreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending := h.seed(t, domain.OrderPendingPayment)
	_, err := h.provisioner.ProvisionShipment(ctx, pending.order.ID)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeOrderNotPaid, se.Code)

	_, err = h.provisioner.ProvisionShipment(ctx, 424242)
	se, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, se.Kind)

	h.provider.FailCreates(errors.New("invalid destination"))
	s := h.seed(t, domain.OrderNew)
	out, err := h.notify(t, s.txnID, domain.TxnSettlement, domain.FraudAccept)
	require.NoError(t, err)
	require.NotNil(t, out.ShipmentError)
	assert.True(t, out.ShipmentError.Retryable)
	assert.Equal(t, domain.OrderPaid, h.reload(t, s.order.ID).Status)
	assert.Equal(t, 0, h.provider.Creates())
}

func TestLatestEvent(t *testing.T) {
	t1 := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	_, ok := latestEvent(nil)
	assert.False(t, ok)

	got, ok := latestEvent([]domain.TrackingEvent{
		{Status: domain.TrackingInTransit, OccurredAt: &t2},
		{Status: domain.TrackingPickedUp, OccurredAt: &t1},
		{Status: "weighing"},
	})
	require.True(t, ok)
	assert.Equal(t, domain.TrackingInTransit, got.Status)

	got, _ = latestEvent([]domain.TrackingEvent{{Status: domain.TrackingPickedUp}, {Status: domain.TrackingInTransit}})
	assert.Equal(t, domain.TrackingInTransit, got.Status)
}
