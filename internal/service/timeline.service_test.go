package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-fulfillment/internal/domain"
)

func TestBuildTimelineMergesAndOrders(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	at := func(h int) *time.Time { v := base.Add(time.Duration(h) * time.Hour); return &v }

	order := &domain.Order{ID: 9, Status: domain.OrderShipped}
	picked := domain.TrackingEvent{Status: domain.TrackingPickedUp, RawStatus: "picked", OccurredAt: at(5), Note: "picked up"}

	stored := []domain.StatusEvent{
		domain.TransitionEvent(9, domain.OrderNew, *at(0), ""),
		domain.TransitionEvent(9, domain.OrderPaid, *at(1), ""),
		domain.TransitionEvent(9, domain.OrderPacked, *at(2), ""),
		picked.StatusEvent(9),
		domain.TransitionEvent(9, domain.OrderShipped, *at(5), ""),
	}
	live := []domain.TrackingEvent{
		picked,
		{Status: "sorting", RawStatus: "sorting", Note: "no timestamp"},
		{Status: domain.TrackingInTransit, RawStatus: "on_process", OccurredAt: at(7)},
		{Status: domain.TrackingInTransit, RawStatus: "dropping_off", OccurredAt: at(3)},
	}

	tl := BuildTimeline(order, stored, live)

	kinds := make([]string, 0, len(tl.Events))
	for _, e := range tl.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{
		"new", "paid", "packed", "in_transit", "picked_up", "shipped", "in_transit", "sorting",
	}, kinds)
	// equal timestamps keep stored order
	assert.Equal(t, domain.SourceCarrier, tl.Events[4].Source)
	assert.Equal(t, domain.SourceInternal, tl.Events[5].Source)
	assert.Nil(t, tl.Events[7].OccurredAt)

	require.Len(t, tl.Stages, len(domain.Lifecycle))
	byStatus := map[domain.OrderStatus]Stage{}
	for _, s := range tl.Stages {
		byStatus[s.Status] = s
	}
	assert.True(t, byStatus[domain.OrderPaid].Reached)
	assert.False(t, byStatus[domain.OrderPendingPayment].Reached)
	assert.True(t, byStatus[domain.OrderShipped].Current)
	assert.False(t, byStatus[domain.OrderCompleted].Reached)
	require.NotNil(t, byStatus[domain.OrderPacked].At)
	assert.Equal(t, *at(2), *byStatus[domain.OrderPacked].At)
}

func TestBuildTimelineCancelledStage(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	order := &domain.Order{ID: 3, Status: domain.OrderCancelled}
	stored := []domain.StatusEvent{
		domain.TransitionEvent(3, domain.OrderNew, at, ""),
		domain.TransitionEvent(3, domain.OrderCancelled, at.Add(time.Hour), "expired"),
	}

	tl := BuildTimeline(order, stored, nil)

	require.Len(t, tl.Stages, len(domain.Lifecycle)+1)
	last := tl.Stages[len(tl.Stages)-1]
	assert.Equal(t, domain.OrderCancelled, last.Status)
	assert.True(t, last.Reached)
	assert.True(t, last.Current)
	assert.Len(t, tl.Events, 2)
}

func TestTimelineIncludesLiveCarrierEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := packedOrder(t, h)

	h.provider.AssignWaybill(domain.Deref(order.ShipmentID), "WB-1", "trk-1")
	_, err := h.tracker.RefreshTracking(ctx, order.ID)
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Hour)
	h.provider.AddTrackingEvent("trk-1", "picked", &at, "picked up")

	tl, err := h.timeline.Timeline(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, tl.LiveEvents)
	last := tl.Events[len(tl.Events)-1]
	assert.Equal(t, string(domain.TrackingPickedUp), last.Kind)
	assert.Equal(t, domain.SourceCarrier, last.Source)

	// reading the timeline stores nothing
	assert.Equal(t, 0, h.eventCount(t, order.ID, string(domain.TrackingPickedUp)))
	assert.Equal(t, domain.OrderPacked, h.reload(t, order.ID).Status)
}
