package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapPaymentStatus(t *testing.T) {
	cases := []struct {
		status string
		fraud  string
		want   OrderStatus
		ok     bool
	}{
		{"settlement", "accept", OrderPaid, true},
		{"settlement", "", OrderPaid, true},
		{"capture", "accept", OrderPaid, true},
		{"capture", "challenge", OrderPaid, true},
		{"capture", "deny", OrderCancelled, true},
		{"SETTLEMENT", " Accept ", OrderPaid, true},
		{"pending", "", OrderPendingPayment, true},
		{"deny", "deny", OrderCancelled, true},
		{"cancel", "", OrderCancelled, true},
		{"expire", "", OrderCancelled, true},
		{"failure", "", OrderCancelled, true},
		{"refund", "", "", false},
		{"authorize", "accept", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		got, ok := MapPaymentStatus(tc.status, tc.fraud)
		assert.Equalf(t, tc.ok, ok, "%s/%s", tc.status, tc.fraud)
		assert.Equalf(t, tc.want, got, "%s/%s", tc.status, tc.fraud)

		again, okAgain := MapPaymentStatus(tc.status, tc.fraud)
		assert.Equal(t, got, again)
		assert.Equal(t, ok, okAgain)
	}
}

func TestNormalizeCarrierStatus(t *testing.T) {
	cases := map[string]TrackingStatus{
		"picked":             TrackingPickedUp,
		"picked_up":          TrackingPickedUp,
		"drop_off":           TrackingInTransit,
		"on_process":         TrackingInTransit,
		"delivered":          TrackingDelivered,
		"completed":          TrackingDelivered,
		"cancelled":          TrackingCancelled,
		"return_to_shipper":  TrackingReturned,
		" Delivered ":        TrackingDelivered,
		"on_hold":            TrackingStatus("on_hold"),
		" Out_For_Delivery ": TrackingStatus(" Out_For_Delivery "),
		"":                   TrackingStatus(""),
	}
	for in, want := range cases {
		assert.Equalf(t, want, NormalizeCarrierStatus(in), "input %q", in)
	}
	assert.False(t, NormalizeCarrierStatus("on_hold").Known())
	assert.True(t, NormalizeCarrierStatus("picked").SignalsPickup())
	assert.False(t, NormalizeCarrierStatus("cancelled").SignalsPickup())
}
