package domain

import "strings"

// MapPaymentStatus translates a gateway transaction status and fraud outcome into the order
// status it implies. The boolean is false for statuses that carry no transition.
func MapPaymentStatus(gatewayStatus, fraudStatus string) (OrderStatus, bool) {
	status := strings.ToLower(strings.TrimSpace(gatewayStatus))
	fraud := strings.ToLower(strings.TrimSpace(fraudStatus))

	switch status {
	case TxnSettlement, TxnCapture:
		if fraud == FraudDeny {
			return OrderCancelled, true
		}
		return OrderPaid, true
	case TxnPending:
		return OrderPendingPayment, true
	case TxnDeny, TxnCancel, TxnExpire, TxnFailure:
		return OrderCancelled, true
	}
	return "", false
}

type TrackingStatus string

const (
	TrackingPickedUp  TrackingStatus = "picked_up"
	TrackingInTransit TrackingStatus = "in_transit"
	TrackingDelivered TrackingStatus = "delivered"
	TrackingCancelled TrackingStatus = "cancelled"
	TrackingReturned  TrackingStatus = "returned"
)

var carrierStatuses = map[string]TrackingStatus{
	"picked":            TrackingPickedUp,
	"picked_up":         TrackingPickedUp,
	"picking_up":        TrackingPickedUp,
	"drop_off":          TrackingInTransit,
	"dropping_off":      TrackingInTransit,
	"on_process":        TrackingInTransit,
	"in_transit":        TrackingInTransit,
	"delivered":         TrackingDelivered,
	"completed":         TrackingDelivered,
	"cancelled":         TrackingCancelled,
	"canceled":          TrackingCancelled,
	"return_to_shipper": TrackingReturned,
	"returned":          TrackingReturned,
}

// NormalizeCarrierStatus folds provider specific vocabulary onto TrackingStatus.
// Matching ignores case and surrounding space; unknown values pass through unchanged.
func NormalizeCarrierStatus(carrierStatus string) TrackingStatus {
	if normalized, ok := carrierStatuses[strings.ToLower(strings.TrimSpace(carrierStatus))]; ok {
		return normalized
	}
	return TrackingStatus(carrierStatus)
}

func (s TrackingStatus) Known() bool {
	switch s {
	case TrackingPickedUp, TrackingInTransit, TrackingDelivered, TrackingCancelled, TrackingReturned:
		return true
	}
	return false
}

// SignalsPickup reports whether the carrier has taken custody of the parcel.
func (s TrackingStatus) SignalsPickup() bool {
	return s == TrackingPickedUp || s == TrackingInTransit || s == TrackingDelivered
}

func (s TrackingStatus) Label() string {
	switch s {
	case TrackingPickedUp:
		return "Picked up"
	case TrackingInTransit:
		return "In transit"
	case TrackingDelivered:
		return "Delivered"
	case TrackingCancelled:
		return "Shipment cancelled"
	case TrackingReturned:
		return "Returned to shipper"
	}
	return strings.ReplaceAll(string(s), "_", " ")
}
