package domain

import (
	"time"
)

type OrderStatus string

const (
	OrderNew            OrderStatus = "new"
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderPacked         OrderStatus = "packed"
	OrderShipped        OrderStatus = "shipped"
	OrderCompleted      OrderStatus = "completed"
	OrderCancelled      OrderStatus = "cancelled"
)

// Lifecycle is the forward order of the non-cancelled states.
var Lifecycle = []OrderStatus{
	OrderNew,
	OrderPendingPayment,
	OrderPaid,
	OrderPacked,
	OrderShipped,
	OrderCompleted,
}

// legalTransitions lists, for every target status, the statuses it may be entered from.
var legalTransitions = map[OrderStatus][]OrderStatus{
	OrderPendingPayment: {OrderNew},
	OrderPaid:           {OrderNew, OrderPendingPayment},
	OrderPacked:         {OrderPaid},
	OrderShipped:        {OrderPacked},
	OrderCompleted:      {OrderShipped},
	OrderCancelled:      {OrderNew, OrderPendingPayment, OrderPaid},
}

var statusLabels = map[OrderStatus]string{
	OrderNew:            "Order created",
	OrderPendingPayment: "Awaiting payment",
	OrderPaid:           "Payment confirmed",
	OrderPacked:         "Shipment created",
	OrderShipped:        "Picked up by courier",
	OrderCompleted:      "Order completed",
	OrderCancelled:      "Order cancelled",
}

func (s OrderStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Label is the human readable timeline label for the status.
func (s OrderStatus) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// SourcesFor returns the statuses from which next may legally be entered.
func SourcesFor(next OrderStatus) []OrderStatus {
	return append([]OrderStatus(nil), legalTransitions[next]...)
}

// CanTransition reports whether from -> to is an edge of the order state machine.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range legalTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// ReachedPaid reports whether an order in status s has been paid at some point.
func ReachedPaid(s OrderStatus) bool {
	switch s {
	case OrderPaid, OrderPacked, OrderShipped, OrderCompleted:
		return true
	}
	return false
}

type Address struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	Email         string `json:"email,omitempty"`
	Line          string `json:"line"`
	City          string `json:"city,omitempty"`
	Province      string `json:"province,omitempty"`
	PostalCode    string `json:"postal_code"`
	Note          string `json:"note,omitempty"`
}

type Order struct {
	ID     int64
	UserID int64

	// external identifiers, resolved at different times
	GatewayTxnID  *string
	ShipmentID    *string
	TrackingRef   *string
	WaybillNumber *string

	Subtotal    int64
	ShippingFee int64
	Total       int64

	Status         OrderStatus
	PaymentStatus  string
	PaymentMethod  string
	ShippingStatus string

	Destination    Address
	CourierCompany string
	CourierService string
	CourierNote    string

	CreatedAt time.Time
	PaidAt    *time.Time
	UpdatedAt time.Time
}

// HasShipment reports whether the shipping provider has already accepted a shipment for the order.
func (o *Order) HasShipment() bool {
	return o.ShipmentID != nil && *o.ShipmentID != ""
}

type OrderItem struct {
	ID           int64
	OrderID      int64
	ProductID    int64
	Title        string
	UnitPrice    int64
	Quantity     int
	Unit         string
	UnitWeightKg float64
}

// DeclaredValue is the unit price times quantity.
func (i OrderItem) DeclaredValue() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// WeightGrams converts the line weight to whole grams, never below one gram.
func (i OrderItem) WeightGrams() int {
	grams := int(i.UnitWeightKg*float64(i.Quantity)*1000 + 0.5)
	if grams < 1 {
		return 1
	}
	return grams
}

// Value returns a pointer to v, or nil when v is empty.
func Value(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Deref returns the pointed-to string or "".
func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
