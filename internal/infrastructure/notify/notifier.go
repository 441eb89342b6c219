package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
)

type EventKind string

const (
	EventPaymentConfirmed EventKind = "payment_confirmed"
	EventShipmentCreated  EventKind = "shipment_created"
)

// Event is the message handed to the notification collaborator, keyed by user id.
type Event struct {
	ID            string    `json:"id"`
	Kind          EventKind `json:"event"`
	UserID        int64     `json:"user_id"`
	OrderID       int64     `json:"order_id"`
	Status        string    `json:"status"`
	Total         int64     `json:"total"`
	ShipmentID    string    `json:"shipment_id,omitempty"`
	WaybillNumber string    `json:"waybill_number,omitempty"`
	Courier       string    `json:"courier,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers events to one transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

const publishTimeout = 5 * time.Second

// Notifier sends events in the background. Failures are logged and never returned.
type Notifier struct {
	publisher Publisher
	log       *zap.Logger
	wg        sync.WaitGroup
}

func New(publisher Publisher, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{publisher: publisher, log: log.Named("notify")}
}

func (n *Notifier) PaymentConfirmed(ctx context.Context, o *domain.Order) {
	n.dispatch(ctx, newEvent(EventPaymentConfirmed, o))
}

func (n *Notifier) ShipmentCreated(ctx context.Context, o *domain.Order, s domain.Shipment) {
	ev := newEvent(EventShipmentCreated, o)
	ev.ShipmentID = s.ID
	ev.WaybillNumber = s.WaybillNumber
	ev.Courier = s.Courier
	n.dispatch(ctx, ev)
}

// Wait blocks until every dispatched event has been attempted.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// Close waits for in-flight events and closes the transport.
func (n *Notifier) Close() error {
	if n == nil || n.publisher == nil {
		return nil
	}
	n.wg.Wait()
	return n.publisher.Close()
}

func (n *Notifier) dispatch(ctx context.Context, ev Event) {
	if n == nil || n.publisher == nil {
		return
	}

	// detached from the request so a finished handler does not cancel delivery
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		if err := n.publisher.Publish(ctx, ev); err != nil {
			n.log.Warn("notification failed",
				zap.String("event", string(ev.Kind)),
				zap.Int64("order_id", ev.OrderID),
				zap.Int64("user_id", ev.UserID),
				zap.Error(err),
			)
		}
	}()
}

func newEvent(kind EventKind, o *domain.Order) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		UserID:     o.UserID,
		OrderID:    o.ID,
		Status:     string(o.Status),
		Total:      o.Total,
		OccurredAt: time.Now().UTC(),
	}
}
