package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/infrastructure/shipping"
	"order-fulfillment/internal/metrics"
	"order-fulfillment/internal/repo"
	"order-fulfillment/internal/testutil"
)

const (
	testShippingTimeout = 150 * time.Millisecond
	testTrackingTimeout = 150 * time.Millisecond
)

type recordingNotifier struct {
	mu        sync.Mutex
	paid      []int64
	shipments []string
}

func (n *recordingNotifier) PaymentConfirmed(_ context.Context, o *domain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paid = append(n.paid, o.ID)
}

func (n *recordingNotifier) ShipmentCreated(_ context.Context, _ *domain.Order, s domain.Shipment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shipments = append(n.shipments, s.ID)
}

type harness struct {
	db          *sql.DB
	orders      repo.OrderRepo
	products    repo.ProductRepo
	gateway     *payment.MemoryGateway
	provider    *shipping.MemoryProvider
	notifier    *recordingNotifier
	metrics     *metrics.Recorder
	tracker     TrackingSynchronizer
	provisioner ShipmentProvisioner
	reconciler  PaymentReconciler
	timeline    TimelineBuilder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.Postgres(t)
	log := zap.NewNop()

	h := &harness{
		db:       db,
		orders:   repo.NewOrderRepo(db),
		products: repo.NewProductRepo(db),
		gateway:  payment.NewMemoryGateway(),
		provider: shipping.NewMemoryProvider(),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	origin := domain.ShipmentContact{Name: "Gudang Sayur", Phone: "0210000", Address: "Jl. Pasar Induk 5", PostalCode: "13750"}

	h.tracker = NewTrackingSynchronizer(h.orders, h.provider, testTrackingTimeout, h.metrics, log)
	h.provisioner = NewShipmentProvisioner(db, h.orders, h.provider, h.tracker, h.notifier, origin, testShippingTimeout, h.metrics, log)
	h.reconciler = NewPaymentReconciler(db, h.orders, h.gateway, NewStockReconciler(h.orders, h.products, log), h.provisioner, h.notifier, h.metrics, log)
	h.timeline = NewTimelineBuilder(h.orders, h.provider, testTrackingTimeout, log)
	return h
}

type seeded struct {
	order    *domain.Order
	txnID    string
	products []*domain.Product
	items    []domain.OrderItem
}

// seed stores an order of two products (2 x 30000 and 3 x 12000, shipping 15000)
// with a pending gateway transaction for its total.
func (h *harness) seed(t *testing.T, status domain.OrderStatus, mutate ...func(*domain.Order)) seeded {
	t.Helper()
	ctx := context.Background()

	onion := &domain.Product{Title: "Red onion", Price: 30000, Stock: 10, Unit: "kg", WeightKg: 1}
	chili := &domain.Product{Title: "Bird's eye chili", Price: 12000, Stock: 5, Unit: "pack", WeightKg: 0.25}
	require.NoError(t, h.products.CreateProduct(ctx, nil, onion))
	require.NoError(t, h.products.CreateProduct(ctx, nil, chili))

	order := &domain.Order{
		UserID:      7,
		ShippingFee: 15000,
		Status:      status,
		Destination: domain.Address{
			RecipientName: "Siti Rahma",
			Phone:         "081234567890",
			Line:          "Jl. Melati 12",
			City:          "Bandung",
			PostalCode:    "40115",
		},
		CourierCompany: "jne",
		CourierService: "regular",
	}
	for _, m := range mutate {
		m(order)
	}
	items := []domain.OrderItem{
		{ProductID: onion.ID, Title: onion.Title, UnitPrice: onion.Price, Quantity: 2, Unit: "kg", UnitWeightKg: onion.WeightKg},
		{ProductID: chili.ID, Title: chili.Title, UnitPrice: chili.Price, Quantity: 3, Unit: "pack", UnitWeightKg: chili.WeightKg},
	}
	require.NoError(t, h.orders.CreateOrder(ctx, nil, order, items))

	txnID := h.gateway.CreateTransaction(domain.ShipmentReference(order.ID), order.Total)
	attached, err := h.orders.AttachGatewayTransaction(ctx, nil, order.ID, txnID)
	require.NoError(t, err)
	require.True(t, attached)

	return seeded{order: order, txnID: txnID, products: []*domain.Product{onion, chili}, items: items}
}

func (h *harness) notify(t *testing.T, txnID, status, fraud string) (*NotificationOutcome, error) {
	t.Helper()
	n := h.gateway.SetStatus(txnID, status, fraud)
	n.PaymentType = "bank_transfer"
	return h.reconciler.HandleNotification(context.Background(), n)
}

func (h *harness) reload(t *testing.T, id int64) *domain.Order {
	t.Helper()
	o, err := h.orders.FindById(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func (h *harness) stock(t *testing.T, p *domain.Product) int {
	t.Helper()
	fresh, err := h.products.FindById(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	return fresh.Stock
}

func (h *harness) eventCount(t *testing.T, orderID int64, kind string) int {
	t.Helper()
	events, err := h.orders.FindStatusEvents(context.Background(), orderID)
	require.NoError(t, err)
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
