package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"order-fulfillment/internal/config"
	"order-fulfillment/internal/database"
	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/notify"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/infrastructure/shipping"
	"order-fulfillment/internal/logger"
	"order-fulfillment/internal/metrics"
	"order-fulfillment/internal/repo"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/worker"
)

// simulation replays the payment and shipment races against a real database
// with in-memory gateway and shipping provider doubles.
type simulation struct {
	orders      repo.OrderRepo
	products    repo.ProductRepo
	gateway     *payment.MemoryGateway
	provider    *shipping.MemoryProvider
	payments    service.PaymentReconciler
	provisioner service.ShipmentProvisioner
	tracker     service.TrackingSynchronizer
	worker      *worker.ReconciliationWorker
}

func main() {
	dbCfg, err := config.LoadDatabase()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New("warn")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	err = run(context.Background(), dbCfg, zl)
	_ = zl.Sync()
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, dbCfg config.DBConfig, zl *zap.Logger) error {
	db, err := database.NewPostgres(ctx, dbCfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	notifier := notify.New(notify.NewLogPublisher(zl), zl)
	defer notifier.Close()

	sim := newSimulation(db, notifier, zl)

	fmt.Println("--- SCENARIO A: settlement on a new order ---")
	sim.scenarioA(ctx)
	fmt.Println("--- SCENARIO B: settlement replayed after provisioning ---")
	sim.scenarioB(ctx)
	fmt.Println("--- SCENARIO C: expiry on a pending order ---")
	sim.scenarioC(ctx)
	fmt.Println("--- SCENARIO D: provider timeout, then worker retry ---")
	sim.scenarioD(ctx)
	return nil
}

func newSimulation(db *sql.DB, notifier *notify.Notifier, zl *zap.Logger) *simulation {
	recorder := metrics.New()
	origin := domain.ShipmentContact{Name: "Gudang Sayur", Phone: "0210000", Address: "Jl. Pasar Induk 5", PostalCode: "13750"}

	s := &simulation{
		orders:   repo.NewOrderRepo(db),
		products: repo.NewProductRepo(db),
		gateway:  payment.NewMemoryGateway(),
		provider: shipping.NewMemoryProvider(),
	}
	s.tracker = service.NewTrackingSynchronizer(s.orders, s.provider, 2*time.Second, recorder, zl)
	s.provisioner = service.NewShipmentProvisioner(db, s.orders, s.provider, s.tracker, notifier, origin, 300*time.Millisecond, recorder, zl)
	s.payments = service.NewPaymentReconciler(db, s.orders, s.gateway, service.NewStockReconciler(s.orders, s.products, zl), s.provisioner, notifier, recorder, zl)
	s.worker = worker.NewReconciliationWorker(s.orders, s.payments, s.provisioner, s.tracker, worker.Options{
		Interval:          time.Second,
		StuckPaymentAge:   time.Minute,
		ProvisionRetryAge: 0,
		BatchSize:         20,
	}, zl)
	return s
}

func (s *simulation) scenarioA(ctx context.Context) {
	order, txn := s.seed(ctx, domain.OrderNew)
	out, err := s.notify(ctx, txn, "settlement")
	s.report(ctx, order.ID, out, err)
}

func (s *simulation) scenarioB(ctx context.Context) {
	order, txn := s.seed(ctx, domain.OrderNew)
	if _, err := s.notify(ctx, txn, "settlement"); err != nil {
		fmt.Printf("    first delivery FAILED: %v\n", err)
	}
	before := s.provider.Creates()
	out, err := s.notify(ctx, txn, "settlement")
	s.report(ctx, order.ID, out, err)
	fmt.Printf("    -> Provider shipments created by replay: %d\n", s.provider.Creates()-before)
}

func (s *simulation) scenarioC(ctx context.Context) {
	order, txn := s.seed(ctx, domain.OrderPendingPayment)
	before := s.provider.Creates()
	out, err := s.notify(ctx, txn, "expire")
	s.report(ctx, order.ID, out, err)
	if out != nil {
		fmt.Printf("    -> Stock units restored: %d\n", out.StockRestored)
	}
	fmt.Printf("    -> Provider calls: %d\n", s.provider.Creates()-before)
}

func (s *simulation) scenarioD(ctx context.Context) {
	order, txn := s.seed(ctx, domain.OrderPendingPayment)

	s.provider.SetLatency(time.Second)
	out, err := s.notify(ctx, txn, "settlement")
	s.report(ctx, order.ID, out, err)
	if out != nil && out.ShipmentError != nil {
		fmt.Printf("    -> Shipment error: %s (can_retry=%t)\n", out.ShipmentError.Code, out.ShipmentError.Retryable)
	}

	s.provider.SetLatency(0)
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 2; i++ {
		sum := s.worker.RunOnce(ctx)
		fmt.Printf("    worker pass %d: retried=%d created=%d failures=%d\n", i+1, sum.ShipmentsRetried, sum.ShipmentsCreated, sum.Failures)
	}
	s.printOrder(ctx, order.ID)
}

// seed stores a two-item order and a pending gateway transaction for it.
func (s *simulation) seed(ctx context.Context, status domain.OrderStatus) (*domain.Order, string) {
	onion := &domain.Product{Title: "Red onion", Price: 30000, Stock: 10, Unit: "kg", WeightKg: 1}
	chili := &domain.Product{Title: "Bird's eye chili", Price: 12000, Stock: 5, Unit: "pack", WeightKg: 0.25}
	for _, p := range []*domain.Product{onion, chili} {
		if err := s.products.CreateProduct(ctx, nil, p); err != nil {
			log.Fatalf("create product: %v", err)
		}
	}

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
	items := []domain.OrderItem{
		{ProductID: onion.ID, Title: onion.Title, UnitPrice: onion.Price, Quantity: 2, Unit: "kg", UnitWeightKg: onion.WeightKg},
		{ProductID: chili.ID, Title: chili.Title, UnitPrice: chili.Price, Quantity: 3, Unit: "pack", UnitWeightKg: chili.WeightKg},
	}
	if err := s.orders.CreateOrder(ctx, nil, order, items); err != nil {
		log.Fatalf("create order: %v", err)
	}

	txn := s.gateway.CreateTransaction(domain.ShipmentReference(order.ID), order.Total)
	if _, err := s.orders.AttachGatewayTransaction(ctx, nil, order.ID, txn); err != nil {
		log.Fatalf("attach transaction: %v", err)
	}
	fmt.Printf("[order %d] created as %s, total %d\n", order.ID, order.Status, order.Total)
	return order, txn
}

func (s *simulation) notify(ctx context.Context, txn, status string) (*service.NotificationOutcome, error) {
	n := s.gateway.SetStatus(txn, status, "accept")
	n.PaymentType = "bank_transfer"
	return s.payments.HandleNotification(ctx, n)
}

func (s *simulation) report(ctx context.Context, orderID int64, out *service.NotificationOutcome, err error) {
	if err != nil {
		fmt.Printf("    notification FAILED: %v\n", err)
	} else {
		fmt.Printf("    notification: %s -> %s (transitioned=%t reason=%q)\n", out.PreviousStatus, out.Status, out.Transitioned, out.Reason)
	}
	s.printOrder(ctx, orderID)
}

// printOrder queries the stored row so the output reflects the database, not the outcome.
func (s *simulation) printOrder(ctx context.Context, orderID int64) {
	o, err := s.orders.FindById(ctx, orderID)
	if err != nil || o == nil {
		fmt.Printf("    -> DB lookup failed: %v\n", err)
		return
	}
	paidAt, shipment := "-", "-"
	if o.PaidAt != nil {
		paidAt = o.PaidAt.Format(time.RFC3339)
	}
	if o.HasShipment() {
		shipment = *o.ShipmentID
	}
	fmt.Printf("    -> DB Status: %s, paid_at: %s, shipment: %s\n", o.Status, paidAt, shipment)
	fmt.Println("---------------------------------------------------")
}
