package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-fulfillment/internal/config"
	"order-fulfillment/internal/database"
	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/notify"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/infrastructure/shipping"
	"order-fulfillment/internal/logger"
	"order-fulfillment/internal/metrics"
	"order-fulfillment/internal/repo"
	"order-fulfillment/internal/server"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode logs a failed run and flushes the logger before the process exits.
func exitCode(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("orchestrator exited", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.DB.DSN())
	if err != nil {
		return err
	}
	dbService := database.New(db)
	defer dbService.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	publisher, err := newPublisher(ctx, cfg.Notifier, log)
	if err != nil {
		return err
	}
	notifier := notify.New(publisher, log)
	defer notifier.Close()

	recorder := metrics.New()

	orderRepo := repo.NewOrderRepo(db)
	productRepo := repo.NewProductRepo(db)
	gateway := payment.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.ServerKey, cfg.Gateway.Timeout, cfg.Gateway.Location)
	provider := shipping.NewHTTPProvider(cfg.Shipping.BaseURL, cfg.Shipping.APIKey, cfg.Shipping.Timeout, cfg.Shipping.Location)
	origin := domain.ShipmentContact{
		Name:       cfg.Shipping.OriginName,
		Phone:      cfg.Shipping.OriginPhone,
		Address:    cfg.Shipping.OriginAddress,
		PostalCode: cfg.Shipping.OriginPostal,
	}

	tracker := service.NewTrackingSynchronizer(orderRepo, provider, cfg.Shipping.TrackingTimeout, recorder, log)
	provisioner := service.NewShipmentProvisioner(db, orderRepo, provider, tracker, notifier, origin, cfg.Shipping.Timeout, recorder, log)
	stock := service.NewStockReconciler(orderRepo, productRepo, log)
	payments := service.NewPaymentReconciler(db, orderRepo, gateway, stock, provisioner, notifier, recorder, log)
	timeline := service.NewTimelineBuilder(orderRepo, provider, cfg.Shipping.TrackingTimeout, log)

	handler := server.NewHandler(payments, provisioner, tracker, timeline, dbService, cfg.Gateway.Location)
	router := server.NewRouter(server.RouterConfig{
		WebhookSecret: cfg.Gateway.WebhookSecret,
		CORSOrigins:   cfg.CORSOrigins,
	}, handler, recorder, log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Worker.Enabled {
		rw := worker.NewReconciliationWorker(orderRepo, payments, provisioner, tracker, worker.Options{
			Interval:          cfg.Worker.Interval,
			StuckPaymentAge:   cfg.Worker.StuckPaymentAge,
			ProvisionRetryAge: cfg.Worker.ProvisionRetryAge,
			BatchSize:         cfg.Worker.BatchSize,
		}, log)
		g.Go(func() error {
			rw.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}

func newPublisher(ctx context.Context, cfg config.NotifierConfig, log *zap.Logger) (notify.Publisher, error) {
	switch cfg.Kind {
	case "amqp":
		return notify.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	case "redis":
		return notify.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
	default:
		return notify.NewLogPublisher(log), nil
	}
}
