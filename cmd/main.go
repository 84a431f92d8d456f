package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/dedup"
	eventserver "github.com/andreasstove999/ecommerce-system/payment-service-go/internal/events"
	httpserver "github.com/andreasstove999/ecommerce-system/payment-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/idempotency"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/processor"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/processor/orangemoney"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/processor/paypal"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/processor/wave"
	"github.com/andreasstove999/ecommerce-system/payment-service-go/internal/sequence"
)

func main() {
	cfg := config.Load()

	logger := log.New(os.Stdout, "[payment-service] ", log.LstdFlags|log.Lshortfile)

	// DB
	database := db.MustOpen(cfg.DBDSN)
	if err := db.Migrate(database); err != nil {
		logger.Fatalf("migrate: %v", err)
	}
	paymentRepo := payment.NewRepository(database)
	orderRepo := order.NewRepository(database)
	seqRepo := sequence.NewRepository(database)
	dedupRepo := dedup.NewRepository(database)

	// RabbitMQ
	rabbitConn := eventserver.MustDialRabbit(cfg.RabbitURL)
	defer rabbitConn.Close()

	publisher, err := eventserver.NewPublisher(rabbitConn, seqRepo, true)
	if err != nil {
		logger.Fatalf("create publisher: %v", err)
	}
	defer publisher.Close()

	// Redis webhook dedup
	deliveries := idempotency.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer deliveries.Close()

	registry := buildRegistry(cfg, logger)
	logger.Printf("payment providers available: %v", registry.Available())

	svc := checkout.NewService(paymentRepo, orderRepo, registry, publisher, deliveries, logger)

	// Context for consumer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := eventserver.NewConsumer(rabbitConn, logger)
	consumer.Register(eventserver.OrderCreatedQueue, eventserver.OrderCreatedHandler(database, orderRepo, dedupRepo, logger, true))
	if err := consumer.Start(ctx); err != nil {
		logger.Fatalf("start consumer: %v", err)
	}

	// HTTP
	handler := httpserver.NewPaymentHandler(svc, registry, logger)
	router := httpserver.NewRouter(handler)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 40 * time.Second,
	}

	go func() {
		logger.Printf("payment-service listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

// buildRegistry constructs every configured processor. A provider with
// missing credentials is skipped, not fatal: the storefront simply will not
// offer it.
func buildRegistry(cfg *config.Config, logger *log.Logger) *processor.Registry {
	registry := processor.NewRegistry()

	var cfgErr *processor.ConfigError

	if p, err := paypal.New(cfg.PayPal, logger); err == nil {
		registry.Register(p)
	} else if errors.As(err, &cfgErr) {
		logger.Printf("paypal disabled: %v", err)
	}

	if p, err := orangemoney.New(cfg.OrangeMoney, logger); err == nil {
		registry.Register(p)
	} else if errors.As(err, &cfgErr) {
		logger.Printf("orange money disabled: %v", err)
	}

	if p, err := wave.New(cfg.Wave, logger); err == nil {
		registry.Register(p)
	} else if errors.As(err, &cfgErr) {
		logger.Printf("wave disabled: %v", err)
	}

	return registry
}
