package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/wearloom/commerce-engine/internal/advancer"
	"github.com/wearloom/commerce-engine/internal/api"
	"github.com/wearloom/commerce-engine/internal/cancel"
	"github.com/wearloom/commerce-engine/internal/cart"
	"github.com/wearloom/commerce-engine/internal/catalog"
	"github.com/wearloom/commerce-engine/internal/checkout"
	"github.com/wearloom/commerce-engine/internal/messaging"
	"github.com/wearloom/commerce-engine/internal/orders"
	"github.com/wearloom/commerce-engine/internal/stock"
	"github.com/wearloom/commerce-engine/internal/telemetry"
)

const notificationTopic = "order.notifications"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "commerce", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("commerce", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var producer *messaging.Producer
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		producer = messaging.NewProducer(brokers, notificationTopic)
		defer func() { _ = producer.Close() }()
	} else {
		logger.Warn("KAFKA_BROKERS not set, notification jobs will not be enqueued")
	}

	var snapshots catalog.Reader = catalog.NewPGReader(db)
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = client.Close() }()
		snapshots = catalog.NewCachedReader(snapshots, client, 5*time.Minute, logger)
	}

	ledger := stock.NewLedger(db)
	carts := cart.NewRepository(db)
	orderRepo := orders.NewRepository(db)

	// Leave the Publisher interfaces nil when Kafka is not configured; a
	// typed nil *messaging.Producer would defeat the services' nil checks.
	var checkoutPub checkout.Publisher
	var cancelPub cancel.Publisher
	var advPub advancer.Publisher
	if producer != nil {
		checkoutPub, cancelPub, advPub = producer, producer, producer
	}

	checkoutSvc := checkout.NewService(db, carts, snapshots, ledger, orderRepo, checkoutPub, logger)
	cancelSvc := cancel.NewService(db, ledger, orderRepo, cancelPub, logger)
	adv := advancer.New(db, orderRepo, advPub, logger)

	orderHandler := api.NewHandler(checkoutSvc, cancelSvc, orderRepo, logger)
	stockHandler := stock.NewHandler(ledger, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout/cart", telemetry.WithHTTPRoute(orderHandler.HandleCheckoutCart))
	mux.HandleFunc("POST /checkout/direct", telemetry.WithHTTPRoute(orderHandler.HandleCheckoutDirect))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("GET /orders/{id}/tracking", telemetry.WithHTTPRoute(orderHandler.HandleTracking))
	mux.HandleFunc("POST /orders/{id}/cancel", telemetry.WithHTTPRoute(orderHandler.HandleCancel))
	mux.HandleFunc("POST /orders/{id}/payment/confirm", telemetry.WithHTTPRoute(orderHandler.HandleConfirmPayment))
	mux.HandleFunc("GET /stock/{productId}", telemetry.WithHTTPRoute(stockHandler.HandleGetStock))
	mux.HandleFunc("GET /stock/{productId}/history", telemetry.WithHTTPRoute(stockHandler.HandleGetHistory))
	mux.HandleFunc("GET /stock/{productId}/{size}", telemetry.WithHTTPRoute(stockHandler.HandleGetAvailability))
	mux.HandleFunc("PUT /stock/{productId}/{size}", telemetry.WithHTTPRoute(stockHandler.HandleAdjust))
	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "commerce",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	advanceInterval := 3 * time.Minute
	if raw := os.Getenv("ADVANCE_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			logger.Error("invalid ADVANCE_INTERVAL", "error", err, "value", raw)
			os.Exit(1)
		}
		advanceInterval = parsed
	}

	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()

	go func() {
		ticker := time.NewTicker(advanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				if err := adv.RunTick(tickCtx); err != nil {
					logger.Error("advancement tick failed", "error", err)
				}
			}
		}
	}()

	go func() {
		logger.Info("starting commerce service", "port", port, "advance_interval", advanceInterval)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopTicks()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
