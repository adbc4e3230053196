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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wearloom/commerce-engine/internal/mailer"
	"github.com/wearloom/commerce-engine/internal/messaging"
	"github.com/wearloom/commerce-engine/internal/notifier"
	"github.com/wearloom/commerce-engine/internal/telemetry"
)

const notificationTopic = "order.notifications"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "notifier", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	mailerServiceURL := os.Getenv("MAILER_SERVICE_URL")
	if mailerServiceURL == "" {
		logger.Error("MAILER_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	brokers := strings.Split(kafkaBrokers, ",")
	consumer := messaging.NewConsumer(brokers, notificationTopic, "notification-dispatcher")
	defer func() { _ = consumer.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	handler := notifier.NewHandler(mailer.NewClient(mailerServiceURL, httpClient), logger)

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification dispatcher", "brokers", brokers, "topic", notificationTopic)

	if err := consumer.Consume(consumeCtx, handler.Handle); err != nil {
		if consumeCtx.Err() == context.Canceled {
			logger.Info("dispatcher stopped")
			return
		}
		logger.Error("dispatcher error", "error", err)
		os.Exit(1)
	}
}
