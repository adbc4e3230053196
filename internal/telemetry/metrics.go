package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Engine-level counters. Instruments created against the global meter
// before InitMeterProvider runs delegate to the real provider once it is
// installed.
var (
	meter = otel.Meter("github.com/wearloom/commerce-engine")

	CheckoutsTotal = mustCounter("engine.checkouts.total",
		"Checkout attempts by result.")
	StockConflictsTotal = mustCounter("engine.stock.conflicts.total",
		"Reservations rejected for insufficient stock.")
	CancellationsTotal = mustCounter("engine.cancellations.total",
		"Orders moved to the cancelled state.")
	TransitionsTotal = mustCounter("engine.status.transitions.total",
		"Fulfillment status transitions applied by the advancer.")
	NotificationsEnqueuedTotal = mustCounter("engine.notifications.enqueued.total",
		"Notification jobs handed to the queue.")
	NotificationsDeliveredTotal = mustCounter("engine.notifications.delivered.total",
		"Notification delivery attempts by result.")
)

func mustCounter(name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		panic(err)
	}
	return c
}

// Result returns the shared result attribute used on counters above.
func Result(ok bool) metric.AddOption {
	value := "ok"
	if !ok {
		value = "error"
	}
	return metric.WithAttributes(attribute.String("result", value))
}
