package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wearloom/commerce-engine/internal/domain"
	"github.com/wearloom/commerce-engine/internal/mailer"
	"github.com/wearloom/commerce-engine/internal/telemetry"
)

// Handler turns dequeued notification jobs into delivered messages. Policy:
// one delivery attempt per dequeue; render and delivery failures are logged
// and dropped so the consumer commits the offset and moves on. Producers
// guarantee one enqueue per status transition, so the buyer sees at most
// one message per transition.
type Handler struct {
	mailer *mailer.Client
	logger *slog.Logger
}

func NewHandler(client *mailer.Client, logger *slog.Logger) *Handler {
	return &Handler{
		mailer: client,
		logger: logger,
	}
}

// Handle never returns an error: returning one would stop the consumer loop
// and leave the job uncommitted for redelivery, which is exactly what the
// single-attempt policy forbids.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var job domain.NotificationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		h.logger.Error("dropping undecodable notification job", "error", err)
		return nil
	}

	subject, body, err := render(job)
	if err != nil {
		h.logger.Error("dropping unrenderable notification job", "error", err, "kind", job.Kind, "order_id", job.OrderID)
		return nil
	}

	if err := h.mailer.Send(ctx, job.Recipient, subject, body); err != nil {
		telemetry.NotificationsDeliveredTotal.Add(ctx, 1, telemetry.Result(false))
		h.logger.Error("notification delivery failed, dropping job", "error", err, "order_id", job.OrderID, "status", job.Status)
		return nil
	}

	telemetry.NotificationsDeliveredTotal.Add(ctx, 1, telemetry.Result(true))
	h.logger.Info("notification delivered", "order_id", job.OrderID, "status", job.Status, "recipient", job.Recipient)
	return nil
}

func render(job domain.NotificationJob) (subject, body string, err error) {
	switch job.Kind {
	case domain.NotificationOrderPlaced:
		subject = fmt.Sprintf("Order %s confirmed", job.OrderRef)
	case domain.NotificationStatusUpdate:
		subject = fmt.Sprintf("Order %s: %s", job.OrderRef, job.Status)
	case domain.NotificationOrderCancelled:
		subject = fmt.Sprintf("Order %s cancelled", job.OrderRef)
	default:
		return "", "", fmt.Errorf("unknown notification kind %q", job.Kind)
	}

	var b strings.Builder
	b.WriteString(job.Message)
	b.WriteString("\n\n")
	for _, line := range job.Lines {
		fmt.Fprintf(&b, "- %dx %s\n", line.Quantity, line.Name)
	}
	fmt.Fprintf(&b, "\nOrder total: $%.2f\n", float64(job.Total)/100)

	return subject, b.String(), nil
}
