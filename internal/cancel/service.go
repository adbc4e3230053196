package cancel

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/wearloom/commerce-engine/internal/domain"
	"github.com/wearloom/commerce-engine/internal/orders"
	"github.com/wearloom/commerce-engine/internal/stock"
	"github.com/wearloom/commerce-engine/internal/telemetry"
)

const releaseReason = "order cancelled"

type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Service reverses a committed checkout: every reserved quantity is
// credited back to the ledger and the order moves to its terminal cancelled
// state, all in one transaction. Cancelling an already-cancelled order is a
// no-op success, so retries never double-credit stock.
type Service struct {
	db       *sql.DB
	ledger   *stock.Ledger
	orders   *orders.Repository
	producer Publisher
	logger   *slog.Logger
}

func NewService(db *sql.DB, ledger *stock.Ledger, repo *orders.Repository, producer Publisher, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		ledger:   ledger,
		orders:   repo,
		producer: producer,
		logger:   logger,
	}
}

// Cancel compensates the order's checkout on behalf of its buyer.
func (s *Service) Cancel(ctx context.Context, buyerID, orderID string) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock serializes this against concurrent advancer ticks and
	// duplicate cancel calls; the state check below runs on what we locked.
	order, err := s.orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	if order.BuyerID != buyerID {
		return nil, domain.ErrNotOrderOwner
	}
	if order.Status == domain.OrderStatusDelivered {
		return nil, domain.ErrAlreadyDelivered
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}

	for _, line := range order.Lines {
		if err := s.ledger.Release(ctx, tx, line.ProductID, line.Size, line.Quantity, releaseReason); err != nil {
			return nil, fmt.Errorf("release stock for %s: %w", line.ProductID, err)
		}
	}

	refund := order.PaymentStatus == domain.PaymentStatusPaid
	if err := s.orders.MarkCancelledTx(ctx, tx, order.ID, refund); err != nil {
		return nil, err
	}
	if err := s.orders.AppendTrackingTx(ctx, tx, order.ID, domain.OrderStatusCancelled, "order cancelled by buyer"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Status = domain.OrderStatusCancelled
	order.NotifiedStatuses = append(order.NotifiedStatuses, domain.OrderStatusCancelled)
	if refund {
		order.PaymentStatus = domain.PaymentStatusRefunded
	}

	telemetry.CancellationsTotal.Add(ctx, 1)
	s.logger.Info("order cancelled", "order_id", order.ID, "buyer_id", buyerID, "refunded", refund)

	s.notify(ctx, order)
	return order, nil
}

func (s *Service) notify(ctx context.Context, order *domain.Order) {
	if s.producer == nil {
		return
	}

	message := fmt.Sprintf("Your order %s has been cancelled.", order.Ref)
	if order.PaymentStatus == domain.PaymentStatusRefunded {
		message += " Your payment will be refunded."
	}
	job := domain.NewNotificationJob(domain.NotificationOrderCancelled, order, domain.OrderStatusCancelled, message)

	if err := s.producer.Publish(ctx, order.ID, job); err != nil {
		telemetry.NotificationsEnqueuedTotal.Add(ctx, 1, telemetry.Result(false))
		s.logger.Error("failed to enqueue cancellation notification", "error", err, "order_id", order.ID)
		return
	}
	telemetry.NotificationsEnqueuedTotal.Add(ctx, 1, telemetry.Result(true))
}
