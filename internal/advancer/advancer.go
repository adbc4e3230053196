package advancer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/wearloom/commerce-engine/internal/domain"
	"github.com/wearloom/commerce-engine/internal/orders"
	"github.com/wearloom/commerce-engine/internal/telemetry"
)

type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Advancer steps every non-terminal order one status forward per tick and
// enqueues one notification per status reached. It keeps no timer of its
// own; the host invokes RunTick on whatever schedule it wants, which keeps
// ticks deterministic under test.
type Advancer struct {
	db       *sql.DB
	orders   *orders.Repository
	producer Publisher
	logger   *slog.Logger
}

func New(db *sql.DB, repo *orders.Repository, producer Publisher, logger *slog.Logger) *Advancer {
	return &Advancer{
		db:       db,
		orders:   repo,
		producer: producer,
		logger:   logger,
	}
}

// RunTick performs one advancement pass. A failure on one order is logged
// and does not stop the rest of the pass; only a failed scan returns an
// error.
func (a *Advancer) RunTick(ctx context.Context) error {
	active, err := a.orders.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active orders: %w", err)
	}

	for i := range active {
		order := &active[i]

		next, ok := order.Status.Next()
		if !ok {
			continue
		}
		// Already notified for the successor means a previous tick (or a
		// concurrent one) advanced this order; skip it entirely.
		if order.Notified(next) {
			continue
		}

		if err := a.advanceOne(ctx, order, next); err != nil {
			a.logger.Error("failed to advance order", "error", err, "order_id", order.ID, "next_status", next)
		}
	}

	return nil
}

func (a *Advancer) advanceOne(ctx context.Context, order *domain.Order, next domain.OrderStatus) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// The guard inside AdvanceTx re-checks the current status and the
	// dedup set atomically with the update; a rejected guard means another
	// tick or a cancellation won the race.
	moved, err := a.orders.AdvanceTx(ctx, tx, order.ID, order.Status, next)
	if err != nil {
		return err
	}
	if !moved {
		a.logger.Info("skipping order, state moved underneath tick", "order_id", order.ID, "next_status", next)
		return nil
	}

	if err := a.orders.AppendTrackingTx(ctx, tx, order.ID, next, fmt.Sprintf("order moved to %s", next)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	telemetry.TransitionsTotal.Add(ctx, 1)
	a.logger.Info("order advanced", "order_id", order.ID, "status", next)

	a.notify(ctx, order, next)
	return nil
}

func (a *Advancer) notify(ctx context.Context, order *domain.Order, status domain.OrderStatus) {
	if a.producer == nil {
		return
	}

	job := domain.NewNotificationJob(domain.NotificationStatusUpdate, order, status,
		fmt.Sprintf("Your order %s is now %s.", order.Ref, status))

	if err := a.producer.Publish(ctx, order.ID, job); err != nil {
		telemetry.NotificationsEnqueuedTotal.Add(ctx, 1, telemetry.Result(false))
		a.logger.Error("failed to enqueue status notification", "error", err, "order_id", order.ID, "status", status)
		return
	}
	telemetry.NotificationsEnqueuedTotal.Add(ctx, 1, telemetry.Result(true))
}
