package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wearloom/commerce-engine/internal/cart"
	"github.com/wearloom/commerce-engine/internal/catalog"
	"github.com/wearloom/commerce-engine/internal/domain"
	"github.com/wearloom/commerce-engine/internal/orders"
	"github.com/wearloom/commerce-engine/internal/stock"
	"github.com/wearloom/commerce-engine/internal/telemetry"
)

// Publisher is the queue side the transactor enqueues notification jobs on.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Service converts a cart selection or a direct buy into one order plus the
// matching stock debits, committed as a single transaction. The
// notification enqueue happens strictly after commit and never fails the
// checkout.
type Service struct {
	db       *sql.DB
	carts    *cart.Repository
	catalog  catalog.Reader
	ledger   *stock.Ledger
	orders   *orders.Repository
	producer Publisher
	logger   *slog.Logger
}

func NewService(db *sql.DB, carts *cart.Repository, reader catalog.Reader, ledger *stock.Ledger, repo *orders.Repository, producer Publisher, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		carts:    carts,
		catalog:  reader,
		ledger:   ledger,
		orders:   repo,
		producer: producer,
		logger:   logger,
	}
}

type CartInput struct {
	BuyerID         string
	BuyerEmail      string
	CartID          string
	LineIDs         []string
	PaymentProvider string
}

type DirectInput struct {
	BuyerID         string
	BuyerEmail      string
	ProductID       string
	Quantity        int
	Size            string
	PaymentProvider string
}

// FromCart checks out the selected lines of the buyer's cart. Any failure
// before commit leaves the cart, the stock ledger and the orders table
// untouched; no partial order ever exists.
func (s *Service) FromCart(ctx context.Context, in CartInput) (*domain.Order, error) {
	if len(in.LineIDs) == 0 {
		return nil, domain.ErrEmptySelection
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	selected, err := s.carts.SelectedLines(ctx, tx, in.BuyerID, in.CartID, in.LineIDs)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if len(selected) == 0 {
		return nil, s.fail(ctx, domain.ErrEmptySelection)
	}

	lines := make([]requestedLine, 0, len(selected))
	for _, l := range selected {
		lines = append(lines, requestedLine{ProductID: l.ProductID, Quantity: l.Quantity, Size: l.Size})
	}

	order, err := s.placeOrder(ctx, tx, in.BuyerID, in.BuyerEmail, in.PaymentProvider, lines)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	if err := s.carts.RemoveLines(ctx, tx, in.CartID, in.LineIDs); err != nil {
		return nil, s.fail(ctx, err)
	}
	if err := s.carts.RecomputeTotal(ctx, tx, in.CartID); err != nil {
		return nil, s.fail(ctx, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.fail(ctx, err)
	}

	s.afterCommit(ctx, order)
	return order, nil
}

// Direct checks out a single product without a cart.
func (s *Service) Direct(ctx context.Context, in DirectInput) (*domain.Order, error) {
	if in.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := s.placeOrder(ctx, tx, in.BuyerID, in.BuyerEmail, in.PaymentProvider, []requestedLine{
		{ProductID: in.ProductID, Quantity: in.Quantity, Size: in.Size},
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.fail(ctx, err)
	}

	s.afterCommit(ctx, order)
	return order, nil
}

type requestedLine struct {
	ProductID string
	Quantity  int
	Size      string
}

// placeOrder reserves stock for every requested line and inserts the order
// with its snapshots, all on the caller's transaction.
func (s *Service) placeOrder(ctx context.Context, tx *sql.Tx, buyerID, buyerEmail, provider string, requested []requestedLine) (*domain.Order, error) {
	now := time.Now().UTC()
	order := &domain.Order{
		ID:               uuid.New().String(),
		BuyerID:          buyerID,
		BuyerEmail:       buyerEmail,
		PaymentProvider:  provider,
		PaymentStatus:    domain.PaymentStatusPending,
		Status:           domain.OrderStatusProcessing,
		NotifiedStatuses: []domain.OrderStatus{domain.OrderStatusProcessing},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	order.Ref = domain.ShortRef(order.ID)

	for _, req := range requested {
		if req.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}

		size := domain.NormalizeSize(req.Size)
		if !size.Valid() {
			size = domain.SizeFreeSize
		}

		snap, err := s.catalog.Snapshot(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("product %s: %w", req.ProductID, domain.ErrProductNotFound)
		}

		if err := s.ledger.Reserve(ctx, tx, req.ProductID, size, req.Quantity); err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				telemetry.StockConflictsTotal.Add(ctx, 1)
				return nil, fmt.Errorf("%w: %s", domain.ErrInsufficientStock, snap.Name)
			}
			return nil, err
		}

		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID: req.ProductID,
			Name:      snap.Name,
			Price:     snap.Price,
			Image:     snap.Image,
			Quantity:  req.Quantity,
			Size:      size,
		})
		order.Total += int64(req.Quantity) * snap.Price
	}

	if err := s.orders.CreateTx(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := s.orders.AppendTrackingTx(ctx, tx, order.ID, order.Status, "order created, payment pending"); err != nil {
		return nil, err
	}

	return order, nil
}

// afterCommit emits metrics and the post-commit notification enqueue. An
// enqueue failure is logged and swallowed; the order is already durable.
func (s *Service) afterCommit(ctx context.Context, order *domain.Order) {
	telemetry.CheckoutsTotal.Add(ctx, 1, telemetry.Result(true))

	if s.producer == nil {
		return
	}

	job := domain.NewNotificationJob(domain.NotificationOrderPlaced, order, order.Status,
		fmt.Sprintf("Your order %s has been placed and is now processing.", order.Ref))

	if err := s.producer.Publish(ctx, order.ID, job); err != nil {
		telemetry.NotificationsEnqueuedTotal.Add(ctx, 1, telemetry.Result(false))
		s.logger.Error("failed to enqueue order placed notification", "error", err, "order_id", order.ID)
		return
	}
	telemetry.NotificationsEnqueuedTotal.Add(ctx, 1, telemetry.Result(true))
}

func (s *Service) fail(ctx context.Context, err error) error {
	// Metric only; the transaction defer already rolled everything back.
	telemetry.CheckoutsTotal.Add(ctx, 1, telemetry.Result(false))
	return err
}
