package orders

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wearloom/commerce-engine/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx. Methods with a Tx suffix
// expect the caller's transaction so the order mutation commits atomically
// with its stock counterpart.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateTx inserts the order and its line snapshots inside the caller's
// transaction.
func (r *Repository) CreateTx(ctx context.Context, q Querier, o *domain.Order) error {
	notified := make([]string, len(o.NotifiedStatuses))
	for i, s := range o.NotifiedStatuses {
		notified[i] = string(s)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, buyer_email, payment_provider, total,
			payment_status, order_status, notified_statuses, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, o.ID, o.BuyerID, o.BuyerEmail, o.PaymentProvider, o.Total,
		o.PaymentStatus, o.Status, pq.Array(notified), o.CreatedAt)
	if err != nil {
		return err
	}

	for i := range o.Lines {
		line := &o.Lines[i]
		if line.ID == "" {
			line.ID = uuid.New().String()
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, product_id, name, price, image, quantity, size)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, line.ID, o.ID, line.ProductID, line.Name, line.Price, line.Image, line.Quantity, line.Size)
		if err != nil {
			return err
		}
	}

	return nil
}

// AppendTrackingTx appends one entry to the order's tracking history.
// Tracking rows are never updated or deleted.
func (r *Repository) AppendTrackingTx(ctx context.Context, q Querier, orderID string, status domain.OrderStatus, message string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO order_tracking (order_id, status, message, created_at)
		VALUES ($1, $2, $3, NOW())
	`, orderID, status, message)
	return err
}

const orderColumns = `id, buyer_id, buyer_email, payment_provider, total,
	payment_status, order_status, notified_statuses, created_at, updated_at, delivered_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	o := &domain.Order{}
	var notified []string
	err := row.Scan(&o.ID, &o.BuyerID, &o.BuyerEmail, &o.PaymentProvider, &o.Total,
		&o.PaymentStatus, &o.Status, pq.Array(&notified), &o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt)
	if err != nil {
		return nil, err
	}
	o.Ref = domain.ShortRef(o.ID)
	o.NotifiedStatuses = make([]domain.OrderStatus, len(notified))
	for i, s := range notified {
		o.NotifiedStatuses[i] = domain.OrderStatus(s)
	}
	return o, nil
}

// GetByID loads one order with its lines. It returns nil when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.get(ctx, r.db, id, false)
}

// GetForUpdateTx loads one order with its lines and locks the order row for
// the rest of the caller's transaction. Cancellation uses this to serialize
// against concurrent advancement ticks.
func (r *Repository) GetForUpdateTx(ctx context.Context, q Querier, id string) (*domain.Order, error) {
	return r.get(ctx, q, id, true)
}

func (r *Repository) get(ctx context.Context, q Querier, id string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	lines, err := r.loadLines(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	o.Lines = lines[id]

	return o, nil
}

func (r *Repository) loadLines(ctx context.Context, q Querier, orderIDs []string) (map[string][]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, price, image, quantity, size
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	lines := make(map[string][]domain.OrderLine)
	for rows.Next() {
		var orderID string
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &orderID, &line.ProductID, &line.Name, &line.Price, &line.Image, &line.Quantity, &line.Size); err != nil {
			return nil, err
		}
		lines[orderID] = append(lines[orderID], line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// Tracking returns the full append-only tracking history, oldest first.
func (r *Repository) Tracking(ctx context.Context, orderID string) ([]domain.TrackingEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, message, created_at
		FROM order_tracking
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var history []domain.TrackingEntry
	for rows.Next() {
		var entry domain.TrackingEntry
		if err := rows.Scan(&entry.Status, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return history, nil
}

// ListByBuyer returns the buyer's orders, newest first.
func (r *Repository) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
}

// ListActive returns every order still inside the fulfillment flow, the
// advancer's scan set.
func (r *Repository) ListActive(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE order_status NOT IN ($1, $2)
		ORDER BY created_at
	`, domain.OrderStatusDelivered, domain.OrderStatusCancelled)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		o.Lines = []domain.OrderLine{}
		orderMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	lines, err := r.loadLines(ctx, r.db, orderIDs)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		o := orderMap[id]
		if l, ok := lines[id]; ok {
			o.Lines = l
		}
		orders = append(orders, *o)
	}

	return orders, nil
}

// AdvanceTx moves an order one step along the fulfillment flow. The status
// change, the dedup-set append and the re-check of both happen in one
// statement, so overlapping ticks can never double-advance an order or
// enqueue the same status twice. It reports false when the guard rejected
// the update.
func (r *Repository) AdvanceTx(ctx context.Context, q Querier, orderID string, current, next domain.OrderStatus) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE orders
		SET order_status = $2,
			notified_statuses = array_append(notified_statuses, $2),
			updated_at = NOW(),
			delivered_at = CASE WHEN $2 = $4 THEN NOW() ELSE delivered_at END
		WHERE id = $1
			AND order_status = $3
			AND NOT ($2 = ANY(notified_statuses))
	`, orderID, next, current, domain.OrderStatusDelivered)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// MarkCancelledTx flips the order to its terminal cancelled state inside the
// caller's transaction. Refund applies only when the order had been paid.
func (r *Repository) MarkCancelledTx(ctx context.Context, q Querier, orderID string, refund bool) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orders
		SET order_status = $2,
			notified_statuses = array_append(notified_statuses, $2),
			payment_status = CASE WHEN $3 THEN $4::text ELSE payment_status END,
			updated_at = NOW()
		WHERE id = $1
	`, orderID, domain.OrderStatusCancelled, refund, domain.PaymentStatusRefunded)
	return err
}

// ConfirmPayment records the opaque payment-confirmed signal. Confirming an
// order that is not pending payment, or is already cancelled, is a no-op
// returning the current state.
func (r *Repository) ConfirmPayment(ctx context.Context, orderID string) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status = $3 AND order_status <> $4
	`, orderID, domain.PaymentStatusPaid, domain.PaymentStatusPending, domain.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if affected == 1 {
		o, err := r.get(ctx, tx, orderID, false)
		if err != nil {
			return nil, err
		}
		if err := r.AppendTrackingTx(ctx, tx, orderID, o.Status, "payment confirmed"); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return o, nil
	}

	o, err := r.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}
