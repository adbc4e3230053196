package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wearloom/commerce-engine/internal/domain"
)

const (
	reasonOrderPlaced = "order placed"
)

// Querier is satisfied by both *sql.DB and *sql.Tx. Reserve and Release are
// always called with the transaction that owns the surrounding order
// mutation so the quantity change and its audit record commit together.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger owns per-product, per-size quantities and their append-only
// adjustment history.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Available returns the quantity on hand for one product/size. A missing row
// under a known product reads as zero.
func (l *Ledger) Available(ctx context.Context, productID string, size domain.Size) (int, error) {
	if !size.Valid() {
		return 0, domain.ErrInvalidSize
	}

	var quantity int
	err := l.db.QueryRowContext(ctx, `
		SELECT quantity FROM stock_entries
		WHERE product_id = $1 AND size = $2
	`, productID, size).Scan(&quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}

	return quantity, nil
}

// Reserve debits quantity for an order being placed. The check and the
// decrement are one conditional statement, so two concurrent reservations
// can never both succeed on stock that only covers one of them.
func (l *Ledger) Reserve(ctx context.Context, q Querier, productID string, size domain.Size, quantity int) error {
	if !size.Valid() {
		return domain.ErrInvalidSize
	}
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	var remaining int
	err := q.QueryRowContext(ctx, `
		UPDATE stock_entries
		SET quantity = quantity - $3, updated_at = NOW()
		WHERE product_id = $1 AND size = $2 AND quantity >= $3
		RETURNING quantity
	`, productID, size, quantity).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrInsufficientStock
		}
		return err
	}

	return l.appendAdjustment(ctx, q, productID, size, remaining+quantity, remaining, domain.ChangeRemove, reasonOrderPlaced)
}

// Release credits quantity back, creating the entry row if the size was
// never stocked before. Used by cancellation compensation.
func (l *Ledger) Release(ctx context.Context, q Querier, productID string, size domain.Size, quantity int, reason string) error {
	if !size.Valid() {
		return domain.ErrInvalidSize
	}
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	var newQuantity int
	err := q.QueryRowContext(ctx, `
		INSERT INTO stock_entries (product_id, size, quantity, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (product_id, size)
		DO UPDATE SET quantity = stock_entries.quantity + $3, updated_at = NOW()
		RETURNING quantity
	`, productID, size, quantity).Scan(&newQuantity)
	if err != nil {
		return err
	}

	return l.appendAdjustment(ctx, q, productID, size, newQuantity-quantity, newQuantity, domain.ChangeAdd, reason)
}

// ManualAdjust is the seller-driven absolute set. It runs in its own
// transaction and records the previous and new quantities.
func (l *Ledger) ManualAdjust(ctx context.Context, productID string, size domain.Size, newQuantity int, reason string) (*domain.StockEntry, error) {
	if !size.Valid() {
		return nil, domain.ErrInvalidSize
	}
	if newQuantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var previous int
	err = tx.QueryRowContext(ctx, `
		SELECT quantity FROM stock_entries
		WHERE product_id = $1 AND size = $2
		FOR UPDATE
	`, productID, size).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_entries (product_id, size, quantity, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (product_id, size)
		DO UPDATE SET quantity = $3, updated_at = NOW()
	`, productID, size, newQuantity)
	if err != nil {
		return nil, err
	}

	if err := l.appendAdjustment(ctx, tx, productID, size, previous, newQuantity, domain.ChangeUpdate, reason); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return l.Entry(ctx, productID)
}

// Entry loads every stocked size of one product. It returns nil when the
// product has no stock rows at all.
func (l *Ledger) Entry(ctx context.Context, productID string) (*domain.StockEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT size, quantity FROM stock_entries
		WHERE product_id = $1
		ORDER BY size
	`, productID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sizes := make(map[domain.Size]int)
	for rows.Next() {
		var size domain.Size
		var quantity int
		if err := rows.Scan(&size, &quantity); err != nil {
			return nil, err
		}
		sizes[size] = quantity
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(sizes) == 0 {
		return nil, nil
	}

	return &domain.StockEntry{ProductID: productID, Sizes: sizes}, nil
}

// History returns the adjustment trail for one product, oldest first.
func (l *Ledger) History(ctx context.Context, productID string) ([]domain.StockAdjustment, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT size, previous_quantity, new_quantity, change_kind, reason, created_at
		FROM stock_adjustments
		WHERE product_id = $1
		ORDER BY id
	`, productID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var history []domain.StockAdjustment
	for rows.Next() {
		adj := domain.StockAdjustment{ProductID: productID}
		if err := rows.Scan(&adj.Size, &adj.PreviousQuantity, &adj.NewQuantity, &adj.Kind, &adj.Reason, &adj.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, adj)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return history, nil
}

func (l *Ledger) appendAdjustment(ctx context.Context, q Querier, productID string, size domain.Size, previous, current int, kind domain.ChangeKind, reason string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_adjustments (product_id, size, previous_quantity, new_quantity, change_kind, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, productID, size, previous, current, kind, reason)
	if err != nil {
		return fmt.Errorf("append stock adjustment: %w", err)
	}
	return nil
}
