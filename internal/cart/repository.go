package cart

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/wearloom/commerce-engine/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx. Checkout calls every method
// here with its own transaction so the cart mutation commits (or rolls back)
// together with the order it produced.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Line is one cart line as checkout consumes it. The size is raw buyer
// input; checkout normalizes it.
type Line struct {
	ID        string
	ProductID string
	Quantity  int
	Size      string
}

// Repository implements the slice of cart persistence the checkout
// transactor depends on. Cart CRUD itself lives outside this engine.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SelectedLines loads the cart lines matching lineIDs. It fails with
// ErrCartNotFound when the cart does not belong to the buyer; an empty
// result for an existing cart is returned as-is for the caller to judge.
func (r *Repository) SelectedLines(ctx context.Context, q Querier, buyerID, cartID string, lineIDs []string) ([]Line, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM carts WHERE id = $1 AND buyer_id = $2
	`, cartID, buyerID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCartNotFound
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, quantity, size
		FROM cart_lines
		WHERE cart_id = $1 AND id = ANY($2)
		ORDER BY created_at
	`, cartID, pq.Array(lineIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Quantity, &line.Size); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// RemoveLines deletes the checked-out lines from the cart.
func (r *Repository) RemoveLines(ctx context.Context, q Querier, cartID string, lineIDs []string) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM cart_lines
		WHERE cart_id = $1 AND id = ANY($2)
	`, cartID, pq.Array(lineIDs))
	return err
}

// RecomputeTotal resets the cart total from its remaining lines, priced at
// the current catalog price.
func (r *Repository) RecomputeTotal(ctx context.Context, q Querier, cartID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE carts
		SET total = COALESCE((
			SELECT SUM(cl.quantity * p.price)
			FROM cart_lines cl
			JOIN products p ON p.id = cl.product_id
			WHERE cl.cart_id = carts.id
		), 0), updated_at = NOW()
		WHERE id = $1
	`, cartID)
	return err
}
