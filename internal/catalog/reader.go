package catalog

import (
	"context"
	"database/sql"
	"errors"
)

// Snapshot is the slice of a product an order line freezes at checkout.
type Snapshot struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Image string `json:"image"`
}

// Reader resolves product snapshots. A nil snapshot with a nil error means
// the product does not exist.
type Reader interface {
	Snapshot(ctx context.Context, productID string) (*Snapshot, error)
}

// PGReader reads snapshots straight from the products table.
type PGReader struct {
	db *sql.DB
}

func NewPGReader(db *sql.DB) *PGReader {
	return &PGReader{db: db}
}

func (r *PGReader) Snapshot(ctx context.Context, productID string) (*Snapshot, error) {
	snap := &Snapshot{}
	err := r.db.QueryRowContext(ctx, `
		SELECT name, price, image FROM products WHERE id = $1
	`, productID).Scan(&snap.Name, &snap.Price, &snap.Image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return snap, nil
}
