package domain

import "time"

// ChangeKind classifies a stock adjustment.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "ADD"
	ChangeRemove ChangeKind = "REMOVE"
	ChangeUpdate ChangeKind = "UPDATE"
)

// StockEntry holds the per-size available quantities of one product. A size
// absent from the map reads as quantity zero.
type StockEntry struct {
	ProductID string       `json:"product_id"`
	Sizes     map[Size]int `json:"sizes"`
}

// StockAdjustment is one record of the append-only stock audit trail. Every
// quantity mutation pairs with exactly one adjustment in the same
// transaction.
type StockAdjustment struct {
	ProductID        string     `json:"product_id"`
	Size             Size       `json:"size"`
	PreviousQuantity int        `json:"previous_quantity"`
	NewQuantity      int        `json:"new_quantity"`
	Kind             ChangeKind `json:"change_kind"`
	Reason           string     `json:"reason"`
	CreatedAt        time.Time  `json:"created_at"`
}
