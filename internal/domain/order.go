package domain

import "time"

type OrderStatus string

const (
	OrderStatusProcessing     OrderStatus = "Processing"
	OrderStatusPacked         OrderStatus = "Packed"
	OrderStatusShipped        OrderStatus = "Shipped"
	OrderStatusOutForDelivery OrderStatus = "Out for Delivery"
	OrderStatusDelivered      OrderStatus = "Delivered"
	OrderStatusCancelled      OrderStatus = "Cancelled"
)

// fulfillmentFlow is the total order of delivery statuses. Cancelled sits
// outside the flow and is only reachable through cancellation.
var fulfillmentFlow = []OrderStatus{
	OrderStatusProcessing,
	OrderStatusPacked,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

// Next returns the successor status in the fulfillment flow. The second
// return is false for terminal statuses and for Cancelled.
func (s OrderStatus) Next() (OrderStatus, bool) {
	for i, st := range fulfillmentFlow {
		if st == s && i+1 < len(fulfillmentFlow) {
			return fulfillmentFlow[i+1], true
		}
	}
	return "", false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "Pending"
	PaymentStatusPaid     PaymentStatus = "Paid"
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

// OrderLine is the immutable snapshot of one purchased product. Name, price
// and image are copied from the catalog at order time and do not follow
// later catalog edits.
type OrderLine struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Image     string `json:"image"`
	Quantity  int    `json:"quantity"`
	Size      Size   `json:"size"`
}

type TrackingEntry struct {
	Status    OrderStatus `json:"status"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}

type Order struct {
	ID               string        `json:"id"`
	Ref              string        `json:"ref"`
	BuyerID          string        `json:"buyer_id"`
	BuyerEmail       string        `json:"buyer_email"`
	PaymentProvider  string        `json:"payment_provider"`
	Lines            []OrderLine   `json:"lines"`
	Total            int64         `json:"total"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	Status           OrderStatus   `json:"status"`
	NotifiedStatuses []OrderStatus `json:"notified_statuses"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	DeliveredAt      *time.Time    `json:"delivered_at,omitempty"`
}

// ShortRef derives the human-facing order reference from the aggregate id.
func ShortRef(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// Notified reports whether a notification for status has already been
// enqueued for this order.
func (o *Order) Notified(status OrderStatus) bool {
	for _, s := range o.NotifiedStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ComputedTotal recomputes the order total from its lines. It must always
// equal Total on a persisted order.
func (o *Order) ComputedTotal() int64 {
	var total int64
	for _, l := range o.Lines {
		total += int64(l.Quantity) * l.Price
	}
	return total
}
