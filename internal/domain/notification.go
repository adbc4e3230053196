package domain

// NotificationKind selects the rendering routine for a queued job.
type NotificationKind string

const (
	NotificationOrderPlaced    NotificationKind = "order.placed"
	NotificationStatusUpdate   NotificationKind = "order.status_update"
	NotificationOrderCancelled NotificationKind = "order.cancelled"
)

// LineSummary carries the customer-facing part of an order line into a
// notification.
type LineSummary struct {
	Name     string `json:"name"`
	Image    string `json:"image"`
	Quantity int    `json:"quantity"`
}

// NotificationJob is one queued message for a buyer. Producers enqueue it at
// most once per status a given order reaches; the transport underneath may
// still redeliver.
type NotificationJob struct {
	Kind      NotificationKind `json:"kind"`
	Recipient string           `json:"recipient"`
	OrderID   string           `json:"order_id"`
	OrderRef  string           `json:"order_ref"`
	Status    OrderStatus      `json:"status"`
	Total     int64            `json:"total"`
	Lines     []LineSummary    `json:"lines"`
	Message   string           `json:"message"`
}

// NewNotificationJob builds a job from an order snapshot for the status it
// just reached.
func NewNotificationJob(kind NotificationKind, o *Order, status OrderStatus, message string) NotificationJob {
	lines := make([]LineSummary, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, LineSummary{Name: l.Name, Image: l.Image, Quantity: l.Quantity})
	}
	return NotificationJob{
		Kind:      kind,
		Recipient: o.BuyerEmail,
		OrderID:   o.ID,
		OrderRef:  ShortRef(o.ID),
		Status:    status,
		Total:     o.Total,
		Lines:     lines,
		Message:   message,
	}
}
