//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/wearloom/commerce-engine/internal/advancer"
	"github.com/wearloom/commerce-engine/internal/cancel"
	"github.com/wearloom/commerce-engine/internal/cart"
	"github.com/wearloom/commerce-engine/internal/catalog"
	"github.com/wearloom/commerce-engine/internal/checkout"
	"github.com/wearloom/commerce-engine/internal/domain"
	"github.com/wearloom/commerce-engine/internal/messaging"
	"github.com/wearloom/commerce-engine/internal/orders"
	"github.com/wearloom/commerce-engine/internal/stock"
)

type capturePublisher struct {
	mu   sync.Mutex
	jobs []domain.NotificationJob
}

func (p *capturePublisher) Publish(_ context.Context, _ string, payload any) error {
	job, ok := payload.(domain.NotificationJob)
	if !ok {
		return errors.New("unexpected payload type")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *capturePublisher) Jobs() []domain.NotificationJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.NotificationJob, len(p.jobs))
	copy(out, p.jobs)
	return out
}

type engine struct {
	db       *sql.DB
	ledger   *stock.Ledger
	orders   *orders.Repository
	checkout *checkout.Service
	cancel   *cancel.Service
	advancer *advancer.Advancer
	pub      *capturePublisher
}

func newEngine(t *testing.T, connStr string) *engine {
	t.Helper()

	db := OpenDB(t, connStr)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledger := stock.NewLedger(db)
	orderRepo := orders.NewRepository(db)
	carts := cart.NewRepository(db)
	pub := &capturePublisher{}

	return &engine{
		db:       db,
		ledger:   ledger,
		orders:   orderRepo,
		checkout: checkout.NewService(db, carts, catalog.NewPGReader(db), ledger, orderRepo, pub, logger),
		cancel:   cancel.NewService(db, ledger, orderRepo, pub, logger),
		advancer: advancer.New(db, orderRepo, pub, logger),
		pub:      pub,
	}
}

func seedProduct(t *testing.T, db *sql.DB, id, name string, price int64) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO products (id, name, price, image) VALUES ($1, $2, $3, $4)`,
		id, name, price, name+".jpg"); err != nil {
		t.Fatalf("failed to seed product %s: %v", id, err)
	}
}

func setStock(t *testing.T, db *sql.DB, productID string, size domain.Size, quantity int) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO stock_entries (product_id, size, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (product_id, size) DO UPDATE SET quantity = $3
	`, productID, size, quantity)
	if err != nil {
		t.Fatalf("failed to seed stock for %s/%s: %v", productID, size, err)
	}
}

func stockQty(t *testing.T, db *sql.DB, productID string, size domain.Size) int {
	t.Helper()
	var q int
	err := db.QueryRow(`SELECT quantity FROM stock_entries WHERE product_id = $1 AND size = $2`, productID, size).Scan(&q)
	if errors.Is(err, sql.ErrNoRows) {
		return 0
	}
	if err != nil {
		t.Fatalf("failed to read stock for %s/%s: %v", productID, size, err)
	}
	return q
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}

func seedCart(t *testing.T, db *sql.DB, cartID, buyerID string, lines ...cartLine) []string {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO carts (id, buyer_id) VALUES ($1, $2)`, cartID, buyerID); err != nil {
		t.Fatalf("failed to seed cart: %v", err)
	}
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		id := uuid.New().String()
		if _, err := db.Exec(`INSERT INTO cart_lines (id, cart_id, product_id, quantity, size) VALUES ($1, $2, $3, $4, $5)`,
			id, cartID, l.productID, l.quantity, l.size); err != nil {
			t.Fatalf("failed to seed cart line: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

type cartLine struct {
	productID string
	quantity  int
	size      string
}

func TestConcurrentDirectCheckout(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCtx()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	e := newEngine(t, pg.ConnStr)

	seedProduct(t, e.db, "P-RACE", "Linen Shirt", 3999)
	setStock(t, e.db, "P-RACE", domain.SizeM, 2)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := e.checkout.Direct(ctx, checkout.DirectInput{
				BuyerID:    "buyer-" + string(rune('a'+n)),
				BuyerEmail: "buyer@example.com",
				ProductID:  "P-RACE",
				Quantity:   2,
				Size:       "M",
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrInsufficientStock):
			conflicts++
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}

	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one success and one conflict, got %d successes, %d conflicts", successes, conflicts)
	}
	if got := stockQty(t, e.db, "P-RACE", domain.SizeM); got != 0 {
		t.Errorf("expected final stock 0, got %d", got)
	}
	if n := countRows(t, e.db, `SELECT COUNT(*) FROM orders`); n != 1 {
		t.Errorf("expected exactly one order, got %d", n)
	}
	if n := countRows(t, e.db, `SELECT COUNT(*) FROM stock_adjustments WHERE product_id = 'P-RACE' AND change_kind = 'REMOVE'`); n != 1 {
		t.Errorf("expected exactly one REMOVE adjustment, got %d", n)
	}
}

func TestCartCheckoutRollsBackOnInsufficientStock(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCtx()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	e := newEngine(t, pg.ConnStr)

	seedProduct(t, e.db, "P-A", "Linen Shirt", 3999)
	seedProduct(t, e.db, "P-B", "Denim Jacket", 8999)
	setStock(t, e.db, "P-A", domain.SizeS, 1)
	setStock(t, e.db, "P-B", domain.SizeM, 0)

	lineIDs := seedCart(t, e.db, "cart-1", "buyer-1",
		cartLine{productID: "P-A", quantity: 1, size: "S"},
		cartLine{productID: "P-B", quantity: 1, size: "M"},
	)

	_, err := e.checkout.FromCart(ctx, checkout.CartInput{
		BuyerID:    "buyer-1",
		BuyerEmail: "buyer@example.com",
		CartID:     "cart-1",
		LineIDs:    lineIDs,
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got: %v", err)
	}

	if got := stockQty(t, e.db, "P-A", domain.SizeS); got != 1 {
		t.Errorf("expected P-A stock untouched at 1, got %d", got)
	}
	if got := stockQty(t, e.db, "P-B", domain.SizeM); got != 0 {
		t.Errorf("expected P-B stock untouched at 0, got %d", got)
	}
	if n := countRows(t, e.db, `SELECT COUNT(*) FROM orders`); n != 0 {
		t.Errorf("expected zero orders, got %d", n)
	}
	if n := countRows(t, e.db, `SELECT COUNT(*) FROM cart_lines WHERE cart_id = 'cart-1'`); n != 2 {
		t.Errorf("expected cart untouched with 2 lines, got %d", n)
	}
	if n := countRows(t, e.db, `SELECT COUNT(*) FROM stock_adjustments`); n != 0 {
		t.Errorf("expected no adjustments after rollback, got %d", n)
	}
	if jobs := e.pub.Jobs(); len(jobs) != 0 {
		t.Errorf("expected no notification jobs, got %d", len(jobs))
	}
}

func TestCartCheckoutSuccess(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCtx()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	e := newEngine(t, pg.ConnStr)

	seedProduct(t, e.db, "P-A", "Linen Shirt", 3999)
	seedProduct(t, e.db, "P-B", "Denim Jacket", 8999)
	setStock(t, e.db, "P-A", domain.SizeS, 5)
	setStock(t, e.db, "P-B", domain.SizeM, 5)

	lineIDs := seedCart(t, e.db, "cart-1", "buyer-1",
		cartLine{productID: "P-A", quantity: 2, size: "s"},
		cartLine{productID: "P-B", quantity: 1, size: "M"},
		cartLine{productID: "P-B", quantity: 3, size: "M"},
	)

	// Check out the first two lines only; the third stays in the cart.
	order, err := e.checkout.FromCart(ctx, checkout.CartInput{
		BuyerID:         "buyer-1",
		BuyerEmail:      "buyer@example.com",
		CartID:          "cart-1",
		LineIDs:         lineIDs[:2],
		PaymentProvider: "testpay",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if want := int64(2*3999 + 8999); order.Total != want {
		t.Errorf("expected total %d, got %d", want, order.Total)
	}
	if order.Total != order.ComputedTotal() {
		t.Errorf("total %d does not match recomputed %d", order.Total, order.ComputedTotal())
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("expected Processing, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Errorf("expected Pending payment, got %s", order.PaymentStatus)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("expected 2 order lines, got %d", len(order.Lines))
	}
	if order.Lines[0].Size != domain.SizeS {
		t.Errorf("expected lower-case size input normalized to S, got %s", order.Lines[0].Size)
	}
	if order.Lines[0].Name != "Linen Shirt" || order.Lines[0].Price != 3999 {
		t.Errorf("expected snapshot name/price, got %s/%d", order.Lines[0].Name, order.Lines[0].Price)
	}

	if got := stockQty(t, e.db, "P-A", domain.SizeS); got != 3 {
		t.Errorf("expected P-A stock 3, got %d", got)
	}
	if got := stockQty(t, e.db, "P-B", domain.SizeM); got != 4 {
		t.Errorf("expected P-B stock 4, got %d", got)
	}
	if n := countRows(t, e.db, `SELECT COUNT(*) FROM cart_lines WHERE cart_id = 'cart-1'`); n != 1 {
		t.Errorf("expected 1 remaining cart line, got %d", n)
	}

	var cartTotal int64
	if err := e.db.QueryRow(`SELECT total FROM carts WHERE id = 'cart-1'`).Scan(&cartTotal); err != nil {
		t.Fatalf("failed to read cart total: %v", err)
	}
	if want := int64(3 * 8999); cartTotal != want {
		t.Errorf("expected recomputed cart total %d, got %d", want, cartTotal)
	}

	tracking, err := e.orders.Tracking(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to read tracking: %v", err)
	}
	if len(tracking) != 1 || tracking[0].Status != domain.OrderStatusProcessing {
		t.Fatalf("expected single Processing tracking entry, got %+v", tracking)
	}

	jobs := e.pub.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 notification job, got %d", len(jobs))
	}
	if jobs[0].Kind != domain.NotificationOrderPlaced || jobs[0].Status != domain.OrderStatusProcessing {
		t.Errorf("unexpected job: %+v", jobs[0])
	}
	if jobs[0].OrderRef != domain.ShortRef(order.ID) {
		t.Errorf("expected job ref %s, got %s", domain.ShortRef(order.ID), jobs[0].OrderRef)
	}
}

func TestCheckoutValidation(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCtx()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	e := newEngine(t, pg.ConnStr)

	seedProduct(t, e.db, "P-A", "Linen Shirt", 3999)
	setStock(t, e.db, "P-A", domain.SizeS, 5)

	if _, err := e.checkout.Direct(ctx, checkout.DirectInput{BuyerID: "b", ProductID: "P-A", Quantity: 0, Size: "S"}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected invalid quantity, got: %v", err)
	}
	if _, err := e.checkout.Direct(ctx, checkout.DirectInput{BuyerID: "b", ProductID: "P-MISSING", Quantity: 1, Size: "S"}); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected product not found, got: %v", err)
	}
	if _, err := e.checkout.FromCart(ctx, checkout.CartInput{BuyerID: "b", CartID: "nope", LineIDs: []string{"x"}}); !errors.Is(err, domain.ErrCartNotFound) {
		t.Errorf("expected cart not found, got: %v", err)
	}
	if _, err := e.checkout.FromCart(ctx, checkout.CartInput{BuyerID: "b", CartID: "nope"}); !errors.Is(err, domain.ErrEmptySelection) {
		t.Errorf("expected empty selection, got: %v", err)
	}

	seedCart(t, e.db, "cart-v", "b")
	if _, err := e.checkout.FromCart(ctx, checkout.CartInput{BuyerID: "b", CartID: "cart-v", LineIDs: []string{uuid.New().String()}}); !errors.Is(err, domain.ErrEmptySelection) {
		t.Errorf("expected empty selection for unmatched line ids, got: %v", err)
	}

	// A direct buy with no size falls back to FreeSize, which has no stock.
	if _, err := e.checkout.Direct(ctx, checkout.DirectInput{BuyerID: "b", ProductID: "P-A", Quantity: 1}); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected insufficient stock for FreeSize, got: %v", err)
	}
}

func TestAdvancerTicks(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCtx()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	e := newEngine(t, pg.ConnStr)

	seedProduct(t, e.db, "P-A", "Linen Shirt", 3999)
	setStock(t, e.db, "P-A", domain.SizeM, 5)

	order, err := e.checkout.Direct(ctx, checkout.DirectInput{
		BuyerID: "buyer-1", BuyerEmail: "b@example.com", ProductID: "P-A", Quantity: 1, Size: "M",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if err := e.advancer.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	got, err := e.orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if got.Status != domain.OrderStatusPacked {
		t.Fatalf("expected Packed after one tick, got %s", got.Status)
	}

	tracking, err := e.orders.Tracking(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to read tracking: %v", err)
	}
	if len(tracking) != 2 {
		t.Fatalf("expected 2 tracking entries, got %d", len(tracking))
	}
	if tracking[1].Status != domain.OrderStatusPacked {
		t.Errorf("expected Packed tracking entry, got %s", tracking[1].Status)
	}

	jobs := e.pub.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected placed + packed jobs, got %d", len(jobs))
	}
	if jobs[1].Kind != domain.NotificationStatusUpdate || jobs[1].Status != domain.OrderStatusPacked {
		t.Errorf("unexpected second job: %+v", jobs[1])
	}

	// A retried transition against the same starting status must be
	// rejected by the in-row guard: Packed is already in the dedup set.
	moved, err := e.orders.AdvanceTx(ctx, e.db, order.ID, domain.OrderStatusProcessing, domain.OrderStatusPacked)
	if err != nil {
		t.Fatalf("advance retry errored: %v", err)
	}
	if moved {
		t.Fatal("expected duplicate advancement to be rejected")
	}

	// Drive the order to its terminal state; each status is reached and
	// notified exactly once, and further ticks are no-ops.
	for i := 0; i < 5; i++ {
		if err := e.advancer.RunTick(ctx); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}

	got, err = e.orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if got.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected Delivered, got %s", got.Status)
	}
	if got.DeliveredAt == nil {
		t.Error("expected delivered_at to be set")
	}

	seen := make(map[domain.OrderStatus]int)
	for _, s := range got.NotifiedStatuses {
		seen[s]++
	}
	for s, n := range seen {
		if n != 1 {
			t.Errorf("status %s notified %d times", s, n)
		}
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 distinct notified statuses, got %d", len(seen))
	}

	if jobs := e.pub.Jobs(); len(jobs) != 5 {
		t.Errorf("expected 5 jobs total (placed + 4 transitions), got %d", len(jobs))
	}

	tracking, err = e.orders.Tracking(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to read tracking: %v", err)
	}
	if len(tracking) != 5 {
		t.Errorf("expected 5 tracking entries, got %d", len(tracking))
	}
}

func TestCancellationCompensation(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCtx()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	e := newEngine(t, pg.ConnStr)

	seedProduct(t, e.db, "P-A", "Linen Shirt", 3999)
	setStock(t, e.db, "P-A", domain.SizeM, 5)

	order, err := e.checkout.Direct(ctx, checkout.DirectInput{
		BuyerID: "buyer-1", BuyerEmail: "b@example.com", ProductID: "P-A", Quantity: 2, Size: "M",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if got := stockQty(t, e.db, "P-A", domain.SizeM); got != 3 {
		t.Fatalf("expected stock 3 after checkout, got %d", got)
	}

	// Advance to Shipped before cancelling.
	for i := 0; i < 2; i++ {
		if err := e.advancer.RunTick(ctx); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
	}

	if _, err := e.cancel.Cancel(ctx, "someone-else", order.ID); !errors.Is(err, domain.ErrNotOrderOwner) {
		t.Errorf("expected ownership rejection, got: %v", err)
	}

	cancelled, err := e.cancel.Cancel(ctx, "buyer-1", order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("expected Cancelled, got %s", cancelled.Status)
	}
	if cancelled.PaymentStatus != domain.PaymentStatusPending {
		t.Errorf("expected unpaid order to stay Pending, got %s", cancelled.PaymentStatus)
	}
	if got := stockQty(t, e.db, "P-A", domain.SizeM); got != 5 {
		t.Errorf("expected stock restored to 5, got %d", got)
	}
	if n := countRows(t, e.db, `SELECT COUNT(*) FROM stock_adjustments WHERE product_id = 'P-A' AND change_kind = 'ADD' AND reason = 'order cancelled'`); n != 1 {
		t.Errorf("expected one ADD adjustment, got %d", n)
	}

	// Second cancel is a no-op success with no double credit.
	again, err := e.cancel.Cancel(ctx, "buyer-1", order.ID)
	if err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	if again.Status != domain.OrderStatusCancelled {
		t.Errorf("expected Cancelled on repeat, got %s", again.Status)
	}
	if got := stockQty(t, e.db, "P-A", domain.SizeM); got != 5 {
		t.Errorf("expected stock unchanged at 5 after repeat cancel, got %d", got)
	}

	// Cancelled orders are invisible to the advancer.
	if err := e.advancer.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got, err := e.orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Errorf("expected order to stay Cancelled, got %s", got.Status)
	}

	if _, err := e.cancel.Cancel(ctx, "buyer-1", uuid.New().String()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected order not found, got: %v", err)
	}
}

func TestCancelAfterDeliveryAndRefund(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCtx()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	e := newEngine(t, pg.ConnStr)

	seedProduct(t, e.db, "P-A", "Linen Shirt", 3999)
	setStock(t, e.db, "P-A", domain.SizeM, 5)

	delivered, err := e.checkout.Direct(ctx, checkout.DirectInput{
		BuyerID: "buyer-1", BuyerEmail: "b@example.com", ProductID: "P-A", Quantity: 1, Size: "M",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := e.advancer.RunTick(ctx); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
	}
	if _, err := e.cancel.Cancel(ctx, "buyer-1", delivered.ID); !errors.Is(err, domain.ErrAlreadyDelivered) {
		t.Errorf("expected delivered rejection, got: %v", err)
	}

	paid, err := e.checkout.Direct(ctx, checkout.DirectInput{
		BuyerID: "buyer-2", BuyerEmail: "b2@example.com", ProductID: "P-A", Quantity: 1, Size: "M",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	confirmed, err := e.orders.ConfirmPayment(ctx, paid.ID)
	if err != nil {
		t.Fatalf("payment confirm failed: %v", err)
	}
	if confirmed.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected Paid, got %s", confirmed.PaymentStatus)
	}

	refunded, err := e.cancel.Cancel(ctx, "buyer-2", paid.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if refunded.PaymentStatus != domain.PaymentStatusRefunded {
		t.Errorf("expected Refunded, got %s", refunded.PaymentStatus)
	}
}

func TestManualAdjustmentLedger(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelCtx()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	e := newEngine(t, pg.ConnStr)

	seedProduct(t, e.db, "P-A", "Linen Shirt", 3999)
	setStock(t, e.db, "P-A", domain.SizeM, 10)

	entry, err := e.ledger.ManualAdjust(ctx, "P-A", domain.SizeM, 25, "restock")
	if err != nil {
		t.Fatalf("manual adjust failed: %v", err)
	}
	if entry.Sizes[domain.SizeM] != 25 {
		t.Errorf("expected quantity 25, got %d", entry.Sizes[domain.SizeM])
	}

	if _, err := e.ledger.ManualAdjust(ctx, "P-A", domain.Size("BANANA"), 5, "x"); !errors.Is(err, domain.ErrInvalidSize) {
		t.Errorf("expected invalid size rejection, got: %v", err)
	}
	if _, err := e.ledger.ManualAdjust(ctx, "P-A", domain.SizeM, -5, "x"); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected invalid quantity rejection, got: %v", err)
	}

	if got, err := e.ledger.Available(ctx, "P-A", domain.SizeM); err != nil || got != 25 {
		t.Errorf("expected availability 25, got %d (err: %v)", got, err)
	}
	if got, err := e.ledger.Available(ctx, "P-A", domain.SizeXL); err != nil || got != 0 {
		t.Errorf("expected zero availability for unstocked size, got %d (err: %v)", got, err)
	}

	history, err := e.ledger.History(ctx, "P-A")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 adjustment, got %d", len(history))
	}
	adj := history[0]
	if adj.Kind != domain.ChangeUpdate || adj.PreviousQuantity != 10 || adj.NewQuantity != 25 || adj.Reason != "restock" {
		t.Errorf("unexpected adjustment record: %+v", adj)
	}
}

func TestNotificationQueueRoundTrip(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancelCtx()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	producer := messaging.NewProducer(brokers, "order.notifications")
	defer func() { _ = producer.Close() }()

	job := domain.NotificationJob{
		Kind:      domain.NotificationStatusUpdate,
		Recipient: "buyer@example.com",
		OrderID:   uuid.New().String(),
		Status:    domain.OrderStatusPacked,
		Total:     3999,
		Message:   "Your order is now Packed.",
	}
	job.OrderRef = domain.ShortRef(job.OrderID)

	if err := producer.Publish(ctx, job.OrderID, job); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, "order.notifications", "test-dispatcher",
		messaging.WithStartOffset(kafkago.FirstOffset))
	defer func() { _ = consumer.Close() }()

	received := make(chan domain.NotificationJob, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		_ = consumer.Consume(consumeCtx, func(_ context.Context, payload []byte) error {
			var got domain.NotificationJob
			if err := json.Unmarshal(payload, &got); err != nil {
				return err
			}
			received <- got
			stop()
			return nil
		})
	}()

	select {
	case got := <-received:
		if got.OrderID != job.OrderID || got.Status != domain.OrderStatusPacked {
			t.Errorf("unexpected job received: %+v", got)
		}
	case <-time.After(90 * time.Second):
		t.Fatal("timed out waiting for notification job")
	}
}
