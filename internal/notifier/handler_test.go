package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wearloom/commerce-engine/internal/domain"
	"github.com/wearloom/commerce-engine/internal/mailer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleJob() domain.NotificationJob {
	return domain.NotificationJob{
		Kind:      domain.NotificationStatusUpdate,
		Recipient: "buyer@example.com",
		OrderID:   "4f9c1c5e-9f2b-4a91-b8a3-0c6f2d1e7a42",
		OrderRef:  "2d1e7a42",
		Status:    domain.OrderStatusPacked,
		Total:     7999,
		Lines: []domain.LineSummary{
			{Name: "Linen Shirt", Image: "shirt.jpg", Quantity: 2},
		},
		Message: "Your order 2d1e7a42 is now Packed.",
	}
}

func TestHandler_Handle(t *testing.T) {
	t.Run("delivers a status update job", func(t *testing.T) {
		var got map[string]string
		mailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/send" {
				t.Errorf("expected /send, got %s", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode send request: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"sent"}`))
		}))
		defer mailSrv.Close()

		h := NewHandler(mailer.NewClient(mailSrv.URL, mailSrv.Client()), discardLogger())

		payload, _ := json.Marshal(sampleJob())
		if err := h.Handle(context.Background(), payload); err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}

		if got["to"] != "buyer@example.com" {
			t.Errorf("expected recipient buyer@example.com, got %s", got["to"])
		}
		if got["subject"] != "Order 2d1e7a42: Packed" {
			t.Errorf("unexpected subject: %s", got["subject"])
		}
		if !strings.Contains(got["body"], "2x Linen Shirt") {
			t.Errorf("expected line summary in body, got: %s", got["body"])
		}
		if !strings.Contains(got["body"], "$79.99") {
			t.Errorf("expected total in body, got: %s", got["body"])
		}
	})

	t.Run("drops the job when delivery fails", func(t *testing.T) {
		attempts := 0
		mailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer mailSrv.Close()

		h := NewHandler(mailer.NewClient(mailSrv.URL, mailSrv.Client()), discardLogger())

		payload, _ := json.Marshal(sampleJob())
		if err := h.Handle(context.Background(), payload); err != nil {
			t.Fatalf("expected failed delivery to be swallowed, got: %v", err)
		}
		if attempts != 1 {
			t.Errorf("expected exactly one delivery attempt, got %d", attempts)
		}
	})

	t.Run("drops undecodable payloads", func(t *testing.T) {
		h := NewHandler(mailer.NewClient("http://unused", http.DefaultClient), discardLogger())

		if err := h.Handle(context.Background(), []byte("not json")); err != nil {
			t.Fatalf("expected bad payload to be swallowed, got: %v", err)
		}
	})

	t.Run("drops jobs of unknown kind without a delivery attempt", func(t *testing.T) {
		attempts := 0
		mailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
		}))
		defer mailSrv.Close()

		h := NewHandler(mailer.NewClient(mailSrv.URL, mailSrv.Client()), discardLogger())

		job := sampleJob()
		job.Kind = "order.telepathy"
		payload, _ := json.Marshal(job)
		if err := h.Handle(context.Background(), payload); err != nil {
			t.Fatalf("expected unknown kind to be swallowed, got: %v", err)
		}
		if attempts != 0 {
			t.Errorf("expected no delivery attempt, got %d", attempts)
		}
	})
}
