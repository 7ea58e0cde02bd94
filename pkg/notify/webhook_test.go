package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/donodeck/pkg/ledger"
)

func testItem() *ledger.Item {
	return &ledger.Item{
		ID:        7,
		Username:  "alice",
		Message:   "great stream!",
		Amount:    12.5,
		Timestamp: "2026-08-30 20:15:00",
	}
}

func TestWebhookNotify(t *testing.T) {
	var gotContentType string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotPayload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, log.New(io.Discard))
	if err := webhook.Notify(context.Background(), testItem()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	want := "**alice** donated $12.50\n\n*great stream!*\n\n`2026-08-30 20:15:00`"
	if gotPayload["content"] != want {
		t.Errorf("content = %q, want %q", gotPayload["content"], want)
	}
}

func TestWebhookNotifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, log.New(io.Discard))
	if err := webhook.Notify(context.Background(), testItem()); err == nil {
		t.Error("Notify() succeeded on 429 response")
	}
}

func TestWebhookEmptyURLIsNoop(t *testing.T) {
	webhook := NewWebhook("", log.New(io.Discard))
	if err := webhook.Notify(context.Background(), testItem()); err != nil {
		t.Errorf("Notify() with empty URL error = %v", err)
	}
}

func TestFormatMessageAmountPrecision(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		want   string
	}{
		{"whole dollars", 5, "$5.00"},
		{"cents", 3.1, "$3.10"},
		{"sub cent truncated by format", 9.999, "$10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := testItem()
			item.Amount = tt.amount
			got := FormatMessage(item)
			if !strings.Contains(got, tt.want) {
				t.Errorf("FormatMessage() = %q, want substring %q", got, tt.want)
			}
		})
	}
}
