package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pagecraft/api/internal/domain"
)

func newGelato(t *testing.T, baseURL string) *GelatoProvider {
	t.Helper()
	provider, err := NewGelatoProvider(GelatoConfig{
		APIKey:  "gl-key",
		BaseURL: baseURL,
		Clock:   func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewGelatoProvider returned error: %v", err)
	}
	return provider
}

func TestGelatoSubmit(t *testing.T) {
	var captured gelatoSubmitPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-KEY"); got != "gl-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"gl-9","orderReferenceId":"sub_abc123","fulfillmentStatus":"created","receipts":[{"total":"29.00","currency":"eur"}]}`))
	}))
	defer server.Close()

	order, err := newGelato(t, server.URL).Submit(context.Background(), testSubmitRequest())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if captured.OrderReferenceID != "sub_abc123" {
		t.Errorf("idempotency key must travel as orderReferenceId, got %q", captured.OrderReferenceID)
	}
	if len(captured.Items) != 1 {
		t.Fatalf("expected a single item, got %+v", captured.Items)
	}
	if captured.Items[0].ProductUID != "photobook_8-8_hardcover_matte_perfect" {
		t.Errorf("unexpected product uid %q", captured.Items[0].ProductUID)
	}
	if captured.ShippingAddress.PostCode != "97201" || captured.ShippingAddress.Country != "US" {
		t.Errorf("unexpected shipping address %+v", captured.ShippingAddress)
	}

	if order.ID != "gl-9" || order.Provider != "gelato" {
		t.Errorf("unexpected order identity %+v", order)
	}
	if order.Status != domain.OrderStatusSubmitted {
		t.Errorf("created should map to submitted, got %s", order.Status)
	}
	if order.Cost.Amount != 2900 || order.Cost.Currency != "EUR" {
		t.Errorf("unexpected cost %+v", order.Cost)
	}
}

func TestGelatoSubmitDuplicateSearchesExisting(t *testing.T) {
	var searchBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"message":"order reference already exists"}`))
		case "/orders:search":
			if err := json.NewDecoder(r.Body).Decode(&searchBody); err != nil {
				t.Fatalf("decode search body: %v", err)
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"orders":[{"id":"gl-9","orderReferenceId":"sub_abc123","fulfillmentStatus":"in_production"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	order, err := newGelato(t, server.URL).Submit(context.Background(), testSubmitRequest())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if searchBody["orderReferenceId"] != "sub_abc123" {
		t.Errorf("search should filter by reference, got %v", searchBody)
	}
	if order.ID != "gl-9" || order.Status != domain.OrderStatusPrinting {
		t.Errorf("unexpected order %+v", order)
	}
}

func TestGelatoSubmitClassifiesFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid product uid"}`))
	}))
	defer server.Close()

	_, err := newGelato(t, server.URL).Submit(context.Background(), testSubmitRequest())
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Classification != ClassPermanent {
		t.Errorf("400 should classify permanent, got %s", perr.Classification)
	}
	if perr.Message != "invalid product uid" {
		t.Errorf("provider message should surface, got %q", perr.Message)
	}
}

func TestGelatoTrackWithTracking(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/gl-9" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"gl-9","fulfillmentStatus":"shipped","shipment":{"shipmentMethodName":"DHL","packages":[{"trackingCode":"JD01","trackingUrl":"https://t.example/JD01"}]}}`))
	}))
	defer server.Close()

	order, err := newGelato(t, server.URL).Track(context.Background(), "gl-9")
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if order.Status != domain.OrderStatusShipped {
		t.Errorf("shipped should map to shipped, got %s", order.Status)
	}
	if order.Tracking == nil || order.Tracking.Number != "JD01" || order.Tracking.Carrier != "DHL" {
		t.Errorf("unexpected tracking %+v", order.Tracking)
	}
}

func TestGelatoCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders/gl-9:cancel" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ok, err := newGelato(t, server.URL).Cancel(context.Background(), "gl-9")
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if !ok {
		t.Error("expected cancellation to succeed")
	}
}

func TestMapGelatoStatus(t *testing.T) {
	cases := []struct {
		in   string
		want domain.OrderStatus
	}{
		{"created", domain.OrderStatusSubmitted},
		{"passed", domain.OrderStatusAccepted},
		{"in_production", domain.OrderStatusPrinting},
		{"in_transit", domain.OrderStatusShipped},
		{"delivered", domain.OrderStatusDelivered},
		{"cancelled", domain.OrderStatusCancelled},
		{"returned", domain.OrderStatusFailed},
		{"surprise", domain.OrderStatusSubmitted},
	}
	for _, tc := range cases {
		if got := mapGelatoStatus(tc.in); got != tc.want {
			t.Errorf("mapGelatoStatus(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
