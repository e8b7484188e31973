package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMockGatewayCreatesDistinctOrders(t *testing.T) {
	g := NewMockGateway("key_test", "secret")
	first, err := g.CreateOrder(context.Background(), 6000, "INR", "fine_1")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	second, err := g.CreateOrder(context.Background(), 6000, "INR", "fine_2")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("order ids must be unique, got %q twice", first.ID)
	}
	if !strings.HasPrefix(first.ID, "ORDER_") {
		t.Fatalf("unexpected order id shape: %q", first.ID)
	}
	if first.AmountMinor != 6000 || first.Currency != "INR" || first.Status != "created" {
		t.Fatalf("unexpected order: %+v", first)
	}
}

func TestMockGatewayRejectsNonPositiveAmount(t *testing.T) {
	g := NewMockGateway("key_test", "secret")
	if _, err := g.CreateOrder(context.Background(), 0, "INR", "r"); err == nil {
		t.Fatalf("expected error for zero amount")
	}
	if _, err := g.CreateOrder(context.Background(), -100, "INR", "r"); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	g := NewMockGateway("key_test", "secret")
	sig := g.Sign("ORDER_1", "pay_1")
	if !g.VerifySignature("ORDER_1", "pay_1", sig) {
		t.Fatalf("valid signature rejected")
	}
	if g.VerifySignature("ORDER_1", "pay_2", sig) {
		t.Fatalf("signature accepted for wrong payment id")
	}
	if g.VerifySignature("ORDER_2", "pay_1", sig) {
		t.Fatalf("signature accepted for wrong order id")
	}
	if g.VerifySignature("ORDER_1", "pay_1", sig+"00") {
		t.Fatalf("tampered signature accepted")
	}
	other := NewMockGateway("key_test", "different-secret")
	if other.VerifySignature("ORDER_1", "pay_1", sig) {
		t.Fatalf("signature accepted under different secret")
	}
}

func TestHTTPGatewayCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key_test" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Receipt  string `json:"receipt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Order{
			ID:          "order_remote_1",
			AmountMinor: req.Amount,
			Currency:    req.Currency,
			Receipt:     req.Receipt,
			Status:      "created",
		})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "key_test", "secret")
	order, err := g.CreateOrder(context.Background(), 2500, "INR", "fine_7")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "order_remote_1" || order.AmountMinor != 2500 {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestHTTPGatewaySurfacesProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "key_test", "secret")
	_, err := g.CreateOrder(context.Background(), 2500, "INR", "fine_7")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", apiErr.Status)
	}
}

func TestQRData(t *testing.T) {
	data := QRData("ORDER_9", 6050)
	if !strings.Contains(data, "am=60.50") {
		t.Fatalf("amount not rendered in major units: %q", data)
	}
	if !strings.Contains(data, "ORDER_9") {
		t.Fatalf("order id missing from QR data: %q", data)
	}
}
