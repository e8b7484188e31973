package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGateway calls a hosted payment provider over HTTP. Signature
// verification happens locally against the shared secret, matching the
// provider's webhook contract, so a network round-trip is only needed to
// create orders.
type HTTPGateway struct {
	baseURL    string
	keyID      string
	secret     string
	httpClient *http.Client
}

// APIError represents a provider error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewHTTPGateway constructs a provider client with basic-auth credentials.
func NewHTTPGateway(baseURL, keyID, secret string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateOrder posts an order to the provider.
func (g *HTTPGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (Order, error) {
	if amountMinor <= 0 {
		return Order{}, fmt.Errorf("order amount must be positive, got %d", amountMinor)
	}
	payload, err := json.Marshal(map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	})
	if err != nil {
		return Order{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return Order{}, err
	}
	req.SetBasicAuth(g.keyID, g.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Order{}, fmt.Errorf("read order response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Order{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return Order{}, fmt.Errorf("decode order response: %w", err)
	}
	return order, nil
}

// VerifySignature checks the HMAC proof against the shared secret.
func (g *HTTPGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return verifyPayment(g.secret, orderID, paymentID, signature)
}

// KeyID returns the public key identifier handed to the checkout client.
func (g *HTTPGateway) KeyID() string {
	return g.keyID
}
