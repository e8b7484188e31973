package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MockGateway fabricates orders locally for development and tests. Unlike a
// pass-through stub it does enforce the signature contract, so an invalid
// proof is rejected the same way a real provider rejects it.
type MockGateway struct {
	keyID  string
	secret string
	now    func() time.Time
}

// NewMockGateway builds a local gateway with the shared key pair.
func NewMockGateway(keyID, secret string) *MockGateway {
	return &MockGateway{keyID: keyID, secret: secret, now: time.Now}
}

// CreateOrder fabricates an order handle without calling out.
func (g *MockGateway) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (Order, error) {
	if amountMinor <= 0 {
		return Order{}, fmt.Errorf("order amount must be positive, got %d", amountMinor)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	now := g.now().UTC()
	return Order{
		ID:          fmt.Sprintf("ORDER_%d_%s", now.UnixMilli(), suffix),
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
		Status:      "created",
		CreatedAt:   now,
	}, nil
}

// VerifySignature checks the HMAC proof against the shared secret.
func (g *MockGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return verifyPayment(g.secret, orderID, paymentID, signature)
}

// KeyID returns the public key identifier handed to the checkout client.
func (g *MockGateway) KeyID() string {
	return g.keyID
}

// Sign produces a valid proof for an order/payment pair. Test helper; a real
// provider computes this on its side.
func (g *MockGateway) Sign(orderID, paymentID string) string {
	return signPayment(g.secret, orderID, paymentID)
}
