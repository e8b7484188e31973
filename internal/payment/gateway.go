// Package payment holds the contract against the external payment
// collaborator used to settle library fines. All monetary amounts cross this
// boundary in minor units (paise).
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Order is a payment order handle issued by the gateway.
type Order struct {
	ID          string    `json:"id"`
	AmountMinor int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Receipt     string    `json:"receipt"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Gateway is the payment collaborator contract: obtain an order handle up
// front, verify the provider's signature proof after the payer completes.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
	KeyID() string
}

// signPayment computes the provider signature: HMAC-SHA256 over
// "orderId|paymentId" keyed with the shared secret, hex encoded.
func signPayment(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyPayment checks a signature proof in constant time.
func verifyPayment(secret, orderID, paymentID, signature string) bool {
	expected := signPayment(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// QRData renders the cosmetic UPI payment string shown next to an order.
// It is not a real barcode payload.
func QRData(orderID string, amountMinor int64) string {
	return fmt.Sprintf("upi://pay?pa=merchant@bank&pn=LMS Platform&am=%d.%02d&cu=INR&tn=Payment for Order %s",
		amountMinor/100, amountMinor%100, orderID)
}
