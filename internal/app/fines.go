package app

import (
	"context"
	"fmt"
	"strings"

	"shelfledger/internal/events"
	"shelfledger/internal/payment"
	"shelfledger/pkg/domain"
	"shelfledger/pkg/store"
)

// PaymentOrder is what the client needs to drive the payment widget.
type PaymentOrder struct {
	OrderID     string   `json:"orderId"`
	AmountMinor int64    `json:"amount"`
	Currency    string   `json:"currency"`
	KeyID       string   `json:"key"`
	IssueIDs    []string `json:"issueIds"`
	QRData      string   `json:"qrData,omitempty"`
}

// PendingFines returns a borrower's unpaid fines and their sum in whole
// currency units. Read only.
func (a *App) PendingFines(ctx context.Context, userID string) ([]domain.BookIssue, int64, error) {
	loans, err := a.store.ListPendingFines(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	for _, l := range loans {
		total += l.Fine
	}
	return loans, total, nil
}

// CreateFinePayment validates the selected fines and obtains a payment
// order from the gateway. The ledger is not mutated; the order binding is
// persisted so verification can settle exactly these issues.
func (a *App) CreateFinePayment(ctx context.Context, userID string, issueIDs []string, totalFine int64) (PaymentOrder, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(issueIDs) == 0 {
		return PaymentOrder{}, fmt.Errorf("%w: userId and issueIds are required", ErrValidation)
	}

	pending, _, err := a.PendingFines(ctx, userID)
	if err != nil {
		return PaymentOrder{}, err
	}
	byID := make(map[string]domain.BookIssue, len(pending))
	for _, l := range pending {
		byID[l.ID] = l
	}

	var sum int64
	seen := make(map[string]bool, len(issueIDs))
	for _, id := range issueIDs {
		if seen[id] {
			return PaymentOrder{}, fmt.Errorf("%w: duplicate issue id %s", ErrValidation, id)
		}
		seen[id] = true
		loan, ok := byID[id]
		if !ok {
			return PaymentOrder{}, fmt.Errorf("%w: issue %s has no pending fine for this user", ErrValidation, id)
		}
		sum += loan.Fine
	}
	if sum != totalFine {
		return PaymentOrder{}, ErrFineMismatch
	}

	now := a.now().UTC()
	amountMinor := sum * 100
	receipt := fmt.Sprintf("fine_%s_%d", userID, now.Unix())
	order, err := a.gateway.CreateOrder(ctx, amountMinor, a.currency, receipt)
	if err != nil {
		return PaymentOrder{}, fmt.Errorf("create payment order: %w", err)
	}

	if err := a.store.SaveFineOrder(ctx, domain.FineOrder{
		OrderID:     order.ID,
		UserID:      userID,
		AmountMinor: amountMinor,
		Currency:    a.currency,
		Receipt:     receipt,
		IssueIDs:    issueIDs,
		Status:      domain.OrderCreated,
		CreatedAt:   now,
	}); err != nil {
		return PaymentOrder{}, fmt.Errorf("save payment order: %w", err)
	}

	return PaymentOrder{
		OrderID:     order.ID,
		AmountMinor: amountMinor,
		Currency:    a.currency,
		KeyID:       a.gateway.KeyID(),
		IssueIDs:    issueIDs,
		QRData:      payment.QRData(order.ID, amountMinor),
	}, nil
}

// ConfirmSettlement verifies a payment proof and marks the order's fines
// paid. An invalid signature leaves the ledger untouched.
func (a *App) ConfirmSettlement(ctx context.Context, orderID, paymentID, signature string) error {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(paymentID) == "" || strings.TrimSpace(signature) == "" {
		return fmt.Errorf("%w: orderId, paymentId and signature are required", ErrValidation)
	}
	order, ok, err := a.store.GetFineOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get payment order: %w", err)
	}
	if !ok {
		return store.ErrOrderNotFound
	}
	if !a.gateway.VerifySignature(orderID, paymentID, signature) {
		return ErrInvalidSignature
	}
	if err := a.store.SettleFines(ctx, orderID, paymentID, order.IssueIDs); err != nil {
		return err
	}
	a.publish(ctx, events.KeyFineSettled, events.FineSettled{
		OrderID:     orderID,
		PaymentID:   paymentID,
		UserID:      order.UserID,
		IssueIDs:    order.IssueIDs,
		AmountMinor: order.AmountMinor,
	})
	return nil
}
