package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"shelfledger/pkg/domain"
)

func seedBook(t *testing.T, s *MemoryStore, id string, total int) domain.Book {
	t.Helper()
	b := domain.Book{
		ID:              id,
		Title:           "The Go Programming Language",
		Author:          "Donovan",
		ISBN:            "978-0134190440-" + id,
		Category:        "programming",
		TotalCopies:     total,
		AvailableCopies: total,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.SaveBook(context.Background(), b); err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return b
}

func newLoan(id, bookID, userID string, issued time.Time, days int) domain.BookIssue {
	return domain.BookIssue{
		ID:         id,
		BookID:     bookID,
		UserID:     userID,
		IssueDate:  issued,
		DueDate:    issued.AddDate(0, 0, days),
		Status:     domain.StatusIssued,
		FineStatus: domain.FineNone,
	}
}

func TestCreateLoanDecrementsAvailability(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 2)

	if err := s.CreateLoan(ctx, newLoan("l1", "b1", "u1", time.Now(), 14)); err != nil {
		t.Fatalf("create loan: %v", err)
	}
	b, _, _ := s.GetBook(ctx, "b1")
	if b.AvailableCopies != 1 {
		t.Fatalf("expected 1 available copy, got %d", b.AvailableCopies)
	}
}

func TestCreateLoanRejectsWhenNoCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)

	if err := s.CreateLoan(ctx, newLoan("l1", "b1", "u1", time.Now(), 14)); err != nil {
		t.Fatalf("first loan: %v", err)
	}
	err := s.CreateLoan(ctx, newLoan("l2", "b1", "u2", time.Now(), 14))
	if !errors.Is(err, ErrNoCopies) {
		t.Fatalf("expected ErrNoCopies, got %v", err)
	}
	if _, ok, _ := s.GetLoan(ctx, "l2"); ok {
		t.Fatalf("rejected issue must not create a loan record")
	}
	b, _, _ := s.GetBook(ctx, "b1")
	if b.AvailableCopies != 0 {
		t.Fatalf("availability changed on rejected issue: %d", b.AvailableCopies)
	}
}

func TestCreateLoanRejectsDoubleBorrow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 3)

	if err := s.CreateLoan(ctx, newLoan("l1", "b1", "u1", time.Now(), 14)); err != nil {
		t.Fatalf("first loan: %v", err)
	}
	err := s.CreateLoan(ctx, newLoan("l2", "b1", "u1", time.Now(), 14))
	if !errors.Is(err, ErrLoanExists) {
		t.Fatalf("expected ErrLoanExists, got %v", err)
	}
	b, _, _ := s.GetBook(ctx, "b1")
	if b.AvailableCopies != 2 {
		t.Fatalf("expected 2 available after one loan, got %d", b.AvailableCopies)
	}
}

func TestCreateLoanUnknownBook(t *testing.T) {
	s := NewMemoryStore()
	err := s.CreateLoan(context.Background(), newLoan("l1", "missing", "u1", time.Now(), 14))
	if !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
}

func TestReturnLoanFreezesFineAndRestoresCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)
	issued := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := s.CreateLoan(ctx, newLoan("l1", "b1", "u1", issued, 14)); err != nil {
		t.Fatalf("create loan: %v", err)
	}

	returnedAt := issued.AddDate(0, 0, 20)
	loan, err := s.ReturnLoan(ctx, "l1", returnedAt, func(due time.Time) int64 {
		if !due.Equal(issued.AddDate(0, 0, 14)) {
			t.Fatalf("fineFor got wrong due date: %s", due)
		}
		return 60
	})
	if err != nil {
		t.Fatalf("return loan: %v", err)
	}
	if loan.Status != domain.StatusReturned || loan.Fine != 60 || loan.FineStatus != domain.FinePending {
		t.Fatalf("unexpected returned loan state: %+v", loan)
	}
	if loan.ReturnDate == nil || !loan.ReturnDate.Equal(returnedAt) {
		t.Fatalf("return date not recorded: %+v", loan.ReturnDate)
	}
	b, _, _ := s.GetBook(ctx, "b1")
	if b.AvailableCopies != 1 {
		t.Fatalf("copy not restored: available=%d", b.AvailableCopies)
	}
}

func TestReturnLoanTwiceFails(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)
	if err := s.CreateLoan(ctx, newLoan("l1", "b1", "u1", time.Now(), 14)); err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if _, err := s.ReturnLoan(ctx, "l1", time.Now(), func(time.Time) int64 { return 0 }); err != nil {
		t.Fatalf("first return: %v", err)
	}
	_, err := s.ReturnLoan(ctx, "l1", time.Now(), func(time.Time) int64 { return 99 })
	if !errors.Is(err, ErrAlreadyReturned) {
		t.Fatalf("expected ErrAlreadyReturned, got %v", err)
	}
	// Availability must not exceed total on the repeated return attempt.
	b, _, _ := s.GetBook(ctx, "b1")
	if b.AvailableCopies != b.TotalCopies {
		t.Fatalf("available %d != total %d after double return attempt", b.AvailableCopies, b.TotalCopies)
	}
	loan, _, _ := s.GetLoan(ctx, "l1")
	if loan.Fine != 0 {
		t.Fatalf("fine changed by rejected return: %d", loan.Fine)
	}
}

func TestAvailabilityStaysWithinBounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 2)

	users := []string{"u1", "u2", "u3"}
	issued := 0
	for i, u := range users {
		err := s.CreateLoan(ctx, newLoan("l"+u, "b1", u, time.Now().Add(time.Duration(i)*time.Minute), 14))
		if err == nil {
			issued++
		}
	}
	if issued != 2 {
		t.Fatalf("expected exactly 2 successful issues, got %d", issued)
	}
	b, _, _ := s.GetBook(ctx, "b1")
	if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
		t.Fatalf("availability out of bounds: %d/%d", b.AvailableCopies, b.TotalCopies)
	}
}

func TestDeleteBookWithOutstandingCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)
	if err := s.CreateLoan(ctx, newLoan("l1", "b1", "u1", time.Now(), 14)); err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if err := s.DeleteBook(ctx, "b1"); !errors.Is(err, ErrCopiesOutstanding) {
		t.Fatalf("expected ErrCopiesOutstanding, got %v", err)
	}
	if _, err := s.ReturnLoan(ctx, "l1", time.Now(), func(time.Time) int64 { return 0 }); err != nil {
		t.Fatalf("return: %v", err)
	}
	if err := s.DeleteBook(ctx, "b1"); err != nil {
		t.Fatalf("delete after return: %v", err)
	}
}

func TestUpdateBookPreservesIssuedCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := seedBook(t, s, "b1", 3)
	if err := s.CreateLoan(ctx, newLoan("l1", "b1", "u1", time.Now(), 14)); err != nil {
		t.Fatalf("create loan: %v", err)
	}

	b.TotalCopies = 5
	updated, err := s.UpdateBook(ctx, b)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.TotalCopies != 5 || updated.AvailableCopies != 4 {
		t.Fatalf("expected 4/5 after raising total, got %d/%d", updated.AvailableCopies, updated.TotalCopies)
	}

	b.TotalCopies = 0
	if _, err := s.UpdateBook(ctx, b); !errors.Is(err, ErrTotalBelowIssued) {
		t.Fatalf("expected ErrTotalBelowIssued, got %v", err)
	}
}

func TestDuplicateISBNRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := seedBook(t, s, "b1", 1)
	dup := b
	dup.ID = "b2"
	if err := s.SaveBook(ctx, dup); !errors.Is(err, ErrDuplicateISBN) {
		t.Fatalf("expected ErrDuplicateISBN, got %v", err)
	}
}

func TestMarkOverdueSkipsReturnedLoans(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)
	issued := time.Now().AddDate(0, 0, -30)
	if err := s.CreateLoan(ctx, newLoan("l1", "b1", "u1", issued, 14)); err != nil {
		t.Fatalf("create loan: %v", err)
	}

	candidates, err := s.ListOverdueCandidates(ctx, time.Now())
	if err != nil || len(candidates) != 1 {
		t.Fatalf("expected one overdue candidate, got %d (err=%v)", len(candidates), err)
	}
	if err := s.MarkOverdue(ctx, "l1", 160); err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	loan, _, _ := s.GetLoan(ctx, "l1")
	if loan.Status != domain.StatusOverdue || loan.Fine != 160 || loan.FineStatus != domain.FinePending {
		t.Fatalf("unexpected overdue state: %+v", loan)
	}

	if _, err := s.ReturnLoan(ctx, "l1", time.Now(), func(time.Time) int64 { return 160 }); err != nil {
		t.Fatalf("return: %v", err)
	}
	if err := s.MarkOverdue(ctx, "l1", 999); err != nil {
		t.Fatalf("mark overdue after return: %v", err)
	}
	loan, _, _ = s.GetLoan(ctx, "l1")
	if loan.Status != domain.StatusReturned || loan.Fine != 160 {
		t.Fatalf("returned loan mutated by sweep: %+v", loan)
	}
}

func TestSettleFines(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)
	issued := time.Now().AddDate(0, 0, -30)
	if err := s.CreateLoan(ctx, newLoan("l1", "b1", "u1", issued, 14)); err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if _, err := s.ReturnLoan(ctx, "l1", time.Now(), func(time.Time) int64 { return 60 }); err != nil {
		t.Fatalf("return: %v", err)
	}

	order := domain.FineOrder{
		OrderID:     "ORDER_1",
		UserID:      "u1",
		AmountMinor: 6000,
		Currency:    "INR",
		IssueIDs:    []string{"l1"},
		Status:      domain.OrderCreated,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.SaveFineOrder(ctx, order); err != nil {
		t.Fatalf("save order: %v", err)
	}
	if err := s.SettleFines(ctx, "ORDER_1", "pay_42", []string{"l1"}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	loan, _, _ := s.GetLoan(ctx, "l1")
	if loan.FineStatus != domain.FinePaid || loan.FinePaymentID != "pay_42" {
		t.Fatalf("fine not settled: %+v", loan)
	}
	got, _, _ := s.GetFineOrder(ctx, "ORDER_1")
	if got.Status != domain.OrderPaid {
		t.Fatalf("order not closed: %+v", got)
	}

	if err := s.SettleFines(ctx, "missing", "pay_43", nil); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	pending, _ := s.ListPendingFines(ctx, "u1")
	if len(pending) != 0 {
		t.Fatalf("expected no pending fines after settlement, got %d", len(pending))
	}
}
