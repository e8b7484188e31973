package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shelfledger/internal/events"
	"shelfledger/internal/util"
	"shelfledger/pkg/domain"
)

// IssueBook hands one copy of a book to a borrower. The availability
// decrement and the one-active-loan-per-borrower check run inside a single
// store transaction, so two concurrent requests for the last copy cannot
// both succeed.
func (a *App) IssueBook(ctx context.Context, bookID string, borrower domain.Borrower, issueDays int) (domain.BookIssue, error) {
	bookID = strings.TrimSpace(bookID)
	borrower.UserID = strings.TrimSpace(borrower.UserID)
	if bookID == "" || borrower.UserID == "" {
		return domain.BookIssue{}, fmt.Errorf("%w: bookId and userId are required", ErrValidation)
	}
	if issueDays <= 0 {
		issueDays = a.loanPeriodDays
	}

	book, err := a.GetBook(ctx, bookID)
	if err != nil {
		return domain.BookIssue{}, err
	}

	now := a.now().UTC()
	issue := domain.BookIssue{
		ID:         util.NewID(),
		BookID:     book.ID,
		BookTitle:  book.Title,
		BookAuthor: book.Author,
		UserID:     borrower.UserID,
		UserName:   borrower.UserName,
		UserEmail:  borrower.UserEmail,
		IssueDate:  now,
		DueDate:    now.Add(time.Duration(issueDays) * 24 * time.Hour),
		Status:     domain.StatusIssued,
		FineStatus: domain.FineNone,
	}
	if err := a.store.CreateLoan(ctx, issue); err != nil {
		return domain.BookIssue{}, err
	}
	a.publish(ctx, events.KeyBookIssued, events.BookIssued{
		IssueID: issue.ID,
		BookID:  issue.BookID,
		UserID:  issue.UserID,
		DueDate: issue.DueDate,
	})
	return issue, nil
}

// ReturnBook closes a loan: records the return date, freezes the fine via
// the policy, and restores the copy, all in one store transaction.
func (a *App) ReturnBook(ctx context.Context, issueID string) (domain.BookIssue, error) {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return domain.BookIssue{}, fmt.Errorf("%w: issueId is required", ErrValidation)
	}
	returnedAt := a.now().UTC()
	issue, err := a.store.ReturnLoan(ctx, issueID, returnedAt, func(due time.Time) int64 {
		return a.policy.Amount(due, returnedAt)
	})
	if err != nil {
		return domain.BookIssue{}, err
	}
	a.publish(ctx, events.KeyBookReturned, events.BookReturned{
		IssueID:    issue.ID,
		BookID:     issue.BookID,
		UserID:     issue.UserID,
		ReturnDate: returnedAt,
		Fine:       issue.Fine,
	})
	return issue, nil
}

// ListActiveLoans returns a borrower's unreturned loans, newest first, with
// overdue status and the accrued fine derived from the clock. Derivation
// never writes; the sweeper is what persists overdue state.
func (a *App) ListActiveLoans(ctx context.Context, userID string) ([]domain.BookIssue, error) {
	loans, err := a.store.ListActiveLoans(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.deriveOverdue(loans), nil
}

// ListHistory returns every loan a borrower has had, newest first.
func (a *App) ListHistory(ctx context.Context, userID string) ([]domain.BookIssue, error) {
	loans, err := a.store.ListLoanHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.deriveOverdue(loans), nil
}

func (a *App) deriveOverdue(loans []domain.BookIssue) []domain.BookIssue {
	now := a.now().UTC()
	for i := range loans {
		if loans[i].Status == domain.StatusReturned {
			continue
		}
		amount := a.policy.Amount(loans[i].DueDate, now)
		if amount <= 0 {
			continue
		}
		loans[i].Status = domain.StatusOverdue
		loans[i].Fine = amount
		if loans[i].FineStatus == domain.FineNone {
			loans[i].FineStatus = domain.FinePending
		}
	}
	return loans
}

// MarkOverdueLoans persists overdue status and the current accrued fine for
// every issued loan past its due date. Returns the number updated.
func (a *App) MarkOverdueLoans(ctx context.Context) (int, error) {
	now := a.now().UTC()
	candidates, err := a.store.ListOverdueCandidates(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list overdue candidates: %w", err)
	}
	updated := 0
	for _, loan := range candidates {
		amount := a.policy.Amount(loan.DueDate, now)
		if amount <= 0 {
			continue
		}
		if err := a.store.MarkOverdue(ctx, loan.ID, amount); err != nil {
			slog.Error("mark overdue failed", "issue_id", loan.ID, "err", err)
			continue
		}
		updated++
	}
	return updated, nil
}

// RunOverdueSweeper marks overdue loans on a fixed interval until the
// context is cancelled.
func (a *App) RunOverdueSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := a.MarkOverdueLoans(ctx)
			if err != nil {
				slog.Error("overdue sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("overdue sweep", "marked", n)
			}
		}
	}
}
