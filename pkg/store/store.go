package store

import (
	"context"
	"errors"
	"time"

	"shelfledger/pkg/domain"
)

// Business-rule violations surfaced by the stores. The HTTP layer maps these
// to 4xx responses; anything else is an unexpected storage failure.
var (
	ErrBookNotFound      = errors.New("book not found")
	ErrIssueNotFound     = errors.New("issue record not found")
	ErrOrderNotFound     = errors.New("payment order not found")
	ErrDuplicateISBN     = errors.New("book with this ISBN already exists")
	ErrNoCopies          = errors.New("book not available for issue")
	ErrLoanExists        = errors.New("borrower already has this book issued")
	ErrAlreadyReturned   = errors.New("book already returned")
	ErrCopiesOutstanding = errors.New("book has issued copies")
	ErrTotalBelowIssued  = errors.New("total copies cannot be less than issued copies")
)

// Store defines persistence for the catalog, the loan ledger, and fine
// settlement orders. Implementations must enforce the availability and
// uniqueness invariants atomically: CreateLoan performs a
// decrement-if-positive on available copies together with the active-loan
// uniqueness check, and ReturnLoan freezes the fine and restores the copy in
// a single unit of work.
type Store interface {
	// catalog
	SaveBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	ListBooks(ctx context.Context, search, category string) ([]domain.Book, error)
	UpdateBook(ctx context.Context, b domain.Book) (domain.Book, error)
	SetCoverKey(ctx context.Context, id, key string) error
	DeleteBook(ctx context.Context, id string) error

	// loans
	CreateLoan(ctx context.Context, issue domain.BookIssue) error
	GetLoan(ctx context.Context, id string) (domain.BookIssue, bool, error)
	ListActiveLoans(ctx context.Context, userID string) ([]domain.BookIssue, error)
	ListLoanHistory(ctx context.Context, userID string) ([]domain.BookIssue, error)
	ListOverdueCandidates(ctx context.Context, asOf time.Time) ([]domain.BookIssue, error)
	ReturnLoan(ctx context.Context, issueID string, returnedAt time.Time, fineFor func(due time.Time) int64) (domain.BookIssue, error)
	MarkOverdue(ctx context.Context, issueID string, fineAmount int64) error

	// fines
	ListPendingFines(ctx context.Context, userID string) ([]domain.BookIssue, error)
	SaveFineOrder(ctx context.Context, o domain.FineOrder) error
	GetFineOrder(ctx context.Context, orderID string) (domain.FineOrder, bool, error)
	SettleFines(ctx context.Context, orderID, paymentID string, issueIDs []string) error
}
