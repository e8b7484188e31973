package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"shelfledger/pkg/domain"
)

// MemoryStore keeps the ledger in-process. It enforces the same invariants
// as the Postgres store under a single mutex and backs the unit tests.
type MemoryStore struct {
	mu     sync.Mutex
	books  map[string]domain.Book
	loans  map[string]domain.BookIssue
	orders map[string]domain.FineOrder
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:  make(map[string]domain.Book),
		loans:  make(map[string]domain.BookIssue),
		orders: make(map[string]domain.FineOrder),
	}
}

// SaveBook inserts a new catalog entry.
func (m *MemoryStore) SaveBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.books {
		if existing.ISBN == b.ISBN {
			return ErrDuplicateISBN
		}
	}
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns catalog entries newest-first with optional filters.
func (m *MemoryStore) ListBooks(_ context.Context, search, category string) ([]domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(search)
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		if category != "" && b.Category != category {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(b.Title), needle) &&
			!strings.Contains(strings.ToLower(b.Author), needle) &&
			!strings.Contains(strings.ToLower(b.ISBN), needle) {
			continue
		}
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// UpdateBook rewrites catalog fields, shifting availability by the change in
// total copies.
func (m *MemoryStore) UpdateBook(_ context.Context, b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.books[b.ID]
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	for id, other := range m.books {
		if id != b.ID && other.ISBN == b.ISBN {
			return domain.Book{}, ErrDuplicateISBN
		}
	}
	newAvailable := current.AvailableCopies + b.TotalCopies - current.TotalCopies
	if newAvailable < 0 {
		return domain.Book{}, ErrTotalBelowIssued
	}
	current.Title = b.Title
	current.Author = b.Author
	current.ISBN = b.ISBN
	current.Category = b.Category
	current.Description = b.Description
	current.Publisher = b.Publisher
	current.PublishedYear = b.PublishedYear
	current.PriceMinor = b.PriceMinor
	current.TotalCopies = b.TotalCopies
	current.AvailableCopies = newAvailable
	current.UpdatedAt = time.Now().UTC()
	m.books[b.ID] = current
	return current, nil
}

// SetCoverKey records the cover object key.
func (m *MemoryStore) SetCoverKey(_ context.Context, id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrBookNotFound
	}
	b.CoverKey = key
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

// DeleteBook removes a book only while no copies are outstanding.
func (m *MemoryStore) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrBookNotFound
	}
	if b.AvailableCopies < b.TotalCopies {
		return ErrCopiesOutstanding
	}
	delete(m.books, id)
	return nil
}

// CreateLoan claims a copy and records the loan under one lock acquisition.
func (m *MemoryStore) CreateLoan(_ context.Context, issue domain.BookIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[issue.BookID]
	if !ok {
		return ErrBookNotFound
	}
	for _, loan := range m.loans {
		if loan.BookID == issue.BookID && loan.UserID == issue.UserID && loan.Active() {
			return ErrLoanExists
		}
	}
	if b.AvailableCopies <= 0 {
		return ErrNoCopies
	}
	b.AvailableCopies--
	b.UpdatedAt = time.Now().UTC()
	m.books[issue.BookID] = b
	m.loans[issue.ID] = issue
	return nil
}

// GetLoan retrieves a loan record.
func (m *MemoryStore) GetLoan(_ context.Context, id string) (domain.BookIssue, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	return loan, ok, nil
}

// ListActiveLoans returns unreturned loans for a borrower, newest-first.
func (m *MemoryStore) ListActiveLoans(_ context.Context, userID string) ([]domain.BookIssue, error) {
	return m.filterLoans(func(l domain.BookIssue) bool {
		return l.UserID == userID && l.Active()
	}), nil
}

// ListLoanHistory returns every loan of a borrower, newest-first.
func (m *MemoryStore) ListLoanHistory(_ context.Context, userID string) ([]domain.BookIssue, error) {
	return m.filterLoans(func(l domain.BookIssue) bool {
		return l.UserID == userID
	}), nil
}

// ListPendingFines returns loans with an unpaid fine, newest-first.
func (m *MemoryStore) ListPendingFines(_ context.Context, userID string) ([]domain.BookIssue, error) {
	return m.filterLoans(func(l domain.BookIssue) bool {
		return l.UserID == userID && l.FineStatus == domain.FinePending
	}), nil
}

// ListOverdueCandidates returns unreturned loans past their due date whose
// fine is not yet paid, so the sweep can keep accrued amounts current.
func (m *MemoryStore) ListOverdueCandidates(_ context.Context, asOf time.Time) ([]domain.BookIssue, error) {
	return m.filterLoans(func(l domain.BookIssue) bool {
		return l.Active() && l.FineStatus != domain.FinePaid && l.DueDate.Before(asOf)
	}), nil
}

func (m *MemoryStore) filterLoans(keep func(domain.BookIssue) bool) []domain.BookIssue {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.BookIssue, 0, len(m.loans))
	for _, l := range m.loans {
		if keep(l) {
			res = append(res, l)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].IssueDate.After(res[j].IssueDate) })
	return res
}

// ReturnLoan closes a loan, freezing the fine and releasing the copy.
func (m *MemoryStore) ReturnLoan(_ context.Context, issueID string, returnedAt time.Time, fineFor func(due time.Time) int64) (domain.BookIssue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[issueID]
	if !ok {
		return domain.BookIssue{}, ErrIssueNotFound
	}
	if loan.Status == domain.StatusReturned {
		return domain.BookIssue{}, ErrAlreadyReturned
	}
	fineAmount := fineFor(loan.DueDate)
	ret := returnedAt
	loan.ReturnDate = &ret
	loan.Status = domain.StatusReturned
	loan.Fine = fineAmount
	loan.FineStatus = domain.FineNone
	if fineAmount > 0 {
		loan.FineStatus = domain.FinePending
	}
	m.loans[issueID] = loan
	if b, exists := m.books[loan.BookID]; exists {
		if b.AvailableCopies < b.TotalCopies {
			b.AvailableCopies++
		}
		b.UpdatedAt = time.Now().UTC()
		m.books[loan.BookID] = b
	}
	return loan, nil
}

// MarkOverdue persists overdue status and the current accrued fine for an
// unreturned loan. Returned loans and paid fines are left untouched.
func (m *MemoryStore) MarkOverdue(_ context.Context, issueID string, fineAmount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[issueID]
	if !ok || !loan.Active() || loan.FineStatus == domain.FinePaid {
		return nil
	}
	loan.Status = domain.StatusOverdue
	loan.Fine = fineAmount
	loan.FineStatus = domain.FinePending
	m.loans[issueID] = loan
	return nil
}

// SaveFineOrder persists a settlement order.
func (m *MemoryStore) SaveFineOrder(_ context.Context, o domain.FineOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
	return nil
}

// GetFineOrder retrieves a settlement order.
func (m *MemoryStore) GetFineOrder(_ context.Context, orderID string) (domain.FineOrder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	return o, ok, nil
}

// SettleFines marks the order and its pending fines paid.
func (m *MemoryStore) SettleFines(_ context.Context, orderID, paymentID string, issueIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = domain.OrderPaid
	m.orders[orderID] = order
	for _, id := range issueIDs {
		loan, exists := m.loans[id]
		if !exists || loan.FineStatus != domain.FinePending {
			continue
		}
		loan.FineStatus = domain.FinePaid
		loan.FinePaymentID = paymentID
		m.loans[id] = loan
	}
	return nil
}
