package domain

import "time"

type LoanStatus string

const (
	StatusIssued   LoanStatus = "issued"
	StatusOverdue  LoanStatus = "overdue"
	StatusReturned LoanStatus = "returned"
)

type FineStatus string

const (
	FineNone    FineStatus = "none"
	FinePending FineStatus = "pending"
	FinePaid    FineStatus = "paid"
)

type OrderStatus string

const (
	OrderCreated OrderStatus = "created"
	OrderPaid    OrderStatus = "paid"
)

// Book is a physical title in the catalog. AvailableCopies is owned by the
// lending flow and never exceeds TotalCopies.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	Category        string    `json:"category"`
	Description     string    `json:"description,omitempty"`
	Publisher       string    `json:"publisher,omitempty"`
	PublishedYear   int       `json:"publishedYear,omitempty"`
	PriceMinor      int64     `json:"price,omitempty"`
	TotalCopies     int       `json:"totalCopies"`
	AvailableCopies int       `json:"availableCopies"`
	CoverKey        string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Borrower identifies who holds a loan. Denormalized onto the loan record at
// issue time so the ledger stays readable if the user record changes later.
type Borrower struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
}

// BookIssue is one physical-copy loan and the system of record for its fine.
type BookIssue struct {
	ID            string     `json:"id"`
	BookID        string     `json:"bookId"`
	BookTitle     string     `json:"bookTitle"`
	BookAuthor    string     `json:"bookAuthor"`
	UserID        string     `json:"userId"`
	UserName      string     `json:"userName,omitempty"`
	UserEmail     string     `json:"userEmail,omitempty"`
	IssueDate     time.Time  `json:"issueDate"`
	DueDate       time.Time  `json:"dueDate"`
	ReturnDate    *time.Time `json:"returnDate,omitempty"`
	Status        LoanStatus `json:"status"`
	Fine          int64      `json:"fine"`
	FineStatus    FineStatus `json:"fineStatus"`
	FinePaymentID string     `json:"finePaymentId,omitempty"`
}

// Active reports whether the loan still holds a copy.
func (i BookIssue) Active() bool {
	return i.Status == StatusIssued || i.Status == StatusOverdue
}

// FineOrder binds a payment-gateway order to the loans it settles.
// AmountMinor is in minor currency units (paise).
type FineOrder struct {
	OrderID     string      `json:"orderId"`
	UserID      string      `json:"userId"`
	AmountMinor int64       `json:"amount"`
	Currency    string      `json:"currency"`
	Receipt     string      `json:"receipt"`
	IssueIDs    []string    `json:"issueIds"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
}
