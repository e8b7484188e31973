package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"shelfledger/pkg/domain"
)

// GORM models used for persistence.
type BookModel struct {
	ID              string `gorm:"primaryKey"`
	Title           string `gorm:"not null"`
	Author          string `gorm:"not null"`
	ISBN            string `gorm:"uniqueIndex;not null"`
	Category        string `gorm:"index"`
	Description     string `gorm:"type:text"`
	Publisher       string
	PublishedYear   int
	PriceMinor      int64
	TotalCopies     int `gorm:"not null"`
	AvailableCopies int `gorm:"not null"`
	CoverKey        string
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type BookIssueModel struct {
	ID            string `gorm:"primaryKey"`
	BookID        string `gorm:"not null;index"`
	BookTitle     string
	BookAuthor    string
	UserID        string `gorm:"not null;index"`
	UserName      string
	UserEmail     string
	IssueDate     time.Time `gorm:"not null;index"`
	DueDate       time.Time `gorm:"not null;index"`
	ReturnDate    *time.Time
	Status        string `gorm:"not null;index"`
	Fine          int64  `gorm:"not null"`
	FineStatus    string `gorm:"not null;index"`
	FinePaymentID string
}

type FineOrderModel struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"not null;index"`
	AmountMinor int64  `gorm:"not null"`
	Currency    string `gorm:"not null"`
	Receipt     string
	IssueIDs    datatypes.JSON `gorm:"type:jsonb"`
	Status      string         `gorm:"not null"`
	CreatedAt   time.Time      `gorm:"not null"`
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Category:        b.Category,
		Description:     b.Description,
		Publisher:       b.Publisher,
		PublishedYear:   b.PublishedYear,
		PriceMinor:      b.PriceMinor,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CoverKey:        b.CoverKey,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:              m.ID,
		Title:           m.Title,
		Author:          m.Author,
		ISBN:            m.ISBN,
		Category:        m.Category,
		Description:     m.Description,
		Publisher:       m.Publisher,
		PublishedYear:   m.PublishedYear,
		PriceMinor:      m.PriceMinor,
		TotalCopies:     m.TotalCopies,
		AvailableCopies: m.AvailableCopies,
		CoverKey:        m.CoverKey,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func issueToModel(i domain.BookIssue) BookIssueModel {
	return BookIssueModel{
		ID:            i.ID,
		BookID:        i.BookID,
		BookTitle:     i.BookTitle,
		BookAuthor:    i.BookAuthor,
		UserID:        i.UserID,
		UserName:      i.UserName,
		UserEmail:     i.UserEmail,
		IssueDate:     i.IssueDate,
		DueDate:       i.DueDate,
		ReturnDate:    i.ReturnDate,
		Status:        string(i.Status),
		Fine:          i.Fine,
		FineStatus:    string(i.FineStatus),
		FinePaymentID: i.FinePaymentID,
	}
}

func issueFromModel(m BookIssueModel) domain.BookIssue {
	return domain.BookIssue{
		ID:            m.ID,
		BookID:        m.BookID,
		BookTitle:     m.BookTitle,
		BookAuthor:    m.BookAuthor,
		UserID:        m.UserID,
		UserName:      m.UserName,
		UserEmail:     m.UserEmail,
		IssueDate:     m.IssueDate,
		DueDate:       m.DueDate,
		ReturnDate:    m.ReturnDate,
		Status:        domain.LoanStatus(m.Status),
		Fine:          m.Fine,
		FineStatus:    domain.FineStatus(m.FineStatus),
		FinePaymentID: m.FinePaymentID,
	}
}

func orderToModel(o domain.FineOrder) FineOrderModel {
	raw, _ := json.Marshal(o.IssueIDs)
	return FineOrderModel{
		ID:          o.OrderID,
		UserID:      o.UserID,
		AmountMinor: o.AmountMinor,
		Currency:    o.Currency,
		Receipt:     o.Receipt,
		IssueIDs:    raw,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
	}
}

func orderFromModel(m FineOrderModel) domain.FineOrder {
	var ids []string
	if len(m.IssueIDs) > 0 {
		_ = json.Unmarshal(m.IssueIDs, &ids)
	}
	return domain.FineOrder{
		OrderID:     m.ID,
		UserID:      m.UserID,
		AmountMinor: m.AmountMinor,
		Currency:    m.Currency,
		Receipt:     m.Receipt,
		IssueIDs:    ids,
		Status:      domain.OrderStatus(m.Status),
		CreatedAt:   m.CreatedAt,
	}
}
