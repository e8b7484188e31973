package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"shelfledger/internal/events"
	"shelfledger/internal/payment"
	"shelfledger/internal/util"
	"shelfledger/pkg/domain"
	"shelfledger/pkg/fine"
	"shelfledger/pkg/storage"
	"shelfledger/pkg/store"
)

const coverURLTTL = 15 * time.Minute

// Config holds runtime configuration for the core application.
type Config struct {
	Store          store.Store
	Gateway        payment.Gateway
	Covers         storage.ObjectStore
	Events         events.Publisher
	FinePerDay     int64
	LoanPeriodDays int
	Currency       string
}

// App wires the lending ledger, the fine policy, the payment collaborator
// and the cover-image store together.
type App struct {
	store          store.Store
	gateway        payment.Gateway
	covers         storage.ObjectStore
	events         events.Publisher
	policy         fine.Policy
	loanPeriodDays int
	currency       string
	now            func() time.Time
}

// New constructs the application from pre-built collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if cfg.LoanPeriodDays <= 0 {
		cfg.LoanPeriodDays = 14
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return &App{
		store:          cfg.Store,
		gateway:        cfg.Gateway,
		covers:         cfg.Covers,
		events:         pub,
		policy:         fine.NewPolicy(cfg.FinePerDay),
		loanPeriodDays: cfg.LoanPeriodDays,
		currency:       cfg.Currency,
		now:            time.Now,
	}, nil
}

// AddBook registers a new title with all copies available.
func (a *App) AddBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.ISBN = strings.TrimSpace(b.ISBN)
	if b.Title == "" || b.Author == "" || b.ISBN == "" {
		return domain.Book{}, fmt.Errorf("%w: title, author and isbn are required", ErrValidation)
	}
	if b.TotalCopies < 1 {
		return domain.Book{}, fmt.Errorf("%w: totalCopies must be at least 1", ErrValidation)
	}
	now := a.now().UTC()
	b.ID = util.NewID()
	b.AvailableCopies = b.TotalCopies
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := a.store.SaveBook(ctx, b); err != nil {
		return domain.Book{}, err
	}
	return b, nil
}

// ListBooks returns the catalog, optionally filtered by a substring search
// over title/author/ISBN and by category.
func (a *App) ListBooks(ctx context.Context, search, category string) ([]domain.Book, error) {
	return a.store.ListBooks(ctx, strings.TrimSpace(search), strings.TrimSpace(category))
}

// GetBook retrieves one title.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, error) {
	b, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, store.ErrBookNotFound
	}
	return b, nil
}

// UpdateBook edits a title. Shrinking totalCopies below the number of
// copies currently out is rejected by the store.
func (a *App) UpdateBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.ISBN = strings.TrimSpace(b.ISBN)
	if b.Title == "" || b.Author == "" || b.ISBN == "" {
		return domain.Book{}, fmt.Errorf("%w: title, author and isbn are required", ErrValidation)
	}
	if b.TotalCopies < 1 {
		return domain.Book{}, fmt.Errorf("%w: totalCopies must be at least 1", ErrValidation)
	}
	b.UpdatedAt = a.now().UTC()
	return a.store.UpdateBook(ctx, b)
}

// DeleteBook removes a title. Refused while any copy is still out.
func (a *App) DeleteBook(ctx context.Context, id string) error {
	if err := a.store.DeleteBook(ctx, id); err != nil {
		return err
	}
	if a.covers != nil {
		if err := a.covers.Delete(ctx, coverKey(id)); err != nil {
			slog.Warn("delete cover object failed", "book_id", id, "err", err)
		}
	}
	return nil
}

// UploadCover stores a cover image and records its object key.
func (a *App) UploadCover(ctx context.Context, bookID, filename string, r io.Reader, size int64) error {
	if a.covers == nil {
		return fmt.Errorf("%w: cover storage not configured", ErrValidation)
	}
	if _, err := a.GetBook(ctx, bookID); err != nil {
		return err
	}
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := coverKey(bookID)
	if err := a.covers.Put(ctx, key, r, size, contentType); err != nil {
		return fmt.Errorf("store cover: %w", err)
	}
	return a.store.SetCoverKey(ctx, bookID, key)
}

// CoverURL returns a short-lived URL for a book's cover image.
func (a *App) CoverURL(ctx context.Context, bookID string) (string, error) {
	if a.covers == nil {
		return "", ErrNoCover
	}
	b, err := a.GetBook(ctx, bookID)
	if err != nil {
		return "", err
	}
	if b.CoverKey == "" {
		return "", ErrNoCover
	}
	url, err := a.covers.PresignGet(ctx, b.CoverKey, coverURLTTL)
	if err != nil {
		return "", fmt.Errorf("presign cover: %w", err)
	}
	return url, nil
}

func coverKey(bookID string) string {
	return "covers/" + bookID
}

// publish emits a domain event, logging instead of failing the request.
func (a *App) publish(ctx context.Context, key string, payload any) {
	if err := a.events.Publish(ctx, key, payload); err != nil {
		slog.Warn("publish event failed", "routing_key", key, "err", err)
	}
}
