package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"shelfledger/pkg/domain"
)

const migrateLockID int64 = 52841907

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&BookModel{}, &BookIssueModel{}, &FineOrderModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveBook inserts a new catalog entry. The ISBN must be unused.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&BookModel{}).Where("isbn = ?", b.ISBN).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateISBN
		}
		model := bookToModel(b)
		return tx.Create(&model).Error
	})
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns catalog entries newest-first, optionally filtered by a
// case-insensitive substring over title/author/ISBN and by exact category.
func (s *GormStore) ListBooks(ctx context.Context, search, category string) ([]domain.Book, error) {
	tx := s.db.WithContext(ctx).Model(&BookModel{}).Order("created_at DESC")
	if search != "" {
		pattern := "%" + search + "%"
		tx = tx.Where("title ILIKE ? OR author ILIKE ? OR isbn ILIKE ?", pattern, pattern, pattern)
	}
	if category != "" {
		tx = tx.Where("category = ?", category)
	}
	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// UpdateBook rewrites catalog fields and shifts available copies by the
// change in total copies in one conditional UPDATE, so the issued count is
// preserved and availability can never go negative.
func (s *GormStore) UpdateBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	var updated BookModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&BookModel{}).Where("isbn = ? AND id <> ?", b.ISBN, b.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateISBN
		}
		res := tx.Model(&BookModel{}).
			Where("id = ? AND available_copies + (? - total_copies) >= 0", b.ID, b.TotalCopies).
			Updates(map[string]any{
				"title":            b.Title,
				"author":           b.Author,
				"isbn":             b.ISBN,
				"category":         b.Category,
				"description":      b.Description,
				"publisher":        b.Publisher,
				"published_year":   b.PublishedYear,
				"price_minor":      b.PriceMinor,
				"available_copies": gorm.Expr("available_copies + (? - total_copies)", b.TotalCopies),
				"total_copies":     b.TotalCopies,
				"updated_at":       time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&BookModel{}).Where("id = ?", b.ID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return ErrBookNotFound
			}
			return ErrTotalBelowIssued
		}
		return tx.First(&updated, "id = ?", b.ID).Error
	})
	if err != nil {
		return domain.Book{}, err
	}
	return bookFromModel(updated), nil
}

// SetCoverKey records the object-storage key of the cover image.
func (s *GormStore) SetCoverKey(ctx context.Context, id, key string) error {
	res := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"cover_key": key, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBookNotFound
	}
	return nil
}

// DeleteBook removes a book only while no copies are outstanding.
func (s *GormStore) DeleteBook(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND available_copies = total_copies", id).Delete(&BookModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var exists int64
		if err := tx.Model(&BookModel{}).Where("id = ?", id).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrBookNotFound
		}
		return ErrCopiesOutstanding
	})
}

// CreateLoan inserts the loan record and claims a copy in one transaction.
// The availability decrement is guarded by available_copies > 0 so two
// simultaneous issues of the last copy cannot both succeed.
func (s *GormStore) CreateLoan(ctx context.Context, issue domain.BookIssue) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&BookModel{}).Where("id = ?", issue.BookID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrBookNotFound
		}
		var active int64
		if err := tx.Model(&BookIssueModel{}).
			Where("book_id = ? AND user_id = ? AND status IN ?", issue.BookID, issue.UserID,
				[]string{string(domain.StatusIssued), string(domain.StatusOverdue)}).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrLoanExists
		}
		res := tx.Model(&BookModel{}).
			Where("id = ? AND available_copies > 0", issue.BookID).
			Updates(map[string]any{
				"available_copies": gorm.Expr("available_copies - 1"),
				"updated_at":       time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoCopies
		}
		model := issueToModel(issue)
		return tx.Create(&model).Error
	})
}

// GetLoan retrieves a loan record.
func (s *GormStore) GetLoan(ctx context.Context, id string) (domain.BookIssue, bool, error) {
	var model BookIssueModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.BookIssue{}, false, nil
		}
		return domain.BookIssue{}, false, err
	}
	return issueFromModel(model), true, nil
}

// ListActiveLoans returns unreturned loans for a borrower, newest-first.
func (s *GormStore) ListActiveLoans(ctx context.Context, userID string) ([]domain.BookIssue, error) {
	return s.listLoans(ctx, "user_id = ? AND status IN ?", userID,
		[]string{string(domain.StatusIssued), string(domain.StatusOverdue)})
}

// ListLoanHistory returns every loan of a borrower, newest-first.
func (s *GormStore) ListLoanHistory(ctx context.Context, userID string) ([]domain.BookIssue, error) {
	return s.listLoans(ctx, "user_id = ?", userID)
}

// ListPendingFines returns loans with an unpaid fine, newest-first.
func (s *GormStore) ListPendingFines(ctx context.Context, userID string) ([]domain.BookIssue, error) {
	return s.listLoans(ctx, "user_id = ? AND fine_status = ?", userID, string(domain.FinePending))
}

func (s *GormStore) listLoans(ctx context.Context, cond string, args ...any) ([]domain.BookIssue, error) {
	var models []BookIssueModel
	if err := s.db.WithContext(ctx).
		Where(cond, args...).
		Order("issue_date DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.BookIssue, 0, len(models))
	for _, m := range models {
		res = append(res, issueFromModel(m))
	}
	return res, nil
}

// ListOverdueCandidates returns unreturned loans past their due date whose
// fine is not yet paid, so the sweep can keep accrued amounts current.
func (s *GormStore) ListOverdueCandidates(ctx context.Context, asOf time.Time) ([]domain.BookIssue, error) {
	var models []BookIssueModel
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND fine_status <> ? AND due_date < ?",
			[]string{string(domain.StatusIssued), string(domain.StatusOverdue)},
			string(domain.FinePaid), asOf).
		Order("due_date ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.BookIssue, 0, len(models))
	for _, m := range models {
		res = append(res, issueFromModel(m))
	}
	return res, nil
}

// ReturnLoan closes a loan: records the return date, freezes the fine
// computed by fineFor, and releases the copy, all in one transaction. The
// availability increment is clamped so it never exceeds total copies.
func (s *GormStore) ReturnLoan(ctx context.Context, issueID string, returnedAt time.Time, fineFor func(due time.Time) int64) (domain.BookIssue, error) {
	var out domain.BookIssue
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model BookIssueModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", issueID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrIssueNotFound
			}
			return err
		}
		if model.Status == string(domain.StatusReturned) {
			return ErrAlreadyReturned
		}
		fineAmount := fineFor(model.DueDate)
		fineStatus := domain.FineNone
		if fineAmount > 0 {
			fineStatus = domain.FinePending
		}
		ret := returnedAt
		model.ReturnDate = &ret
		model.Status = string(domain.StatusReturned)
		model.Fine = fineAmount
		model.FineStatus = string(fineStatus)
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		if err := tx.Model(&BookModel{}).
			Where("id = ?", model.BookID).
			Updates(map[string]any{
				"available_copies": gorm.Expr("LEAST(available_copies + 1, total_copies)"),
				"updated_at":       time.Now().UTC(),
			}).Error; err != nil {
			return err
		}
		out = issueFromModel(model)
		return nil
	})
	if err != nil {
		return domain.BookIssue{}, err
	}
	return out, nil
}

// MarkOverdue persists overdue status and the current accrued fine for an
// unreturned loan. A loan returned or settled in the meantime is left
// untouched.
func (s *GormStore) MarkOverdue(ctx context.Context, issueID string, fineAmount int64) error {
	return s.db.WithContext(ctx).Model(&BookIssueModel{}).
		Where("id = ? AND status IN ? AND fine_status <> ?", issueID,
			[]string{string(domain.StatusIssued), string(domain.StatusOverdue)},
			string(domain.FinePaid)).
		Updates(map[string]any{
			"status":      string(domain.StatusOverdue),
			"fine":        fineAmount,
			"fine_status": string(domain.FinePending),
		}).Error
}

// SaveFineOrder persists a settlement order.
func (s *GormStore) SaveFineOrder(ctx context.Context, o domain.FineOrder) error {
	model := orderToModel(o)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetFineOrder retrieves a settlement order by its gateway order ID.
func (s *GormStore) GetFineOrder(ctx context.Context, orderID string) (domain.FineOrder, bool, error) {
	var model FineOrderModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FineOrder{}, false, nil
		}
		return domain.FineOrder{}, false, err
	}
	return orderFromModel(model), true, nil
}

// SettleFines marks every pending fine in the set paid and closes the order,
// atomically per request.
func (s *GormStore) SettleFines(ctx context.Context, orderID, paymentID string, issueIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&FineOrderModel{}).
			Where("id = ?", orderID).
			Update("status", string(domain.OrderPaid))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOrderNotFound
		}
		if len(issueIDs) == 0 {
			return nil
		}
		return tx.Model(&BookIssueModel{}).
			Where("id IN ? AND fine_status = ?", issueIDs, string(domain.FinePending)).
			Updates(map[string]any{
				"fine_status":     string(domain.FinePaid),
				"fine_payment_id": paymentID,
			}).Error
	})
}
