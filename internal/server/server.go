package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shelfledger/internal/app"
	"shelfledger/internal/auth"
	"shelfledger/internal/ratelimit"
	"shelfledger/internal/util"
	"shelfledger/pkg/domain"
	"shelfledger/pkg/store"
)

const maxBodyBytes = 1 << 20
const maxCoverBytes = 10 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                       *app.App
	Auth                      *auth.Manager
	RedisAddr                 string
	RedisPassword             string
	IssueRateLimitPerMinute   int
	PaymentRateLimitPerMinute int
	TrustedProxyCIDRs         []string
}

// Server exposes the library HTTP endpoints.
type Server struct {
	app            *app.App
	auth           *auth.Manager
	mux            *http.ServeMux
	trusted        *util.TrustedProxies
	issueLimiter   *ratelimit.FixedWindowLimiter
	paymentLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is only
// active when a Redis address is configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:     cfg.App,
		auth:    cfg.Auth,
		mux:     http.NewServeMux(),
		trusted: trusted,
	}
	if cfg.RedisAddr != "" {
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "shelfledger:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		if cfg.IssueRateLimitPerMinute > 0 {
			limiter, err := newLimiter("issue", cfg.IssueRateLimitPerMinute)
			if err != nil {
				return nil, err
			}
			s.issueLimiter = limiter
		}
		if cfg.PaymentRateLimitPerMinute > 0 {
			limiter, err := newLimiter("payment", cfg.PaymentRateLimitPerMinute)
			if err != nil {
				return nil, err
			}
			s.paymentLimiter = limiter
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("library", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/auth/login", s.handleLogin)

	// catalog
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/add", s.librarianOnly(s.handleAddBook))
	s.mux.HandleFunc("/api/books/update/", s.librarianOnly(s.handleUpdateBook))
	s.mux.HandleFunc("/api/books/delete/", s.librarianOnly(s.handleDeleteBook))
	s.mux.HandleFunc("/api/books/", s.handleBookByID)

	// lending
	s.mux.HandleFunc("/api/book-issue/issue", s.handleIssue)
	s.mux.HandleFunc("/api/book-issue/return/", s.handleReturn)
	s.mux.HandleFunc("/api/book-issue/issued/", s.handleIssued)
	s.mux.HandleFunc("/api/book-issue/history/", s.handleHistory)
	s.mux.HandleFunc("/api/book-issue/fines/", s.handleFines)

	// settlement
	s.mux.HandleFunc("/api/book-issue/fine/create-payment", s.handleCreatePayment)
	s.mux.HandleFunc("/api/book-issue/fine/verify-payment", s.handleVerifyPayment)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "login is not configured")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := s.auth.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "library.login", "fail", "email", req.Email)
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	s.audit(r, "library.login", "success", "email", req.Email)
	writeData(w, http.StatusOK, map[string]string{"token": token})
}

// librarianOnly guards catalog mutations. When no librarian account is
// configured the guard is disabled (single-tenant dev mode).
func (s *Server) librarianOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "library.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.auth.Verify(token)
		if err != nil {
			s.audit(r, "library.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if claims.Role != auth.RoleLibrarian {
			s.audit(r, "library.authorize", "fail", "subject", claims.Subject, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}

// catalog handlers

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.ListBooks(r.Context(), r.URL.Query().Get("search"), r.URL.Query().Get("category"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, books)
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var b domain.Book
	if err := decodeBody(r, &b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.app.AddBook(r.Context(), b)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Book added successfully", Data: created})
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/books/update/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "book id required")
		return
	}
	var b domain.Book
	if err := decodeBody(r, &b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	b.ID = id
	updated, err := s.app.UpdateBook(r.Context(), b)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Book updated successfully", Data: updated})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/books/delete/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "book id required")
		return
	}
	if err := s.app.DeleteBook(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Book deleted successfully"})
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		book, err := s.app.GetBook(r.Context(), parts[0])
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, book)
	case len(parts) == 2 && parts[1] == "cover":
		s.handleCover(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request, bookID string) {
	switch r.Method {
	case http.MethodGet:
		url, err := s.app.CoverURL(r.Context(), bookID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]string{"url": url})
	case http.MethodPost:
		s.librarianOnly(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseMultipartForm(maxCoverBytes); err != nil {
				writeError(w, http.StatusBadRequest, "invalid multipart body")
				return
			}
			file, header, err := r.FormFile("cover")
			if err != nil {
				writeError(w, http.StatusBadRequest, "cover file required")
				return
			}
			defer file.Close()
			if err := s.app.UploadCover(r.Context(), bookID, header.Filename, file, header.Size); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Cover uploaded successfully"})
		})(w, r)
	default:
		methodNotAllowed(w)
	}
}

// lending handlers

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.issueLimiter, "too many issue requests") {
		s.audit(r, "library.issue", "rate_limited")
		return
	}
	var req struct {
		BookID    string `json:"bookId"`
		UserID    string `json:"userId"`
		UserName  string `json:"userName"`
		UserEmail string `json:"userEmail"`
		IssueDays int    `json:"issueDays"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	issue, err := s.app.IssueBook(r.Context(), req.BookID, domain.Borrower{
		UserID:    req.UserID,
		UserName:  req.UserName,
		UserEmail: req.UserEmail,
	}, req.IssueDays)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Book issued successfully", Data: issue})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	issueID := strings.TrimPrefix(r.URL.Path, "/api/book-issue/return/")
	issue, err := s.app.ReturnBook(r.Context(), issueID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	msg := "Book returned successfully"
	if issue.Fine > 0 {
		msg = fmt.Sprintf("Book returned successfully. Fine of %d is pending", issue.Fine)
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: msg, Data: issue})
}

func (s *Server) handleIssued(w http.ResponseWriter, r *http.Request) {
	s.handleLoanList(w, r, "/api/book-issue/issued/", s.app.ListActiveLoans)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.handleLoanList(w, r, "/api/book-issue/history/", s.app.ListHistory)
}

func (s *Server) handleLoanList(w http.ResponseWriter, r *http.Request, prefix string, list func(ctx context.Context, userID string) ([]domain.BookIssue, error)) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, prefix)
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	loans, err := list(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, loans)
}

func (s *Server) handleFines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/book-issue/fines/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	fines, total, err := s.app.PendingFines(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"fines": fines, "totalFine": total})
}

// settlement handlers

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.paymentLimiter, "too many payment requests") {
		s.audit(r, "library.fine.create_payment", "rate_limited")
		return
	}
	var req struct {
		UserID    string   `json:"userId"`
		IssueIDs  []string `json:"issueIds"`
		TotalFine int64    `json:"totalFine"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	order, err := s.app.CreateFinePayment(r.Context(), req.UserID, req.IssueIDs, req.TotalFine)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.fine.create_payment", "success", "order_id", order.OrderID, "user_id", req.UserID)
	writeData(w, http.StatusCreated, order)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		OrderID   string `json:"orderId"`
		PaymentID string `json:"paymentId"`
		Signature string `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.app.ConfirmSettlement(r.Context(), req.OrderID, req.PaymentID, req.Signature); err != nil {
		if errors.Is(err, app.ErrInvalidSignature) {
			s.audit(r, "library.fine.verify_payment", "fail", "order_id", req.OrderID, "reason", "invalid_signature")
		}
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.fine.verify_payment", "success", "order_id", req.OrderID, "payment_id", req.PaymentID)
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Payment verified and fines settled"})
}

// helpers

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeAppError maps domain sentinels onto the HTTP taxonomy: missing
// records are 404, business-rule rejections are 400, everything else is a
// logged 500.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrBookNotFound),
		errors.Is(err, store.ErrIssueNotFound),
		errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, app.ErrNoCover):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrValidation),
		errors.Is(err, app.ErrFineMismatch),
		errors.Is(err, app.ErrInvalidSignature),
		errors.Is(err, store.ErrDuplicateISBN),
		errors.Is(err, store.ErrNoCopies),
		errors.Is(err, store.ErrLoanExists),
		errors.Is(err, store.ErrAlreadyReturned),
		errors.Is(err, store.ErrCopiesOutstanding),
		errors.Is(err, store.ErrTotalBelowIssued):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
