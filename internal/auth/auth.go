package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// RoleLibrarian marks tokens allowed to mutate the catalog.
const RoleLibrarian = "librarian"

var (
	ErrBadCredentials = errors.New("invalid email or password")
	ErrInvalidToken   = errors.New("invalid or expired token")
)

// Claims carried in an access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 access tokens for the librarian
// account configured at startup.
type Manager struct {
	secret        []byte
	ttl           time.Duration
	librarianUser string
	librarianHash string
	now           func() time.Time
}

func NewManager(secret string, ttl time.Duration, librarianUser, librarianHash string) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		secret:        []byte(secret),
		ttl:           ttl,
		librarianUser: librarianUser,
		librarianHash: librarianHash,
		now:           time.Now,
	}
}

// Login checks the credentials against the configured librarian account
// and returns a signed token on success.
func (m *Manager) Login(email, password string) (string, error) {
	if email == "" || password == "" || email != m.librarianUser {
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.librarianHash), []byte(password)); err != nil {
		return "", ErrBadCredentials
	}
	return m.issue(email, RoleLibrarian)
}

func (m *Manager) issue(subject, role string) (string, error) {
	now := m.now().UTC()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses a token and returns its claims. Tokens signed with any
// method other than HS256 are rejected.
func (m *Manager) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }))
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword produces a bcrypt hash suitable for the librarian
// password config field.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
