package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://library:library@db:5432/library?sslmode=disable")
	t.Setenv("LIBRARY_FINE_PER_DAY", "25")
	t.Setenv("LIBRARY_LOAN_PERIOD_DAYS", "21")
	t.Setenv("LIBRARY_ISSUE_RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("LIBRARY_JWT_SECRET", "env-secret")

	cfgPath := writeConfig(t, `
port: "8080"
logLevel: "info"
redisAddr: "localhost:6379"
finePerDay: 10
loanPeriodDays: 14
librarianEmail: "librarian@example.com"
librarianPasswordHash: "$2a$10$abcdefghijklmnopqrstuv"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		t.Fatalf("databaseURL not overridden from env")
	}
	if cfg.FinePerDay != 25 {
		t.Fatalf("finePerDay = %d, want 25", cfg.FinePerDay)
	}
	if cfg.LoanPeriodDays != 21 {
		t.Fatalf("loanPeriodDays = %d, want 21", cfg.LoanPeriodDays)
	}
	if cfg.IssueRateLimitPerMinute != 30 {
		t.Fatalf("issueRateLimitPerMinute = %d, want 30", cfg.IssueRateLimitPerMinute)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("jwtSecret = %q, want env override", cfg.JWTSecret)
	}
}

func TestValidateConfigRejectsMissingPort(t *testing.T) {
	cfg := FileConfig{LoanPeriodDays: 14}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for missing port")
	}
}

func TestValidateConfigRejectsRateLimitWithoutRedis(t *testing.T) {
	cfg := FileConfig{
		Port:                    "8080",
		LoanPeriodDays:          14,
		IssueRateLimitPerMinute: 10,
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for rate limit without redisAddr")
	}
}

func TestValidateConfigRejectsLibrarianWithoutSecret(t *testing.T) {
	cfg := FileConfig{
		Port:                  "8080",
		LoanPeriodDays:        14,
		LibrarianEmail:        "librarian@example.com",
		LibrarianPasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for librarian account without jwtSecret")
	}
}

func TestParseDurations(t *testing.T) {
	if d, err := ParseSweepInterval(""); err != nil || d != time.Hour {
		t.Fatalf("ParseSweepInterval(\"\") = %v, %v", d, err)
	}
	if d, err := ParseSweepInterval("15m"); err != nil || d != 15*time.Minute {
		t.Fatalf("ParseSweepInterval(15m) = %v, %v", d, err)
	}
	if _, err := ParseSweepInterval("-1h"); err == nil {
		t.Fatalf("ParseSweepInterval(-1h) expected error")
	}
	if d, err := ParseTokenTTL(""); err != nil || d != 24*time.Hour {
		t.Fatalf("ParseTokenTTL(\"\") = %v, %v", d, err)
	}
	if _, err := ParseTokenTTL("nonsense"); err == nil {
		t.Fatalf("ParseTokenTTL(nonsense) expected error")
	}
}
