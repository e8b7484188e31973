package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// DatabaseURL selects Postgres persistence; empty falls back to the
	// in-memory store (dev and tests only).
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	// CoverDir is the local-filesystem fallback used when no MinIO
	// endpoint is configured.
	CoverDir string `yaml:"coverDir"`

	PaymentKeyID     string `yaml:"paymentKeyID"`
	PaymentKeySecret string `yaml:"paymentKeySecret"`
	// PaymentBaseURL points at the provider API; empty selects the
	// built-in mock gateway.
	PaymentBaseURL string `yaml:"paymentBaseURL"`
	Currency       string `yaml:"currency"`

	FinePerDay           int64  `yaml:"finePerDay"`
	LoanPeriodDays       int    `yaml:"loanPeriodDays"`
	OverdueSweepInterval string `yaml:"overdueSweepInterval"`

	LibrarianEmail        string `yaml:"librarianEmail"`
	LibrarianPasswordHash string `yaml:"librarianPasswordHash"`
	JWTSecret             string `yaml:"jwtSecret"`
	TokenTTL              string `yaml:"tokenTTL"`

	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"`
	IssueRateLimitPerMinute   int      `yaml:"issueRateLimitPerMinute"`
	PaymentRateLimitPerMinute int      `yaml:"paymentRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("PAYMENT_KEY_ID"); v != "" {
		cfg.PaymentKeyID = v
	}
	if v := os.Getenv("PAYMENT_KEY_SECRET"); v != "" {
		cfg.PaymentKeySecret = v
	}
	if v := os.Getenv("PAYMENT_BASE_URL"); v != "" {
		cfg.PaymentBaseURL = v
	}
	if v := os.Getenv("LIBRARY_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("LIBRARY_LIBRARIAN_EMAIL"); v != "" {
		cfg.LibrarianEmail = strings.TrimSpace(v)
	}
	if v := os.Getenv("LIBRARY_LIBRARIAN_PASSWORD_HASH"); v != "" {
		cfg.LibrarianPasswordHash = v
	}
	if v := os.Getenv("LIBRARY_FINE_PER_DAY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.FinePerDay = n
		}
	}
	if v := os.Getenv("LIBRARY_LOAN_PERIOD_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoanPeriodDays = n
		}
	}
	if v := os.Getenv("LIBRARY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("LIBRARY_ISSUE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IssueRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("LIBRARY_PAYMENT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PaymentRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.LoanPeriodDays <= 0 {
		return errors.New("config: loanPeriodDays must be > 0")
	}
	if cfg.FinePerDay < 0 {
		return errors.New("config: finePerDay must be >= 0")
	}
	if cfg.IssueRateLimitPerMinute < 0 || cfg.PaymentRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if (cfg.IssueRateLimitPerMinute > 0 || cfg.PaymentRateLimitPerMinute > 0) && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if cfg.LibrarianEmail != "" {
		if cfg.LibrarianPasswordHash == "" {
			return errors.New("config: librarianPasswordHash is required when librarianEmail is set")
		}
		if strings.TrimSpace(cfg.JWTSecret) == "" {
			return errors.New("config: jwtSecret is required when librarianEmail is set (set LIBRARY_JWT_SECRET)")
		}
	}
	if cfg.PaymentBaseURL != "" && (cfg.PaymentKeyID == "" || cfg.PaymentKeySecret == "") {
		return errors.New("config: paymentKeyID and paymentKeySecret are required when paymentBaseURL is set")
	}
	if _, err := ParseSweepInterval(cfg.OverdueSweepInterval); err != nil {
		return err
	}
	if _, err := ParseTokenTTL(cfg.TokenTTL); err != nil {
		return err
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseSweepInterval parses the overdue sweep interval, defaulting to
// one hour when unset.
func ParseSweepInterval(s string) (time.Duration, error) {
	if s == "" {
		return time.Hour, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid overdueSweepInterval duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("config: overdueSweepInterval must be > 0")
	}
	return dur, nil
}

// ParseTokenTTL parses the access-token lifetime, defaulting to 24h.
func ParseTokenTTL(s string) (time.Duration, error) {
	if s == "" {
		return 24 * time.Hour, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid tokenTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("config: tokenTTL must be > 0")
	}
	return dur, nil
}
