// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Intuit environments select the accounting API host.
const (
	IntuitSandbox    = "sandbox"
	IntuitProduction = "production"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	IntuitClientID     string
	IntuitClientSecret string
	IntuitEnvironment  string

	BaseURL    string
	ListenAddr string
	DBPath     string
	SecretKey  []byte // 32 bytes, or nil when not configured

	SweepSchedule string
	StaleAfter    time.Duration

	InvoiceCustomerRef string
	InvoiceItemRef     string
	InvoiceUnitPrice   float64

	S3 S3Config
}

// S3Config holds the optional S3-compatible blob storage settings.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Enabled reports whether PDFs should be stored in S3 rather than SQLite.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// RedirectURL returns the OAuth callback URL registered with Intuit.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/quickbooks/oauth_callback"
}

// Issue identifies a detected OAuth client misconfiguration. Issues never
// carry the offending value.
type Issue string

const (
	IssueClientIDMissing         Issue = "client_id_missing"
	IssueClientIDPlaceholder     Issue = "client_id_placeholder"
	IssueClientSecretMissing     Issue = "client_secret_missing"
	IssueClientSecretPlaceholder Issue = "client_secret_placeholder"
)

var placeholderPattern = regexp.MustCompile(`(?i)^(your_|changeme|placeholder|xxx)`)

// Issues returns the detected client ID/secret misconfigurations, or an
// empty slice when both look usable.
func (c *Config) Issues() []Issue {
	issues := []Issue{}

	id := strings.TrimSpace(c.IntuitClientID)
	switch {
	case id == "":
		issues = append(issues, IssueClientIDMissing)
	case placeholderPattern.MatchString(id):
		issues = append(issues, IssueClientIDPlaceholder)
	}

	secret := strings.TrimSpace(c.IntuitClientSecret)
	switch {
	case secret == "":
		issues = append(issues, IssueClientSecretMissing)
	case placeholderPattern.MatchString(secret):
		issues = append(issues, IssueClientSecretPlaceholder)
	}

	return issues
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file (SHIPTRACK_ENV_FILE, default ".env") is read first when present; real
// environment variables always win over it.
// Missing Intuit credentials are not an error; they are reported by Issues().
func Load() (*Config, error) {
	envFile := ".env"
	if v, ok := os.LookupEnv("SHIPTRACK_ENV_FILE"); ok {
		envFile = v
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %q: %w", envFile, err)
	}

	cfg := &Config{
		IntuitClientID:     os.Getenv("INTUIT_CLIENT_ID"),
		IntuitClientSecret: os.Getenv("INTUIT_CLIENT_SECRET"),
		IntuitEnvironment:  IntuitSandbox,
		BaseURL:            "http://127.0.0.1:8080",
		ListenAddr:         "127.0.0.1:8080",
		DBPath:             "shiptrack.db",
		SweepSchedule:      "@every 15m",
		StaleAfter:         30 * time.Minute,
		InvoiceCustomerRef: "1",
		InvoiceItemRef:     "1",
		InvoiceUnitPrice:   10.0,
		S3: S3Config{
			Bucket:    os.Getenv("SHIPTRACK_S3_BUCKET"),
			Region:    "us-east-1",
			Endpoint:  os.Getenv("SHIPTRACK_S3_ENDPOINT"),
			AccessKey: os.Getenv("SHIPTRACK_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("SHIPTRACK_S3_SECRET_KEY"),
		},
	}

	if v, ok := os.LookupEnv("INTUIT_ENVIRONMENT"); ok && v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != IntuitSandbox && v != IntuitProduction {
			return nil, fmt.Errorf("INTUIT_ENVIRONMENT must be %q or %q, got %q", IntuitSandbox, IntuitProduction, v)
		}
		cfg.IntuitEnvironment = v
	}

	if v, ok := os.LookupEnv("SHIPTRACK_BASE_URL"); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := os.LookupEnv("SHIPTRACK_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("SHIPTRACK_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("SHIPTRACK_SWEEP_SCHEDULE"); ok && v != "" {
		cfg.SweepSchedule = v
	}
	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		return nil, fmt.Errorf("SHIPTRACK_SWEEP_SCHEDULE has invalid schedule %q: %w", cfg.SweepSchedule, err)
	}

	if v, ok := os.LookupEnv("SHIPTRACK_STALE_AFTER"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SHIPTRACK_STALE_AFTER has invalid duration %q: %w", v, err)
		}
		cfg.StaleAfter = parsed
	}

	if v, ok := os.LookupEnv("SHIPTRACK_INVOICE_CUSTOMER_REF"); ok && v != "" {
		cfg.InvoiceCustomerRef = v
	}
	if v, ok := os.LookupEnv("SHIPTRACK_INVOICE_ITEM_REF"); ok && v != "" {
		cfg.InvoiceItemRef = v
	}
	if v, ok := os.LookupEnv("SHIPTRACK_INVOICE_UNIT_PRICE"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("SHIPTRACK_INVOICE_UNIT_PRICE has invalid value %q", v)
		}
		cfg.InvoiceUnitPrice = parsed
	}

	if v, ok := os.LookupEnv("SHIPTRACK_S3_REGION"); ok && v != "" {
		cfg.S3.Region = v
	}

	if v, ok := os.LookupEnv("SHIPTRACK_SECRET_KEY"); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("SHIPTRACK_SECRET_KEY must be hex encoded: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("SHIPTRACK_SECRET_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.SecretKey = key
	}

	return cfg, nil
}
