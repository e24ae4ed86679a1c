package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/ipfilter"
	"github.com/foxzi/certly/internal/ratelimit"
)

// Config is the main configuration structure
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Files        FilesConfig        `yaml:"files"`
	LMS          LMSConfig          `yaml:"lms"`
	API          APIConfig          `yaml:"api"`
	Render       RenderConfig       `yaml:"render"`
	Verification VerificationConfig `yaml:"verification"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"` // Prometheus metrics configuration
}

// StorageConfig contains template and issue storage settings
type StorageConfig struct {
	Path      string           `yaml:"path"`
	Retention *RetentionConfig `yaml:"retention"` // Event log retention settings
}

// RetentionConfig contains event log retention settings
type RetentionConfig struct {
	EventsMaxAge    time.Duration `yaml:"events_max_age"`   // Delete events older than this (0 = keep forever)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // How often to run cleanup
}

// FilesConfig contains the file store settings
type FilesConfig struct {
	Path string `yaml:"path"`
}

// LMS directory drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// LMSConfig selects the user, course and grade directory
type LMSConfig struct {
	Driver   string `yaml:"driver"`   // sqlite, memory
	Path     string `yaml:"path"`     // sqlite database file
	Fixtures string `yaml:"fixtures"` // YAML fixtures loaded at startup
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	APIKeyHash     string        `yaml:"api_key_hash"`     // bcrypt hash, used instead of api_key
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	MaxUploadBytes int64         `yaml:"max_upload_bytes"` // Max file or archive upload (default: 32MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 60s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig contains the API certificate settings
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt ACME settings
type ACMEConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Email         string   `yaml:"email"`
	Domains       []string `yaml:"domains"`
	CacheDir      string   `yaml:"cache_dir"`
	ChallengeAddr string   `yaml:"challenge_addr"` // HTTP-01 challenge listener (default: :80)
}

// RenderConfig contains document settings
type RenderConfig struct {
	Author     string `yaml:"author"`
	Creator    string `yaml:"creator"`
	DateFormat string `yaml:"date_format"` // date format key or Go layout
	FileURL    string `yaml:"file_url"`    // base URL of files in previews
}

// VerificationConfig contains issue code settings
type VerificationConfig struct {
	URL              string `yaml:"url"`         // public verification page, the code is appended
	CodeFormat       string `yaml:"code_format"` // alnum, upper-digits, digits-hyphens
	RequireEnrolment bool   `yaml:"require_enrolment"`

	// RateLimit throttles the public verification endpoint
	RateLimit *ratelimit.Config `yaml:"rate_limit"`
}

// ArchiveConfig contains import/export settings
type ArchiveConfig struct {
	MaxSize int64 `yaml:"max_size"` // Largest archive accepted for import (default: 64MB)
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/certly/certly.db"
	}
	if c.Storage.Retention == nil {
		c.Storage.Retention = &RetentionConfig{}
	}
	if c.Storage.Retention.CleanupInterval == 0 {
		c.Storage.Retention.CleanupInterval = time.Hour
	}

	if c.Files.Path == "" {
		c.Files.Path = "/var/lib/certly/files"
	}

	if c.LMS.Driver == "" {
		c.LMS.Driver = DriverSQLite
	}
	if c.LMS.Driver == DriverSQLite && c.LMS.Path == "" {
		c.LMS.Path = "/var/lib/certly/lms.db"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxUploadBytes == 0 {
		c.API.MaxUploadBytes = 32 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 60 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.API.TLS.ACME.CacheDir == "" {
		c.API.TLS.ACME.CacheDir = "/var/lib/certly/certs"
	}
	if c.API.TLS.ACME.ChallengeAddr == "" {
		c.API.TLS.ACME.ChallengeAddr = ":80"
	}

	if c.Render.Creator == "" {
		c.Render.Creator = "certly"
	}
	if c.Render.DateFormat == "" {
		c.Render.DateFormat = "dmy"
	}
	if c.Render.FileURL == "" {
		c.Render.FileURL = "/api/v1/files"
	}

	if c.Verification.CodeFormat == "" {
		c.Verification.CodeFormat = certificate.CodeAlnum
	}

	if c.Archive.MaxSize == 0 {
		c.Archive.MaxSize = 64 << 20
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	switch c.LMS.Driver {
	case DriverSQLite:
		if c.LMS.Path == "" {
			return fmt.Errorf("lms.path is required for the sqlite driver")
		}
	case DriverMemory:
		if c.LMS.Fixtures == "" {
			return fmt.Errorf("lms.fixtures is required for the memory driver")
		}
	default:
		return fmt.Errorf("invalid lms.driver: %s (must be sqlite or memory)", c.LMS.Driver)
	}

	if !validCodeFormat(c.Verification.CodeFormat) {
		return fmt.Errorf("invalid verification.code_format: %s (must be one of %s)",
			c.Verification.CodeFormat, strings.Join(certificate.CodeFormats, ", "))
	}

	if c.API.APIKey != "" && c.API.APIKeyHash != "" {
		return fmt.Errorf("api.api_key and api.api_key_hash are mutually exclusive")
	}
	if c.API.APIKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(c.API.APIKeyHash)); err != nil {
			return fmt.Errorf("api.api_key_hash is not a bcrypt hash: %w", err)
		}
	}
	if c.API.MaxUploadBytes < 0 || c.Archive.MaxSize < 0 {
		return fmt.Errorf("size limits must not be negative")
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	if err := ipfilter.Validate(c.API.AllowedIPs); err != nil {
		return fmt.Errorf("api.allowed_ips: %w", err)
	}
	if err := ipfilter.Validate(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("metrics.allowed_ips: %w", err)
	}

	if rl := c.Verification.RateLimit; rl != nil {
		for name, l := range map[string]*ratelimit.Limits{"global": rl.Global, "per_ip": rl.PerIP, "per_code": rl.PerCode} {
			if l != nil && (l.PerHour < 0 || l.PerDay < 0) {
				return fmt.Errorf("verification.rate_limit.%s must not be negative", name)
			}
		}
	}

	if c.Storage.Retention != nil && c.Storage.Retention.EventsMaxAge < 0 {
		return fmt.Errorf("storage.retention.events_max_age must not be negative")
	}

	return nil
}

// validateTLS validates the API certificate settings
func (c *Config) validateTLS() error {
	tls := c.API.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return fmt.Errorf("api.tls requires both cert_file and key_file")
	}
	if tls.CertFile != "" && tls.ACME.Enabled {
		return fmt.Errorf("cannot use both manual certificates and ACME")
	}
	if tls.ACME.Enabled {
		if tls.ACME.Email == "" {
			return fmt.Errorf("api.tls.acme.email is required when ACME is enabled")
		}
		if len(tls.ACME.Domains) == 0 {
			return fmt.Errorf("api.tls.acme.domains must not be empty when ACME is enabled")
		}
	}
	return nil
}

// HasTLS reports whether the API is served over HTTPS
func (c *Config) HasTLS() bool {
	return c.API.TLS.CertFile != "" || c.API.TLS.ACME.Enabled
}

func validCodeFormat(format string) bool {
	for _, f := range certificate.CodeFormats {
		if f == format {
			return true
		}
	}
	return false
}

// HasAPIAuth reports whether the API requires a key
func (c *Config) HasAPIAuth() bool {
	return c.API.APIKey != "" || c.API.APIKeyHash != ""
}
