// Package config loads and validates the audit service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AUDIT_ prefix (AUDIT_DATABASE_HOST
// overrides database.host). Secrets may be written as ${VAR} in the YAML file and are
// expanded after unmarshaling.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix for every config key.
const EnvPrefix = "AUDIT"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// StorageConfig selects the archive backend for export bundles and expired entries.
// An empty DefaultBackend disables archiving.
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Prefix         string             `mapstructure:"prefix"`
	SignedURLTTL   time.Duration      `mapstructure:"signed_url_ttl"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is optional, for MinIO and other S3-compatible services
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is one of "default", "static", "oidc", "assume_role"
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`

	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	// AuthMethod is one of "default", "service_account", "workload_identity"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is optional, for emulators
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// AuthConfig holds authentication configuration for the ingest and admin APIs
type AuthConfig struct {
	JWTSecret string       `mapstructure:"jwt_secret"`
	JWTIssuer string       `mapstructure:"jwt_issuer"`
	APIKeys   APIKeyConfig `mapstructure:"api_keys"`
}

// APIKeyConfig holds service API key configuration
type APIKeyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
	// Keys are bcrypt hashes of the issued keys with the scopes each grants
	Keys []ServiceKeyConfig `mapstructure:"keys"`
}

// ServiceKeyConfig is one issued API key
type ServiceKeyConfig struct {
	Name   string   `mapstructure:"name"`
	Hash   string   `mapstructure:"hash"`
	Scopes []string `mapstructure:"scopes"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds the audit trail service configuration
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Store is "postgres" or "memory"
	Store         string        `mapstructure:"store"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	FlushTimeout  time.Duration `mapstructure:"flush_timeout"`
	// Silent logs hot-path failures at warn instead of error
	Silent                bool            `mapstructure:"silent"`
	Retention             RetentionConfig `mapstructure:"retention"`
	EnableTamperDetection bool            `mapstructure:"enable_tamper_detection"`
	EnableCompression     bool            `mapstructure:"enable_compression"`
	SystemActorID         string          `mapstructure:"system_actor_id"`
	// Shippers forward flushed batches to external collectors
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// RetentionConfig holds retention periods in days and the enforcer schedule
type RetentionConfig struct {
	DefaultDays        int           `mapstructure:"default_days"`
	CriticalEventsDays int           `mapstructure:"critical_events_days"`
	GDPRMaxDays        int           `mapstructure:"gdpr_max_days"`
	EnforceEnabled     bool          `mapstructure:"enforce_enabled"`
	EnforceInterval    time.Duration `mapstructure:"enforce_interval"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Type is the shipper type (syslog, webhook, file)
	Type    string              `mapstructure:"type"`
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// RedisConfig enables distributed rate limiting when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CryptoConfig holds the key material that seals archived export bundles.
// Sealing is off when ExportPassphrase is empty.
type CryptoConfig struct {
	ExportPassphrase string `mapstructure:"export_passphrase"`
	ExportSalt       string `mapstructure:"export_salt"`
	KDFIterations    int    `mapstructure:"kdf_iterations"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",

		// Storage
		"storage.default_backend",
		"storage.prefix",
		"storage.signed_url_ttl",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.role_arn",
		"storage.s3.role_session_name",
		"storage.s3.external_id",
		"storage.s3.web_identity_token_file",
		"storage.gcs.bucket",
		"storage.gcs.project_id",
		"storage.gcs.auth_method",
		"storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.gcs.endpoint",
		"storage.local.base_path",

		// Auth
		"auth.jwt_secret",
		"auth.jwt_issuer",
		"auth.api_keys.enabled",
		"auth.api_keys.prefix",

		// Security
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.enabled",
		"audit.store",
		"audit.batch_size",
		"audit.batch_interval",
		"audit.flush_timeout",
		"audit.silent",
		"audit.retention.default_days",
		"audit.retention.critical_events_days",
		"audit.retention.gdpr_max_days",
		"audit.retention.enforce_enabled",
		"audit.retention.enforce_interval",
		"audit.enable_tamper_detection",
		"audit.enable_compression",
		"audit.system_actor_id",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Crypto
		"crypto.export_passphrase",
		"crypto.export_salt",
		"crypto.kdf_iterations",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/audit-trail")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment variables only
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.GCS.CredentialsJSON = expandEnv(cfg.Storage.GCS.CredentialsJSON)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Crypto.ExportPassphrase = expandEnv(cfg.Crypto.ExportPassphrase)
	for i := range cfg.Audit.Shippers {
		if wh := cfg.Audit.Shippers[i].Webhook; wh != nil {
			for k, val := range wh.Headers {
				wh.Headers[k] = expandEnv(val)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the config file on every change and hands the new configuration to
// onChange. Invalid revisions are logged and skipped. Watching needs a config file;
// with an empty path Watch does nothing.
func Watch(configPath string, onChange func(*Config)) error {
	if configPath == "" {
		return nil
	}
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "audit_trail")
	v.SetDefault("database.user", "audit")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults (archiving off)
	v.SetDefault("storage.default_backend", "")
	v.SetDefault("storage.prefix", "audit")
	v.SetDefault("storage.signed_url_ttl", "15m")
	v.SetDefault("storage.local.base_path", "./archive")

	// Auth defaults
	v.SetDefault("auth.jwt_issuer", "audit-trail")
	v.SetDefault("auth.api_keys.enabled", true)
	v.SetDefault("auth.api_keys.prefix", "aud_")

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 600)
	v.SetDefault("security.rate_limiting.burst", 100)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "audit-trail")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.store", "postgres")
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.batch_interval", "5s")
	v.SetDefault("audit.flush_timeout", "30s")
	v.SetDefault("audit.silent", true)
	v.SetDefault("audit.retention.default_days", 365)
	v.SetDefault("audit.retention.critical_events_days", 2555)
	v.SetDefault("audit.retention.gdpr_max_days", 90)
	v.SetDefault("audit.retention.enforce_enabled", true)
	v.SetDefault("audit.retention.enforce_interval", "24h")
	v.SetDefault("audit.enable_tamper_detection", false)
	v.SetDefault("audit.enable_compression", false)

	// Crypto defaults
	v.SetDefault("crypto.kdf_iterations", 210000)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Audit.Store {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	default:
		return fmt.Errorf("invalid audit store: %q (must be postgres or memory)", c.Audit.Store)
	}

	if c.Audit.BatchSize < 0 {
		return fmt.Errorf("audit.batch_size must not be negative")
	}
	r := c.Audit.Retention
	if r.DefaultDays < 0 || r.CriticalEventsDays < 0 || r.GDPRMaxDays < 0 {
		return fmt.Errorf("audit.retention periods must not be negative")
	}
	if r.CriticalEventsDays > 0 && r.DefaultDays > 0 && r.CriticalEventsDays < r.DefaultDays {
		return fmt.Errorf("audit.retention.critical_events_days (%d) must not be shorter than default_days (%d)",
			r.CriticalEventsDays, r.DefaultDays)
	}
	for i, sh := range c.Audit.Shippers {
		if !sh.Enabled {
			continue
		}
		switch sh.Type {
		case "webhook":
			if sh.Webhook == nil || sh.Webhook.URL == "" {
				return fmt.Errorf("audit.shippers[%d]: webhook.url is required", i)
			}
		case "file":
			if sh.File == nil || sh.File.Path == "" {
				return fmt.Errorf("audit.shippers[%d]: file.path is required", i)
			}
		case "syslog":
		default:
			return fmt.Errorf("audit.shippers[%d]: unknown type %q", i, sh.Type)
		}
	}

	switch c.Storage.DefaultBackend {
	case "":
	case "azure":
		if c.Storage.Azure.AccountName == "" {
			return fmt.Errorf("storage.azure.account_name is required when using Azure backend")
		}
		if c.Storage.Azure.AccountKey == "" {
			return fmt.Errorf("storage.azure.account_key is required when using Azure backend")
		}
		if c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, local or empty)", c.Storage.DefaultBackend)
	}

	if c.Crypto.ExportPassphrase != "" && len(c.Crypto.ExportSalt) < 16 {
		return fmt.Errorf("crypto.export_salt must be at least 16 characters when export_passphrase is set")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
