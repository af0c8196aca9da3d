package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN / ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg:  DatabaseConfig{Host: "localhost", Port: 5432, User: "audit", Password: "secret", Name: "audit_trail", SSLMode: "require"},
			want: "host=localhost port=5432 user=audit password=secret dbname=audit_trail sslmode=require",
		},
		{
			name: "empty password",
			cfg:  DatabaseConfig{Host: "db.internal", Port: 5433, User: "u", Name: "d", SSLMode: "disable"},
			want: "host=db.internal port=5433 user=u password= dbname=d sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDSN(); got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetAddress(t *testing.T) {
	tests := []struct {
		cfg  ServerConfig
		want string
	}{
		{ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{ServerConfig{Host: "", Port: 8080}, ":8080"},
	}
	for _, tt := range tests {
		if got := tt.cfg.GetAddress(); got != tt.want {
			t.Errorf("GetAddress() = %q, want %q", got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "audit_trail",
			User: "audit",
		},
		Audit: AuditConfig{
			Enabled: true,
			Store:   "postgres",
			Retention: RetentionConfig{
				DefaultDays:        365,
				CriticalEventsDays: 2555,
				GDPRMaxDays:        90,
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("memory store needs no database", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Audit.Store = "memory"
		cfg.Database = DatabaseConfig{}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid server port", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown store", func(c *Config) { c.Audit.Store = "mongo" }},
		{"postgres missing host", func(c *Config) { c.Database.Host = "" }},
		{"postgres missing name", func(c *Config) { c.Database.Name = "" }},
		{"postgres missing user", func(c *Config) { c.Database.User = "" }},
		{"negative batch size", func(c *Config) { c.Audit.BatchSize = -1 }},
		{"negative retention", func(c *Config) { c.Audit.Retention.GDPRMaxDays = -1 }},
		{"critical shorter than default", func(c *Config) { c.Audit.Retention.CriticalEventsDays = 30 }},
		{"webhook shipper without url", func(c *Config) {
			c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "webhook", Webhook: &AuditWebhookConfig{}}}
		}},
		{"file shipper without path", func(c *Config) {
			c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "file"}}
		}},
		{"unknown shipper", func(c *Config) {
			c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "kafka"}}
		}},
		{"unknown storage backend", func(c *Config) { c.Storage.DefaultBackend = "ftp" }},
		{"s3 missing bucket", func(c *Config) { c.Storage = StorageConfig{DefaultBackend: "s3", S3: S3StorageConfig{Region: "eu-west-1"}} }},
		{"s3 missing region", func(c *Config) { c.Storage = StorageConfig{DefaultBackend: "s3", S3: S3StorageConfig{Bucket: "b"}} }},
		{"azure missing key", func(c *Config) {
			c.Storage = StorageConfig{DefaultBackend: "azure", Azure: AzureStorageConfig{AccountName: "a", ContainerName: "c"}}
		}},
		{"gcs missing bucket", func(c *Config) { c.Storage.DefaultBackend = "gcs" }},
		{"local missing base path", func(c *Config) { c.Storage.DefaultBackend = "local" }},
		{"passphrase with short salt", func(c *Config) { c.Crypto = CryptoConfig{ExportPassphrase: "p", ExportSalt: "short"} }},
		{"tls missing cert", func(c *Config) { c.Security.TLS = TLSConfig{Enabled: true, KeyFile: "key.pem"} }},
		{"tls missing key", func(c *Config) { c.Security.TLS = TLSConfig{Enabled: true, CertFile: "cert.pem"} }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() expected error for %s, got nil", tt.name)
			}
		})
	}

	t.Run("disabled and syslog shippers pass", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Audit.Shippers = []AuditShipperConfig{
			{Enabled: false, Type: "kafka"},
			{Enabled: true, Type: "syslog"},
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("all valid log levels pass", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			cfg := minimalValidConfig()
			cfg.Logging.Level = level
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error for log level %q: %v", level, err)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_SECRET", "super-secret")
	if got := expandEnv("${CONFIG_TEST_SECRET}"); got != "super-secret" {
		t.Errorf("expandEnv() = %q, want super-secret", got)
	}
	if got := expandEnv("no-vars-here"); got != "no-vars-here" {
		t.Errorf("expandEnv() = %q, want passthrough", got)
	}
	os.Unsetenv("CONFIG_TEST_DEFINITELY_UNSET_12345")
	if got := expandEnv("${CONFIG_TEST_DEFINITELY_UNSET_12345}"); got != "" {
		t.Errorf("expandEnv() = %q, want empty string", got)
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal("WriteFile:", err)
	}
	return path
}

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		if !strings.Contains(err.Error(), "invalid configuration") &&
			!strings.Contains(err.Error(), "error reading config file") {
			t.Fatalf("Load() unexpected error kind: %v", err)
		}
		return
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default server port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: info\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Audit.Store != "postgres" {
		t.Errorf("Audit.Store = %q, want postgres", cfg.Audit.Store)
	}
	if !cfg.Audit.Enabled || !cfg.Audit.Silent {
		t.Error("audit should default to enabled and silent")
	}
	if cfg.Audit.BatchSize != 100 {
		t.Errorf("Audit.BatchSize = %d, want 100", cfg.Audit.BatchSize)
	}
	if cfg.Audit.BatchInterval != 5*time.Second {
		t.Errorf("Audit.BatchInterval = %v, want 5s", cfg.Audit.BatchInterval)
	}
	if cfg.Audit.FlushTimeout != 30*time.Second {
		t.Errorf("Audit.FlushTimeout = %v, want 30s", cfg.Audit.FlushTimeout)
	}
	r := cfg.Audit.Retention
	if r.DefaultDays != 365 || r.CriticalEventsDays != 2555 || r.GDPRMaxDays != 90 {
		t.Errorf("Retention = %+v, want 365/2555/90", r)
	}
	if r.EnforceInterval != 24*time.Hour {
		t.Errorf("Retention.EnforceInterval = %v, want 24h", r.EnforceInterval)
	}
	if cfg.Audit.EnableTamperDetection {
		t.Error("tamper detection should default to off")
	}
	if cfg.Storage.DefaultBackend != "" {
		t.Errorf("Storage.DefaultBackend = %q, want archiving disabled", cfg.Storage.DefaultBackend)
	}
	if cfg.Auth.APIKeys.Prefix != "aud_" {
		t.Errorf("Auth.APIKeys.Prefix = %q, want aud_", cfg.Auth.APIKeys.Prefix)
	}
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
audit:
  store: memory
  batch_size: 10
  batch_interval: 250ms
  system_actor_id: "00000000-0000-0000-0000-000000000001"
  retention:
    default_days: 30
    critical_events_days: 400
  shippers:
    - enabled: true
      type: file
      file:
        path: /tmp/audit.jsonl
        max_size_mb: 5
auth:
  api_keys:
    keys:
      - name: ingest
        hash: "$2a$10$abcdefghijklmnopqrstuv"
        scopes: ["audit:write"]
logging:
  level: "debug"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" || cfg.Server.Port != 9999 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Audit.Store != "memory" || cfg.Audit.BatchSize != 10 {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
	if cfg.Audit.BatchInterval != 250*time.Millisecond {
		t.Errorf("BatchInterval = %v, want 250ms", cfg.Audit.BatchInterval)
	}
	if cfg.Audit.Retention.DefaultDays != 30 || cfg.Audit.Retention.CriticalEventsDays != 400 {
		t.Errorf("Retention = %+v", cfg.Audit.Retention)
	}
	if cfg.Audit.Retention.GDPRMaxDays != 90 {
		t.Errorf("GDPRMaxDays = %d, want default 90", cfg.Audit.Retention.GDPRMaxDays)
	}
	if len(cfg.Audit.Shippers) != 1 || cfg.Audit.Shippers[0].File == nil || cfg.Audit.Shippers[0].File.MaxSizeMB != 5 {
		t.Errorf("Shippers = %+v", cfg.Audit.Shippers)
	}
	if len(cfg.Auth.APIKeys.Keys) != 1 || cfg.Auth.APIKeys.Keys[0].Scopes[0] != "audit:write" {
		t.Errorf("APIKeys.Keys = %+v", cfg.Auth.APIKeys.Keys)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUDIT_AUDIT_BATCH_SIZE", "7")
	t.Setenv("AUDIT_AUDIT_STORE", "memory")
	t.Setenv("AUDIT_SERVER_PORT", "9100")

	cfg, err := Load(writeTempConfig(t, "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Audit.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7", cfg.Audit.BatchSize)
	}
	if cfg.Audit.Store != "memory" {
		t.Errorf("Store = %q, want memory", cfg.Audit.Store)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")
	t.Setenv("TEST_JWT_SECRET", "signing-key")
	const content = `
database:
  password: "${TEST_DB_PASS}"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
logging:
  level: "info"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
	if cfg.Auth.JWTSecret != "signing-key" {
		t.Errorf("Auth.JWTSecret = %q, want signing-key", cfg.Auth.JWTSecret)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "server: [unclosed")); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestWatch_EmptyPathIsNoop(t *testing.T) {
	if err := Watch("", func(*Config) { t.Error("onChange should not be called") }); err != nil {
		t.Errorf("Watch(\"\") error = %v", err)
	}
}
