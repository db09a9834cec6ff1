// Package config provides the configuration schema, loader, and file watcher
// for the Shopify store MCP server.
//
// A YAML file is optional: every setting the server needs to start can come
// from the environment variables listed in [ApplyEnv]. Values from the
// environment override values from the file.
package config

import (
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/mcp"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// OplogDriver selects the operation log backend.
type OplogDriver string

const (
	// DriverSQLite stores the log in a local SQLite file.
	DriverSQLite OplogDriver = "sqlite"

	// DriverPostgres stores the log in PostgreSQL.
	DriverPostgres OplogDriver = "postgres"

	// DriverMemory keeps the log in process memory only.
	DriverMemory OplogDriver = "memory"
)

// IsValid reports whether d is a recognised driver.
func (d OplogDriver) IsValid() bool {
	switch d {
	case DriverSQLite, DriverPostgres, DriverMemory:
		return true
	}
	return false
}

// Defaults applied by [Normalize].
const (
	DefaultListenAddr    = ":8080"
	DefaultRetentionDays = 30
	DefaultSQLiteFile    = "mcp.db"
	DefaultDataDir       = ".shopify-mcp"
)

// Config is the root configuration structure.
// It is typically loaded with [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Shopify ShopifyConfig `yaml:"shopify"`
	Oplog   OplogConfig   `yaml:"oplog"`
	Polling PollingConfig `yaml:"polling"`
}

// ServerConfig holds transport, network and logging settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Logs always go to stderr.
	LogLevel LogLevel `yaml:"log_level"`

	// Transport selects stdio (default) or streamable-http.
	Transport mcp.Transport `yaml:"transport"`

	// ListenAddr is the address of the streamable-http endpoint.
	// Default: ":8080". Ignored for stdio.
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr serves /metrics, /healthz and /readyz when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`

	// TLS configures TLS for the streamable-http endpoint. When nil, the
	// endpoint runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ShopifyConfig identifies the store and the Admin API credentials.
type ShopifyConfig struct {
	// StoreURL is the store domain, with or without scheme
	// (e.g. "example.myshopify.com"). Normalised to a bare domain.
	StoreURL string `yaml:"store_url"`

	// AccessToken is the Admin API access token of a custom app.
	AccessToken string `yaml:"access_token"`

	// APIVersion is the Admin API version. Default: "2025-01".
	APIVersion string `yaml:"api_version"`

	// Tier is the rate limit tier used when none is stored for the store.
	// Empty means STANDARD.
	Tier string `yaml:"tier"`

	// Timeout bounds a single Admin API request. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// OplogConfig configures the operation log.
type OplogConfig struct {
	// Enabled turns operation logging on or off. Default: true.
	Enabled *bool `yaml:"enabled"`

	// Driver selects the backend. When empty it is derived from DSN:
	// postgres:// and postgresql:// select postgres, anything else sqlite.
	Driver OplogDriver `yaml:"driver"`

	// DSN is the SQLite file path (optionally prefixed with "file:") or the
	// PostgreSQL connection string. Default: ~/.shopify-mcp/mcp.db.
	DSN string `yaml:"dsn"`

	// RetentionDays is how long entries are kept; older entries are purged at
	// start-up. Default: 30.
	RetentionDays int `yaml:"retention_days"`

	// BufferSize is the capacity of the in-memory write queue.
	BufferSize int `yaml:"buffer_size"`

	// SpillFile receives entries as JSON lines while the backend is failing.
	// Empty disables spilling.
	SpillFile string `yaml:"spill_file"`
}

// IsEnabled reports whether operation logging is on.
func (o OplogConfig) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// Retention returns RetentionDays as a duration.
func (o OplogConfig) Retention() time.Duration {
	return time.Duration(o.RetentionDays) * 24 * time.Hour
}

// PollingConfig overrides the poll cadence of long-running tools. Zero
// values keep the built-in defaults.
type PollingConfig struct {
	BulkInterval time.Duration `yaml:"bulk_interval"`
	BulkTimeout  time.Duration `yaml:"bulk_timeout"`
	FileInterval time.Duration `yaml:"file_interval"`
	FileTimeout  time.Duration `yaml:"file_timeout"`
}
