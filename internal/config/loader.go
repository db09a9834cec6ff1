package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/shopify-store-mcp/internal/mcp"
	"github.com/MrWong99/shopify-store-mcp/internal/ratelimit"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// Environment variables read by [ApplyEnv].
const (
	EnvStoreURL       = "SHOPIFY_STORE_URL"
	EnvAccessToken    = "SHOPIFY_ACCESS_TOKEN"
	EnvAPIVersion     = "SHOPIFY_API_VERSION"
	EnvTier           = "SHOPIFY_TIER"
	EnvLogOperations  = "MCP_LOG_OPERATIONS"
	EnvRetentionDays  = "MCP_LOG_RETENTION_DAYS"
	EnvDatabaseURL    = "DATABASE_URL"
	EnvLogLevel       = "MCP_LOG_LEVEL"
	EnvTransport      = "MCP_TRANSPORT"
	EnvListenAddr     = "MCP_LISTEN_ADDR"
	EnvMetricsAddress = "MCP_METRICS_ADDR"
)

// LookupFunc reads one environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// apiVersionPattern matches "2025-01" style versions.
var apiVersionPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config]. An empty path loads the
// configuration from the environment alone.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is [Load] with a custom environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	if path == "" {
		return finish(&Config{}, lookup)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReaderWithEnv(f, lookup)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	return LoadFromReaderWithEnv(r, os.LookupEnv)
}

// LoadFromReaderWithEnv is [LoadFromReader] with a custom environment.
// Useful in tests where configs are constructed from string literals.
func LoadFromReaderWithEnv(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg, lookup)
}

func finish(cfg *Config, lookup LookupFunc) (*Config, error) {
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables that are set:
//
//	SHOPIFY_STORE_URL       shopify.store_url
//	SHOPIFY_ACCESS_TOKEN    shopify.access_token
//	SHOPIFY_API_VERSION     shopify.api_version
//	SHOPIFY_TIER            shopify.tier
//	MCP_LOG_OPERATIONS      oplog.enabled (true/false)
//	MCP_LOG_RETENTION_DAYS  oplog.retention_days
//	DATABASE_URL            oplog.dsn
//	MCP_LOG_LEVEL           server.log_level
//	MCP_TRANSPORT           server.transport
//	MCP_LISTEN_ADDR         server.listen_addr
//	MCP_METRICS_ADDR        server.metrics_addr
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvStoreURL, &cfg.Shopify.StoreURL)
	str(EnvAccessToken, &cfg.Shopify.AccessToken)
	str(EnvAPIVersion, &cfg.Shopify.APIVersion)
	str(EnvTier, &cfg.Shopify.Tier)
	str(EnvDatabaseURL, &cfg.Oplog.DSN)
	str(EnvListenAddr, &cfg.Server.ListenAddr)
	str(EnvMetricsAddress, &cfg.Server.MetricsAddr)
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := lookup(EnvTransport); ok && v != "" {
		cfg.Server.Transport = mcp.Transport(v)
	}

	var errs []error
	if v, ok := lookup(EnvLogOperations); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s=%q is not a boolean", EnvLogOperations, v))
		} else {
			cfg.Oplog.Enabled = &b
		}
	}
	if v, ok := lookup(EnvRetentionDays); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s=%q is not an integer", EnvRetentionDays, v))
		} else {
			cfg.Oplog.RetentionDays = n
		}
	}
	return errors.Join(errs...)
}

// Normalize fills defaults and canonicalises values in place.
func Normalize(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = mcp.TransportStdio
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}

	cfg.Shopify.StoreURL = shopify.NormalizeStoreDomain(cfg.Shopify.StoreURL)
	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = shopify.DefaultAPIVersion
	}
	if cfg.Shopify.Tier != "" {
		cfg.Shopify.Tier = strings.ToUpper(strings.TrimSpace(cfg.Shopify.Tier))
	}

	o := &cfg.Oplog
	o.DSN = strings.TrimPrefix(o.DSN, "file:")
	if o.Driver == "" {
		if strings.HasPrefix(o.DSN, "postgres://") || strings.HasPrefix(o.DSN, "postgresql://") {
			o.Driver = DriverPostgres
		} else {
			o.Driver = DriverSQLite
		}
	}
	if o.Driver == DriverSQLite && o.DSN == "" {
		o.DSN = DefaultSQLitePath()
	}
	if o.RetentionDays == 0 {
		o.RetentionDays = DefaultRetentionDays
	}
}

// DefaultSQLitePath returns ~/.shopify-mcp/mcp.db, or a path relative to the
// working directory when the home directory is unknown.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultDataDir, DefaultSQLiteFile)
	}
	return filepath.Join(home, DefaultDataDir, DefaultSQLiteFile)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Transport != "" && !cfg.Server.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("server.transport %q is invalid; valid values: stdio, streamable-http", cfg.Server.Transport))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Shopify
	if cfg.Shopify.StoreURL == "" {
		errs = append(errs, fmt.Errorf("shopify.store_url is required (or set %s)", EnvStoreURL))
	}
	if cfg.Shopify.AccessToken == "" {
		errs = append(errs, fmt.Errorf("shopify.access_token is required (or set %s)", EnvAccessToken))
	}
	if v := cfg.Shopify.APIVersion; v != "" && v != "unstable" && !apiVersionPattern.MatchString(v) {
		errs = append(errs, fmt.Errorf("shopify.api_version %q is invalid; expected YYYY-MM or unstable", v))
	}
	if cfg.Shopify.Tier != "" {
		if _, err := ratelimit.ParseTier(cfg.Shopify.Tier); err != nil {
			errs = append(errs, fmt.Errorf("shopify.tier %q is invalid; valid values: STANDARD, ADVANCED, PLUS, ENTERPRISE", cfg.Shopify.Tier))
		}
	}
	if cfg.Shopify.Timeout < 0 {
		errs = append(errs, fmt.Errorf("shopify.timeout %s must not be negative", cfg.Shopify.Timeout))
	}

	// Operation log
	o := cfg.Oplog
	if o.Driver != "" && !o.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("oplog.driver %q is invalid; valid values: sqlite, postgres, memory", o.Driver))
	}
	if o.IsEnabled() && o.Driver == DriverPostgres && o.DSN == "" {
		errs = append(errs, fmt.Errorf("oplog.dsn is required for the postgres driver (or set %s)", EnvDatabaseURL))
	}
	if o.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("oplog.retention_days %d must not be negative", o.RetentionDays))
	}
	if o.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("oplog.buffer_size %d must not be negative", o.BufferSize))
	}

	// Polling
	p := cfg.Polling
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"bulk_interval", p.BulkInterval},
		{"bulk_timeout", p.BulkTimeout},
		{"file_interval", p.FileInterval},
		{"file_timeout", p.FileTimeout},
	} {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("polling.%s %s must not be negative", f.name, f.d))
		}
	}
	if p.BulkInterval > 0 && p.BulkTimeout > 0 && p.BulkInterval > p.BulkTimeout {
		errs = append(errs, fmt.Errorf("polling.bulk_interval %s exceeds polling.bulk_timeout %s", p.BulkInterval, p.BulkTimeout))
	}
	if p.FileInterval > 0 && p.FileTimeout > 0 && p.FileInterval > p.FileTimeout {
		errs = append(errs, fmt.Errorf("polling.file_interval %s exceeds polling.file_timeout %s", p.FileInterval, p.FileTimeout))
	}

	return errors.Join(errs...)
}
