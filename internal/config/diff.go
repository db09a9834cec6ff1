package config

// ConfigDiff describes what changed between two configs.
// Tier, log level and polling changes are applied live; everything listed in
// RestartRequired only takes effect after a restart.
type ConfigDiff struct {
	TierChanged bool
	NewTier     string

	LogLevelChanged bool
	NewLogLevel     LogLevel

	PollingChanged bool
	NewPolling     PollingConfig

	// RestartRequired names the changed settings that cannot be hot-reloaded,
	// e.g. "shopify.store_url".
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.TierChanged || d.LogLevelChanged || d.PollingChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Shopify.Tier != new.Shopify.Tier {
		d.TierChanged = true
		d.NewTier = new.Shopify.Tier
	}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Polling != new.Polling {
		d.PollingChanged = true
		d.NewPolling = new.Polling
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.transport", old.Server.Transport != new.Server.Transport)
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.metrics_addr", old.Server.MetricsAddr != new.Server.MetricsAddr)
	restart("server.tls", !equalTLS(old.Server.TLS, new.Server.TLS))
	restart("shopify.store_url", old.Shopify.StoreURL != new.Shopify.StoreURL)
	restart("shopify.access_token", old.Shopify.AccessToken != new.Shopify.AccessToken)
	restart("shopify.api_version", old.Shopify.APIVersion != new.Shopify.APIVersion)
	restart("shopify.timeout", old.Shopify.Timeout != new.Shopify.Timeout)
	restart("oplog", !equalOplog(old.Oplog, new.Oplog))

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalOplog(a, b OplogConfig) bool {
	if a.IsEnabled() != b.IsEnabled() {
		return false
	}
	a.Enabled, b.Enabled = nil, nil
	return a == b
}
