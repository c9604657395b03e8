package config

// DefaultConfig returns a minimal Config with no sites configured; callers
// typically load a file and then call ApplyDefaults rather than starting
// from this directly, since a useful agent needs at least one site.
func DefaultConfig() *Config {
	return &Config{
		Sites: map[string]SiteConfig{},
	}
}

// ApplyDefaults fills in any zero-valued field a caller left unset after
// loading a config file, the way the executor's own defaults (chunk size,
// parallelism) apply when a Config field is left at its zero value.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyHTTPDefaults(&cfg.HTTP)

	for name, site := range cfg.Sites {
		applySiteDefaults(&site)
		cfg.Sites[name] = site
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyHTTPDefaults(cfg *HTTPConfig) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8121"
	}
}

const (
	defaultTargetChunkSize   = 1 << 30 // 1Gi
	defaultDeltaChunkSize    = 1 << 30
	defaultDeltaMinFileSize  = 1 << 21 // 2Mi, matches the original's 2*1024*1024
	defaultDeltaMaxRetries   = 3
	defaultMaxParallelChunks = 4
)

func applySiteDefaults(cfg *SiteConfig) {
	if cfg.BasebackupMode == "" {
		cfg.BasebackupMode = "basic"
	}
	if cfg.ActiveBackupMode == "" {
		cfg.ActiveBackupMode = "archive_command"
	}
	if cfg.BasebackupIntervalHours == 0 {
		cfg.BasebackupIntervalHours = 24
	}
	if cfg.TargetChunkSize == 0 {
		cfg.TargetChunkSize = defaultTargetChunkSize
	}
	if cfg.DeltaModeChunkSize == 0 {
		cfg.DeltaModeChunkSize = defaultDeltaChunkSize
	}
	if cfg.DeltaModeMinFileSize == 0 {
		cfg.DeltaModeMinFileSize = defaultDeltaMinFileSize
	}
	if cfg.DeltaModeMaxRetries == 0 {
		cfg.DeltaModeMaxRetries = defaultDeltaMaxRetries
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = defaultMaxParallelChunks
	}
	if cfg.Compression.Algorithm == "" {
		cfg.Compression.Algorithm = "gzip"
	}
}
