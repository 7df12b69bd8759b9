package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Registry  RegistryConfig  `mapstructure:"registry"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retention RetentionConfig `mapstructure:"retention"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// RegistryConfig contains model registry settings
type RegistryConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AuthToken      string `mapstructure:"auth_token"`
	SkipTLSVerify  bool   `mapstructure:"skip_tls_verify"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

// CacheConfig contains download and cache settings
type CacheConfig struct {
	RootDir                string `mapstructure:"root_dir"`
	MaxSizeGB              int    `mapstructure:"max_size_gb"`
	ConcurrentDownloads    int    `mapstructure:"concurrent_downloads"`
	MaxDownloadRetries     int    `mapstructure:"max_download_retries"`
	RetryBaseDelay         string `mapstructure:"retry_base_delay"`
	ChunkSizeKB            int    `mapstructure:"chunk_size_kb"`
	ProgressUpdateInterval string `mapstructure:"progress_update_interval"`
	SpeedWindow            string `mapstructure:"speed_window"`
	KeepPartialOnCancel    bool   `mapstructure:"keep_partial_on_cancel"`
}

// RetentionConfig controls cleanup of terminal tasks
type RetentionConfig struct {
	Window        string `mapstructure:"window"`
	SweepInterval string `mapstructure:"sweep_interval"`
	PartialMaxAge string `mapstructure:"partial_max_age"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains task journal database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("registry.base_url", "")
	viper.SetDefault("registry.skip_tls_verify", false)
	viper.SetDefault("registry.request_timeout", "30s")
	viper.SetDefault("cache.root_dir", "/var/lib/model-artifact-cache")
	viper.SetDefault("cache.max_size_gb", 0)
	viper.SetDefault("cache.concurrent_downloads", 3)
	viper.SetDefault("cache.max_download_retries", 3)
	viper.SetDefault("cache.retry_base_delay", "500ms")
	viper.SetDefault("cache.chunk_size_kb", 256)
	viper.SetDefault("cache.progress_update_interval", "1s")
	viper.SetDefault("cache.speed_window", "10s")
	viper.SetDefault("cache.keep_partial_on_cancel", false)
	viper.SetDefault("retention.window", "24h")
	viper.SetDefault("retention.sweep_interval", "1h")
	viper.SetDefault("retention.partial_max_age", "24h")
	viper.SetDefault("http.bind_addr", "0.0.0.0:8080")
	viper.SetDefault("http.read_timeout", "30s")
	viper.SetDefault("http.write_timeout", "30s")
	viper.SetDefault("http.idle_timeout", "60s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("database.path", "")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cache.RootDir == "" {
		return fmt.Errorf("cache.root_dir is required")
	}
	if c.Cache.MaxSizeGB < 0 {
		return fmt.Errorf("cache.max_size_gb must not be negative")
	}
	if c.Cache.ConcurrentDownloads < 1 || c.Cache.ConcurrentDownloads > 16 {
		return fmt.Errorf("cache.concurrent_downloads must be between 1 and 16")
	}
	if c.Cache.MaxDownloadRetries < 0 {
		return fmt.Errorf("cache.max_download_retries must not be negative")
	}

	if _, err := time.ParseDuration(c.Cache.RetryBaseDelay); err != nil {
		return fmt.Errorf("invalid cache.retry_base_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Retention.Window); err != nil {
		return fmt.Errorf("invalid retention.window: %w", err)
	}
	if _, err := time.ParseDuration(c.Retention.SweepInterval); err != nil {
		return fmt.Errorf("invalid retention.sweep_interval: %w", err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetRequestTimeout returns the registry request timeout as time.Duration
func (c *RegistryConfig) GetRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetMaxSizeBytes returns the cache ceiling in bytes, 0 when unlimited
func (c *CacheConfig) GetMaxSizeBytes() int64 {
	return int64(c.MaxSizeGB) * 1024 * 1024 * 1024
}

// GetRetryBaseDelay returns the base retry delay as time.Duration
func (c *CacheConfig) GetRetryBaseDelay() time.Duration {
	d, _ := time.ParseDuration(c.RetryBaseDelay)
	if d == 0 {
		return 500 * time.Millisecond
	}
	return d
}

// GetChunkSize returns the transfer chunk size in bytes
func (c *CacheConfig) GetChunkSize() int {
	if c.ChunkSizeKB <= 0 {
		return 256 * 1024
	}
	return c.ChunkSizeKB * 1024
}

// GetProgressUpdateInterval returns the progress update interval as time.Duration
func (c *CacheConfig) GetProgressUpdateInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressUpdateInterval)
	if d == 0 {
		return time.Second
	}
	return d
}

// GetSpeedWindow returns the sliding speed window as time.Duration
func (c *CacheConfig) GetSpeedWindow() time.Duration {
	d, _ := time.ParseDuration(c.SpeedWindow)
	if d == 0 {
		return 10 * time.Second
	}
	return d
}

// GetWindow returns the retention window as time.Duration
func (c *RetentionConfig) GetWindow() time.Duration {
	d, _ := time.ParseDuration(c.Window)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetSweepInterval returns the sweep interval as time.Duration
func (c *RetentionConfig) GetSweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetPartialMaxAge returns the orphaned partial max age as time.Duration
func (c *RetentionConfig) GetPartialMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.PartialMaxAge)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}
