package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultResultsDir is the default directory for run result artifacts.
	DefaultResultsDir = "./results"

	// DefaultTokenTTL is the default lifetime of issued access tokens.
	DefaultTokenTTL = "12h"

	// DefaultRunTimeout bounds how long a run may stay in flight before
	// its remaining targets are failed.
	DefaultRunTimeout = "30m"

	// DefaultStepDelay is the pause between executor progress stages.
	DefaultStepDelay = "1s"
)

// Config is the root configuration for testmgr.
type Config struct {
	Global   GlobalConfig   `yaml:"global"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Runner   RunnerConfig   `yaml:"runner"`
	Storage  StorageConfig  `yaml:"storage,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string     `yaml:"jwt_secret"`
	TokenTTL  string     `yaml:"token_ttl"`
	Seed      []SeedUser `yaml:"seed,omitempty"`
}

// SeedUser defines a user created from config at startup.
type SeedUser struct {
	UserID   string `yaml:"user_id"`
	Password string `yaml:"password"`
	Admin    bool   `yaml:"admin"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

// RunnerConfig contains run execution settings.
type RunnerConfig struct {
	ResultsDir string `yaml:"results_dir"`
	RunTimeout string `yaml:"run_timeout,omitempty"`
	StepDelay  string `yaml:"step_delay,omitempty"`
}

// StorageConfig contains optional backends for serving result artifacts.
// When S3 is enabled, raw-result downloads are redirected to presigned
// URLs instead of being served from the local results directory.
type StorageConfig struct {
	S3 *S3Config `yaml:"s3,omitempty"`
}

// S3Config contains S3 settings for presigned URL generation.
type S3Config struct {
	Enabled         bool     `yaml:"enabled"`
	EndpointURL     string   `yaml:"endpoint_url,omitempty"`
	Region          string   `yaml:"region,omitempty"`
	Bucket          string   `yaml:"bucket"`
	AccessKeyID     string   `yaml:"access_key_id,omitempty"`
	SecretAccessKey string   `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool     `yaml:"force_path_style"`
	PresignExpiry   string   `yaml:"presign_expiry,omitempty"`
	AllowedPrefixes []string `yaml:"allowed_prefixes,omitempty"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "./testmgr.db"
	}

	if c.Runner.ResultsDir == "" {
		c.Runner.ResultsDir = DefaultResultsDir
	}

	if c.Runner.RunTimeout == "" {
		c.Runner.RunTimeout = DefaultRunTimeout
	}

	if c.Runner.StepDelay == "" {
		c.Runner.StepDelay = DefaultStepDelay
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
		return fmt.Errorf("invalid auth.token_ttl: %w", err)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if _, err := time.ParseDuration(c.Runner.RunTimeout); err != nil {
		return fmt.Errorf("invalid runner.run_timeout: %w", err)
	}

	if _, err := time.ParseDuration(c.Runner.StepDelay); err != nil {
		return fmt.Errorf("invalid runner.step_delay: %w", err)
	}

	if c.Runner.ResultsDir != "" {
		dir := filepath.Dir(c.Runner.ResultsDir)
		if dir != "." && dir != ".." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("results directory parent %q does not exist", dir)
			}
		}
	}

	if c.Storage.S3 != nil && c.Storage.S3.Enabled {
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}

		if c.Storage.S3.PresignExpiry != "" {
			if _, err := time.ParseDuration(c.Storage.S3.PresignExpiry); err != nil {
				return fmt.Errorf("invalid storage.s3.presign_expiry: %w", err)
			}
		}
	}

	for i, u := range c.Auth.Seed {
		if u.UserID == "" {
			return fmt.Errorf("auth.seed[%d]: user_id is required", i)
		}

		if u.Password == "" {
			return fmt.Errorf("auth.seed[%d]: password is required", i)
		}
	}

	return nil
}

// TokenTTLDuration returns the parsed token TTL.
func (c *Config) TokenTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.Auth.TokenTTL)

	return d
}

// RunTimeoutDuration returns the parsed run timeout.
func (c *Config) RunTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Runner.RunTimeout)

	return d
}

// StepDelayDuration returns the parsed executor step delay.
func (c *Config) StepDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.Runner.StepDelay)

	return d
}
