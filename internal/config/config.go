package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/iconidentify/postgrabba/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Graph    GraphConfig    `yaml:"graph"`
	Download DownloadConfig `yaml:"download"`
	Media    MediaConfig    `yaml:"media"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Worker   WorkerConfig   `yaml:"worker"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"5000"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"5m"`
}

// StorageConfig holds filesystem and database locations.
type StorageConfig struct {
	MediaPath      string `yaml:"media_path" envconfig:"MEDIA_PATH" default:"/data/media"`
	MediaURLPrefix string `yaml:"media_url_prefix" envconfig:"MEDIA_URL_PREFIX" default:"/media"`
	ImportPath     string `yaml:"import_path" envconfig:"IMPORT_PATH" default:"/data/imports"`
	DatabasePath   string `yaml:"database_path" envconfig:"DATABASE_PATH" default:"/data/postgrabba.db"`
	MinFreeBytes   int64  `yaml:"min_free_bytes" envconfig:"MIN_FREE_BYTES" default:"104857600"` // 100MB
}

// GraphConfig holds upstream feed API configuration.
type GraphConfig struct {
	BaseURL           string        `yaml:"base_url" envconfig:"GRAPH_BASE_URL" default:"https://graph.facebook.com/v18.0"`
	AccessToken       string        `yaml:"access_token" envconfig:"GRAPH_ACCESS_TOKEN"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"GRAPH_TIMEOUT" default:"30s"`
	MaxFeedPages      int           `yaml:"max_feed_pages" envconfig:"GRAPH_MAX_FEED_PAGES" default:"5"`
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"GRAPH_REQUESTS_PER_SECOND" default:"5"`
	Burst             int           `yaml:"burst" envconfig:"GRAPH_BURST" default:"5"`
}

// DownloadConfig holds media download configuration.
type DownloadConfig struct {
	PhotoTimeout  time.Duration `yaml:"photo_timeout" envconfig:"DOWNLOAD_PHOTO_TIMEOUT" default:"30s"`
	VideoTimeout  time.Duration `yaml:"video_timeout" envconfig:"DOWNLOAD_VIDEO_TIMEOUT" default:"60s"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"DOWNLOAD_READ_TIMEOUT" default:"20s"`
	MaxAttempts   int           `yaml:"max_attempts" envconfig:"DOWNLOAD_MAX_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"DOWNLOAD_RETRY_DELAY" default:"2s"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" envconfig:"DOWNLOAD_MAX_RETRY_DELAY" default:"15s"`
	UserAgent     string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"`
}

// MediaConfig holds media localization defaults.
type MediaConfig struct {
	Quality        string `yaml:"quality" envconfig:"MEDIA_QUALITY" default:"high"`
	Localize       bool   `yaml:"localize" envconfig:"MEDIA_LOCALIZE" default:"false"`
	ThumbnailWidth int    `yaml:"thumbnail_width" envconfig:"MEDIA_THUMBNAIL_WIDTH" default:"320"`
	// FFmpegPath overrides the ffmpeg lookup in PATH.
	FFmpegPath string `yaml:"ffmpeg_path" envconfig:"MEDIA_FFMPEG_PATH"`
}

// DedupConfig holds duplicate detection settings.
type DedupConfig struct {
	WindowDays int `yaml:"window_days" envconfig:"DEDUP_WINDOW_DAYS" default:"1"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count        int           `yaml:"count" envconfig:"WORKER_COUNT" default:"1"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"WORKER_MAX_RETRIES" default:"0"`
}

// MonitorConfig holds the periodic feed fetch settings.
type MonitorConfig struct {
	Enabled      bool          `yaml:"enabled" envconfig:"MONITOR_ENABLED" default:"false"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"MONITOR_POLL_INTERVAL" default:"1h"`
	LookbackDays int           `yaml:"lookback_days" envconfig:"MONITOR_LOOKBACK_DAYS" default:"2"`
	MaxPages     int           `yaml:"max_pages" envconfig:"MONITOR_MAX_PAGES" default:"2"`
	WithComments bool          `yaml:"with_comments" envconfig:"MONITOR_WITH_COMMENTS" default:"false"`
	// RateLimitBackoff is added to the poll interval after a rate-limited run.
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff" envconfig:"MONITOR_RATE_LIMIT_BACKOFF" default:"15m"`
}

// Load reads configuration from a .env file, the config file and
// environment variables. Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Storage.MediaPath == "" {
		return fmt.Errorf("MEDIA_PATH is required")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if _, err := domain.ParseQualityTier(c.Media.Quality); err != nil {
		return fmt.Errorf("MEDIA_QUALITY: %w", err)
	}
	if c.Dedup.WindowDays < 0 {
		return fmt.Errorf("DEDUP_WINDOW_DAYS must not be negative")
	}
	if c.Monitor.Enabled && c.Monitor.PollInterval < time.Minute {
		return fmt.Errorf("MONITOR_POLL_INTERVAL must be at least 1m")
	}
	return nil
}

// ValidateServer additionally checks settings only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if c.Server.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	return nil
}

// QualityTier returns the configured default quality preset.
func (c *MediaConfig) QualityTier() domain.QualityTier {
	tier, err := domain.ParseQualityTier(c.Quality)
	if err != nil {
		return domain.QualityHigh
	}
	return tier
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
