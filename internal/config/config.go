package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/posterforge/posterforge/pkg/logger"
)

const envPrefix = "POSTERFORGE_"

// Config is the full configuration surface of the posterpack engine.
type Config struct {
	Server     ServerConfig    `koanf:"server"`
	Logger     logger.Config   `koanf:"logger"`
	Jobs       JobsConfig      `koanf:"jobs"`
	Download   DownloadConfig  `koanf:"download"`
	Export     ExportConfig    `koanf:"export"`
	ExportLogs ExportLogConfig `koanf:"exportlogs"`
	Sources    []SourceConfig  `koanf:"sources"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// JobsConfig bounds the three local concurrency domains.
type JobsConfig struct {
	MaxConcurrent    int `koanf:"max_concurrent"`
	ItemConcurrency  int `koanf:"item_concurrency"` // 0 = min(2, GOMAXPROCS)
	AssetConcurrency int `koanf:"asset_concurrency"`
}

// DownloadConfig controls the retrying downloader and the process-wide
// inflight ceiling.
type DownloadConfig struct {
	MaxInflight    int           `koanf:"max_inflight"` // 0 = unlimited
	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	ImageTimeout   time.Duration `koanf:"image_timeout"`
	MediaTimeout   time.Duration `koanf:"media_timeout"` // video/audio payloads
	ProxyBaseURL   string        `koanf:"proxy_base_url"`
}

// ExportConfig controls archive generation.
type ExportConfig struct {
	OutputDir          string `koanf:"output_dir"`
	FilenameTemplate   string `koanf:"filename_template"`
	CompressionLevel   string `koanf:"compression_level"` // fast, balanced, max
	IncludeFanart      bool   `koanf:"include_fanart"`
	IncludeDiscArt     bool   `koanf:"include_disc_art"`
	IncludeClearArt    bool   `koanf:"include_clear_art"`
	GenerateThumbnails bool   `koanf:"generate_thumbnails"`
	ThumbnailCacheDir  string `koanf:"thumbnail_cache_dir"`
}

// ExportLogConfig controls the export logger directory.
type ExportLogConfig struct {
	Dir         string `koanf:"dir"`
	RotateBytes int64  `koanf:"rotate_bytes"`
	RetainBytes int64  `koanf:"retain_bytes"`
}

// SourceConfig describes one configured media server.
type SourceConfig struct {
	Name    string `koanf:"name"`
	Type    string `koanf:"type"` // plex, jellyfin
	BaseURL string `koanf:"base_url"`
	Token   string `koanf:"token"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":4000"},
		Logger: logger.Config{Level: "info", Format: "json"},
		Jobs: JobsConfig{
			MaxConcurrent:    1,
			ItemConcurrency:  0,
			AssetConcurrency: 4,
		},
		Download: DownloadConfig{
			MaxInflight:    12,
			MaxRetries:     2,
			RetryBaseDelay: 500 * time.Millisecond,
			ImageTimeout:   15 * time.Second,
			MediaTimeout:   2 * time.Minute,
			ProxyBaseURL:   "http://127.0.0.1:4000/proxy",
		},
		Export: ExportConfig{
			OutputDir:          "exports",
			FilenameTemplate:   "{title} ({year})",
			CompressionLevel:   "balanced",
			IncludeFanart:      true,
			IncludeClearArt:    true,
			GenerateThumbnails: true,
			ThumbnailCacheDir:  "cache/thumbnails",
		},
		ExportLogs: ExportLogConfig{
			Dir:         "logs",
			RotateBytes: 5 * 1024 * 1024,
			RetainBytes: 50 * 1024 * 1024,
		},
	}
}

// Load merges defaults, an optional YAML file, and POSTERFORGE_* environment
// variables, in that order of precedence.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("checking config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// POSTERFORGE_DOWNLOAD_MAX_RETRIES -> download.max_retries
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Jobs.ItemConcurrency <= 0 {
		cfg.Jobs.ItemConcurrency = min(2, runtime.GOMAXPROCS(0))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	switch c.Export.CompressionLevel {
	case "fast", "balanced", "max":
	default:
		return fmt.Errorf("unknown compression level %q", c.Export.CompressionLevel)
	}
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be at least 1, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Jobs.AssetConcurrency < 1 {
		return fmt.Errorf("jobs.asset_concurrency must be at least 1, got %d", c.Jobs.AssetConcurrency)
	}
	if c.Download.MaxInflight < 0 {
		return fmt.Errorf("download.max_inflight must not be negative, got %d", c.Download.MaxInflight)
	}
	if c.Download.MaxRetries < 0 {
		return fmt.Errorf("download.max_retries must not be negative, got %d", c.Download.MaxRetries)
	}
	if c.Export.FilenameTemplate == "" {
		return fmt.Errorf("export.filename_template must not be empty")
	}
	if c.ExportLogs.RotateBytes <= 0 || c.ExportLogs.RetainBytes <= 0 {
		return fmt.Errorf("exportlogs rotate_bytes and retain_bytes must be positive")
	}
	for _, src := range c.Sources {
		if src.Name == "" || src.BaseURL == "" {
			return fmt.Errorf("source entries need both name and base_url")
		}
		switch src.Type {
		case "plex", "jellyfin":
		default:
			return fmt.Errorf("source %q has unknown type %q", src.Name, src.Type)
		}
	}
	return nil
}
