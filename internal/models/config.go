package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	BackendHTTP        = "http"
	BackendPlaceholder = "placeholder"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	ServerAddr string `yaml:"server_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	SDAPI   SDAPIConfig   `yaml:"sd_api"`
	Files   FilesConfig   `yaml:"files"`
	Gallery GalleryConfig `yaml:"gallery"`
	Kafka   KafkaConfig   `yaml:"kafka"`
}

// SDAPIConfig describes the external image-generation endpoint.
type SDAPIConfig struct {
	URL            string `yaml:"url"`
	Model          string `yaml:"model"`
	DefaultSize    string `yaml:"default_size"`
	DefaultCount   int    `yaml:"default_count"`
	ResponseFormat string `yaml:"response_format"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	Backend        string `yaml:"backend"` // http | placeholder
}

func (c SDAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

type FilesConfig struct {
	OutputDir       string `yaml:"output_dir"`
	ThumbsDir       string `yaml:"thumbs_dir"`
	MaxPromptLength int    `yaml:"max_prompt_length"`
}

type GalleryConfig struct {
	Driver           string `yaml:"driver"` // sqlite | postgres
	DBFile           string `yaml:"db_file"`
	DatabaseURL      string `yaml:"database_url"`
	ItemsPerPage     int    `yaml:"items_per_page"`
	ThumbnailSize    []int  `yaml:"thumbnail_size"`
	ThumbnailQuality int    `yaml:"thumbnail_quality"`
	DefaultQuality   string `yaml:"default_quality"`
}

// ThumbnailBox returns the configured thumbnail width and height.
func (c GalleryConfig) ThumbnailBox() (int, int) {
	if len(c.ThumbnailSize) != 2 {
		return 300, 300
	}
	return c.ThumbnailSize[0], c.ThumbnailSize[1]
}

// KafkaConfig enables job event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LoadConfig reads the YAML file at path. A missing file is an error: the
// service refuses to start without one.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every zero-valued field.
func (c *Config) ApplyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":5000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if c.SDAPI.Model == "" {
		c.SDAPI.Model = "sd-turbo"
	}
	if c.SDAPI.DefaultSize == "" {
		c.SDAPI.DefaultSize = "512x512"
	}
	if c.SDAPI.DefaultCount <= 0 {
		c.SDAPI.DefaultCount = 1
	}
	if c.SDAPI.ResponseFormat == "" {
		c.SDAPI.ResponseFormat = "b64_json"
	}
	if c.SDAPI.TimeoutSec <= 0 {
		c.SDAPI.TimeoutSec = 30
	}
	if c.SDAPI.Backend == "" {
		c.SDAPI.Backend = BackendHTTP
	}

	if c.Files.OutputDir == "" {
		c.Files.OutputDir = "output"
	}
	if c.Files.ThumbsDir == "" {
		c.Files.ThumbsDir = "output/thumbs"
	}
	if c.Files.MaxPromptLength <= 0 {
		c.Files.MaxPromptLength = 500
	}

	if c.Gallery.Driver == "" {
		c.Gallery.Driver = DriverSQLite
	}
	if c.Gallery.DBFile == "" {
		c.Gallery.DBFile = "gallery.db"
	}
	if c.Gallery.ItemsPerPage <= 0 {
		c.Gallery.ItemsPerPage = 20
	}
	if len(c.Gallery.ThumbnailSize) == 0 {
		c.Gallery.ThumbnailSize = []int{300, 300}
	}
	if c.Gallery.ThumbnailQuality <= 0 {
		c.Gallery.ThumbnailQuality = 85
	}
	if c.Gallery.DefaultQuality == "" {
		c.Gallery.DefaultQuality = "low"
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "generation-jobs"
	}
}

func (c *Config) Validate() error {
	switch c.SDAPI.Backend {
	case BackendHTTP:
		if c.SDAPI.URL == "" {
			return fmt.Errorf("sd_api.url is required for the %q backend", BackendHTTP)
		}
	case BackendPlaceholder:
	default:
		return fmt.Errorf("unknown sd_api.backend %q", c.SDAPI.Backend)
	}

	switch c.Gallery.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Gallery.DatabaseURL == "" {
			return fmt.Errorf("gallery.database_url is required for the %q driver", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown gallery.driver %q", c.Gallery.Driver)
	}

	if len(c.Gallery.ThumbnailSize) != 2 || c.Gallery.ThumbnailSize[0] <= 0 || c.Gallery.ThumbnailSize[1] <= 0 {
		return fmt.Errorf("gallery.thumbnail_size must be [width, height], got %v", c.Gallery.ThumbnailSize)
	}
	if c.Gallery.ThumbnailQuality > 100 {
		return fmt.Errorf("gallery.thumbnail_quality must be 1..100, got %d", c.Gallery.ThumbnailQuality)
	}
	return nil
}
