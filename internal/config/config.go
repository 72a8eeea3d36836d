// Package config loads tool settings from an optional YAML file and the
// environment. Environment variables always win over file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all tool settings.
type Config struct {
	// Paths
	DataDir     string
	RawDir      string
	ZipDir      string
	OutputDir   string
	StationFile string
	CacheDir    string

	// Download
	BaseURL     string
	LinkPattern string
	HTTPTimeout time.Duration
	MaxRetries  int

	// Processing
	MaxWorkers     int
	ChunkSize      int
	SkipRows       int
	LocalTimeShift float64
	MemoryLimitMB  int

	// Cache
	CacheEnabled   bool
	CacheMaxSizeMB int
	CacheTTL       time.Duration
	RawTTL         time.Duration

	// Kafka result publishing. Disabled unless a topic is configured.
	KafkaBrokers     []string
	KafkaResultTopic string
	KafkaEnabled     bool

	// Observability. HTTPAddr empty leaves the metrics endpoint off.
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// fileConfig mirrors the YAML layout. Pointer fields distinguish
// absent keys from zero values.
type fileConfig struct {
	Paths struct {
		DataDir     string `yaml:"data_dir"`
		RawDir      string `yaml:"knmi_dir"`
		ZipDir      string `yaml:"knmi_zip_dir"`
		OutputDir   string `yaml:"epw_output_dir"`
		StationFile string `yaml:"station_info_file"`
		CacheDir    string `yaml:"cache_dir"`
	} `yaml:"paths"`
	URLs struct {
		BaseURL     string `yaml:"base_url"`
		LinkPattern string `yaml:"link_pattern"`
	} `yaml:"urls"`
	Processing struct {
		LocalTimeShift *float64 `yaml:"local_time_shift"`
		SkipRows       *int     `yaml:"skiprows"`
		MaxWorkers     *int     `yaml:"max_workers"`
		ChunkSize      *int     `yaml:"chunk_size"`
		CacheEnabled   *bool    `yaml:"cache_enabled"`
		MemoryLimitMB  *int     `yaml:"memory_limit_mb"`
	} `yaml:"processing"`
}

// Load reads configuration, applying defaults where unset. A .env file in the
// working directory is honored when present; KNMI_CONFIG_FILE may point at a
// YAML file whose values sit between the defaults and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:     "data",
		RawDir:      "data/knmi",
		ZipDir:      "data/knmi_zip",
		OutputDir:   "output/epw",
		StationFile: "data/stations/knmi_STN_infor.csv",
		CacheDir:    "data/cache",

		BaseURL:     "https://www.knmi.nl/nederland-nu/klimatologie/uurgegevens",
		LinkPattern: "<a href='(.*zip)'>",

		LocalTimeShift: 1.0,
		SkipRows:       31,
		MaxWorkers:     4,
		ChunkSize:      10000,
		CacheEnabled:   true,
		MemoryLimitMB:  1024,
	}

	if path := os.Getenv("KNMI_CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read KNMI_CONFIG_FILE: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse KNMI_CONFIG_FILE: %w", err)
	}

	setIfPresent(&cfg.DataDir, fc.Paths.DataDir)
	setIfPresent(&cfg.RawDir, fc.Paths.RawDir)
	setIfPresent(&cfg.ZipDir, fc.Paths.ZipDir)
	setIfPresent(&cfg.OutputDir, fc.Paths.OutputDir)
	setIfPresent(&cfg.StationFile, fc.Paths.StationFile)
	setIfPresent(&cfg.CacheDir, fc.Paths.CacheDir)
	setIfPresent(&cfg.BaseURL, fc.URLs.BaseURL)
	setIfPresent(&cfg.LinkPattern, fc.URLs.LinkPattern)

	if fc.Processing.LocalTimeShift != nil {
		cfg.LocalTimeShift = *fc.Processing.LocalTimeShift
	}
	if fc.Processing.SkipRows != nil {
		cfg.SkipRows = *fc.Processing.SkipRows
	}
	if fc.Processing.MaxWorkers != nil {
		cfg.MaxWorkers = *fc.Processing.MaxWorkers
	}
	if fc.Processing.ChunkSize != nil {
		cfg.ChunkSize = *fc.Processing.ChunkSize
	}
	if fc.Processing.CacheEnabled != nil {
		cfg.CacheEnabled = *fc.Processing.CacheEnabled
	}
	if fc.Processing.MemoryLimitMB != nil {
		cfg.MemoryLimitMB = *fc.Processing.MemoryLimitMB
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.DataDir = envOrDefault("KNMI_DATA_DIR", cfg.DataDir)
	cfg.RawDir = envOrDefault("KNMI_RAW_DIR", cfg.RawDir)
	cfg.ZipDir = envOrDefault("KNMI_ZIP_DIR", cfg.ZipDir)
	cfg.OutputDir = envOrDefault("KNMI_OUTPUT_DIR", cfg.OutputDir)
	cfg.StationFile = envOrDefault("KNMI_STATION_FILE", cfg.StationFile)
	cfg.CacheDir = envOrDefault("KNMI_CACHE_DIR", cfg.CacheDir)
	cfg.BaseURL = envOrDefault("KNMI_BASE_URL", cfg.BaseURL)
	cfg.LinkPattern = envOrDefault("KNMI_LINK_PATTERN", cfg.LinkPattern)

	var err error
	if cfg.HTTPTimeout, err = envDuration("KNMI_HTTP_TIMEOUT", 30*time.Second); err != nil {
		return err
	}
	if cfg.MaxRetries, err = envInt("KNMI_MAX_RETRIES", 3); err != nil {
		return err
	}
	if cfg.MaxWorkers, err = envInt("KNMI_MAX_WORKERS", cfg.MaxWorkers); err != nil {
		return err
	}
	if cfg.ChunkSize, err = envInt("KNMI_CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return err
	}
	if cfg.SkipRows, err = envInt("KNMI_SKIP_ROWS", cfg.SkipRows); err != nil {
		return err
	}
	if cfg.LocalTimeShift, err = envFloat("KNMI_LOCAL_TIME_SHIFT", cfg.LocalTimeShift); err != nil {
		return err
	}
	if cfg.MemoryLimitMB, err = envInt("KNMI_MEMORY_LIMIT_MB", cfg.MemoryLimitMB); err != nil {
		return err
	}
	cfg.CacheEnabled = envBool("KNMI_CACHE_ENABLED", cfg.CacheEnabled)
	if cfg.CacheMaxSizeMB, err = envInt("KNMI_CACHE_MAX_SIZE_MB", 200); err != nil {
		return err
	}
	if cfg.CacheTTL, err = envDuration("KNMI_CACHE_TTL", 24*time.Hour); err != nil {
		return err
	}
	if cfg.RawTTL, err = envDuration("KNMI_RAW_TTL", 7*24*time.Hour); err != nil {
		return err
	}

	cfg.KafkaBrokers = parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092"))
	cfg.KafkaResultTopic = os.Getenv("KAFKA_RESULT_TOPIC")
	cfg.KafkaEnabled = cfg.KafkaResultTopic != ""

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	cfg.LogLevel = envOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = envOrDefault("LOG_FORMAT", "json")
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return err
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.BaseURL == "" {
		return errors.New("KNMI_BASE_URL is required")
	}
	if _, err := regexp.Compile(cfg.LinkPattern); err != nil {
		return fmt.Errorf("invalid KNMI_LINK_PATTERN: %w", err)
	}
	if cfg.StationFile == "" {
		return errors.New("KNMI_STATION_FILE is required")
	}
	if cfg.MaxWorkers < 1 {
		return errors.New("KNMI_MAX_WORKERS must be at least 1")
	}
	if cfg.ChunkSize < 1 {
		return errors.New("KNMI_CHUNK_SIZE must be at least 1")
	}
	if cfg.SkipRows < 0 {
		return errors.New("KNMI_SKIP_ROWS must not be negative")
	}
	if cfg.MaxRetries < 1 {
		return errors.New("KNMI_MAX_RETRIES must be at least 1")
	}
	if cfg.HTTPTimeout <= 0 {
		return errors.New("KNMI_HTTP_TIMEOUT must be positive")
	}
	if cfg.CacheMaxSizeMB < 1 {
		return errors.New("KNMI_CACHE_MAX_SIZE_MB must be at least 1")
	}
	if cfg.CacheTTL <= 0 || cfg.RawTTL <= 0 {
		return errors.New("cache TTLs must be positive")
	}
	if cfg.MemoryLimitMB < 1 {
		return errors.New("KNMI_MEMORY_LIMIT_MB must be at least 1")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return errors.New("KAFKA_RESULT_TOPIC is set but KAFKA_BROKERS is empty")
	}
	return nil
}

// EnsureDirs creates every directory the tool writes into.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		c.RawDir,
		c.ZipDir,
		c.OutputDir,
		c.CacheDir,
		filepath.Dir(c.StationFile),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
