package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"KNMI_CONFIG_FILE", "KNMI_DATA_DIR", "KNMI_RAW_DIR", "KNMI_ZIP_DIR",
		"KNMI_OUTPUT_DIR", "KNMI_STATION_FILE", "KNMI_CACHE_DIR",
		"KNMI_BASE_URL", "KNMI_LINK_PATTERN", "KNMI_HTTP_TIMEOUT",
		"KNMI_MAX_RETRIES", "KNMI_MAX_WORKERS", "KNMI_CHUNK_SIZE",
		"KNMI_SKIP_ROWS", "KNMI_LOCAL_TIME_SHIFT", "KNMI_MEMORY_LIMIT_MB",
		"KNMI_CACHE_ENABLED", "KNMI_CACHE_MAX_SIZE_MB", "KNMI_CACHE_TTL",
		"KNMI_RAW_TTL", "KAFKA_BROKERS", "KAFKA_RESULT_TOPIC",
		"HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "data/knmi", cfg.RawDir)
	assert.Equal(t, "data/knmi_zip", cfg.ZipDir)
	assert.Equal(t, "output/epw", cfg.OutputDir)
	assert.Equal(t, "data/stations/knmi_STN_infor.csv", cfg.StationFile)
	assert.Equal(t, "data/cache", cfg.CacheDir)
	assert.Equal(t, "https://www.knmi.nl/nederland-nu/klimatologie/uurgegevens", cfg.BaseURL)
	assert.Equal(t, "<a href='(.*zip)'>", cfg.LinkPattern)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 10000, cfg.ChunkSize)
	assert.Equal(t, 31, cfg.SkipRows)
	assert.Equal(t, 1.0, cfg.LocalTimeShift)
	assert.Equal(t, 1024, cfg.MemoryLimitMB)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 200, cfg.CacheMaxSizeMB)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RawTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.KafkaEnabled)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("KNMI_RAW_DIR", "/tmp/raw")
	t.Setenv("KNMI_MAX_WORKERS", "8")
	t.Setenv("KNMI_CHUNK_SIZE", "500")
	t.Setenv("KNMI_CACHE_ENABLED", "false")
	t.Setenv("KNMI_CACHE_TTL", "1h")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("KAFKA_RESULT_TOPIC", "epw-results")
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/raw", cfg.RawDir)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "epw-results", cfg.KafkaResultTopic)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, ":9100", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)

	yaml := `
paths:
  knmi_dir: /srv/knmi/raw
  epw_output_dir: /srv/knmi/epw
processing:
  max_workers: 2
  chunk_size: 2500
  cache_enabled: false
`
	path := filepath.Join(t.TempDir(), "knmi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("KNMI_CONFIG_FILE", path)

	t.Run("file values apply over defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "/srv/knmi/raw", cfg.RawDir)
		assert.Equal(t, "/srv/knmi/epw", cfg.OutputDir)
		assert.Equal(t, 2, cfg.MaxWorkers)
		assert.Equal(t, 2500, cfg.ChunkSize)
		assert.False(t, cfg.CacheEnabled)
		// Untouched keys keep their defaults.
		assert.Equal(t, "data/knmi_zip", cfg.ZipDir)
		assert.Equal(t, 31, cfg.SkipRows)
	})

	t.Run("environment beats the file", func(t *testing.T) {
		t.Setenv("KNMI_MAX_WORKERS", "6")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 6, cfg.MaxWorkers)
	})

	t.Run("missing file fails", func(t *testing.T) {
		t.Setenv("KNMI_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load()
		require.Error(t, err)
	})
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"zero workers", "KNMI_MAX_WORKERS", "0"},
		{"negative chunk size", "KNMI_CHUNK_SIZE", "-1"},
		{"garbage int", "KNMI_MAX_RETRIES", "three"},
		{"garbage duration", "KNMI_CACHE_TTL", "daily"},
		{"zero cache size", "KNMI_CACHE_MAX_SIZE_MB", "0"},
		{"broken link pattern", "KNMI_LINK_PATTERN", "<a href='(.*zip'>"},
		{"kafka topic without brokers", "KAFKA_RESULT_TOPIC", "epw-results"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			if tc.name == "kafka topic without brokers" {
				t.Setenv("KAFKA_BROKERS", " ")
			}
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
