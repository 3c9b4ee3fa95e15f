package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, UpstreamConfig{}, cfg.Upstream)
	assert.NotEqual(t, GenerationConfig{}, cfg.Generation)
	assert.NotEqual(t, RetryConfig{}, cfg.Retry)
	assert.NotEqual(t, CacheConfig{}, cfg.Cache)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, HistoryConfig{}, cfg.History)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, MongoConfig{}, cfg.Mongo)
	assert.NotEqual(t, RelayConfig{}, cfg.Relay)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Positive(t, cfg.RateLimitRPS)
	assert.GreaterOrEqual(t, cfg.RateLimitBurst, cfg.RateLimitRPS)
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestDefaultUpstreamConfig(t *testing.T) {
	cfg := DefaultUpstreamConfig()
	assert.Equal(t, "auto", cfg.Text.Dialect)
	assert.Equal(t, "auto", cfg.Image.Dialect)
	assert.Empty(t, cfg.Text.APIKey)
	assert.Empty(t, cfg.Image.BaseURL, "image URL is filled from the text endpoint at load time")
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, "linear", cfg.Strategy)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.True(t, cfg.AutoMigrate)
}

func TestDefaultMongoConfig(t *testing.T) {
	cfg := DefaultMongoConfig()
	assert.Empty(t, cfg.URI)
	assert.Equal(t, "standforge", cfg.Database)
	assert.Equal(t, "stands", cfg.Collection)
}

func TestDefaultRelayConfig(t *testing.T) {
	assert.Equal(t, 15*time.Second, DefaultRelayConfig().KeepAliveInterval)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "standforge", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 1e-9)
}
