// =============================================================================
// 📦 Standforge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// 上游默认值（沿用旧版部署的取值）
const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultTextModel  = "gemini-1.5-flash"
	DefaultImageModel = "dall-e-3"
	DefaultProxyModel = "gemini-3-flash-preview"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Upstream:   DefaultUpstreamConfig(),
		Generation: DefaultGenerationConfig(),
		Retry:      DefaultRetryConfig(),
		Cache:      DefaultCacheConfig(),
		Redis:      DefaultRedisConfig(),
		History:    DefaultHistoryConfig(),
		Database:   DefaultDatabaseConfig(),
		Mongo:      DefaultMongoConfig(),
		Relay:      DefaultRelayConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultUpstreamConfig 返回默认上游配置
func DefaultUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		Text: EndpointConfig{
			Dialect: "auto",
			BaseURL: DefaultBaseURL,
			Model:   DefaultTextModel,
		},
		Image: EndpointConfig{
			Dialect: "auto",
			Model:   DefaultImageModel,
		},
		ProxyModel: DefaultProxyModel,
		Timeout:    2 * time.Minute,
	}
}

// DefaultGenerationConfig 返回默认生成策略
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		ProfileFailure: "fatal",
		StreamImage:    true,
		ImageTimeout:   2 * time.Minute,
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Strategy:    "linear",
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend: "memory",
		TTL:     55 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultHistoryConfig 返回默认历史配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Backend:  "database",
		MaxItems: 10,
		Dedupe:   true,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "standforge",
		Password:        "",
		Name:            "standforge.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "",
		Database:   "standforge",
		Collection: "stands",
		Timeout:    10 * time.Second,
	}
}

// DefaultRelayConfig 返回默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		KeepAliveInterval: 15 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "standforge",
		SampleRate:   0.1,
	}
}
