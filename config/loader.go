// =============================================================================
// 📦 Standforge 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("STANDFORGE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 旧版环境变量 → 带前缀环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Standforge 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Upstream 上游模型配置（文本 / 图像 / 代理）
	Upstream UpstreamConfig `yaml:"upstream" env:"UPSTREAM"`

	// Generation 生成流程策略
	Generation GenerationConfig `yaml:"generation" env:"GENERATION"`

	// Retry 上游调用重试策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Cache 指纹缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 缓存后端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// History 历史记录配置
	History HistoryConfig `yaml:"history" env:"HISTORY"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo MongoDB 配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Relay 流式中继配置
	Relay RelayConfig `yaml:"relay" env:"RELAY"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（流式接口会自行清除写截止时间）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个 IP 每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源，空表示 *
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// EndpointConfig 单个上游端点
type EndpointConfig struct {
	// 方言: auto, native, openai
	Dialect string `yaml:"dialect" env:"DIALECT"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
}

// UpstreamConfig 上游模型配置
type UpstreamConfig struct {
	// 文本模型端点（概念 / 档案）
	Text EndpointConfig `yaml:"text" env:"TEXT"`
	// 图像模型端点，未配置的字段回落到文本端点
	Image EndpointConfig `yaml:"image" env:"IMAGE"`
	// /generate-text 代理默认模型
	ProxyModel string `yaml:"proxy_model" env:"PROXY_MODEL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// GenerationConfig 生成流程策略
type GenerationConfig struct {
	// 档案阶段失败策略: fatal, degrade
	ProfileFailure string `yaml:"profile_failure" env:"PROFILE_FAILURE"`
	// 图像接口是否使用流式中继
	StreamImage bool `yaml:"stream_image" env:"STREAM_IMAGE"`
	// 图像分支超时
	ImageTimeout time.Duration `yaml:"image_timeout" env:"IMAGE_TIMEOUT"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	// 最大尝试次数（含首次）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 基础延迟
	BaseDelay time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	// 最大延迟
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 退避策略: linear, exponential
	Strategy string `yaml:"strategy" env:"STRATEGY"`
}

// CacheConfig 指纹缓存配置
type CacheConfig struct {
	// 后端: memory, redis, none
	Backend string `yaml:"backend" env:"BACKEND"`
	// 记录有效期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 启用 TLS（托管 Redis 常见要求）
	TLS bool `yaml:"tls" env:"TLS"`
}

// HistoryConfig 历史记录配置
type HistoryConfig struct {
	// 后端: database, mongo, memory, none
	Backend string `yaml:"backend" env:"BACKEND"`
	// 最多保留条数，0 表示不限
	MaxItems int `yaml:"max_items" env:"MAX_ITEMS"`
	// 按 name + abilityName 去重
	Dedupe bool `yaml:"dedupe" env:"DEDUPE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时自动执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 连接超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RelayConfig 流式中继配置
type RelayConfig struct {
	// 保活空白字节间隔，0 表示关闭
	KeepAliveInterval time.Duration `yaml:"keepalive_interval" env:"KEEPALIVE_INTERVAL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "STANDFORGE",
		lookupEnv:  os.LookupEnv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithLookupEnv 替换环境变量来源（测试用）
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 旧版部署使用的环境变量名
	l.applyLegacyEnv(cfg)

	// 4. 带前缀的环境变量优先级最高
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 5. 图像端点回落到文本端点
	cfg.Upstream.fillImageFallback()

	// 6. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// legacyEnvAliases 旧版环境变量名，按顺序取第一个非空值
var legacyEnvAliases = []struct {
	names []string
	field func(*Config) *string
}{
	{
		names: []string{"GEMINI_API_KEY", "VITE_GEMINI_API_KEY", "GEMINI_SECRET_KEY"},
		field: func(c *Config) *string { return &c.Upstream.Text.APIKey },
	},
	{
		names: []string{"GEMINI_BASE_URL", "VITE_GEMINI_BASE_URL"},
		field: func(c *Config) *string { return &c.Upstream.Text.BaseURL },
	},
	{
		names: []string{"GEMINI_MODEL", "VITE_GEMINI_MODEL"},
		field: func(c *Config) *string { return &c.Upstream.Text.Model },
	},
	{
		names: []string{"IMAGE_API_KEY", "VITE_IMAGE_API_KEY"},
		field: func(c *Config) *string { return &c.Upstream.Image.APIKey },
	},
	{
		names: []string{"IMAGE_BASE_URL", "VITE_IMAGE_BASE_URL"},
		field: func(c *Config) *string { return &c.Upstream.Image.BaseURL },
	},
	{
		names: []string{"IMAGE_MODEL", "VITE_IMAGE_MODEL"},
		field: func(c *Config) *string { return &c.Upstream.Image.Model },
	},
}

// applyLegacyEnv 应用旧版环境变量
func (l *Loader) applyLegacyEnv(cfg *Config) {
	for _, alias := range legacyEnvAliases {
		for _, name := range alias.names {
			if v, ok := l.lookupEnv(name); ok && strings.TrimSpace(v) != "" {
				*alias.field(cfg) = strings.TrimSpace(v)
				break
			}
		}
	}
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// fillImageFallback 图像端点未配置的 key / URL 回落到文本端点
func (u *UpstreamConfig) fillImageFallback() {
	if u.Image.APIKey == "" {
		u.Image.APIKey = u.Text.APIKey
	}
	if u.Image.BaseURL == "" {
		u.Image.BaseURL = u.Text.BaseURL
	}
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 服务器
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	// 上游
	endpoints := []struct {
		name string
		ep   EndpointConfig
	}{{"text", c.Upstream.Text}, {"image", c.Upstream.Image}}
	for _, e := range endpoints {
		name, ep := e.name, e.ep
		switch strings.ToLower(ep.Dialect) {
		case "", "auto", "native", "gemini", "native_json", "openai", "openai_compatible", "openai-compatible":
		default:
			errs = append(errs, fmt.Sprintf("upstream.%s.dialect %q is not supported", name, ep.Dialect))
		}
		if ep.Model == "" {
			errs = append(errs, fmt.Sprintf("upstream.%s.model is required", name))
		}
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, "upstream.timeout must be positive")
	}

	// 生成策略
	switch c.Generation.ProfileFailure {
	case "fatal", "degrade":
	default:
		errs = append(errs, fmt.Sprintf("generation.profile_failure %q must be fatal or degrade", c.Generation.ProfileFailure))
	}
	if c.Generation.ImageTimeout <= 0 {
		errs = append(errs, "generation.image_timeout must be positive")
	}

	// 重试
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, "retry.base_delay must not be negative")
	}
	switch c.Retry.Strategy {
	case "linear", "exponential":
	default:
		errs = append(errs, fmt.Sprintf("retry.strategy %q must be linear or exponential", c.Retry.Strategy))
	}

	// 缓存
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		errs = append(errs, fmt.Sprintf("cache.backend %q must be memory, redis or none", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, "cache.ttl must be positive")
	}

	// 历史
	switch c.History.Backend {
	case "database", "mongo", "memory", "none":
	default:
		errs = append(errs, fmt.Sprintf("history.backend %q must be database, mongo, memory or none", c.History.Backend))
	}
	if c.History.MaxItems < 0 {
		errs = append(errs, "history.max_items must not be negative")
	}
	if c.History.Backend == "database" {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
		}
	}
	if c.History.Backend == "mongo" && c.Mongo.URI == "" {
		errs = append(errs, "mongo.uri is required for the mongo history backend")
	}

	if c.Relay.KeepAliveInterval < 0 {
		errs = append(errs, "relay.keepalive_interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
