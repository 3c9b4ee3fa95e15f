package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/standforge/api/handlers"
	"github.com/BaSui01/standforge/config"
	"github.com/BaSui01/standforge/internal/cache"
	"github.com/BaSui01/standforge/internal/history"
	"github.com/BaSui01/standforge/internal/metrics"
	"github.com/BaSui01/standforge/internal/orchestrator"
	"github.com/BaSui01/standforge/internal/relay"
	"github.com/BaSui01/standforge/internal/server"
	"github.com/BaSui01/standforge/internal/telemetry"
	"github.com/BaSui01/standforge/llm/retry"
	"github.com/BaSui01/standforge/llm/upstream"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Standforge 的主服务器
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 依赖
	collector    *metrics.Collector
	upstream     *upstream.Client
	cache        *cache.FingerprintCache
	history      history.Store
	orchestrator *orchestrator.Orchestrator
	relay        *relay.Relay

	// Handlers
	healthHandler   *handlers.HealthHandler
	generateHandler *handlers.GenerateHandler
	textHandler     *handlers.TextProxyHandler
	standHandler    *handlers.StandHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: providers,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化依赖并启动 API 与 Metrics 两个服务器
func (s *Server) Start(ctx context.Context) error {
	// 1. 初始化指标收集器
	s.collector = metrics.NewCollector("standforge", s.logger)

	// 2. 初始化上游、缓存、历史与编排器
	if err := s.initServices(ctx); err != nil {
		return fmt.Errorf("failed to init services: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("cache_backend", s.cfg.Cache.Backend),
		zap.String("history_backend", s.cfg.History.Backend),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initServices 按配置装配生成链路
func (s *Server) initServices(ctx context.Context) error {
	upCfg, err := upstreamConfig(s.cfg.Upstream)
	if err != nil {
		return err
	}
	s.upstream = upstream.New(upCfg, s.logger, upstream.WithRecorder(s.collector))
	if !keyConfigured(s.cfg.Upstream) {
		s.logger.Warn("upstream API key not configured, generation endpoints will return 500")
	}

	s.cache, err = openCache(s.cfg, s.collector, s.logger)
	if err != nil {
		return err
	}

	s.history, err = history.Open(ctx, s.cfg, s.collector, s.logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	opts := []orchestrator.Option{orchestrator.WithRecorder(s.collector)}
	if s.cache != nil {
		opts = append(opts, orchestrator.WithCache(s.cache))
	}
	if s.history != nil {
		opts = append(opts, orchestrator.WithHistory(s.history))
	}
	s.orchestrator = orchestrator.New(s.upstream, orchestratorConfig(s.cfg), s.logger, opts...)

	s.relay = relay.New(s.cfg.Relay.KeepAliveInterval, s.logger, relay.WithRecorder(s.collector))
	return nil
}

// initHandlers 初始化所有 handlers 并注册就绪检查
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger).WithVersion(Version)
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("cache_"+s.cfg.Cache.Backend, s.cache.Ping))
	}
	if s.history != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("history_"+s.cfg.History.Backend, s.history.Ping))
	}

	configured := keyConfigured(s.cfg.Upstream)
	s.generateHandler = handlers.NewGenerateHandler(s.orchestrator, s.relay, handlers.GenerateOptions{
		StreamImage:   s.cfg.Generation.StreamImage,
		KeyConfigured: configured,
	}, s.logger)
	s.textHandler = handlers.NewTextProxyHandler(s.upstream, configured, s.logger)

	var standOpts []handlers.StandOption
	if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
		standOpts = append(standOpts, handlers.WithOriginPatterns(s.cfg.Server.CORSAllowedOrigins...))
	}
	s.standHandler = handlers.NewStandHandler(s.orchestrator, s.history, s.logger, standOpts...)

	s.logger.Info("Handlers initialized", zap.Bool("upstream_key_configured", configured))
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册全部 API 路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 兼容旧前端的边缘接口
	mux.HandleFunc("/generate", s.generateHandler.HandleGenerate)
	mux.HandleFunc("/generate-text", s.textHandler.HandleGenerateText)

	// 快照流与历史记录
	s.standHandler.Register(mux)

	return mux
}

// handler 构建带中间件链的根 handler
func (s *Server) handler(ctx context.Context) http.Handler {
	probes := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	return Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins, "/generate-text"),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, probes, s.logger),
	)
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer() error {
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	s.httpManager = server.NewManager("api",
		s.handler(rateLimiterCtx),
		server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort),
		s.logger,
	)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager("metrics", mux,
		server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort),
		s.logger,
	)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号或服务器异常退出，然后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	var managers []*server.Manager
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m != nil {
			managers = append(managers, m)
		}
	}
	if err := server.WaitForSignal(ctx, s.logger, managers...); err != nil {
		s.logger.Error("shutting down after server failure", zap.Error(err))
	}

	s.Shutdown()
}

// Shutdown 按启动的逆序关闭所有组件；对未完全启动的 Server 也安全
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止接收新请求，等待进行中的流结束
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 关闭存储
	var errs []error
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("storage shutdown error", zap.Error(err))
	}

	// 3. 最后关闭 Metrics 服务器与遥测，保证关闭期间的指标仍可导出
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}

// =============================================================================
// 🧩 配置映射
// =============================================================================

// upstreamConfig 把配置映射为上游客户端配置，解析两个端点的方言
func upstreamConfig(uc config.UpstreamConfig) (upstream.Config, error) {
	textDialect, err := upstream.ParseDialect(uc.Text.Dialect, uc.Text.Model)
	if err != nil {
		return upstream.Config{}, fmt.Errorf("upstream.text: %w", err)
	}
	imageDialect, err := upstream.ParseDialect(uc.Image.Dialect, uc.Image.Model)
	if err != nil {
		return upstream.Config{}, fmt.Errorf("upstream.image: %w", err)
	}

	return upstream.Config{
		Text: upstream.Endpoint{
			Dialect: textDialect,
			BaseURL: uc.Text.BaseURL,
			APIKey:  uc.Text.APIKey,
			Model:   uc.Text.Model,
		},
		Image: upstream.Endpoint{
			Dialect: imageDialect,
			BaseURL: uc.Image.BaseURL,
			APIKey:  uc.Image.APIKey,
			Model:   uc.Image.Model,
		},
		ProxyModel: uc.ProxyModel,
		Timeout:    uc.Timeout,
	}, nil
}

// keyConfigured 文本端点是否配置了 API Key
func keyConfigured(uc config.UpstreamConfig) bool {
	return uc.Text.APIKey != ""
}

// orchestratorConfig 把生成策略与重试配置映射为编排器配置
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		ProfileFailure: orchestrator.ProfileFailurePolicy(cfg.Generation.ProfileFailure),
		ImageTimeout:   cfg.Generation.ImageTimeout,
		Retry:          retryPolicy(cfg.Retry),
	}
}

// retryPolicy 把重试配置映射为重试策略；指数退避默认带抖动
func retryPolicy(rc config.RetryConfig) *retry.RetryPolicy {
	p := retry.DefaultRetryPolicy()
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.BaseDelay > 0 {
		p.BaseDelay = rc.BaseDelay
	}
	if rc.MaxDelay > 0 {
		p.MaxDelay = rc.MaxDelay
	}
	if rc.Strategy != "" {
		p.Strategy = retry.Strategy(rc.Strategy)
	}
	p.Jitter = p.Strategy == retry.StrategyExponential
	return p
}

// openCache 按 cache.backend 构建指纹缓存；none 时返回 nil
func openCache(cfg *config.Config, recorder cache.Recorder, logger *zap.Logger) (*cache.FingerprintCache, error) {
	var store cache.Store
	switch cfg.Cache.Backend {
	case "none":
		logger.Info("fingerprint cache disabled")
		return nil, nil
	case "memory":
		store = cache.NewMemoryStore(nil)
	case "redis":
		rc := cache.DefaultRedisConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.TLS = cfg.Redis.TLS
		if cfg.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			rc.MinIdleConns = cfg.Redis.MinIdleConns
		}
		redisStore, err := cache.NewRedisStore(rc, logger)
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		store = redisStore
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	var opts []cache.Option
	if cfg.Cache.TTL > 0 {
		opts = append(opts, cache.WithTTL(cfg.Cache.TTL))
	}
	if recorder != nil {
		opts = append(opts, cache.WithRecorder(recorder))
	}
	return cache.NewFingerprintCache(store, cfg.Cache.Backend, logger, opts...), nil
}
