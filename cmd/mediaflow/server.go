package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/api/handlers"
	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/internal/cache"
	"github.com/BaSui01/mediaflow/internal/metrics"
	"github.com/BaSui01/mediaflow/internal/server"
	"github.com/BaSui01/mediaflow/internal/telemetry"
	"github.com/BaSui01/mediaflow/media/allowlist"
	"github.com/BaSui01/mediaflow/media/orchestrator"
	"github.com/BaSui01/mediaflow/media/proxy"
	"github.com/BaSui01/mediaflow/media/relocation"
	"github.com/BaSui01/mediaflow/media/storage"
	"github.com/BaSui01/mediaflow/media/video"
)

const (
	proxyPath = "/api/v1/assets/proxy"
	// storagePrefix 仅在 memory 存储驱动下挂载，用于本地开发
	storagePrefix = "/storage"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 mediaflow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 组件
	collector    *metrics.Collector
	otel         *telemetry.Providers
	store        storage.ObjectStore
	cache        *cache.Manager
	guard        *allowlist.Guard
	orchestrator *orchestrator.Orchestrator
	gateway      *proxy.Gateway

	// Handlers
	healthHandler *handlers.HealthHandler
	videoHandler  *handlers.VideoHandler
	uploadHandler *handlers.UploadHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// ServerOption 配置 Server
type ServerOption func(*Server)

// WithCollector 使用外部创建的指标收集器（Prometheus 默认注册表只能注册一次）
func WithCollector(c *metrics.Collector) ServerOption {
	return func(s *Server) { s.collector = c }
}

// WithObjectStore 替换配置中的存储驱动
func WithObjectStore(store storage.ObjectStore) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithTelemetry 挂载已初始化的 OTel providers，关闭时一并 flush
func WithTelemetry(p *telemetry.Providers) ServerOption {
	return func(s *Server) { s.otel = p }
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// 🔧 组件初始化
// =============================================================================

// Init 按依赖顺序构建所有组件
func (s *Server) Init(ctx context.Context) error {
	if s.collector == nil {
		s.collector = metrics.NewCollector("mediaflow", s.logger)
	}

	// 1. 对象存储
	if s.store == nil {
		store, err := storage.NewFromConfig(ctx, s.cfg.Storage, s.logger)
		if err != nil {
			return fmt.Errorf("failed to init storage: %w", err)
		}
		s.store = store
	}

	// 2. 白名单：配置 + 厂商 CDN + 重定位默认 + 自有存储
	s.guard = allowlist.New(
		s.cfg.Proxy.AllowedHosts,
		allowlist.DefaultVendorHosts,
		s.cfg.Relocation.DefaultHosts,
		s.store.AllowedHosts(),
	).WithMaxRedirects(s.cfg.Proxy.MaxRedirects)

	// 3. 重定位
	relocStore, err := s.relocationStore()
	if err != nil {
		return err
	}
	relocator := relocation.New(s.cfg.Relocation, s.store, s.guard, relocStore, s.logger,
		relocation.WithObserver(s.collector),
	)

	// 4. 厂商注册表 + 编排器
	registry := s.buildRegistry()
	if registry.Len() == 0 {
		s.logger.Warn("no video provider configured, generation endpoints will reject every provider")
	}
	s.orchestrator = orchestrator.New(s.cfg.Orchestrator, registry, relocator, s.logger,
		orchestrator.WithObserver(s.collector),
	)

	// 5. 代理
	if s.cfg.Proxy.Enabled {
		s.gateway = proxy.New(s.cfg.Proxy, s.guard, s.store, s.logger,
			proxy.WithObserver(s.collector),
			proxy.WithErrorWriter(handlers.ErrorWriter(s.logger)),
		)
	}

	// 6. Handlers
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", s.cache.Ping))
	}
	if p, ok := s.store.(storage.Pinger); ok {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("storage", p.Ping))
	}
	s.videoHandler = handlers.NewVideoHandler(s.orchestrator, s.logger)
	if p, ok := s.store.(storage.Presigner); ok {
		s.uploadHandler = handlers.NewUploadHandler(p, s.cfg.Storage.PresignMaxBytes, s.cfg.Storage.PresignTTL, s.logger)
	}

	s.logger.Info("components initialized",
		zap.Strings("providers", registry.List()),
		zap.String("storage", s.cfg.Storage.Driver),
		zap.String("relocation_mode", s.cfg.Relocation.Mode),
		zap.String("relocation_cache", s.cfg.Relocation.Cache),
		zap.Bool("proxy_enabled", s.gateway != nil),
		zap.Int("allowlist_entries", len(s.guard.Entries())),
	)
	return nil
}

// relocationStore 选择重定位缓存后端
func (s *Server) relocationStore() (relocation.Store, error) {
	if s.cfg.Relocation.Cache != config.CacheBackendRedis {
		return relocation.NewMemoryStore(), nil
	}
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = s.cfg.Redis.Addr
	cacheCfg.Password = s.cfg.Redis.Password
	cacheCfg.DB = s.cfg.Redis.DB
	if s.cfg.Redis.PoolSize > 0 {
		cacheCfg.PoolSize = s.cfg.Redis.PoolSize
	}
	cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns

	m, err := cache.NewManager(cacheCfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init relocation cache: %w", err)
	}
	s.cache = m
	return relocation.NewRedisStore(m, s.cfg.Relocation.KeyPrefix, s.cfg.Relocation.CacheTTL), nil
}

// buildRegistry 注册凭证齐全的厂商
func (s *Server) buildRegistry() *orchestrator.Registry {
	registry := orchestrator.NewRegistry()
	pc := s.cfg.Providers

	if pc.Vidu.Configured() {
		c := video.DefaultViduConfig()
		c.APIKey = pc.Vidu.APIKey
		c.BaseURL = orDefault(pc.Vidu.BaseURL, c.BaseURL)
		c.Model = orDefault(pc.Vidu.Model, c.Model)
		registry.Register(video.NewViduProvider(c, s.logger))
	}
	if pc.Kling.AccessKey != "" && pc.Kling.SecretKey != "" {
		c := video.DefaultKlingConfig()
		c.AccessKey = pc.Kling.AccessKey
		c.SecretKey = pc.Kling.SecretKey
		c.BaseURL = orDefault(pc.Kling.BaseURL, c.BaseURL)
		c.Model = orDefault(pc.Kling.Model, c.Model)
		registry.Register(video.NewKlingProvider(c, s.logger))
	}
	if pc.Seedance.Configured() {
		c := video.DefaultSeedanceConfig()
		c.APIKey = pc.Seedance.APIKey
		c.BaseURL = orDefault(pc.Seedance.BaseURL, c.BaseURL)
		c.Model = orDefault(pc.Seedance.Model, c.Model)
		registry.Register(video.NewSeedanceProvider(c, s.logger))
	}
	if pc.Runway.Configured() {
		c := video.DefaultRunwayConfig()
		c.APIKey = pc.Runway.APIKey
		c.BaseURL = orDefault(pc.Runway.BaseURL, c.BaseURL)
		c.Model = orDefault(pc.Runway.Model, c.Model)
		registry.Register(video.NewRunwayProvider(c, s.logger))
	}
	return registry
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// =============================================================================
// 🌐 路由
// =============================================================================

// Handler 返回带中间件链的 API 路由；rateLimitCtx 控制限流清理 goroutine
func (s *Server) Handler(rateLimitCtx context.Context) http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 视频生成
	mux.HandleFunc("POST /api/v1/videos/generations", s.videoHandler.HandleSubmit)
	mux.HandleFunc("GET /api/v1/videos/generations/{provider}/{taskId}", s.videoHandler.HandlePoll)
	mux.HandleFunc("GET /api/v1/videos/providers", s.videoHandler.HandleProviders)

	// 资源代理（GET 同时匹配 HEAD）
	if s.gateway != nil {
		mux.Handle("GET "+proxyPath, s.gateway)
	}

	// 直传
	if s.uploadHandler != nil {
		mux.HandleFunc("POST /api/v1/uploads/presign", s.uploadHandler.HandlePresign)
	}

	// memory 驱动自带只读文件服务
	if h, ok := s.store.(http.Handler); ok {
		mux.Handle("GET "+storagePrefix+"/", http.StripPrefix(storagePrefix, h))
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	var queryKeyPaths []string
	if s.cfg.Server.AllowQueryAPIKey {
		queryKeyPaths = []string{proxyPath}
	}

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimitCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, queryKeyPaths, s.logger),
	)
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Start 启动 API 与 Metrics 服务器（非阻塞）
func (s *Server) Start(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	rateLimitCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	if s.cfg.Proxy.Enabled && s.cfg.Server.WriteTimeout > 0 {
		s.logger.Warn("server.write_timeout cuts long proxied streams",
			zap.Duration("write_timeout", s.cfg.Server.WriteTimeout))
	}

	s.httpManager = server.NewManager("api", s.Handler(rateLimitCtx),
		server.FromServerConfig(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsCfg := server.FromServerConfig(s.cfg.Server, s.cfg.Server.MetricsPort)
	metricsCfg.WriteTimeout = metricsCfg.ReadTimeout
	s.metricsManager = server.NewManager("metrics", metricsMux, metricsCfg, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsManager.Addr()),
	)
	return nil
}

// Run 启动服务并阻塞到 ctx 结束或服务器异常退出，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		s.Shutdown(context.Background())
		return err
	}
	err := server.WaitAny(ctx, s.httpManager, s.metricsManager)
	if err != nil {
		s.logger.Error("server exited unexpectedly", zap.Error(err))
	} else {
		s.logger.Info("received shutdown signal")
	}
	s.Shutdown(context.Background())
	return err
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("starting graceful shutdown")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 先停 API 以排空进行中的代理流，再停 Metrics
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		if err := m.Shutdown(ctx); err != nil {
			s.logger.Error("server shutdown error", zap.Error(err))
		}
	}

	var errs []error
	if c, ok := s.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.otel != nil {
		errs = append(errs, s.otel.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("resource cleanup error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
