package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/entitygraph"
	"github.com/BaSui01/entitygraph/api/handlers"
	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/internal/metrics"
	"github.com/BaSui01/entitygraph/internal/server"
	"github.com/BaSui01/entitygraph/internal/telemetry"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fixture := fs.String("fixture", "", "Fixture file or directory (overrides source.fixture_path)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyFixture(cfg, *fixture)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting EntityGraph",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv := NewServer(cfg, *configPath, *fixture, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	srv.WaitForShutdown()
	if err := providers.Shutdown(context.Background()); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	logger.Info("EntityGraph stopped")
	return nil
}

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 管理 HTTP、Metrics 两个端口以及当前 Pipeline。
// 开启 watch_files 时，配置文件或 fixture 变更会重建 Pipeline 并原子替换。
type Server struct {
	cfg        *config.Config
	configPath string
	fixture    string
	logger     *zap.Logger

	pipeline atomic.Pointer[entitygraph.Pipeline]
	closeMu  sync.Mutex
	closeFn  entitygraph.CloseFunc

	// collector 在首次启用指标时创建并跨重载复用，命名空间此后固定
	collectorMu    sync.Mutex
	collector      *metrics.Collector
	registerer     prometheus.Registerer
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 后台任务（限流清理、文件监听、旧 Pipeline 释放）
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer 创建服务器
func NewServer(cfg *config.Config, configPath, fixture string, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		fixture:    fixture,
		logger:     logger,
	}
}

// Pipeline 返回当前 Pipeline
func (s *Server) Pipeline() *entitygraph.Pipeline { return s.pipeline.Load() }

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务（非阻塞）
func (s *Server) Start() error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if err := s.loadPipeline(bgCtx, s.cfg); err != nil {
		cancel()
		return fmt.Errorf("init pipeline: %w", err)
	}

	if err := s.startHTTPServer(bgCtx); err != nil {
		cancel()
		return err
	}
	if err := s.startMetricsServer(); err != nil {
		cancel()
		return err
	}
	if s.cfg.Server.WatchFiles {
		if err := s.startWatcher(bgCtx); err != nil {
			s.logger.Warn("file watching disabled", zap.Error(err))
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("watch_files", s.cfg.Server.WatchFiles),
	)
	return nil
}

// loadPipeline 按配置创建 Pipeline 并替换当前实例，旧实例在关闭超时后释放
func (s *Server) loadPipeline(ctx context.Context, cfg *config.Config) error {
	p, closeFn, err := entitygraph.FromConfig(ctx, cfg, s.logger, entitygraph.WithMetrics(s.metricsFor(cfg)))
	if err != nil {
		return err
	}
	// 预热候选关系，失败不影响启动
	if _, err := p.Detect(ctx); err != nil {
		s.logger.Warn("initial detection failed", zap.Error(err))
	}

	s.pipeline.Store(p)

	s.closeMu.Lock()
	old := s.closeFn
	s.closeFn = closeFn
	s.closeMu.Unlock()

	if old != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// 等待使用旧 Pipeline 的请求结束
			select {
			case <-time.After(s.cfg.Server.ShutdownTimeout):
			case <-ctx.Done():
			}
			if err := old(context.Background()); err != nil {
				s.logger.Warn("close previous pipeline", zap.Error(err))
			}
		}()
	}
	return nil
}

// metricsFor 返回 cfg 对应的收集器，指标关闭时为 nil
func (s *Server) metricsFor(cfg *config.Config) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	s.collectorMu.Lock()
	defer s.collectorMu.Unlock()
	if s.collector == nil {
		s.collector = metrics.NewCollector(cfg.Metrics.Namespace, s.registerer, s.logger)
	}
	return s.collector
}

// startWatcher 监听配置文件与 fixture，变更时重新加载
func (s *Server) startWatcher(ctx context.Context) error {
	paths := []string{s.configPath}
	if s.cfg.Source.Type == "memory" {
		paths = append(paths, s.cfg.Source.FixturePath)
	}
	w, err := config.NewFileWatcher(paths, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	if len(w.Paths()) == 0 {
		return nil
	}

	w.OnChange(func(events []config.FileEvent) {
		cfg, err := loadConfig(s.configPath)
		if err != nil {
			s.logger.Error("reload config failed, keeping current pipeline", zap.Error(err))
			return
		}
		applyFixture(cfg, s.fixture)
		if err := s.loadPipeline(ctx, cfg); err != nil {
			s.logger.Error("reload pipeline failed, keeping current pipeline", zap.Error(err))
			return
		}
		s.logger.Info("pipeline reloaded", zap.Int("changed_files", len(events)))
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = w.Run(ctx)
	}()
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewFuncCheck("source", func(ctx context.Context) error {
		_, err := s.Pipeline().Source().Entities(ctx)
		return err
	}))
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewPipelineHandler(s.Pipeline, s.logger).RegisterRoutes(mux)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metricsFor(s.cfg)),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.closeMu.Lock()
	closeFn := s.closeFn
	s.closeFn = nil
	s.closeMu.Unlock()
	if closeFn != nil {
		if err := closeFn(ctx); err != nil {
			s.logger.Error("pipeline close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
