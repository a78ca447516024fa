// Package http 提供情感分类HTTP服务
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sentilab/db"
	"sentilab/inference"
	"sentilab/monitoring"
	"sentilab/training"
)

// Server HTTP服务器
type Server struct {
	server   *http.Server
	config   ServerConfig
	logger   *zap.Logger
	registry *inference.Registry
	store    *db.Store
	trainer  *training.Driver
	metrics  *monitoring.ServiceMetrics
	ws       *wsHandler
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
	DefaultModel   string
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   64 << 10,
		DefaultModel:   "improved_model",
	}
}

// Deps 处理器依赖，Store和Trainer可以为nil
type Deps struct {
	Registry *inference.Registry
	Store    *db.Store
	Trainer  *training.Driver
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:   config,
		logger:   logger,
		registry: deps.Registry,
		store:    deps.Store,
		trainer:  deps.Trainer,
		metrics:  monitoring.NewServiceMetrics(),
	}
	s.ws = newWSHandler(s, logger)

	mux := http.NewServeMux()
	s.RegisterHandlers(mux)
	s.RegisterTrainingHandlers(mux)

	chain := Chain(
		RecoveryMiddleware(logger),                 // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(logger),                   // 2. 日志中间件
		MetricsMiddleware(s.metrics),               // 3. 指标中间件
		SecurityHeadersMiddleware,                  // 4. 安全头中间件
		CORSMiddleware(config.AllowedOrigins),      // 5. CORS中间件
		RequestSizeMiddleware(config.MaxBodyBytes), // 6. 请求大小限制
		TimeoutMiddleware(config.Timeout),          // 7. 超时中间件
	)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           chain(mux),
		ReadHeaderTimeout: config.Timeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler 返回带中间件的根处理器
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("websocket", fmt.Sprintf("ws://localhost%s/api/ws/classify", s.server.Addr)))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.ws.closeAll()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}
	return nil
}

// Metrics 返回服务指标
func (s *Server) Metrics() *monitoring.ServiceMetrics {
	return s.metrics
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
