package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sentilab/config"
	"sentilab/db"
	qhttp "sentilab/http"
	"sentilab/inference"
	"sentilab/logging"
	"sentilab/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	port := flag.Int("port", 0, "listen port (overrides http.port)")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Http.Port = *port
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if _, err := config.LoadAPIKey(cfg.Inference.EnvFile); err != nil {
		logger.Fatal("secret check failed", zap.Error(err))
	}

	// 2. 初始化实验库
	store, err := db.Open(cfg.Tracking.Database)
	if err != nil {
		logger.Fatal("failed to open experiment store", zap.Error(err))
	}
	defer store.Close()
	logger.Info("experiment store opened", zap.String("path", cfg.Tracking.Database))

	registry, err := inference.NewRegistry(inference.RegistryConfig{
		EncoderPath:     cfg.Artifacts.EncoderPath,
		RegistryDir:     cfg.Artifacts.RegistryDir,
		MaxLength:       cfg.Inference.MaxTextLength,
		ResultCacheSize: cfg.Inference.CacheSize,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create model registry", zap.Error(err))
	}
	trainer := training.NewDriver(training.Config{
		EncoderPath: cfg.Artifacts.EncoderPath,
		RegistryDir: cfg.Artifacts.RegistryDir,
		MaxFeatures: cfg.Encoder.MaxFeatures,
		TestSize:    cfg.Training.TestSize,
		Seed:        cfg.Training.Seed,
		Experiment:  cfg.Training.Experiment,
		RepoDir:     cfg.Training.RepoDir,
	}, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. 产物文件变化时重新加载
	go func() {
		if err := registry.Watch(ctx); err != nil {
			logger.Error("artifact watcher stopped", zap.Error(err))
		}
	}()

	// 4. 启动HTTP服务
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		DefaultModel:   cfg.Inference.Model,
	}, qhttp.Deps{Registry: registry, Store: store, Trainer: trainer}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. 优雅关闭
	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
}
