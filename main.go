package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sentilab/config"
	"sentilab/inference"
	"sentilab/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	modelName := flag.String("model", "", "model to load (defaults to inference.model in config)")
	envFile := flag.String("env", "", "dotenv file holding API_KEY (defaults to inference.env_file in config)")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *modelName != "" {
		cfg.Inference.Model = *modelName
	}
	if *envFile != "" {
		cfg.Inference.EnvFile = *envFile
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// 2. 先校验密钥
	key, err := config.LoadAPIKey(cfg.Inference.EnvFile)
	if err != nil {
		logger.Fatal("secret check failed", zap.Error(err))
	}
	fmt.Printf("API key verified (first 6 characters: %s...)\n\n", config.KeyPrefix(key, 6))

	// 3. 加载生产模型
	registry, err := inference.NewRegistry(inference.RegistryConfig{
		EncoderPath:     cfg.Artifacts.EncoderPath,
		RegistryDir:     cfg.Artifacts.RegistryDir,
		MaxLength:       cfg.Inference.MaxTextLength,
		ResultCacheSize: cfg.Inference.CacheSize,
		Models:          1,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create model registry", zap.Error(err))
	}
	svc, err := registry.Service(cfg.Inference.Model)
	if err != nil {
		logger.Fatal("failed to load model", zap.String("model", cfg.Inference.Model), zap.Error(err))
	}
	fmt.Printf("Loaded model: %s\n", registry.ModelPath(cfg.Inference.Model))

	// 4. 交互循环
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := inference.RunInteractive(ctx, os.Stdin, os.Stdout, svc); err != nil {
		logger.Fatal("reading input failed", zap.Error(err))
	}
}
