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
	"sentilab/db"
	"sentilab/logging"
	"sentilab/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dataPath := flag.String("data", "", "dataset CSV; when set only this model is trained")
	modelName := flag.String("model", "", "model name, required with -data")
	maxIter := flag.Int("max_iter", 100, "maximum optimizer iterations")
	c := flag.Float64("c", 1.0, "inverse regularization strength")
	noTrack := flag.Bool("no_track", false, "skip the experiment store")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	runs := make([]training.Params, 0, len(cfg.Training.Runs))
	if *dataPath != "" {
		if *modelName == "" {
			logger.Fatal("-model is required with -data")
		}
		runs = append(runs, training.Params{DatasetPath: *dataPath, ModelName: *modelName, MaxIter: *maxIter, C: *c})
	} else {
		for _, run := range cfg.Training.Runs {
			runs = append(runs, training.Params{DatasetPath: run.Dataset, ModelName: run.Name, MaxIter: run.MaxIter, C: run.C})
		}
	}

	var store *db.Store
	if !*noTrack {
		store, err = db.Open(cfg.Tracking.Database)
		if err != nil {
			logger.Fatal("failed to open experiment store", zap.String("path", cfg.Tracking.Database), zap.Error(err))
		}
		defer store.Close()
	}

	driver := training.NewDriver(training.Config{
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

	for _, params := range runs {
		summary, err := driver.Train(ctx, params)
		if err != nil {
			logger.Fatal("training failed", zap.String("model", params.ModelName), zap.Error(err))
		}
		fmt.Println(summary)
		fmt.Println()
	}

	if store == nil {
		return
	}
	records, err := store.ListRuns(ctx, cfg.Training.Experiment)
	if err != nil {
		logger.Fatal("failed to list runs", zap.Error(err))
	}
	fmt.Printf("experiment %s: %d runs\n", cfg.Training.Experiment, len(records))
	for _, rec := range records {
		fmt.Printf("  %s  %-16s %-8s accuracy=%.4f f1=%.4f dataset=%s commit=%s\n",
			rec.RunID[:8], rec.RunName, rec.Status,
			rec.Metrics["test_accuracy"], rec.Metrics["test_f1"],
			rec.Params["dataset_version"], rec.Params["git_commit"])
	}
}
