package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"sentilab/config"
	"sentilab/logging"
	"sentilab/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	in := flag.String("in", filepath.Join("data.dvc", "raw_data_v1.csv"), "raw dataset CSV")
	out := flag.String("out", filepath.Join("data.dvc", "clean_data_v2.csv"), "cleaned dataset CSV")
	showIssues := flag.Int("issues", 10, "number of recent issues to print")
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

	records, err := pipeline.LoadRawRecords(*in)
	if err != nil {
		logger.Fatal("failed to read raw dataset", zap.String("path", *in), zap.Error(err))
	}

	cleaner := pipeline.NewDataCleaner(logger)
	cleaned, _ := cleaner.Clean(records)
	if len(cleaned) == 0 {
		logger.Fatal("no records survived cleaning", zap.String("path", *in))
	}
	if err := pipeline.WriteDataset(*out, cleaned); err != nil {
		logger.Fatal("failed to write clean dataset", zap.Error(err))
	}

	stats := cleaner.GetStats()
	fmt.Printf("cleaned %s -> %s (version %s)\n", *in, *out, pipeline.DatasetVersion(*out))
	fmt.Printf("processed=%d kept=%d rejected=%d corrected=%d\n",
		stats.TotalProcessed, stats.Passed, stats.Rejected, stats.Corrected)

	rules := make([]string, 0, len(stats.Issues))
	for rule := range stats.Issues {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	for _, rule := range rules {
		fmt.Printf("  %-18s %d\n", rule, stats.Issues[rule])
	}
	for _, issue := range cleaner.GetIssues(*showIssues) {
		fmt.Printf("  row %d: %s: %s\n", issue.Row, issue.Type, issue.Message)
	}
}
