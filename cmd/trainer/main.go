package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"thrivesight/pkg/config"
	"thrivesight/pkg/core"
	"thrivesight/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	data := flag.String("data", "", "training CSV (overrides model.dataset_path)")
	label := flag.String("label", "", "label column (overrides model.label_column)")
	out := flag.String("out", "", "model file to write (overrides model.model_file)")
	trees := flag.Int("trees", 0, "number of trees (0 keeps config)")
	depth := flag.Int("depth", -2, "max tree depth, -1 unlimited (-2 keeps config)")
	seed := flag.Int64("seed", 0, "random seed (0 keeps config)")
	noJournal := flag.Bool("no-journal", false, "ignore journaled samples")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *data != "" {
		cfg.Model.DatasetPath = *data
	}
	if *label != "" {
		cfg.Model.LabelColumn = *label
	}
	if *out != "" {
		cfg.Model.ModelFile = *out
	}
	logger := logging.Init(cfg.Log, "thrivesight-trainer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := core.NewService(cfg, logger, nil)
	if err != nil {
		logger.Error("start service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	var req core.TrainRequest
	if *trees > 0 {
		req.NEstimators = trees
	}
	if *depth >= -1 {
		req.MaxDepth = depth
	}
	if *seed != 0 {
		req.Seed = seed
	}
	if *noJournal {
		include := false
		req.IncludeJournal = &include
	}

	rec, err := svc.Train(ctx, req)
	if err != nil {
		logger.Error("training failed", "error", err)
		svc.Close()
		os.Exit(1)
	}

	m := rec.Metrics
	fmt.Printf("model version %d: %d trees, max depth %d, seed %d, %d rows\n",
		rec.Version, rec.NEstimators, rec.MaxDepth, rec.Seed, rec.Rows)
	fmt.Printf("holdout (%d rows): accuracy %.3f  precision %.3f  recall %.3f  f1 %.3f\n",
		m.Support, m.Accuracy, m.Precision, m.Recall, m.F1)
	if cfg.Model.ModelFile != "" {
		slog.Info("model file written", "path", cfg.Model.ModelFile)
	}
}
