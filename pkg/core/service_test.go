package core

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"thrivesight/pkg/common"
	"thrivesight/pkg/config"
	"thrivesight/pkg/logging"
	"thrivesight/pkg/model"
	"thrivesight/pkg/monitor"
	"thrivesight/pkg/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Storage.HistoryBatchSize = 4
	cfg.Model.NEstimators = 15
	cfg.Model.Workers = 2
	cfg.Model.Seed = 7
	cfg.Cache.MaxMB = 8
	return cfg
}

func openService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	s, err := NewService(cfg, logging.Discard(), monitor.NewMetrics("test"))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// startups labels a profile successful once it has three milestones.
func startups(n int) model.Dataset {
	rng := rand.New(rand.NewSource(11))
	var ds model.Dataset
	for i := 0; i < n; i++ {
		p := common.Profile{
			Age:           rng.Float64() * 10,
			Relationships: float64(rng.Intn(20)),
			Milestones:    float64(rng.Intn(6)),
			FundingRounds: float64(rng.Intn(5)),
			IsTop500:      float64(rng.Intn(2)),
		}
		label := common.ClassFailure
		if p.Milestones >= 3 {
			label = common.ClassSuccess
		}
		ds.X = append(ds.X, p.Vector())
		ds.Y = append(ds.Y, label)
	}
	return ds
}

func trainStartups(t *testing.T, s *Service) {
	t.Helper()
	ds := startups(200)
	if _, err := s.Train(context.Background(), TrainRequest{Data: &ds}); err != nil {
		t.Fatalf("train: %v", err)
	}
}

var (
	strong = common.Profile{Age: 4, Relationships: 10, Milestones: 5, FundingRounds: 3, IsTop500: 1}
	weak   = common.Profile{Age: 4, Relationships: 10, Milestones: 0, FundingRounds: 3, IsTop500: 1}
)

func TestPredictWithoutModel(t *testing.T) {
	s := openService(t, testConfig(t))
	if _, err := s.Predict(context.Background(), strong); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
	if _, err := s.ModelInfo(); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel from ModelInfo, got %v", err)
	}
	if _, err := s.ExportModel(); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel from ExportModel, got %v", err)
	}
}

func TestTrainAndPredict(t *testing.T) {
	s := openService(t, testConfig(t))
	trainStartups(t, s)

	info, err := s.ModelInfo()
	if err != nil {
		t.Fatalf("model info: %v", err)
	}
	if info.Version == 0 || info.Trees != 15 || info.Rows != 200 {
		t.Fatalf("unexpected model info %+v", info)
	}
	if info.Metrics.Support != 40 || info.Metrics.Accuracy < 0.9 {
		t.Fatalf("unexpected holdout metrics %+v", info.Metrics)
	}

	ctx := context.Background()
	got, err := s.Predict(ctx, strong)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got.Label != common.ClassSuccess || got.Outcome != "success" || got.Cached {
		t.Fatalf("unexpected prediction %+v", got)
	}
	if got.ModelVersion != info.Version || got.SuccessShare <= 0.5 {
		t.Fatalf("unexpected version or share %+v", got)
	}

	again, err := s.Predict(ctx, strong)
	if err != nil {
		t.Fatalf("second predict: %v", err)
	}
	if !again.Cached || again.Label != got.Label || again.ID == got.ID {
		t.Fatalf("expected cached answer with a fresh id, got %+v", again)
	}

	low, err := s.Predict(ctx, weak)
	if err != nil {
		t.Fatalf("predict weak: %v", err)
	}
	if low.Label != common.ClassFailure {
		t.Fatalf("expected failure, got %+v", low)
	}

	bad := strong
	bad.IsTop500 = 2
	if _, err := s.Predict(ctx, bad); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	exp, err := s.ExportModel()
	if err != nil || len(exp.Trees) != 15 {
		t.Fatalf("export: %v", err)
	}
}

func TestPredictBatch(t *testing.T) {
	s := openService(t, testConfig(t))
	trainStartups(t, s)
	ctx := context.Background()

	preds, err := s.PredictBatch(ctx, []common.Profile{weak, strong, weak})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	want := []int{common.ClassFailure, common.ClassSuccess, common.ClassFailure}
	for i, p := range preds {
		if p.Label != want[i] {
			t.Fatalf("row %d: got %d want %d", i, p.Label, want[i])
		}
	}

	if _, err := s.PredictBatch(ctx, nil); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty batch, got %v", err)
	}
	if _, err := s.PredictBatch(ctx, make([]common.Profile, MaxBatch+1)); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized batch, got %v", err)
	}
}

func TestTrainFromJournal(t *testing.T) {
	s := openService(t, testConfig(t))
	ctx := context.Background()

	off := false
	if _, err := s.Train(ctx, TrainRequest{IncludeJournal: &off}); !errors.Is(err, ErrNoTrainingData) {
		t.Fatalf("expected ErrNoTrainingData, got %v", err)
	}

	ds := startups(60)
	for i := range ds.X {
		p, _ := common.ProfileFromVector(ds.X[i])
		if err := s.AddSample(ctx, common.Sample{Profile: p, Label: ds.Y[i]}); err != nil {
			t.Fatalf("add sample %d: %v", i, err)
		}
	}
	if err := s.AddSample(ctx, common.Sample{Profile: strong, Label: 3}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected label validation error, got %v", err)
	}

	trees, depth := 5, 4
	rec, err := s.Train(ctx, TrainRequest{NEstimators: &trees, MaxDepth: &depth})
	if err != nil {
		t.Fatalf("train from journal: %v", err)
	}
	if rec.Rows != 60 || rec.NEstimators != 5 || rec.MaxDepth != 4 {
		t.Fatalf("unexpected record %+v", rec)
	}
	info, _ := s.ModelInfo()
	if info.DeepestTree > 4 {
		t.Fatalf("depth cap not honored: %d", info.DeepestTree)
	}
}

func TestRestoreFromRegistryAndFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.ModelFile = filepath.Join(t.TempDir(), "models", "forest.gob")

	first, err := NewService(cfg, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("first service: %v", err)
	}
	trainStartups(t, first)
	trained, _ := first.ModelInfo()
	first.Close()

	if _, err := os.Stat(cfg.Model.ModelFile); err != nil {
		t.Fatalf("model file not written: %v", err)
	}

	second := openService(t, cfg)
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	info, err := second.ModelInfo()
	if err != nil || info.Version != trained.Version {
		t.Fatalf("expected registry version %d, got %+v err=%v", trained.Version, info, err)
	}

	fresh := testConfig(t)
	fresh.Model.ModelFile = cfg.Model.ModelFile
	third := openService(t, fresh)
	if err := third.Restore(context.Background()); err != nil {
		t.Fatalf("restore from file: %v", err)
	}
	info, err = third.ModelInfo()
	if err != nil || info.Version != 0 || info.Trees != 15 {
		t.Fatalf("expected file model with version 0, got %+v err=%v", info, err)
	}
	if p, err := third.Predict(context.Background(), strong); err != nil || p.Label != common.ClassSuccess {
		t.Fatalf("restored model predicts %+v err=%v", p, err)
	}
}

func TestRestoreWithoutModel(t *testing.T) {
	s := openService(t, testConfig(t))
	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := s.ModelInfo(); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected no model, got %v", err)
	}

	cfg := testConfig(t)
	cfg.Model.TrainOnStart = true
	empty := openService(t, cfg)
	if err := empty.Restore(context.Background()); !errors.Is(err, ErrNoTrainingData) {
		t.Fatalf("expected ErrNoTrainingData when training on start without data, got %v", err)
	}
}

func TestRecentSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	s, err := NewService(cfg, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	trainStartups(t, s)

	ctx := context.Background()
	var ids []common.ID
	for i := 0; i < 6; i++ {
		p, err := s.Predict(ctx, strong)
		if err != nil {
			t.Fatalf("predict %d: %v", i, err)
		}
		ids = append(ids, p.ID)
	}

	recent, err := s.Recent(3)
	if err != nil || len(recent) != 3 || recent[0].ID != ids[5] {
		t.Fatalf("unexpected recent %+v err=%v", recent, err)
	}
	s.Close()

	reopened := openService(t, cfg)
	recent, err = reopened.Recent(10)
	if err != nil {
		t.Fatalf("recent after reopen: %v", err)
	}
	if len(recent) != 6 || recent[0].ID != ids[5] || recent[5].ID != ids[0] {
		t.Fatalf("expected 6 persisted predictions newest first, got %d", len(recent))
	}

	if got, _ := reopened.Recent(0); len(got) != 0 {
		t.Fatalf("expected empty result for limit 0, got %d", len(got))
	}
}

func TestResetAndStats(t *testing.T) {
	s := openService(t, testConfig(t))
	trainStartups(t, s)
	ctx := context.Background()

	if _, err := s.Predict(ctx, strong); err != nil {
		t.Fatalf("predict: %v", err)
	}
	if err := s.AddSample(ctx, common.Sample{Profile: weak, Label: 0}); err != nil {
		t.Fatalf("add sample: %v", err)
	}

	stats := s.Stats()
	if stats["model_loaded"] != true || stats["predictions"] != uint64(1) || stats["journal_samples"] != uint64(1) {
		t.Fatalf("unexpected stats %v", stats)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	stats = s.Stats()
	if stats["history_count"] != 0 || stats["journal_samples"] != uint64(0) || stats["predictions"] != uint64(0) {
		t.Fatalf("reset left state behind: %v", stats)
	}
	if _, err := s.ModelInfo(); err != nil {
		t.Fatalf("reset must keep the model: %v", err)
	}
}

func TestPredictCanceledContext(t *testing.T) {
	s := openService(t, testConfig(t))
	trainStartups(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Predict(ctx, strong); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNonFiniteInputRejected(t *testing.T) {
	cfg := testConfig(t)
	s, err := NewService(cfg, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	trainStartups(t, s)
	ctx := context.Background()

	if _, err := s.Predict(ctx, strong); err != nil {
		t.Fatalf("predict: %v", err)
	}
	inf := strong
	inf.Age = math.Inf(1)
	if _, err := s.Predict(ctx, inf); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for +Inf age, got %v", err)
	}
	if _, err := s.PredictBatch(ctx, []common.Profile{strong, inf}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for batch with +Inf, got %v", err)
	}
	nan := weak
	nan.FundingRounds = math.NaN()
	if err := s.AddSample(ctx, common.Sample{Profile: nan, Label: 0}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for NaN sample, got %v", err)
	}
	inf = weak
	inf.FundingRounds = math.Inf(1)
	if err := s.AddSample(ctx, common.Sample{Profile: inf, Label: 0}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for +Inf sample, got %v", err)
	}
	s.Close()

	reopened := openService(t, cfg)
	if n := reopened.Stats()["stored_predictions"]; n != int64(1) {
		t.Fatalf("expected the valid prediction persisted, got %v", n)
	}
	recent, err := reopened.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if _, err := json.Marshal(recent); err != nil {
		t.Fatalf("history must stay encodable: %v", err)
	}
	if n := reopened.Stats()["journal_samples"]; n != uint64(0) {
		t.Fatalf("rejected samples reached the journal: %v", n)
	}
	trainStartups(t, reopened)
}

func TestPredictionLookup(t *testing.T) {
	cfg := testConfig(t)
	s, err := NewService(cfg, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	trainStartups(t, s)
	ctx := context.Background()

	first, err := s.Predict(ctx, strong)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	second, err := s.Predict(ctx, weak)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got, err := s.Prediction(first.ID); err != nil || got.ID != first.ID {
		t.Fatalf("lookup from memory: %+v err=%v", got, err)
	}
	s.Close()

	// only the newest prediction fits in memory after reopen
	cfg.Storage.HistoryCapacity = 1
	reopened := openService(t, cfg)
	got, err := reopened.Prediction(first.ID)
	if err != nil {
		t.Fatalf("lookup from storage: %v", err)
	}
	if got.ID != first.ID || got.Label != first.Label || got.Profile != strong {
		t.Fatalf("unexpected stored prediction %+v", got)
	}
	if got, err := reopened.Prediction(second.ID); err != nil || got.ID != second.ID {
		t.Fatalf("lookup newest: %+v err=%v", got, err)
	}
	if _, err := reopened.Prediction(first.ID + 12345); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetDropsQueuedPredictions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.HistoryBatchSize = 1000
	s, err := NewService(cfg, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	trainStartups(t, s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Predict(ctx, strong); err != nil {
			t.Fatalf("predict %d: %v", i, err)
		}
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	s.Close()

	reopened := openService(t, cfg)
	if n := reopened.Stats()["stored_predictions"]; n != int64(0) {
		t.Fatalf("predictions from before reset came back: %v", n)
	}
	if recent, _ := reopened.Recent(10); len(recent) != 0 {
		t.Fatalf("expected empty history after reset, got %d", len(recent))
	}
}

func TestTornJournalDoesNotBlockStartup(t *testing.T) {
	cfg := testConfig(t)
	s, err := NewService(cfg, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := s.AddSample(context.Background(), common.Sample{Profile: strong, Label: 1}); err != nil {
		t.Fatalf("add sample: %v", err)
	}
	s.Close()

	f, err := os.OpenFile(filepath.Join(cfg.Storage.Path, journalFile), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{9, 9, 9, 9, 9, 9, 9})
	f.Close()

	reopened := openService(t, cfg)
	if n := reopened.Stats()["journal_samples"]; n != uint64(1) {
		t.Fatalf("expected the intact sample kept, got %v", n)
	}
}

func TestFailedModelFileLeavesRegistryEmpty(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Model.ModelFile = filepath.Join(blocker, "forest.gob")

	s := openService(t, cfg)
	ds := startups(100)
	if _, err := s.Train(context.Background(), TrainRequest{Data: &ds}); err == nil {
		t.Fatal("expected training to fail when the model file cannot be written")
	}
	models, err := s.Models(10)
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 0 {
		t.Fatalf("failed run left %d registry entries", len(models))
	}
	if _, err := s.ModelInfo(); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected no active model, got %v", err)
	}
}
