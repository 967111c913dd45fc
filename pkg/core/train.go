package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"thrivesight/pkg/common"
	"thrivesight/pkg/dataset"
	"thrivesight/pkg/model"
	"thrivesight/pkg/storage"
)

// TrainRequest overrides the configured hyperparameters for one run.
// Nil fields fall back to the model section of the config.
type TrainRequest struct {
	NEstimators    *int     `json:"n_estimators" binding:"omitempty,gte=1,lte=1000"`
	MaxDepth       *int     `json:"max_depth" binding:"omitempty,gte=-1"`
	Seed           *int64   `json:"seed"`
	TestRatio      *float64 `json:"test_ratio" binding:"omitempty,gte=0,lt=1"`
	IncludeJournal *bool    `json:"include_journal"`

	// Data replaces the configured CSV when set.
	Data *model.Dataset `json:"-"`
}

// ModelInfo describes the active forest.
type ModelInfo struct {
	storage.ModelRecord
	Trees       int      `json:"trees"`
	Features    []string `json:"features"`
	AvgDepth    float64  `json:"avg_depth"`
	DeepestTree int      `json:"deepest_tree"`
	AvgLeaves   float64  `json:"avg_leaves"`
}

// Train fits a new forest from the configured dataset plus journaled
// samples, scores it on a holdout split, stores it and makes it active.
// Runs are serialized.
func (s *Service) Train(ctx context.Context, req TrainRequest) (*storage.ModelRecord, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	mc := s.conf.Model
	nEst, depth, seed, ratio := mc.NEstimators, mc.MaxDepth, mc.Seed, mc.TestRatio
	if req.NEstimators != nil {
		nEst = *req.NEstimators
	}
	if req.MaxDepth != nil {
		depth = *req.MaxDepth
	}
	if req.Seed != nil {
		seed = *req.Seed
	}
	if req.TestRatio != nil {
		ratio = *req.TestRatio
	}
	includeJournal := req.IncludeJournal == nil || *req.IncludeJournal

	ds, err := s.trainingData(req.Data, includeJournal)
	if err != nil {
		return nil, err
	}

	train, test := dataset.Split(ds, ratio, rand.New(rand.NewSource(seed)))
	forest := model.NewForest(
		model.WithEstimators(nEst),
		model.WithMaxDepth(depth),
		model.WithSeed(seed),
		model.WithWorkers(mc.Workers),
	)

	start := time.Now()
	err = forest.FitContext(ctx, train.X, train.Y)
	elapsed := time.Since(start)
	s.metrics.ObserveTraining(elapsed, err)
	if err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}

	var scores common.Metrics
	if test.Len() > 0 {
		yPred, err := forest.Predict(test.X)
		if err != nil {
			return nil, fmt.Errorf("score holdout: %w", err)
		}
		scores = dataset.Evaluate(test.Y, yPred)
	}

	blob, err := forest.MarshalBinary()
	if err != nil {
		return nil, err
	}
	rec := &storage.ModelRecord{
		CreatedAt:   time.Now(),
		NEstimators: nEst,
		MaxDepth:    depth,
		Seed:        seed,
		Rows:        ds.Len(),
		Metrics:     scores,
		Blob:        blob,
	}
	// 先写文件：注册表里的记录会在 Restore 时被激活
	if mc.ModelFile != "" {
		if err := writeModelFile(mc.ModelFile, forest); err != nil {
			return nil, fmt.Errorf("write model file: %w", err)
		}
	}
	if _, err := s.backend.SaveModel(rec); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}

	s.install(forest, rec)
	s.stats.RecordTraining()
	s.logger.Info("model trained",
		"version", rec.Version,
		"trees", nEst,
		"max_depth", depth,
		"rows", ds.Len(),
		"holdout", test.Len(),
		"accuracy", scores.Accuracy,
		"f1", scores.F1,
		"duration", elapsed,
	)
	return rec, nil
}

func (s *Service) trainingData(data *model.Dataset, includeJournal bool) (model.Dataset, error) {
	var ds model.Dataset
	switch {
	case data != nil:
		ds = *data
	case s.conf.Model.DatasetPath != "":
		loaded, err := dataset.LoadFile(s.conf.Model.DatasetPath, s.conf.Model.LabelColumn)
		if err != nil {
			return model.Dataset{}, err
		}
		ds = loaded
	}

	if includeJournal && s.journal.Count() > 0 {
		samples, err := s.journal.LoadAll()
		if err != nil {
			return model.Dataset{}, fmt.Errorf("read journal: %w", err)
		}
		ds = dataset.Merge(ds, dataset.FromSamples(samples))
	}

	if ds.Len() == 0 {
		return model.Dataset{}, ErrNoTrainingData
	}
	if err := ds.Validate(); err != nil {
		return model.Dataset{}, err
	}
	if ds.Features() != common.NumFeatures {
		return model.Dataset{}, fmt.Errorf("%w: got %d features, want %d", model.ErrInvalidInput, ds.Features(), common.NumFeatures)
	}
	return ds, nil
}

// Activate 反序列化已存储的模型并设为当前模型
func (s *Service) Activate(rec *storage.ModelRecord) error {
	forest := new(model.Forest)
	if err := forest.UnmarshalBinary(rec.Blob); err != nil {
		return err
	}
	if forest.Features() != common.NumFeatures {
		return fmt.Errorf("%w: model expects %d features, want %d", model.ErrMalformedModel, forest.Features(), common.NumFeatures)
	}
	s.install(forest, rec)
	return nil
}

// Restore loads the newest registry model, then the model file, then trains
// from the configured dataset if train_on_start is set. A broken stored
// model is logged and skipped; the service then runs without one.
func (s *Service) Restore(ctx context.Context) error {
	rec, err := s.backend.LatestModel()
	switch {
	case err == nil:
		if err := s.Activate(rec); err != nil {
			s.logger.Warn("stored model unusable", "version", rec.Version, "error", err)
		} else {
			s.logger.Info("model restored from registry", "version", rec.Version, "trees", rec.NEstimators)
			return nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("model registry read failed", "error", err)
	}

	if path := s.conf.Model.ModelFile; path != "" {
		forest, err := readModelFile(path)
		switch {
		case err == nil:
			s.install(forest, &storage.ModelRecord{
				CreatedAt:   time.Now(),
				NEstimators: forest.NEstimators,
				MaxDepth:    forest.MaxDepth,
				Seed:        forest.Seed,
			})
			s.logger.Info("model restored from file", "path", path, "trees", forest.NEstimators)
			return nil
		case errors.Is(err, os.ErrNotExist):
		default:
			s.logger.Warn("model file unusable", "path", path, "error", err)
		}
	}

	if s.conf.Model.TrainOnStart {
		_, err := s.Train(ctx, TrainRequest{})
		return err
	}
	s.logger.Warn("no model available, predictions disabled until training")
	return nil
}

func (s *Service) install(forest *model.Forest, rec *storage.ModelRecord) {
	meta := *rec
	meta.Blob = nil

	s.mu.Lock()
	s.forest = forest
	s.active = meta
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Reset(); err != nil {
			s.logger.Warn("prediction cache reset failed", "error", err)
		}
	}
	s.metrics.SetModelTrees(len(forest.Trees()))
}

func (s *Service) ModelInfo() (ModelInfo, error) {
	s.mu.RLock()
	forest, meta := s.forest, s.active
	s.mu.RUnlock()
	if forest == nil {
		return ModelInfo{}, ErrNoModel
	}

	info := ModelInfo{
		ModelRecord: meta,
		Trees:       len(forest.Trees()),
		Features:    common.FeatureNames,
	}
	var depthSum, leafSum int
	for _, t := range forest.Trees() {
		d := t.Depth()
		depthSum += d
		leafSum += t.Leaves()
		if d > info.DeepestTree {
			info.DeepestTree = d
		}
	}
	if info.Trees > 0 {
		info.AvgDepth = float64(depthSum) / float64(info.Trees)
		info.AvgLeaves = float64(leafSum) / float64(info.Trees)
	}
	return info, nil
}

func (s *Service) ExportModel() (*model.ForestExport, error) {
	forest, _ := s.current()
	if forest == nil {
		return nil, ErrNoModel
	}
	return forest.Export()
}

// Models lists registry entries, newest first, without blobs.
func (s *Service) Models(limit int) ([]storage.ModelRecord, error) {
	return s.backend.ListModels(limit)
}

func writeModelFile(path string, forest *model.Forest) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := forest.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readModelFile(path string) (*model.Forest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	forest, err := model.ReadForest(f)
	if err != nil {
		return nil, err
	}
	if forest.Features() != common.NumFeatures {
		return nil, fmt.Errorf("%w: model expects %d features, want %d", model.ErrMalformedModel, forest.Features(), common.NumFeatures)
	}
	return forest, nil
}
