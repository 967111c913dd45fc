package core

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/allegro/bigcache/v3"

	"thrivesight/pkg/common"
	"thrivesight/pkg/model"
)

// MaxBatch 批量预测上限
const MaxBatch = 500

type vote struct {
	label int
	share float64
}

// Predict classifies one startup profile with the active forest.
func (s *Service) Predict(ctx context.Context, p common.Profile) (common.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return common.Prediction{}, err
	}
	if err := p.Validate(); err != nil {
		return common.Prediction{}, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}

	forest, version := s.current()
	if forest == nil {
		return common.Prediction{}, ErrNoModel
	}

	vec := p.Vector()
	key := cacheKey(version, vec)
	v, cached := s.cacheGet(key)
	if !cached {
		tallies, err := forest.Votes([][]float64{vec})
		if err != nil {
			return common.Prediction{}, err
		}
		v = vote{label: tallies[0].Winner(), share: tallies[0].Share(common.ClassSuccess)}
		s.cachePut(key, v)
	}

	pred := s.newPrediction(version, p, v)
	pred.Cached = cached
	if cached {
		s.stats.RecordHit()
	}
	s.observe(pred)
	return pred, nil
}

// PredictBatch classifies up to MaxBatch profiles in one pass over the forest.
// Results keep the input order.
func (s *Service) PredictBatch(ctx context.Context, profiles []common.Profile) ([]common.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(profiles) == 0 || len(profiles) > MaxBatch {
		return nil, fmt.Errorf("%w: batch size must be in [1, %d], got %d", model.ErrInvalidInput, MaxBatch, len(profiles))
	}
	X := make([][]float64, len(profiles))
	for i, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: profile %d: %v", model.ErrInvalidInput, i, err)
		}
		X[i] = p.Vector()
	}

	forest, version := s.current()
	if forest == nil {
		return nil, ErrNoModel
	}

	tallies, err := forest.Votes(X)
	if err != nil {
		return nil, err
	}
	out := make([]common.Prediction, len(profiles))
	for i, t := range tallies {
		out[i] = s.newPrediction(version, profiles[i], vote{label: t.Winner(), share: t.Share(common.ClassSuccess)})
		s.observe(out[i])
	}
	return out, nil
}

func (s *Service) newPrediction(version int64, p common.Profile, v vote) common.Prediction {
	return common.Prediction{
		ID:           common.ID(s.node.Generate().Int64()),
		ModelVersion: version,
		Profile:      p,
		Label:        v.label,
		Outcome:      common.Outcome(v.label),
		SuccessShare: v.share,
		CreatedAt:    time.Now(),
	}
}

func (s *Service) observe(p common.Prediction) {
	s.stats.RecordPrediction(p.Label == common.ClassSuccess)
	s.metrics.ObservePrediction(p.Outcome, p.Cached)
	s.record(p)
}

func (s *Service) current() (*model.Forest, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forest, s.active.Version
}

// cacheKey 模型版本 + 原始特征字节
func cacheKey(version int64, vec []float64) string {
	buf := make([]byte, 8+8*len(vec))
	binary.BigEndian.PutUint64(buf, uint64(version))
	common.PutVector(buf[8:], vec)
	return string(buf)
}

func (s *Service) cacheGet(key string) (vote, bool) {
	if s.cache == nil {
		return vote{}, false
	}
	raw, err := s.cache.Get(key)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			s.logger.Warn("prediction cache read failed", "error", err)
		}
		return vote{}, false
	}
	if len(raw) != 16 {
		return vote{}, false
	}
	return vote{
		label: int(int64(binary.BigEndian.Uint64(raw[0:8]))),
		share: math.Float64frombits(binary.BigEndian.Uint64(raw[8:16])),
	}, true
}

func (s *Service) cachePut(key string, v vote) {
	if s.cache == nil {
		return
	}
	raw := make([]byte, 16)
	binary.BigEndian.PutUint64(raw[0:8], uint64(int64(v.label)))
	binary.BigEndian.PutUint64(raw[8:16], math.Float64bits(v.share))
	if err := s.cache.Set(key, raw); err != nil {
		s.logger.Warn("prediction cache write failed", "error", err)
	}
}
