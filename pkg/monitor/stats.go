package monitor

import (
	"sync/atomic"
)

type WorkloadStats struct {
	PredictCount uint64
	SuccessCount uint64
	FailureCount uint64
	HitCount     uint64
	TrainCount   uint64
	SampleCount  uint64
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{}
}

// RecordPrediction counts one answered prediction by outcome.
func (ws *WorkloadStats) RecordPrediction(success bool) {
	atomic.AddUint64(&ws.PredictCount, 1)
	if success {
		atomic.AddUint64(&ws.SuccessCount, 1)
	} else {
		atomic.AddUint64(&ws.FailureCount, 1)
	}
}

func (ws *WorkloadStats) RecordHit() {
	atomic.AddUint64(&ws.HitCount, 1)
}

func (ws *WorkloadStats) RecordTraining() {
	atomic.AddUint64(&ws.TrainCount, 1)
}

func (ws *WorkloadStats) RecordSample() {
	atomic.AddUint64(&ws.SampleCount, 1)
}

// SuccessRatio is successes over all predictions, 0 before the first one.
func (ws *WorkloadStats) SuccessRatio() float64 {
	total := atomic.LoadUint64(&ws.PredictCount)
	if total == 0 {
		return 0.0
	}
	return float64(atomic.LoadUint64(&ws.SuccessCount)) / float64(total)
}

// HitRatio 缓存命中率
func (ws *WorkloadStats) HitRatio() float64 {
	total := atomic.LoadUint64(&ws.PredictCount)
	if total == 0 {
		return 0.0
	}
	return float64(atomic.LoadUint64(&ws.HitCount)) / float64(total)
}

func (ws *WorkloadStats) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"predictions":   atomic.LoadUint64(&ws.PredictCount),
		"successes":     atomic.LoadUint64(&ws.SuccessCount),
		"failures":      atomic.LoadUint64(&ws.FailureCount),
		"cache_hits":    atomic.LoadUint64(&ws.HitCount),
		"trainings":     atomic.LoadUint64(&ws.TrainCount),
		"samples_added": atomic.LoadUint64(&ws.SampleCount),
		"success_ratio": ws.SuccessRatio(),
		"hit_ratio":     ws.HitRatio(),
	}
}

func (ws *WorkloadStats) Reset() {
	atomic.StoreUint64(&ws.PredictCount, 0)
	atomic.StoreUint64(&ws.SuccessCount, 0)
	atomic.StoreUint64(&ws.FailureCount, 0)
	atomic.StoreUint64(&ws.HitCount, 0)
	atomic.StoreUint64(&ws.SampleCount, 0)
}
