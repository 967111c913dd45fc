package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/bwmarrin/snowflake"

	"thrivesight/pkg/common"
	"thrivesight/pkg/config"
	"thrivesight/pkg/core/memory"
	"thrivesight/pkg/model"
	"thrivesight/pkg/monitor"
	"thrivesight/pkg/storage"
)

var (
	ErrNoModel        = errors.New("core: prediction unavailable")
	ErrNoTrainingData = errors.New("core: no training data")
)

const (
	dbFile      = "thrive.db"
	journalFile = "samples.journal"

	// MaxRecent caps a single history query.
	MaxRecent = 500
)

// Service owns the active forest and everything around it: the model
// registry, the sample journal, recent prediction history and the memo cache.
type Service struct {
	conf    *config.Config
	logger  *slog.Logger
	backend storage.Backend
	journal *storage.Journal
	history *memory.History
	cache   *bigcache.BigCache
	node    *snowflake.Node
	stats   *monitor.WorkloadStats
	metrics *monitor.Metrics

	mu     sync.RWMutex
	forest *model.Forest
	active storage.ModelRecord

	trainMu sync.Mutex

	writeCh   chan common.Prediction
	discardCh chan chan struct{}
	closeCh   chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService opens the data directory and starts the history persister.
// The service starts without a model; call Restore or Train.
func NewService(cfg *config.Config, logger *slog.Logger, metrics *monitor.Metrics) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	node, err := snowflake.NewNode(cfg.Node.ID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}

	backend, err := storage.NewSQLiteBackend(filepath.Join(cfg.Storage.Path, dbFile))
	if err != nil {
		return nil, err
	}

	journal, err := storage.OpenJournal(filepath.Join(cfg.Storage.Path, journalFile))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	s := &Service{
		conf:    cfg,
		logger:  logger,
		backend: backend,
		journal: journal,
		history: memory.NewHistory(32, cfg.Storage.HistoryCapacity),
		node:    node,
		stats:   monitor.NewWorkloadStats(),
		metrics: metrics,
		writeCh:   make(chan common.Prediction, cfg.Storage.HistoryBufferSize),
		discardCh: make(chan chan struct{}),
		closeCh:   make(chan struct{}),
	}
	if n := journal.Dropped(); n > 0 {
		logger.Warn("journal had a torn tail, truncated", "dropped_bytes", n, "samples", journal.Count())
	}

	if cfg.Cache.Enabled {
		cc := bigcache.DefaultConfig(cfg.Cache.TTL)
		cc.Shards = 64
		cc.MaxEntriesInWindow = 10000
		cc.MaxEntrySize = 128 // key is version + 10 floats, value is 16 bytes
		cc.HardMaxCacheSize = cfg.Cache.MaxMB
		cc.Verbose = false
		cache, err := bigcache.New(context.Background(), cc)
		if err != nil {
			journal.Close()
			backend.Close()
			return nil, fmt.Errorf("init prediction cache: %w", err)
		}
		s.cache = cache
	}

	s.warmHistory()

	s.wg.Add(1)
	go s.backgroundPersist()

	logger.Info("service ready", "data_dir", cfg.Storage.Path, "journal_samples", journal.Count(), "cache", cfg.Cache.Enabled)
	return s, nil
}

// warmHistory 启动时把最近的预测加载到内存索引
func (s *Service) warmHistory() {
	preds, err := s.backend.RecentPredictions(s.conf.Storage.HistoryCapacity)
	if err != nil {
		s.logger.Warn("history warmup failed", "error", err)
		return
	}
	for _, p := range preds {
		s.history.Put(p)
	}
}

func (s *Service) backgroundPersist() {
	defer s.wg.Done()
	batch := s.conf.Storage.HistoryBatchSize
	buffer := make([]common.Prediction, 0, batch)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if err := s.backend.BatchWritePredictions(buffer); err != nil {
			s.logger.Error("persist predictions failed", "count", len(buffer), "error", err)
		}
		buffer = buffer[:0]
	}

	for {
		select {
		case p := <-s.writeCh:
			buffer = append(buffer, p)
			if len(buffer) >= batch {
				flush()
			}
		case <-ticker.C:
			flush()
		case done := <-s.discardCh:
			// 丢弃队列中尚未落盘的记录
			buffer = buffer[:0]
			for drained := false; !drained; {
				select {
				case <-s.writeCh:
				default:
					drained = true
				}
			}
			close(done)
		case <-s.closeCh:
			for {
				select {
				case p := <-s.writeCh:
					buffer = append(buffer, p)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Service) record(p common.Prediction) {
	s.history.Put(p)
	select {
	case s.writeCh <- p:
	case <-s.closeCh:
	}
}

// Recent returns up to limit predictions, newest first. The in-memory
// index answers first; older entries come from SQLite.
func (s *Service) Recent(limit int) ([]common.Prediction, error) {
	if limit <= 0 {
		return []common.Prediction{}, nil
	}
	if limit > MaxRecent {
		limit = MaxRecent
	}

	out := s.history.Recent(limit)
	if len(out) >= limit {
		return out, nil
	}

	stored, err := s.backend.RecentPredictions(limit)
	if err != nil {
		return nil, err
	}
	seen := make(map[common.ID]bool, len(out))
	for _, p := range out {
		seen[p.ID] = true
	}
	for _, p := range stored {
		if !seen[p.ID] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prediction looks up one answered request by id, memory first.
func (s *Service) Prediction(id common.ID) (common.Prediction, error) {
	if p, ok := s.history.Get(id); ok {
		return p, nil
	}
	return s.backend.GetPrediction(id)
}

// discardPending 丢弃已排队但还没写入 SQLite 的预测
func (s *Service) discardPending() {
	done := make(chan struct{})
	select {
	case s.discardCh <- done:
		<-done
	case <-s.closeCh:
	}
}

// AddSample appends a labeled profile to the journal for the next training run.
func (s *Service) AddSample(ctx context.Context, sample common.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	if err := s.journal.Append(sample); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.stats.RecordSample()
	return nil
}

func (s *Service) Stats() map[string]interface{} {
	out := s.stats.Snapshot()

	s.mu.RLock()
	out["model_loaded"] = s.forest != nil
	out["model_version"] = s.active.Version
	if s.forest != nil {
		out["model_trees"] = len(s.forest.Trees())
	}
	s.mu.RUnlock()

	out["history_count"] = s.history.Count()
	out["journal_samples"] = s.journal.Count()
	if n, err := s.journal.Size(); err == nil {
		out["journal_bytes"] = n
	}
	out["pending_writes"] = len(s.writeCh)
	if s.cache != nil {
		out["cache_entries"] = s.cache.Len()
	}
	if n, err := s.backend.CountPredictions(); err == nil {
		out["stored_predictions"] = n
	}
	return out
}

// Reset 清空预测历史、样本日志和缓存。
// 已训练的模型保留在注册表中。
func (s *Service) Reset() error {
	s.discardPending()
	s.history.Clear()
	if err := s.backend.TruncatePredictions(); err != nil {
		return err
	}
	if err := s.journal.Truncate(); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Reset(); err != nil {
			return err
		}
	}
	s.stats.Reset()
	s.logger.Info("service state reset")
	return nil
}

func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.wg.Wait()
		if err := s.journal.Close(); err != nil {
			s.logger.Warn("close journal", "error", err)
		}
		s.backend.Close()
		if s.cache != nil {
			s.cache.Close()
		}
	})
}
