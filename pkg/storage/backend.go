package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"thrivesight/pkg/common"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("storage: not found")

// ModelRecord 持久化的模型及其元数据 (面板展示用)
type ModelRecord struct {
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	NEstimators int            `json:"n_estimators"`
	MaxDepth    int            `json:"max_depth"`
	Seed        int64          `json:"seed"`
	Rows        int            `json:"rows"`
	Metrics     common.Metrics `json:"metrics"`
	Blob        []byte         `json:"-"`
}

type Backend interface {
	SaveModel(rec *ModelRecord) (int64, error)
	LatestModel() (*ModelRecord, error)
	ListModels(limit int) ([]ModelRecord, error)
	BatchWritePredictions(preds []common.Prediction) error
	RecentPredictions(limit int) ([]common.Prediction, error)
	GetPrediction(id common.ID) (common.Prediction, error)
	CountPredictions() (int64, error)
	TruncatePredictions() error
	Close()
}

type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS models (
	version INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at INTEGER NOT NULL,
	n_estimators INTEGER NOT NULL,
	max_depth INTEGER NOT NULL,
	seed INTEGER NOT NULL,
	rows INTEGER NOT NULL,
	accuracy REAL,
	precision_score REAL,
	recall REAL,
	f1 REAL,
	support INTEGER,
	blob BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS predictions (
	id INTEGER PRIMARY KEY,
	model_version INTEGER NOT NULL,
	features TEXT NOT NULL,
	label INTEGER NOT NULL,
	success_share REAL,
	created_at INTEGER NOT NULL
);`

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`)
	if err != nil {
		slog.Warn("failed to set sqlite pragma", "error", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) SaveModel(rec *ModelRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO models
		(created_at, n_estimators, max_depth, seed, rows, accuracy, precision_score, recall, f1, support, blob)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CreatedAt.UnixNano(), rec.NEstimators, rec.MaxDepth, rec.Seed, rec.Rows,
		rec.Metrics.Accuracy, rec.Metrics.Precision, rec.Metrics.Recall, rec.Metrics.F1, rec.Metrics.Support,
		rec.Blob)
	if err != nil {
		return 0, err
	}
	version, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	rec.Version = version
	return version, nil
}

const modelColumns = `version, created_at, n_estimators, max_depth, seed, rows, accuracy, precision_score, recall, f1, support`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(r rowScanner, withBlob bool) (*ModelRecord, error) {
	var rec ModelRecord
	var created int64
	dest := []any{
		&rec.Version, &created, &rec.NEstimators, &rec.MaxDepth, &rec.Seed, &rec.Rows,
		&rec.Metrics.Accuracy, &rec.Metrics.Precision, &rec.Metrics.Recall, &rec.Metrics.F1, &rec.Metrics.Support,
	}
	if withBlob {
		dest = append(dest, &rec.Blob)
	}
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, created)
	return &rec, nil
}

func (s *SQLiteBackend) LatestModel() (*ModelRecord, error) {
	row := s.db.QueryRow("SELECT " + modelColumns + ", blob FROM models ORDER BY version DESC LIMIT 1")
	rec, err := scanModel(row, true)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListModels 只返回元数据，不带 blob，按版本倒序
func (s *SQLiteBackend) ListModels(limit int) ([]ModelRecord, error) {
	rows, err := s.db.Query("SELECT "+modelColumns+" FROM models ORDER BY version DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelRecord
	for rows.Next() {
		rec, err := scanModel(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) BatchWritePredictions(preds []common.Prediction) error {
	if len(preds) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO predictions
		(id, model_version, features, label, success_share, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range preds {
		features, err := json.Marshal(p.Profile)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.Exec(int64(p.ID), p.ModelVersion, string(features), p.Label, p.SuccessShare, p.CreatedAt.UnixNano()); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

const predictionColumns = `id, model_version, features, label, success_share, created_at`

func scanPrediction(r rowScanner) (common.Prediction, error) {
	var (
		p        common.Prediction
		id       int64
		features string
		created  int64
	)
	if err := r.Scan(&id, &p.ModelVersion, &features, &p.Label, &p.SuccessShare, &created); err != nil {
		return common.Prediction{}, err
	}
	if err := json.Unmarshal([]byte(features), &p.Profile); err != nil {
		return common.Prediction{}, err
	}
	p.ID = common.ID(id)
	p.Outcome = common.Outcome(p.Label)
	p.CreatedAt = time.Unix(0, created)
	return p, nil
}

// RecentPredictions 最新的记录在前
func (s *SQLiteBackend) RecentPredictions(limit int) ([]common.Prediction, error) {
	rows, err := s.db.Query(`SELECT `+predictionColumns+`
		FROM predictions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) GetPrediction(id common.ID) (common.Prediction, error) {
	row := s.db.QueryRow(`SELECT `+predictionColumns+` FROM predictions WHERE id = ?`, int64(id))
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Prediction{}, ErrNotFound
	}
	return p, err
}

func (s *SQLiteBackend) CountPredictions() (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM predictions").Scan(&n)
	return n, err
}

func (s *SQLiteBackend) TruncatePredictions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM predictions")
	return err
}

func (s *SQLiteBackend) Close() {
	s.db.Close()
}
