package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Model   ModelConfig   `yaml:"model"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Node    NodeConfig    `yaml:"node"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`       // HTTP Listen Address (e.g. :8080)
	TCPAddr         string        `yaml:"tcp_addr"`   // TCP Listen Address (e.g. :9090)
	StaticDir       string        `yaml:"static_dir"` // dashboard assets, skipped if missing
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	HistoryBufferSize int    `yaml:"history_buffer_size" validate:"gte=1"`
	HistoryBatchSize  int    `yaml:"history_batch_size" validate:"gte=1"`
	HistoryCapacity   int    `yaml:"history_capacity" validate:"gte=1"`
}

type ModelConfig struct {
	NEstimators  int     `yaml:"n_estimators" validate:"gte=1"`
	MaxDepth     int     `yaml:"max_depth" validate:"gte=-1"` // -1 => unlimited
	Seed         int64   `yaml:"seed"`
	Workers      int     `yaml:"workers" validate:"gte=0"`
	TestRatio    float64 `yaml:"test_ratio" validate:"gte=0,lt=1"`
	DatasetPath  string  `yaml:"dataset_path"`
	LabelColumn  string  `yaml:"label_column" validate:"required"`
	ModelFile    string  `yaml:"model_file"`
	TrainOnStart bool    `yaml:"train_on_start"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	MaxMB   int           `yaml:"max_mb" validate:"gte=0"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

type NodeConfig struct {
	ID int64 `yaml:"id" validate:"gte=0,lte=1023"` // snowflake node id
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			TCPAddr:         ":9090",
			StaticDir:       "static",
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Path:              "thrive_data",
			HistoryBufferSize: 1024,
			HistoryBatchSize:  100,
			HistoryCapacity:   1000,
		},
		Model: ModelConfig{
			NEstimators: 100,
			MaxDepth:    -1,
			Seed:        42,
			TestRatio:   0.2,
			LabelColumn: "labels",
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     10 * time.Minute,
			MaxMB:   64,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Node: NodeConfig{ID: 1},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/thrivesight.yaml", "thrivesight.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				return cfg, parse(cfg, data)
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}
	return cfg, parse(cfg, data)
}

func parse(cfg *Config, data []byte) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	applyDefaults(cfg)
	return Validate(cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Storage.HistoryBufferSize <= 0 {
		cfg.Storage.HistoryBufferSize = 1024
	}
	if cfg.Storage.HistoryBatchSize <= 0 {
		cfg.Storage.HistoryBatchSize = 100
	}
	if cfg.Storage.HistoryCapacity <= 0 {
		cfg.Storage.HistoryCapacity = 1000
	}
	if cfg.Model.NEstimators <= 0 {
		cfg.Model.NEstimators = 100
	}
	if cfg.Model.LabelColumn == "" {
		cfg.Model.LabelColumn = "labels"
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 10 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks the struct tags after defaults are applied.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
