package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Configuration layering for the CLI. Precedence, lowest to highest:
//
//   1. Built-in defaults (SetDefault calls below)
//   2. Optional config file (-config flag, YAML/TOML/JSON - whatever viper reads)
//   3. Environment variables (BACKEND_NAME, TRAIN_EPOCHS, ...)
//   4. Command-line flags (each subcommand seeds its FlagSet defaults
//      from the loaded Config, so an explicit flag always wins)
//
// The training hyperparameters here are defaults for the `train` command;
// the canned model recipes in models.go carry their own tuned values.
//
// ===========================================================================

// Config collects every tunable the subcommands share.
type Config struct {
	Backend BackendSettings
	Data    DataSettings
	Train   TrainSettings
	Serve   ServeSettings
	Runs    RunSettings
}

// BackendSettings selects the compute device.
type BackendSettings struct {
	Name      string // "cpu" or "cuda"
	BatchSize int
}

// DataSettings locates datasets on disk.
type DataSettings struct {
	Dir     string // cache directory for downloaded datasets
	Dataset string // "mnist" or "cifar10"
}

// TrainSettings carries default hyperparameters for the fit loop.
type TrainSettings struct {
	Epochs         int
	LearningRate   float64
	Momentum       float64
	WeightDecay    float64
	ClipNorm       float64 // 0 disables gradient clipping
	Seed           int64
	ScheduleBreaks []int   // epochs at which the step schedule drops the rate
	ScheduleFactor float64 // multiplier applied at each break
}

// ServeSettings configures the inference HTTP server.
type ServeSettings struct {
	Addr string
}

// RunSettings locates training run artifacts (checkpoints, history).
type RunSettings struct {
	Dir string
}

// LoadConfig reads configuration from defaults, an optional config file,
// and the environment. configFile may be empty.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("BACKEND_NAME", "cpu")
	v.SetDefault("BACKEND_BATCH_SIZE", 128)
	v.SetDefault("DATA_DIR", defaultDataDir())
	v.SetDefault("DATA_DATASET", "mnist")
	v.SetDefault("TRAIN_EPOCHS", 10)
	v.SetDefault("TRAIN_LEARNING_RATE", 0.1)
	v.SetDefault("TRAIN_MOMENTUM", 0.9)
	v.SetDefault("TRAIN_WEIGHT_DECAY", 0.0)
	v.SetDefault("TRAIN_CLIP_NORM", 0.0)
	v.SetDefault("TRAIN_SEED", 0)
	v.SetDefault("TRAIN_SCHEDULE_BREAKS", []int{})
	v.SetDefault("TRAIN_SCHEDULE_FACTOR", 0.1)
	v.SetDefault("SERVE_ADDR", ":8080")
	v.SetDefault("RUNS_DIR", "runs")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	v.AutomaticEnv()

	cfg := &Config{
		Backend: BackendSettings{
			Name:      v.GetString("BACKEND_NAME"),
			BatchSize: v.GetInt("BACKEND_BATCH_SIZE"),
		},
		Data: DataSettings{
			Dir:     v.GetString("DATA_DIR"),
			Dataset: v.GetString("DATA_DATASET"),
		},
		Train: TrainSettings{
			Epochs:         v.GetInt("TRAIN_EPOCHS"),
			LearningRate:   v.GetFloat64("TRAIN_LEARNING_RATE"),
			Momentum:       v.GetFloat64("TRAIN_MOMENTUM"),
			WeightDecay:    v.GetFloat64("TRAIN_WEIGHT_DECAY"),
			ClipNorm:       v.GetFloat64("TRAIN_CLIP_NORM"),
			Seed:           v.GetInt64("TRAIN_SEED"),
			ScheduleBreaks: v.GetIntSlice("TRAIN_SCHEDULE_BREAKS"),
			ScheduleFactor: v.GetFloat64("TRAIN_SCHEDULE_FACTOR"),
		},
		Serve: ServeSettings{
			Addr: v.GetString("SERVE_ADDR"),
		},
		Runs: RunSettings{
			Dir: v.GetString("RUNS_DIR"),
		},
	}

	if cfg.Backend.BatchSize <= 0 {
		return nil, fmt.Errorf("config: batch size must be positive, got %d", cfg.Backend.BatchSize)
	}

	return cfg, nil
}

// defaultDataDir picks a per-user cache location for downloaded datasets,
// falling back to a local directory when the OS gives us nothing.
func defaultDataDir() string {
	if cache, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cache, "local-image-model")
	}
	return filepath.Join(".", "data")
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
