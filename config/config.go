// Package config loads the cropseg YAML configuration. Every field has a
// default, so an empty file (or no file) reproduces the stock training job.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/satellitecrops/cropseg/checkpoints"
	"github.com/satellitecrops/cropseg/internal/logging"
	"github.com/satellitecrops/cropseg/optimizer"
	"github.com/satellitecrops/cropseg/training"
)

// Model targets for the registry.
const (
	TargetLocal = "local"
	TargetRedis = "redis"
)

type Config struct {
	DataPath         string  `yaml:"data_path"`
	MinCropsCoverage float64 `yaml:"min_crops_coverage"`
	// Seed drives the train/test split. Zero picks a time based seed.
	Seed     int64  `yaml:"seed"`
	LogLevel string `yaml:"log_level"`

	Train    TrainConfig    `yaml:"train"`
	Loader   LoaderConfig   `yaml:"loader"`
	Model    ModelConfig    `yaml:"model"`
	Engine   EngineConfig   `yaml:"engine"`
	Registry RegistryConfig `yaml:"registry"`
	Grid     GridConfig     `yaml:"grid"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type TrainConfig struct {
	Optimizer       string  `yaml:"optimizer"`
	LearningRate    float64 `yaml:"learning_rate"`
	Momentum        float64 `yaml:"momentum"`
	Rho             float64 `yaml:"rho"`
	Loss            string  `yaml:"loss"`
	BatchSize       int     `yaml:"batch_size"`
	Patience        int     `yaml:"patience"`
	Alpha           float64 `yaml:"alpha"`
	Gamma           float64 `yaml:"gamma"`
	ValidationSplit float64 `yaml:"validation_split"`
	TestSize        float64 `yaml:"test_size"`
	Epochs          int     `yaml:"epochs"`
}

type LoaderConfig struct {
	BandsFeature string `yaml:"bands_feature"`
	MaskFeature  string `yaml:"mask_feature"`
	TimeIndex    int    `yaml:"time_index"`
	Workers      int    `yaml:"workers"`
}

type ModelConfig struct {
	BaseFilters int     `yaml:"base_filters"`
	Depth       int     `yaml:"depth"`
	DropoutRate float64 `yaml:"dropout_rate"`
}

// EngineConfig locates the framework process.
type EngineConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	WorkDir string   `yaml:"work_dir"`
}

type RegistryConfig struct {
	Path        string      `yaml:"path"`
	ModelTarget string      `yaml:"model_target"`
	Format      string      `yaml:"format"`
	Redis       RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type GridConfig struct {
	DataPath      string    `yaml:"data_path"`
	LearningRates []float64 `yaml:"learning_rates"`
	BatchSizes    []int     `yaml:"batch_sizes"`
	Patience      []int     `yaml:"patience"`
}

type MetricsConfig struct {
	// Textfile, when set, receives the Prometheus metrics after a run.
	Textfile string `yaml:"textfile"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		DataPath:         "./data/departments/landes/eopatches",
		MinCropsCoverage: 0.1,
		LogLevel:         "info",
		Train: TrainConfig{
			Optimizer:       "adam",
			LearningRate:    0.001,
			Loss:            "focal",
			BatchSize:       16,
			Patience:        5,
			Alpha:           0.25,
			Gamma:           2,
			ValidationSplit: 0.2,
			TestSize:        0.2,
			Epochs:          100,
		},
		Loader: LoaderConfig{
			BandsFeature: "data/BANDS",
			MaskFeature:  "mask_timeless/CROPS",
		},
		Model: ModelConfig{
			BaseFilters: 16,
			Depth:       4,
		},
		Engine: EngineConfig{
			Command: "python3",
			Args:    []string{"-m", "cropseg_engine"},
		},
		Registry: RegistryConfig{
			Path:        "./training_outputs",
			ModelTarget: TargetLocal,
			Format:      "json",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "cropseg:",
			},
		},
		Grid: GridConfig{
			DataPath:      "./data/departments/landes/eopatches",
			LearningRates: []float64{0.0001, 0.005, 0.001, 0.1, 1, 10},
			BatchSizes:    []int{16, 32},
			Patience:      []int{5, 10},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyOverrides applies dotted key=value pairs such as
// "train.batch_size=32" or "grid.patience=[5,10]". Values are parsed as
// YAML scalars or flow sequences.
func (c *Config) ApplyOverrides(sets []string) error {
	if len(sets) == 0 {
		return nil
	}

	tree := make(map[string]interface{})
	for _, set := range sets {
		key, raw, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("invalid override %q, expected key=value", set)
		}

		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("invalid value in override %q: %w", set, err)
		}
		if value == nil {
			value = ""
		}

		parts := strings.Split(key, ".")
		node := tree
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create override decoder: %w", err)
	}
	if err := decoder.Decode(tree); err != nil {
		return fmt.Errorf("failed to apply overrides: %w", err)
	}
	return nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.MinCropsCoverage < 0 || c.MinCropsCoverage > 1 {
		return fmt.Errorf("min_crops_coverage must be in [0, 1], got %g", c.MinCropsCoverage)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	opt, err := optimizer.Parse(c.Train.Optimizer, c.Train.LearningRate)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if err := opt.WithMomentum(c.Train.Momentum, c.Train.Rho).Validate(); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if _, err := training.NewLoss(c.Train.Loss, c.Train.Alpha, c.Train.Gamma); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if c.Train.LearningRate <= 0 {
		return fmt.Errorf("train.learning_rate must be positive, got %g", c.Train.LearningRate)
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("train.batch_size must be positive, got %d", c.Train.BatchSize)
	}
	if c.Train.Patience < 0 {
		return fmt.Errorf("train.patience cannot be negative, got %d", c.Train.Patience)
	}
	if c.Train.Alpha < 0 || c.Train.Gamma < 0 {
		return fmt.Errorf("train.alpha and train.gamma cannot be negative")
	}
	if c.Train.ValidationSplit <= 0 || c.Train.ValidationSplit >= 1 {
		return fmt.Errorf("train.validation_split must be in (0, 1), got %g", c.Train.ValidationSplit)
	}
	if c.Train.TestSize <= 0 || c.Train.TestSize >= 1 {
		return fmt.Errorf("train.test_size must be in (0, 1), got %g", c.Train.TestSize)
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("train.epochs must be positive, got %d", c.Train.Epochs)
	}

	if c.Model.BaseFilters <= 0 || c.Model.Depth <= 0 {
		return fmt.Errorf("model.base_filters and model.depth must be positive")
	}
	if c.Model.DropoutRate < 0 || c.Model.DropoutRate >= 1 {
		return fmt.Errorf("model.dropout_rate must be in [0, 1), got %g", c.Model.DropoutRate)
	}

	if c.Engine.Command == "" {
		return fmt.Errorf("engine.command is required")
	}

	if _, err := checkpoints.ParseFormat(c.Registry.Format); err != nil {
		return fmt.Errorf("registry.format: %w", err)
	}
	switch c.Registry.ModelTarget {
	case TargetLocal:
	case TargetRedis:
		if c.Registry.Redis.Addr == "" {
			return fmt.Errorf("registry.redis.addr is required when model_target is redis")
		}
	default:
		return fmt.Errorf("unknown registry.model_target %q", c.Registry.ModelTarget)
	}

	if len(c.Grid.LearningRates) == 0 || len(c.Grid.BatchSizes) == 0 || len(c.Grid.Patience) == 0 {
		return fmt.Errorf("grid needs at least one learning rate, batch size and patience")
	}
	return nil
}
