// Package pipeline runs the crop segmentation training job end to end and
// the hyperparameter grid search built on top of it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/satellitecrops/cropseg/checkpoints"
	"github.com/satellitecrops/cropseg/engine"
	"github.com/satellitecrops/cropseg/internal/logging"
	"github.com/satellitecrops/cropseg/internal/status"
	"github.com/satellitecrops/cropseg/internal/telemetry"
	"github.com/satellitecrops/cropseg/layers"
	"github.com/satellitecrops/cropseg/registry"
	"github.com/satellitecrops/cropseg/tensor"
	"github.com/satellitecrops/cropseg/vision/dataset"
)

// Loader reads imagery (samples, channels, height, width) and labels
// (samples, height, width).
type Loader interface {
	Load(path string, minCropsCoverage float64) (*tensor.Tensor, *tensor.Tensor, error)
}

// ReportingLoader is a Loader that also describes every eopatch it
// considered. The runner logs the report when the loader provides one.
type ReportingLoader interface {
	Loader
	LoadWithReport(path string, minCropsCoverage float64) (*tensor.Tensor, *tensor.Tensor, []dataset.PatchInfo, error)
}

// ResultStore persists run results and trained models.
type ResultStore interface {
	SaveResults(ctx context.Context, params registry.Params, metrics registry.Metrics) (string, error)
	SaveModel(ctx context.Context, model engine.Model, state checkpoints.TrainingState) (*checkpoints.Checkpoint, error)
}

// Params are the hyperparameters of one training run.
type Params struct {
	Optimizer       string
	LearningRate    float64
	Loss            string
	BatchSize       int
	Patience        int
	Alpha           float64
	Gamma           float64
	ValidationSplit float64
	TestSize        float64
	Epochs          int

	// Momentum and Rho apply to sgd and rmsprop. Zero keeps the defaults.
	Momentum float64
	Rho      float64

	// GridSearch records the tuple with the results and skips saving
	// the model.
	GridSearch bool
}

// DefaultParams returns the stock hyperparameters.
func DefaultParams() Params {
	return Params{
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
	}
}

// Runner wires the data loader, the framework and the result store.
type Runner struct {
	loader  Loader
	builder engine.Builder
	store   ResultStore

	minCropsCoverage float64
	unet             layers.UNetConfig
	rng              *rand.Rand

	status   *status.Printer
	logger   *slog.Logger
	recorder *telemetry.Recorder
}

// Option configures the runner.
type Option func(*Runner)

// WithMinCropsCoverage sets the eopatch coverage threshold.
func WithMinCropsCoverage(coverage float64) Option {
	return func(r *Runner) {
		r.minCropsCoverage = coverage
	}
}

// WithUNet sets the architecture knobs. Class count and image size are
// always taken from the data.
func WithUNet(cfg layers.UNetConfig) Option {
	return func(r *Runner) {
		r.unet = cfg
	}
}

// WithSeed makes the train/test split reproducible.
func WithSeed(seed uint64) Option {
	return func(r *Runner) {
		r.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

func WithStatus(p *status.Printer) Option {
	return func(r *Runner) {
		r.status = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRecorder feeds epoch and run metrics to Prometheus collectors.
func WithRecorder(rec *telemetry.Recorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// NewRunner creates a Runner.
func NewRunner(loader Loader, builder engine.Builder, store ResultStore, opts ...Option) *Runner {
	seed := uint64(time.Now().UnixNano())
	r := &Runner{
		loader:           loader,
		builder:          builder,
		store:            store,
		minCropsCoverage: 0.1,
		rng:              rand.New(rand.NewPCG(seed, seed)),
		status:           status.New(),
		logger:           logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// load reads the eopatches and logs which were kept.
func (r *Runner) load(path string) (*tensor.Tensor, *tensor.Tensor, error) {
	rl, ok := r.loader.(ReportingLoader)
	if !ok {
		return r.loader.Load(path, r.minCropsCoverage)
	}

	x, y, report, err := rl.LoadWithReport(path, r.minCropsCoverage)
	kept := 0
	for _, info := range report {
		if info.Kept {
			kept++
			continue
		}
		r.logger.Debug("eopatch skipped", "name", info.Name, "coverage", info.Coverage)
	}
	if len(report) > 0 {
		r.logger.Info("eopatches scanned",
			"kept", kept,
			"skipped", len(report)-kept,
			"min_coverage", r.minCropsCoverage)
	}
	return x, y, err
}

func (p Params) validate() error {
	if p.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", p.LearningRate)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", p.BatchSize)
	}
	if p.Patience < 0 {
		return fmt.Errorf("patience cannot be negative, got %d", p.Patience)
	}
	if p.TestSize <= 0 || p.TestSize >= 1 {
		return fmt.Errorf("test size must be in (0, 1), got %g", p.TestSize)
	}
	if p.ValidationSplit <= 0 || p.ValidationSplit >= 1 {
		return fmt.Errorf("validation split must be in (0, 1), got %g", p.ValidationSplit)
	}
	if p.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", p.Epochs)
	}
	return nil
}
