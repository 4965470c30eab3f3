// Package registry persists the outcome of training runs: the parameters
// and metrics of every run, and the weights of models worth keeping.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/satellitecrops/cropseg/checkpoints"
	"github.com/satellitecrops/cropseg/engine"
	"github.com/satellitecrops/cropseg/internal/jsonfloat"
	"github.com/satellitecrops/cropseg/internal/logging"
	"github.com/satellitecrops/cropseg/training"
)

// ErrNoModel is returned by LatestModel when nothing has been saved.
var ErrNoModel = errors.New("registry: no saved model")

const timestampLayout = "20060102-150405.000000"

// Params describes the run that produced a set of metrics.
type Params struct {
	Context         string      `json:"context"`
	TrainingSetSize int         `json:"training_set_size"`
	RowCount        int         `json:"row_count"`
	Grid            *GridParams `json:"grid,omitempty"`
}

// GridParams is the hyperparameter tuple of a grid search run.
type GridParams struct {
	BatchSize    int     `json:"batch_size"`
	Patience     int     `json:"patience"`
	LearningRate float64 `json:"learning_rate"`
}

// Metrics holds the selected score and the full training history. A
// diverged run has a NaN score, stored as null.
type Metrics struct {
	MeanIoU float64           `json:"mean_IoU"`
	History *training.History `json:"history"`
}

type metricsJSON struct {
	MeanIoU jsonfloat.Float   `json:"mean_IoU"`
	History *training.History `json:"history"`
}

func (m Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(metricsJSON{MeanIoU: jsonfloat.Float(m.MeanIoU), History: m.History})
}

func (m *Metrics) UnmarshalJSON(data []byte) error {
	var in metricsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.MeanIoU = float64(in.MeanIoU)
	m.History = in.History
	return nil
}

// Store writes results under a local directory and optionally mirrors
// them to Redis.
type Store struct {
	root   string
	saver  *checkpoints.CheckpointSaver
	mirror *RedisMirror
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// Option configures the store.
type Option func(*Store)

// WithFormat selects the checkpoint encoding.
func WithFormat(format checkpoints.CheckpointFormat) Option {
	return func(s *Store) {
		s.saver = checkpoints.NewCheckpointSaver(format)
	}
}

// WithMirror copies results and checkpoints to Redis.
func WithMirror(m *RedisMirror) Option {
	return func(s *Store) {
		s.mirror = m
	}
}

// WithClock overrides the time source used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store rooted at root.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:   root,
		saver:  checkpoints.NewCheckpointSaver(checkpoints.FormatJSON),
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the local directory.
func (s *Store) Root() string {
	return s.root
}

// timestamp returns a strictly increasing run identifier.
func (s *Store) timestamp() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return strings.Replace(t.Format(timestampLayout), ".", "-", 1)
}

// SaveResults writes params/<ts>.json and metrics/<ts>.json and returns
// the timestamp.
func (s *Store) SaveResults(ctx context.Context, params Params, metrics Metrics) (string, error) {
	ts := s.timestamp()

	paramsData, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	metricsData, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metrics: %w", err)
	}

	if err := s.writeFile("params", ts+".json", paramsData); err != nil {
		return "", err
	}
	if err := s.writeFile("metrics", ts+".json", metricsData); err != nil {
		return "", err
	}

	if s.mirror != nil {
		if err := s.mirror.SaveResults(ctx, ts, paramsData, metricsData); err != nil {
			return "", err
		}
	}

	s.logger.Info("results saved", "timestamp", ts, "mean_iou", metrics.MeanIoU)
	return ts, nil
}

// SaveModel asks the framework to write the weights, then records a
// checkpoint describing them.
func (s *Store) SaveModel(ctx context.Context, model engine.Model, state checkpoints.TrainingState) (*checkpoints.Checkpoint, error) {
	ts := s.timestamp()
	dir := filepath.Join(s.root, "models")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	weightsFile := ts + ".weights"
	if err := model.SaveWeights(ctx, filepath.Join(dir, weightsFile)); err != nil {
		return nil, fmt.Errorf("failed to save weights: %w", err)
	}

	ckpt := &checkpoints.Checkpoint{
		ModelSpec:     model.Spec(),
		WeightsFile:   weightsFile,
		TrainingState: state,
		Metadata: checkpoints.CheckpointMetadata{
			CreatedAt: s.now(),
			Tags:      []string{ts},
		},
	}
	data, err := s.saver.Marshal(ckpt)
	if err != nil {
		return nil, err
	}
	if err := s.writeFile("models", ts+s.saver.Format().Extension(), data); err != nil {
		return nil, err
	}

	if s.mirror != nil {
		if err := s.mirror.SaveModel(ctx, ts, data); err != nil {
			return nil, err
		}
	}

	s.logger.Info("model saved", "timestamp", ts, "weights", weightsFile)
	return ckpt, nil
}

// LatestModel returns the most recent checkpoint, from Redis when a
// mirror is configured.
func (s *Store) LatestModel(ctx context.Context) (*checkpoints.Checkpoint, error) {
	if s.mirror != nil {
		data, _, err := s.mirror.LatestModel(ctx)
		if err != nil {
			return nil, err
		}
		return s.saver.Unmarshal(data)
	}

	pattern := filepath.Join(s.root, "models", "*"+s.saver.Format().Extension())
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNoModel
	}
	sort.Strings(matches)
	return s.saver.LoadCheckpoint(matches[len(matches)-1])
}

func (s *Store) writeFile(sub, name string, data []byte) error {
	dir := filepath.Join(s.root, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", sub, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", sub, name, err)
	}
	return nil
}
