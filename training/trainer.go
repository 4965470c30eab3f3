package training

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/satellitecrops/cropseg/engine"
	"github.com/satellitecrops/cropseg/tensor"
)

// TrainingConfig holds configuration for training
type TrainingConfig struct {
	Epochs          int
	BatchSize       int
	ValidationSplit float64 // Trailing share of the samples held out each epoch
	Shuffle         bool    // Shuffle training batches every epoch
	EarlyStopping   bool    // Enable early stopping on Monitor
	Patience        int     // Number of epochs to wait for improvement before stopping
	Monitor         string  // Metric watched by early stopping, default val_loss
	Mode            string  // "min" or "max", default inferred from Monitor
}

// DefaultTrainingConfig mirrors the framework defaults used by the
// segmentation training job.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Epochs:          100,
		BatchSize:       16,
		ValidationSplit: 0.2,
		Shuffle:         true,
		EarlyStopping:   true,
		Patience:        5,
		Monitor:         "val_loss",
	}
}

// Callback observes the fit loop.
type Callback interface {
	OnEpochEnd(epoch int, logs map[string]float64)
}

// CallbackFunc adapts a function to the Callback interface.
type CallbackFunc func(epoch int, logs map[string]float64)

func (f CallbackFunc) OnEpochEnd(epoch int, logs map[string]float64) {
	f(epoch, logs)
}

// Trainer manages the training process
type Trainer struct {
	config    TrainingConfig
	callbacks []Callback
	out       io.Writer
}

// NewTrainer creates a new Trainer
func NewTrainer(config TrainingConfig, callbacks ...Callback) *Trainer {
	return &Trainer{
		config:    config,
		callbacks: callbacks,
		out:       os.Stdout,
	}
}

// SetOutput redirects epoch progress, io.Discard silences it.
func (t *Trainer) SetOutput(w io.Writer) {
	t.out = w
}

// Config returns the trainer configuration.
func (t *Trainer) Config() TrainingConfig {
	return t.config
}

func (t *Trainer) validate() error {
	if t.config.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", t.config.Epochs)
	}
	if t.config.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", t.config.BatchSize)
	}
	if t.config.EarlyStopping && t.config.Patience < 0 {
		return fmt.Errorf("patience cannot be negative, got %d", t.config.Patience)
	}
	switch t.config.Mode {
	case "", "min", "max":
	default:
		return fmt.Errorf("unknown early stopping mode %q", t.config.Mode)
	}
	return nil
}

// monitor resolves the watched metric and whether larger is better.
func (t *Trainer) monitor() (string, bool) {
	name := t.config.Monitor
	if name == "" {
		name = "val_" + engine.MetricLoss
	}
	if t.config.ValidationSplit == 0 {
		name = strings.TrimPrefix(name, "val_")
	}

	switch t.config.Mode {
	case "max":
		return name, true
	case "min":
		return name, false
	}
	return name, !strings.HasSuffix(name, engine.MetricLoss)
}

// Fit trains model on x (channels last) and y (one-hot) and returns the
// per-epoch history. Training metrics are recorded under their own names,
// validation metrics with a "val_" prefix.
func (t *Trainer) Fit(ctx context.Context, model engine.Model, x, y *tensor.Tensor) (*History, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	n := x.Samples()
	if y.Samples() != n {
		return nil, fmt.Errorf("sample count mismatch: x has %d, y has %d", n, y.Samples())
	}

	cut, err := ValidationCut(n, t.config.ValidationSplit)
	if err != nil {
		return nil, err
	}

	hasValidation := cut < n
	if err := t.stage(ctx, model, x, y, cut, hasValidation); err != nil {
		return nil, err
	}

	monitor, higherIsBetter := t.monitor()
	best := math.Inf(1)
	if higherIsBetter {
		best = math.Inf(-1)
	}
	wait := 0

	history := NewHistory()
	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		fmt.Fprintf(t.out, "Epoch %d/%d\n", epoch+1, t.config.Epochs)
		bar := NewProgressBar(t.out, "train", cut)

		logs, err := model.TrainEpoch(ctx, engine.DatasetTrain, t.config.BatchSize, t.config.Shuffle)
		if err != nil {
			return history, fmt.Errorf("training epoch %d failed: %w", epoch, err)
		}
		epochLogs := make(map[string]float64, 2*len(logs))
		for key, value := range logs {
			epochLogs[key] = value
		}

		if hasValidation {
			validLogs, err := model.Evaluate(ctx, engine.DatasetValidation, t.config.BatchSize)
			if err != nil {
				return history, fmt.Errorf("validation epoch %d failed: %w", epoch, err)
			}
			for key, value := range validLogs {
				epochLogs["val_"+key] = value
			}
		}

		bar.Update(cut, epochLogs)
		bar.Finish()

		history.Append(epoch, epochLogs)
		for _, cb := range t.callbacks {
			cb.OnEpochEnd(epoch, epochLogs)
		}

		if !t.config.EarlyStopping {
			continue
		}

		current, ok := epochLogs[monitor]
		if !ok {
			return history, fmt.Errorf("early stopping: %w: %s", ErrMetricNotFound, monitor)
		}

		improved := current < best
		if higherIsBetter {
			improved = current > best
		}
		if improved {
			best = current
			wait = 0
			continue
		}

		wait++
		if wait >= t.config.Patience && epoch > 0 {
			fmt.Fprintf(t.out, "Epoch %d: early stopping\n", epoch+1)
			break
		}
	}

	return history, nil
}

// stage hands the train and validation shares to the framework. The
// validation share is the trailing part of the samples, taken before any
// shuffling.
func (t *Trainer) stage(ctx context.Context, model engine.Model, x, y *tensor.Tensor, cut int, hasValidation bool) error {
	xTrain, err := x.Slice(0, cut)
	if err != nil {
		return fmt.Errorf("failed to slice training samples: %w", err)
	}
	yTrain, err := y.Slice(0, cut)
	if err != nil {
		return fmt.Errorf("failed to slice training labels: %w", err)
	}
	if err := model.Stage(ctx, engine.DatasetTrain, xTrain, yTrain); err != nil {
		return fmt.Errorf("failed to stage training data: %w", err)
	}

	if !hasValidation {
		return nil
	}

	n := x.Samples()
	xValid, err := x.Slice(cut, n)
	if err != nil {
		return fmt.Errorf("failed to slice validation samples: %w", err)
	}
	yValid, err := y.Slice(cut, n)
	if err != nil {
		return fmt.Errorf("failed to slice validation labels: %w", err)
	}
	if err := model.Stage(ctx, engine.DatasetValidation, xValid, yValid); err != nil {
		return fmt.Errorf("failed to stage validation data: %w", err)
	}
	return nil
}
