package training

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/satellitecrops/cropseg/engine"
	"github.com/satellitecrops/cropseg/layers"
	"github.com/satellitecrops/cropseg/tensor"
)

// scriptedModel replays fixed per-epoch metrics.
type scriptedModel struct {
	trainLoss []float64
	valLoss   []float64
	valIoU    []float64

	staged      map[string]int
	trainEpochs int
	evals       int
	batchSizes  []int
	failAt      int
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{staged: make(map[string]int), failAt: -1}
}

func (m *scriptedModel) Spec() *layers.ModelSpec { return nil }

func (m *scriptedModel) Stage(ctx context.Context, name string, x, y *tensor.Tensor) error {
	if x.Samples() != y.Samples() {
		return errors.New("mismatched stage")
	}
	m.staged[name] = x.Samples()
	return nil
}

func (m *scriptedModel) TrainEpoch(ctx context.Context, name string, batchSize int, shuffle bool) (engine.Metrics, error) {
	if m.trainEpochs == m.failAt {
		return nil, errors.New("device lost")
	}
	m.batchSizes = append(m.batchSizes, batchSize)
	loss := 1.0
	if m.trainEpochs < len(m.trainLoss) {
		loss = m.trainLoss[m.trainEpochs]
	}
	m.trainEpochs++
	return engine.Metrics{engine.MetricLoss: loss, engine.MetricMeanIoU: 0.5}, nil
}

func (m *scriptedModel) Evaluate(ctx context.Context, name string, batchSize int) (engine.Metrics, error) {
	i := m.evals
	m.evals++
	metrics := engine.Metrics{engine.MetricLoss: 1, engine.MetricMeanIoU: 0}
	if i < len(m.valLoss) {
		metrics[engine.MetricLoss] = m.valLoss[i]
	}
	if i < len(m.valIoU) {
		metrics[engine.MetricMeanIoU] = m.valIoU[i]
	}
	return metrics, nil
}

func (m *scriptedModel) SaveWeights(ctx context.Context, path string) error { return nil }

func (m *scriptedModel) Close() error { return nil }

func samples(t *testing.T, n int) (*tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	x, err := tensor.Zeros([]int{n, 4, 4, 3}, tensor.Float32)
	if err != nil {
		t.Fatalf("Failed to create x: %v", err)
	}
	y, err := tensor.Zeros([]int{n, 4, 4, 2}, tensor.Float32)
	if err != nil {
		t.Fatalf("Failed to create y: %v", err)
	}
	return x, y
}

func quietTrainer(config TrainingConfig, callbacks ...Callback) *Trainer {
	trainer := NewTrainer(config, callbacks...)
	trainer.SetOutput(io.Discard)
	return trainer
}

func TestTrainerEarlyStopping(t *testing.T) {
	model := newScriptedModel()
	model.valLoss = []float64{1.0, 0.8, 0.9, 0.95, 0.85, 0.7}
	model.valIoU = []float64{0.1, 0.4, 0.35, 0.5, 0.2, 0.9}

	config := DefaultTrainingConfig()
	config.Patience = 2
	x, y := samples(t, 10)

	history, err := quietTrainer(config).Fit(context.Background(), model, x, y)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if history.Len() != 4 {
		t.Fatalf("Expected training to stop after 4 epochs, got %d", history.Len())
	}
	best, _ := history.Max("val_mean_io_u")
	if best != 0.5 {
		t.Errorf("Expected best val_mean_io_u 0.5, got %v", best)
	}
	if model.staged[engine.DatasetTrain] != 8 || model.staged[engine.DatasetValidation] != 2 {
		t.Errorf("Unexpected staged sizes %v", model.staged)
	}
	for _, bs := range model.batchSizes {
		if bs != config.BatchSize {
			t.Errorf("Expected batch size %d, got %d", config.BatchSize, bs)
		}
	}
}

func TestTrainerMonitorMax(t *testing.T) {
	model := newScriptedModel()
	model.valIoU = []float64{0.1, 0.3, 0.2, 0.25}

	config := DefaultTrainingConfig()
	config.Epochs = 10
	config.Patience = 2
	config.Monitor = "val_mean_io_u"
	x, y := samples(t, 5)

	history, err := quietTrainer(config).Fit(context.Background(), model, x, y)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if history.Len() != 4 {
		t.Errorf("Expected 4 epochs, got %d", history.Len())
	}
}

func TestTrainerWithoutValidation(t *testing.T) {
	model := newScriptedModel()
	model.trainLoss = []float64{1, 0.5, 0.25}

	config := DefaultTrainingConfig()
	config.Epochs = 3
	config.ValidationSplit = 0

	epochs := 0
	callback := CallbackFunc(func(epoch int, logs map[string]float64) {
		if _, ok := logs["val_loss"]; ok {
			t.Error("No validation metrics expected")
		}
		epochs++
	})

	x, y := samples(t, 4)
	history, err := quietTrainer(config, callback).Fit(context.Background(), model, x, y)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if history.Len() != 3 || epochs != 3 {
		t.Errorf("Expected 3 epochs, got history %d callbacks %d", history.Len(), epochs)
	}
	if model.evals != 0 {
		t.Errorf("Expected no evaluation, got %d", model.evals)
	}
	if _, ok := model.staged[engine.DatasetValidation]; ok {
		t.Error("Validation set should not be staged")
	}
}

func TestTrainerErrors(t *testing.T) {
	x, y := samples(t, 10)

	t.Run("invalid config", func(t *testing.T) {
		config := DefaultTrainingConfig()
		config.BatchSize = 0
		if _, err := quietTrainer(config).Fit(context.Background(), newScriptedModel(), x, y); err == nil {
			t.Error("Expected error for zero batch size")
		}
	})

	t.Run("mismatched samples", func(t *testing.T) {
		_, short := samples(t, 9)
		if _, err := quietTrainer(DefaultTrainingConfig()).Fit(context.Background(), newScriptedModel(), x, short); err == nil {
			t.Error("Expected error for mismatched samples")
		}
	})

	t.Run("engine failure", func(t *testing.T) {
		model := newScriptedModel()
		model.failAt = 1
		history, err := quietTrainer(DefaultTrainingConfig()).Fit(context.Background(), model, x, y)
		if err == nil {
			t.Fatal("Expected error from engine")
		}
		if history.Len() != 1 {
			t.Errorf("Expected the completed epoch to be kept, got %d", history.Len())
		}
	})

	t.Run("unknown monitor", func(t *testing.T) {
		config := DefaultTrainingConfig()
		config.Monitor = "val_dice"
		_, err := quietTrainer(config).Fit(context.Background(), newScriptedModel(), x, y)
		if !errors.Is(err, ErrMetricNotFound) {
			t.Errorf("Expected ErrMetricNotFound, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := quietTrainer(DefaultTrainingConfig()).Fit(ctx, newScriptedModel(), x, y)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}
