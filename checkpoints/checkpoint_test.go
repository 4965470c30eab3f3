package checkpoints

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/satellitecrops/cropseg/layers"
)

func testCheckpoint(t *testing.T) *Checkpoint {
	t.Helper()
	spec, err := layers.BuildUNet(layers.UNetConfig{
		NClasses:    3,
		ImgHeight:   32,
		ImgWidth:    32,
		ImgChannels: 4,
		Depth:       2,
	})
	if err != nil {
		t.Fatalf("Failed to build model spec: %v", err)
	}
	return &Checkpoint{
		ModelSpec:   spec,
		WeightsFile: "20240101-000000.weights",
		TrainingState: TrainingState{
			Epochs:       12,
			LearningRate: 0.001,
			BatchSize:    16,
			NumClasses:   3,
			ClassCodes:   []int32{0, 4, 9},
			BestMetrics:  map[string]float64{"val_mean_io_u": 0.5},
		},
		Metadata: CheckpointMetadata{
			Description: "unet",
			CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			saver := NewCheckpointSaver(format)
			original := testCheckpoint(t)
			path := filepath.Join(t.TempDir(), "model"+format.Extension())

			if err := saver.SaveCheckpoint(original, path); err != nil {
				t.Fatalf("Failed to save checkpoint: %v", err)
			}

			loaded, err := saver.LoadCheckpoint(path)
			if err != nil {
				t.Fatalf("Failed to load checkpoint: %v", err)
			}

			if loaded.WeightsFile != original.WeightsFile {
				t.Errorf("Weights file mismatch: %s vs %s", loaded.WeightsFile, original.WeightsFile)
			}
			if loaded.TrainingState.Epochs != 12 || loaded.TrainingState.BatchSize != 16 {
				t.Errorf("Training state mismatch: %+v", loaded.TrainingState)
			}
			if len(loaded.TrainingState.ClassCodes) != 3 || loaded.TrainingState.ClassCodes[2] != 9 {
				t.Errorf("Class codes mismatch: %v", loaded.TrainingState.ClassCodes)
			}
			if loaded.TrainingState.BestMetrics["val_mean_io_u"] != 0.5 {
				t.Errorf("Best metrics mismatch: %v", loaded.TrainingState.BestMetrics)
			}
			if !loaded.Metadata.CreatedAt.Equal(original.Metadata.CreatedAt) {
				t.Errorf("Created at mismatch: %v vs %v", loaded.Metadata.CreatedAt, original.Metadata.CreatedAt)
			}
			if loaded.Metadata.Framework != "cropseg" {
				t.Errorf("Expected default framework, got %q", loaded.Metadata.Framework)
			}

			if loaded.ModelSpec == nil {
				t.Fatal("Model spec missing")
			}
			if len(loaded.ModelSpec.Layers) != len(original.ModelSpec.Layers) {
				t.Fatalf("Layer count mismatch: %d vs %d", len(loaded.ModelSpec.Layers), len(original.ModelSpec.Layers))
			}
			if loaded.ModelSpec.TotalParameters != original.ModelSpec.TotalParameters {
				t.Errorf("Parameter count mismatch: %d vs %d", loaded.ModelSpec.TotalParameters, original.ModelSpec.TotalParameters)
			}
			for i, layer := range loaded.ModelSpec.Layers {
				if layer.Type != original.ModelSpec.Layers[i].Type || layer.Name != original.ModelSpec.Layers[i].Name {
					t.Errorf("Layer %d mismatch: %s/%s", i, layer.Type, layer.Name)
				}
			}
		})
	}
}

func TestCheckpointNonFiniteMetrics(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			saver := NewCheckpointSaver(format)
			ckpt := testCheckpoint(t)
			ckpt.TrainingState.BestMetrics = map[string]float64{"val_mean_io_u": math.NaN(), "val_loss": 0.75}

			data, err := saver.Marshal(ckpt)
			if err != nil {
				t.Fatalf("Failed to encode checkpoint: %v", err)
			}
			loaded, err := saver.Unmarshal(data)
			if err != nil {
				t.Fatalf("Failed to decode checkpoint: %v", err)
			}
			if !math.IsNaN(loaded.TrainingState.BestMetrics["val_mean_io_u"]) {
				t.Errorf("Expected NaN best metric, got %v", loaded.TrainingState.BestMetrics)
			}
			if loaded.TrainingState.BestMetrics["val_loss"] != 0.75 {
				t.Errorf("Finite metric mismatch: %v", loaded.TrainingState.BestMetrics)
			}
			if loaded.TrainingState.Epochs != 12 {
				t.Errorf("Training state mismatch: %+v", loaded.TrainingState)
			}
		})
	}
}

func TestCheckpointCorrupt(t *testing.T) {
	if _, err := NewCheckpointSaver(FormatProto).Unmarshal([]byte{0x07}); err == nil {
		t.Error("Expected error decoding invalid protobuf")
	}
	if _, err := NewCheckpointSaver(FormatJSON).Unmarshal([]byte("{")); err == nil {
		t.Error("Expected error decoding truncated JSON")
	}
	if _, err := NewCheckpointSaver(FormatJSON).LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error loading missing file")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    CheckpointFormat
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"proto", FormatProto, false},
		{"onnx", FormatJSON, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
