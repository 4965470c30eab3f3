package training

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestHistoryMax(t *testing.T) {
	history := NewHistory()
	for epoch, value := range []float64{0.1, 0.4, 0.35, 0.5} {
		history.Append(epoch, map[string]float64{"val_mean_io_u": value, "loss": 1 - value})
	}

	best, err := history.Max("val_mean_io_u")
	if err != nil {
		t.Fatalf("Max failed: %v", err)
	}
	if best != 0.5 {
		t.Errorf("Expected 0.5, got %v", best)
	}

	last, err := history.Last("loss")
	if err != nil {
		t.Fatalf("Last failed: %v", err)
	}
	if last != 0.5 {
		t.Errorf("Expected last loss 0.5, got %v", last)
	}

	if history.Len() != 4 {
		t.Errorf("Expected 4 epochs, got %d", history.Len())
	}

	keys := history.Keys()
	if len(keys) != 2 || keys[0] != "loss" {
		t.Errorf("Unexpected keys %v", keys)
	}
}

func TestHistoryMaxSkipsNaN(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"NaN First", []float64{nan, 0.2, 0.3}, 0.3},
		{"NaN Middle", []float64{0.2, nan, 0.3}, 0.3},
		{"NaN Last", []float64{0.2, 0.3, nan}, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := NewHistory()
			for epoch, value := range tt.values {
				history.Append(epoch, map[string]float64{"val_mean_io_u": value})
			}
			got, err := history.Max("val_mean_io_u")
			if err != nil {
				t.Fatalf("Max failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	t.Run("All NaN", func(t *testing.T) {
		history := NewHistory()
		history.Append(0, map[string]float64{"val_mean_io_u": nan})
		history.Append(1, map[string]float64{"val_mean_io_u": nan})
		got, err := history.Max("val_mean_io_u")
		if err != nil {
			t.Fatalf("Max failed: %v", err)
		}
		if !math.IsNaN(got) {
			t.Errorf("Expected NaN, got %v", got)
		}
	})
}

func TestHistoryJSONNonFinite(t *testing.T) {
	history := NewHistory()
	history.Append(0, map[string]float64{"loss": 0.9})
	history.Append(1, map[string]float64{"loss": math.NaN()})
	history.Append(2, map[string]float64{"loss": math.Inf(1)})

	data, err := json.Marshal(history)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded History
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	loss := decoded.History["loss"]
	if len(loss) != 3 || loss[0] != 0.9 || !math.IsNaN(loss[1]) || !math.IsNaN(loss[2]) {
		t.Errorf("Unexpected decoded loss %v", loss)
	}
	if decoded.Len() != 3 {
		t.Errorf("Expected 3 epochs, got %d", decoded.Len())
	}
}

func TestHistoryMissingMetric(t *testing.T) {
	history := NewHistory()
	history.Append(0, map[string]float64{"loss": 1})

	_, err := history.Max("val_mean_io_u")
	if !errors.Is(err, ErrMetricNotFound) {
		t.Errorf("Expected ErrMetricNotFound, got %v", err)
	}
}

func TestFocalLoss(t *testing.T) {
	loss, err := NewFocalLoss(0.25, 2)
	if err != nil {
		t.Fatalf("Failed to create focal loss: %v", err)
	}
	if loss.Params()["gamma"] != 2.0 {
		t.Errorf("Unexpected params %v", loss.Params())
	}

	if _, err := NewFocalLoss(1.5, 2); err == nil {
		t.Error("Expected error for alpha > 1")
	}
	if _, err := NewFocalLoss(0.25, -1); err == nil {
		t.Error("Expected error for negative gamma")
	}
}

func TestNewLoss(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		wantErr  bool
	}{
		{"default", "", "categorical_focal_loss", false},
		{"focal", "focal", "categorical_focal_loss", false},
		{"cross entropy", "cross_entropy", "categorical_crossentropy", false},
		{"keras name", " Categorical_Crossentropy ", "categorical_crossentropy", false},
		{"unknown", "dice", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loss, err := NewLoss(tt.input, 0.25, 2)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if loss.Name() != tt.wantName {
				t.Errorf("Expected %s, got %s", tt.wantName, loss.Name())
			}
		})
	}

	if _, err := NewLoss("focal", 2, 2); err == nil {
		t.Error("Expected focal alpha to be validated")
	}
}
