package preprocessing

import (
	"errors"
	"math"
	"testing"

	"github.com/satellitecrops/cropseg/tensor"
)

func TestCleanLabels(t *testing.T) {
	y, _ := tensor.NewTensor([]int{1, 2, 3}, tensor.Int32, []int32{0, 211, 0, 1110, 211, 1110})

	cleaned, codes, err := CleanLabels(y)
	if err != nil {
		t.Fatalf("CleanLabels failed: %v", err)
	}

	expectedCodes := []int32{0, 211, 1110}
	if len(codes) != len(expectedCodes) {
		t.Fatalf("Expected codes %v, got %v", expectedCodes, codes)
	}
	for i, code := range expectedCodes {
		if codes[i] != code {
			t.Errorf("Code %d: expected %d, got %d", i, code, codes[i])
		}
	}

	data, _ := cleaned.GetInt32Data()
	expected := []int32{0, 1, 0, 2, 1, 2}
	for i, v := range expected {
		if data[i] != v {
			t.Errorf("Element %d: expected %d, got %d", i, v, data[i])
		}
	}
}

func TestToCategoricalChannels(t *testing.T) {
	for _, k := range []int{2, 3, 7} {
		labels := make([]int32, 2*4*4)
		for i := range labels {
			labels[i] = int32(i % k)
		}
		y, _ := tensor.NewTensor([]int{2, 4, 4}, tensor.Int32, labels)

		classes, err := UniqueClasses(y)
		if err != nil {
			t.Fatalf("UniqueClasses failed: %v", err)
		}
		if len(classes) != k {
			t.Errorf("Expected %d classes, got %d", k, len(classes))
		}

		encoded, err := ToCategorical(y, 0)
		if err != nil {
			t.Fatalf("ToCategorical failed: %v", err)
		}
		if encoded.Dim() != 4 || encoded.Shape[3] != k {
			t.Errorf("Expected %d channels, got shape %v", k, encoded.Shape)
		}

		data, _ := encoded.GetFloat32Data()
		for i, label := range labels {
			sum := float32(0)
			for c := 0; c < k; c++ {
				sum += data[i*k+c]
			}
			if sum != 1 || data[i*k+int(label)] != 1 {
				t.Fatalf("Pixel %d is not one-hot for label %d", i, label)
			}
		}
	}
}

func TestToCategoricalErrors(t *testing.T) {
	single, _ := tensor.NewTensor([]int{1, 2, 2}, tensor.Int32, []int32{0, 0, 0, 0})
	if _, err := ToCategorical(single, 0); !errors.Is(err, ErrTooFewClasses) {
		t.Errorf("Expected ErrTooFewClasses, got %v", err)
	}

	y, _ := tensor.NewTensor([]int{1, 2, 2}, tensor.Int32, []int32{0, 1, 2, 3})
	if _, err := ToCategorical(y, 3); err == nil {
		t.Error("Expected error for label outside the class range")
	}

	floatLabels, _ := tensor.NewTensor([]int{2}, tensor.Float32, []float32{0, 1})
	if _, err := ToCategorical(floatLabels, 2); err == nil {
		t.Error("Expected error for float labels")
	}
}

func TestScale(t *testing.T) {
	// Two samples, two channels, 1x2 pixels. Channel 1 is constant.
	x, _ := tensor.NewTensor([]int{2, 2, 1, 2}, tensor.Float32, []float32{
		100, 200, 5, 5,
		300, 500, 5, 5,
	})

	scaled, err := Scale(x, 1)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}

	data, _ := scaled.GetFloat32Data()
	expected := []float32{0, 0.25, 0, 0, 0.5, 1, 0, 0}
	for i, v := range expected {
		if math.Abs(float64(data[i]-v)) > 1e-6 {
			t.Errorf("Element %d: expected %v, got %v", i, v, data[i])
		}
	}

	if _, err := Scale(x, 0); err == nil {
		t.Error("Expected error for non-positive maximum")
	}

	flat, _ := tensor.NewTensor([]int{4}, tensor.Float32, []float32{1, 2, 3, 4})
	if _, err := Scale(flat, 1); err == nil {
		t.Error("Expected error for wrong rank")
	}
}
