package layers

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestModelBuilderSequential(t *testing.T) {
	model, err := NewModelBuilder("tiny", []int{8, 8, 3}).
		AddConv2D(4, 3, "conv1").
		AddReLU("relu1").
		AddMaxPool2D(2, "pool1").
		Compile()
	if err != nil {
		t.Fatalf("Failed to compile model: %v", err)
	}

	if !model.Compiled {
		t.Error("Model should be marked compiled")
	}

	expected := []int{4, 4, 4}
	for i, dim := range expected {
		if model.OutputShape[i] != dim {
			t.Fatalf("Expected output shape %v, got %v", expected, model.OutputShape)
		}
	}

	// 3*3*3*4 weights + 4 biases
	if model.TotalParameters != 112 {
		t.Errorf("Expected 112 parameters, got %d", model.TotalParameters)
	}

	if model.Layers[1].Inputs[0] != "conv1" {
		t.Errorf("Expected relu1 to consume conv1, got %v", model.Layers[1].Inputs)
	}
}

func TestModelBuilderErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder *ModelBuilder
	}{
		{"empty", NewModelBuilder("m", []int{4, 4, 1})},
		{"bad input shape", NewModelBuilder("m", []int{4, 4}).AddReLU("r")},
		{"duplicate name", NewModelBuilder("m", []int{4, 4, 1}).AddReLU("r").AddReLU("r")},
		{"unknown input", NewModelBuilder("m", []int{4, 4, 1}).AddConcatenate("c", "a", "b")},
		{"pool not divisible", NewModelBuilder("m", []int{5, 5, 1}).AddMaxPool2D(2, "p")},
		{"concat size mismatch", NewModelBuilder("m", []int{4, 4, 1}).
			AddMaxPool2D(2, "p").
			AddConcatenate("c", "p", InputName)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.builder.Compile(); err == nil {
				t.Error("Expected compile error")
			}
		})
	}
}

func TestBuildUNet(t *testing.T) {
	model, err := BuildUNet(UNetConfig{
		NClasses:    5,
		ImgHeight:   64,
		ImgWidth:    32,
		ImgChannels: 4,
		DropoutRate: 0.1,
	})
	if err != nil {
		t.Fatalf("Failed to build unet: %v", err)
	}

	expected := []int{64, 32, 5}
	for i, dim := range expected {
		if model.OutputShape[i] != dim {
			t.Fatalf("Expected output shape %v, got %v", expected, model.OutputShape)
		}
	}

	last := model.Layers[len(model.Layers)-1]
	if last.Type != Softmax {
		t.Errorf("Expected final softmax, got %s", last.Type)
	}

	concats := 0
	for _, layer := range model.Layers {
		if layer.Type == Concatenate {
			concats++
			if len(layer.Inputs) != 2 {
				t.Errorf("Concatenate %s should have two inputs", layer.Name)
			}
		}
	}
	if concats != 4 {
		t.Errorf("Expected 4 skip connections, got %d", concats)
	}

	if !strings.Contains(model.Summary(), "bottleneck_conv1") {
		t.Error("Summary should list the bottleneck")
	}
}

func TestBuildUNetValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  UNetConfig
	}{
		{"one class", UNetConfig{NClasses: 1, ImgHeight: 16, ImgWidth: 16, ImgChannels: 3}},
		{"not divisible", UNetConfig{NClasses: 2, ImgHeight: 20, ImgWidth: 16, ImgChannels: 3}},
		{"no channels", UNetConfig{NClasses: 2, ImgHeight: 16, ImgWidth: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildUNet(tt.cfg); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestModelSpecJSON(t *testing.T) {
	model, err := BuildUNet(UNetConfig{NClasses: 3, ImgHeight: 16, ImgWidth: 16, ImgChannels: 2, Depth: 2})
	if err != nil {
		t.Fatalf("Failed to build unet: %v", err)
	}

	data, err := json.Marshal(model)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"Conv2DTranspose"`) {
		t.Error("Layer types should serialize by name")
	}

	var decoded ModelSpec
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if len(decoded.Layers) != len(model.Layers) || decoded.Layers[3].Type != model.Layers[3].Type {
		t.Error("Decoded model does not match")
	}
}
