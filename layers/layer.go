package layers

import (
	"fmt"
	"strings"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Conv2D LayerType = iota
	Conv2DTranspose
	MaxPool2D
	Concatenate
	ReLU
	Softmax
	Dropout
)

func (lt LayerType) String() string {
	switch lt {
	case Conv2D:
		return "Conv2D"
	case Conv2DTranspose:
		return "Conv2DTranspose"
	case MaxPool2D:
		return "MaxPool2D"
	case Concatenate:
		return "Concatenate"
	case ReLU:
		return "ReLU"
	case Softmax:
		return "Softmax"
	case Dropout:
		return "Dropout"
	default:
		return "Unknown"
	}
}

// MarshalText lets layer types appear by name in JSON and protobuf checkpoints.
func (lt LayerType) MarshalText() ([]byte, error) {
	return []byte(lt.String()), nil
}

func (lt *LayerType) UnmarshalText(text []byte) error {
	for candidate := Conv2D; candidate <= Dropout; candidate++ {
		if candidate.String() == string(text) {
			*lt = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown layer type %q", string(text))
}

// InputName is the implicit name of the model input, usable in Inputs.
const InputName = "input"

// LayerSpec defines layer configuration handed to the training framework.
// This is pure configuration - no execution logic
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Inputs     []string               `json:"inputs"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation), channels last
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete neural network model as a layer graph
type ModelSpec struct {
	Name   string      `json:"name"`
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64 `json:"total_parameters"`
	InputShape      []int `json:"input_shape"`
	OutputShape     []int `json:"output_shape"`
	Compiled        bool  `json:"compiled"`
}

// ModelBuilder provides a fluent interface for building models.
// Each layer consumes the previous layer unless inputs are named explicitly.
type ModelBuilder struct {
	name       string
	layers     []LayerSpec
	inputShape []int
	err        error
}

// NewModelBuilder creates a new model builder. inputShape is
// (height, width, channels) without the batch dimension.
func NewModelBuilder(name string, inputShape []int) *ModelBuilder {
	shape := make([]int, len(inputShape))
	copy(shape, inputShape)
	return &ModelBuilder{
		name:       name,
		layers:     make([]LayerSpec, 0),
		inputShape: shape,
	}
}

// Last returns the name of the most recently added layer.
func (mb *ModelBuilder) Last() string {
	if len(mb.layers) == 0 {
		return InputName
	}
	return mb.layers[len(mb.layers)-1].Name
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	if layer.Name == "" || layer.Name == InputName {
		mb.setErr(fmt.Errorf("layer %d: invalid name %q", len(mb.layers), layer.Name))
		return mb
	}
	for _, existing := range mb.layers {
		if existing.Name == layer.Name {
			mb.setErr(fmt.Errorf("duplicate layer name %q", layer.Name))
			return mb
		}
	}
	if len(layer.Inputs) == 0 {
		layer.Inputs = []string{mb.Last()}
	}
	if layer.Parameters == nil {
		layer.Parameters = map[string]interface{}{}
	}
	mb.layers = append(mb.layers, layer)
	return mb
}

func (mb *ModelBuilder) setErr(err error) {
	if mb.err == nil {
		mb.err = err
	}
}

// AddConv2D adds a stride-1 Conv2D layer with "same" padding
func (mb *ModelBuilder) AddConv2D(filters, kernelSize int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Conv2D,
		Name: name,
		Parameters: map[string]interface{}{
			"filters":     filters,
			"kernel_size": kernelSize,
			"padding":     "same",
			"use_bias":    true,
		},
	})
}

// AddConv2DTranspose adds a transposed convolution that upsamples by stride
func (mb *ModelBuilder) AddConv2DTranspose(filters, kernelSize, stride int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Conv2DTranspose,
		Name: name,
		Parameters: map[string]interface{}{
			"filters":     filters,
			"kernel_size": kernelSize,
			"stride":      stride,
			"padding":     "same",
			"use_bias":    true,
		},
	})
}

// AddMaxPool2D adds a max pooling layer with stride equal to the pool size
func (mb *ModelBuilder) AddMaxPool2D(poolSize int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: MaxPool2D,
		Name: name,
		Parameters: map[string]interface{}{
			"pool_size": poolSize,
		},
	})
}

// AddConcatenate joins the named layers along the channel axis
func (mb *ModelBuilder) AddConcatenate(name string, inputs ...string) *ModelBuilder {
	if len(inputs) < 2 {
		mb.setErr(fmt.Errorf("concatenate %s needs at least two inputs", name))
		return mb
	}
	return mb.AddLayer(LayerSpec{
		Type:   Concatenate,
		Name:   name,
		Inputs: inputs,
		Parameters: map[string]interface{}{
			"axis": -1,
		},
	})
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: ReLU, Name: name})
}

// AddSoftmax adds a Softmax activation over the channel axis
func (mb *ModelBuilder) AddSoftmax(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Softmax,
		Name: name,
		Parameters: map[string]interface{}{
			"axis": -1,
		},
	})
}

// AddDropout adds a Dropout layer to the model
// rate: dropout probability (0.0 = no dropout, 1.0 = drop all)
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	})
}

// Compile compiles the model and computes shapes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if mb.err != nil {
		return nil, mb.err
	}
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) != 3 {
		return nil, fmt.Errorf("input shape must be (height, width, channels), got %v", mb.inputShape)
	}
	for _, dim := range mb.inputShape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid input shape %v", mb.inputShape)
		}
	}

	model := &ModelSpec{
		Name:       mb.name,
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
	}
	copy(model.Layers, mb.layers)

	shapes := map[string][]int{InputName: mb.inputShape}
	totalParams := int64(0)

	for i := range model.Layers {
		layer := &model.Layers[i]

		inputShapes := make([][]int, 0, len(layer.Inputs))
		for _, input := range layer.Inputs {
			shape, ok := shapes[input]
			if !ok {
				return nil, fmt.Errorf("layer %d (%s): unknown input %q", i, layer.Name, input)
			}
			inputShapes = append(inputShapes, shape)
		}
		layer.InputShape = append([]int(nil), inputShapes[0]...)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(layer, inputShapes)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount
		totalParams += paramCount

		shapes[layer.Name] = outputShape
	}

	model.OutputShape = model.Layers[len(model.Layers)-1].OutputShape
	model.TotalParameters = totalParams
	model.Compiled = true

	return model, nil
}

// computeLayerInfo computes output shape and parameter information for a layer
func computeLayerInfo(layer *LayerSpec, inputs [][]int) ([]int, [][]int, int64, error) {
	in := inputs[0]
	h, w, c := in[0], in[1], in[2]

	switch layer.Type {
	case Conv2D:
		filters := getIntParam(layer.Parameters, "filters", 0)
		kernel := getIntParam(layer.Parameters, "kernel_size", 0)
		if filters <= 0 || kernel <= 0 {
			return nil, nil, 0, fmt.Errorf("filters and kernel_size must be positive")
		}
		shapes := [][]int{{kernel, kernel, c, filters}, {filters}}
		return []int{h, w, filters}, shapes, int64(kernel*kernel*c*filters + filters), nil

	case Conv2DTranspose:
		filters := getIntParam(layer.Parameters, "filters", 0)
		kernel := getIntParam(layer.Parameters, "kernel_size", 0)
		stride := getIntParam(layer.Parameters, "stride", 1)
		if filters <= 0 || kernel <= 0 || stride <= 0 {
			return nil, nil, 0, fmt.Errorf("filters, kernel_size and stride must be positive")
		}
		shapes := [][]int{{kernel, kernel, filters, c}, {filters}}
		return []int{h * stride, w * stride, filters}, shapes, int64(kernel*kernel*c*filters + filters), nil

	case MaxPool2D:
		pool := getIntParam(layer.Parameters, "pool_size", 2)
		if pool <= 0 || h%pool != 0 || w%pool != 0 {
			return nil, nil, 0, fmt.Errorf("spatial size %dx%d not divisible by pool size %d", h, w, pool)
		}
		return []int{h / pool, w / pool, c}, nil, 0, nil

	case Concatenate:
		channels := 0
		for _, shape := range inputs {
			if shape[0] != h || shape[1] != w {
				return nil, nil, 0, fmt.Errorf("cannot concatenate %v with %v", in, shape)
			}
			channels += shape[2]
		}
		return []int{h, w, channels}, nil, 0, nil

	case ReLU, Softmax, Dropout:
		return []int{h, w, c}, nil, 0, nil

	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

func getIntParam(params map[string]interface{}, key string, defaultValue int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		// JSON round trips decode numbers as float64
		return int(v)
	default:
		return defaultValue
	}
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Model: %s\n", ms.Name)
	fmt.Fprintf(&sb, "Input Shape: %v\n", ms.InputShape)
	fmt.Fprintf(&sb, "Output Shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&sb, "Total Parameters: %d\n", ms.TotalParameters)
	fmt.Fprintf(&sb, "Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		fmt.Fprintf(&sb, "%3d %-24s %-16s %-16v %d <- %s\n",
			i+1, layer.Name, layer.Type, layer.OutputShape, layer.ParameterCount,
			strings.Join(layer.Inputs, ","))
	}

	return sb.String()
}
