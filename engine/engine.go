// Package engine defines the boundary to the deep-learning framework that
// owns layer execution, backpropagation and metric computation. Models are
// opaque handles: cropseg describes the network and drives the fit loop,
// the framework does the numerical work.
package engine

import (
	"context"
	"errors"

	"github.com/satellitecrops/cropseg/layers"
	"github.com/satellitecrops/cropseg/optimizer"
	"github.com/satellitecrops/cropseg/tensor"
)

// Metric names reported by the framework for every epoch.
const (
	MetricLoss    = "loss"
	MetricMeanIoU = "mean_io_u"
)

// Dataset names the trainer stages before fitting.
const (
	DatasetTrain      = "train"
	DatasetValidation = "validation"
)

// ErrEngineClosed is returned by calls on a model after Close.
var ErrEngineClosed = errors.New("engine: model closed")

// Metrics maps metric names to their value for one pass over a dataset.
type Metrics map[string]float64

// LossSpec describes a loss function the framework instantiates by name.
type LossSpec interface {
	Name() string
	Params() map[string]interface{}
}

// BuildRequest is everything the framework needs to instantiate a model.
type BuildRequest struct {
	Spec      *layers.ModelSpec
	Optimizer optimizer.Config
	Loss      LossSpec
	// Metrics lists the per-epoch metrics to report besides the loss.
	Metrics []string
}

// Builder instantiates models inside the framework.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (Model, error)
}

// Model is a compiled network living in the framework.
type Model interface {
	// Spec returns the architecture the model was built from.
	Spec() *layers.ModelSpec

	// Stage hands a named dataset to the framework. x is channels-last
	// imagery, y the one-hot labels; both share the leading dimension.
	Stage(ctx context.Context, name string, x, y *tensor.Tensor) error

	// TrainEpoch runs one pass of gradient updates over a staged dataset.
	TrainEpoch(ctx context.Context, name string, batchSize int, shuffle bool) (Metrics, error)

	// Evaluate computes the metrics over a staged dataset without updates.
	Evaluate(ctx context.Context, name string, batchSize int) (Metrics, error)

	// SaveWeights writes the weights in the framework's native format.
	SaveWeights(ctx context.Context, path string) error

	Close() error
}
