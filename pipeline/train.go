package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/satellitecrops/cropseg/checkpoints"
	"github.com/satellitecrops/cropseg/engine"
	"github.com/satellitecrops/cropseg/layers"
	"github.com/satellitecrops/cropseg/optimizer"
	"github.com/satellitecrops/cropseg/registry"
	"github.com/satellitecrops/cropseg/training"
	"github.com/satellitecrops/cropseg/vision/preprocessing"
)

// SelectedMetric is the history series whose maximum scores a run.
const SelectedMetric = "val_" + engine.MetricMeanIoU

// Train loads the eopatches under path, trains a U-Net on them and
// returns the best validation mean IoU. Results are always saved; the
// model only outside grid search.
func (r *Runner) Train(ctx context.Context, path string, p Params) (meanIoU float64, err error) {
	if err := p.validate(); err != nil {
		return 0, err
	}

	start := time.Now()
	if r.recorder != nil {
		r.recorder.RunStarted()
		defer func() { r.recorder.RunFinished(time.Since(start), err) }()
	}

	r.status.Heading("Use case: train")
	r.status.Phase("Loading preprocessed validation data...")

	x, y, err := r.load(path)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if x.Dim() != 4 || y.Dim() != 3 || x.Samples() != y.Samples() {
		return 0, fmt.Errorf("unexpected data shapes: x %v, y %v", x.Shape, y.Shape)
	}
	r.logger.Info("data loaded", "path", path, "samples", x.Samples())

	yClean, codes, err := preprocessing.CleanLabels(y)
	if err != nil {
		return 0, fmt.Errorf("failed to clean labels: %w", err)
	}
	y.Release()
	r.status.Info("y cleaned. %v", yClean.Shape)

	numClasses := len(codes)
	if numClasses < 2 {
		return 0, fmt.Errorf("found %d label values: %w", numClasses, preprocessing.ErrTooFewClasses)
	}
	r.status.Info("n_classes : %d", numClasses)

	yCat, err := preprocessing.ToCategorical(yClean, numClasses)
	if err != nil {
		return 0, fmt.Errorf("failed to encode labels: %w", err)
	}
	yClean.Release()
	r.status.Info("y_cat created")

	channels, height, width := x.Shape[1], x.Shape[2], x.Shape[3]

	xScaled, err := preprocessing.Scale(x, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to scale imagery: %w", err)
	}
	x.Release()
	r.status.Info("X_scaled done")

	xLast, err := xScaled.MoveAxis(1, 3)
	if err != nil {
		return 0, fmt.Errorf("failed to move channel axis: %w", err)
	}
	xScaled.Release()

	xTrain, xTest, yTrain, yTest, err := training.TrainTestSplit(xLast, yCat, p.TestSize, r.rng)
	if err != nil {
		return 0, fmt.Errorf("failed to split data: %w", err)
	}
	xLast.Release()
	yCat.Release()
	r.status.Info("\nX_train : %v\ny_train : %v\nX_test : %v\ny_test : %v",
		xTrain.Shape, yTrain.Shape, xTest.Shape, yTest.Shape)
	// the test share is held out from this job entirely
	xTest.Release()
	yTest.Release()

	opt, err := optimizer.Parse(p.Optimizer, p.LearningRate)
	if err != nil {
		return 0, err
	}
	opt = opt.WithMomentum(p.Momentum, p.Rho)
	if err := opt.Validate(); err != nil {
		return 0, err
	}
	loss, err := training.NewLoss(p.Loss, p.Alpha, p.Gamma)
	if err != nil {
		return 0, err
	}

	unet := r.unet
	unet.NClasses = numClasses
	unet.ImgHeight = height
	unet.ImgWidth = width
	unet.ImgChannels = channels
	spec, err := layers.BuildUNet(unet)
	if err != nil {
		return 0, fmt.Errorf("failed to build model: %w", err)
	}

	model, err := r.builder.Build(ctx, engine.BuildRequest{
		Spec:      spec,
		Optimizer: opt,
		Loss:      loss,
		Metrics:   []string{engine.MetricMeanIoU},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to initialize model: %w", err)
	}
	defer func() {
		if cerr := model.Close(); cerr != nil {
			r.logger.Warn("failed to close model", "error", cerr)
		}
	}()
	r.status.Info("model initialized")
	r.logger.Debug("model built", "parameters", spec.TotalParameters, "classes", numClasses)

	cfg := training.DefaultTrainingConfig()
	cfg.Epochs = p.Epochs
	cfg.BatchSize = p.BatchSize
	cfg.Patience = p.Patience
	cfg.ValidationSplit = p.ValidationSplit

	var callbacks []training.Callback
	if r.recorder != nil {
		callbacks = append(callbacks, r.recorder)
	}
	trainer := training.NewTrainer(cfg, callbacks...)
	trainer.SetOutput(r.status.Writer())

	trainSize := xTrain.Samples()
	history, err := trainer.Fit(ctx, model, xTrain, yTrain)
	xTrain.Release()
	yTrain.Release()
	if err != nil {
		return 0, fmt.Errorf("training failed: %w", err)
	}

	meanIoU, err = history.Max(SelectedMetric)
	if err != nil {
		return 0, err
	}

	params := registry.Params{
		Context:         "train",
		TrainingSetSize: trainSize,
		RowCount:        trainSize,
	}
	if p.GridSearch {
		params.Grid = &registry.GridParams{
			BatchSize:    p.BatchSize,
			Patience:     p.Patience,
			LearningRate: p.LearningRate,
		}
	}

	if _, err := r.store.SaveResults(ctx, params, registry.Metrics{MeanIoU: meanIoU, History: history}); err != nil {
		return 0, fmt.Errorf("failed to save results: %w", err)
	}

	if !p.GridSearch {
		state := checkpoints.TrainingState{
			Epochs:       history.Len(),
			LearningRate: p.LearningRate,
			BatchSize:    p.BatchSize,
			NumClasses:   numClasses,
			ClassCodes:   codes,
			BestMetrics:  map[string]float64{SelectedMetric: meanIoU},
		}
		if _, err := r.store.SaveModel(ctx, model, state); err != nil {
			return 0, fmt.Errorf("failed to save model: %w", err)
		}
	}

	r.logger.Info("training finished",
		"epochs", history.Len(),
		"mean_iou", meanIoU,
		"duration", time.Since(start).Round(time.Second))
	r.status.Done("train() done")
	return meanIoU, nil
}
