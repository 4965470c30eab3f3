package pipeline

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat/combin"
)

// Grid is the hyperparameter space searched by GridSearch. Base supplies
// every hyperparameter the grid does not vary.
type Grid struct {
	DataPath      string
	LearningRates []float64
	BatchSizes    []int
	Patience      []int
	Base          Params
}

// DefaultGrid returns the stock 24 tuple search.
func DefaultGrid() Grid {
	return Grid{
		DataPath:      "./data/departments/landes/eopatches",
		LearningRates: []float64{0.0001, 0.005, 0.001, 0.1, 1, 10},
		BatchSizes:    []int{16, 32},
		Patience:      []int{5, 10},
		Base:          DefaultParams(),
	}
}

// Size returns the number of tuples.
func (g Grid) Size() int {
	return len(g.LearningRates) * len(g.BatchSizes) * len(g.Patience)
}

// GridResult is the outcome of one tuple.
type GridResult struct {
	LearningRate float64
	BatchSize    int
	Patience     int
	MeanIoU      float64
}

// GridSearch trains once per (learning rate, batch size, patience) tuple,
// learning rate outermost. It stops at the first failing run and returns
// the results gathered so far with the error.
func (r *Runner) GridSearch(ctx context.Context, grid Grid) ([]GridResult, error) {
	if grid.Size() == 0 {
		return nil, fmt.Errorf("grid has no tuples: %d learning rates, %d batch sizes, %d patience values",
			len(grid.LearningRates), len(grid.BatchSizes), len(grid.Patience))
	}

	tuples := combin.Cartesian([]int{len(grid.LearningRates), len(grid.BatchSizes), len(grid.Patience)})
	results := make([]GridResult, 0, len(tuples))

	for i, tuple := range tuples {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		p := grid.Base
		p.LearningRate = grid.LearningRates[tuple[0]]
		p.BatchSize = grid.BatchSizes[tuple[1]]
		p.Patience = grid.Patience[tuple[2]]
		p.GridSearch = true

		r.status.Info("--->New run with params %g, %d, %d", p.LearningRate, p.BatchSize, p.Patience)
		r.logger.Info("grid run", "run", i+1, "of", len(tuples),
			"learning_rate", p.LearningRate, "batch_size", p.BatchSize, "patience", p.Patience)

		meanIoU, err := r.Train(ctx, grid.DataPath, p)
		if err != nil {
			return results, fmt.Errorf("grid run lr=%g batch_size=%d patience=%d: %w",
				p.LearningRate, p.BatchSize, p.Patience, err)
		}

		results = append(results, GridResult{
			LearningRate: p.LearningRate,
			BatchSize:    p.BatchSize,
			Patience:     p.Patience,
			MeanIoU:      meanIoU,
		})
		if r.recorder != nil {
			r.recorder.RecordBest(p.LearningRate, p.BatchSize, p.Patience, meanIoU)
		}
	}

	r.status.Phase("Grid search results")
	for _, res := range results {
		r.status.Info("lr=%-8g batch_size=%-3d patience=%-3d mean_IoU=%.4f",
			res.LearningRate, res.BatchSize, res.Patience, res.MeanIoU)
	}
	return results, nil
}
