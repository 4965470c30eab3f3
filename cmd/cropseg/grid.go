package main

import (
	"github.com/spf13/cobra"

	"github.com/satellitecrops/cropseg/pipeline"
)

var gridCmd = &cobra.Command{
	Use:   "grid-search [path]",
	Short: "Train once per learning rate, batch size and patience tuple",
	Long: `Runs the training job for every tuple of the configured grid. Each run's
params and metrics are saved; models are not. Results are printed at the end.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		grid := pipeline.Grid{
			DataPath:      a.cfg.Grid.DataPath,
			LearningRates: a.cfg.Grid.LearningRates,
			BatchSizes:    a.cfg.Grid.BatchSizes,
			Patience:      a.cfg.Grid.Patience,
			Base:          a.params(),
		}
		if len(args) > 0 {
			grid.DataPath = args[0]
		}

		a.logger.Info("starting grid search", "tuples", grid.Size(), "path", grid.DataPath)
		_, err = a.runner.GridSearch(cmd.Context(), grid)
		return err
	},
}

func init() {
	rootCmd.AddCommand(gridCmd)
}
