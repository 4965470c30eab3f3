package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train [path]",
	Short: "Train the U-Net once and save the model",
	Long: `Loads the eopatches under path (default: data_path from the config), trains
the U-Net, saves the params and metrics of the run and the model weights.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		path := a.cfg.DataPath
		if len(args) > 0 {
			path = args[0]
		}

		p := a.params()
		flags := cmd.Flags()
		if flags.Changed("learning-rate") {
			p.LearningRate, _ = flags.GetFloat64("learning-rate")
		}
		if flags.Changed("batch-size") {
			p.BatchSize, _ = flags.GetInt("batch-size")
		}
		if flags.Changed("patience") {
			p.Patience, _ = flags.GetInt("patience")
		}
		if flags.Changed("epochs") {
			p.Epochs, _ = flags.GetInt("epochs")
		}

		meanIoU, err := a.runner.Train(cmd.Context(), path, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "val mean IoU: %.4f\n", meanIoU)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().Float64("learning-rate", 0.001, "Optimizer learning rate")
	trainCmd.Flags().Int("batch-size", 16, "Training batch size")
	trainCmd.Flags().Int("patience", 5, "Early stopping patience in epochs")
	trainCmd.Flags().Int("epochs", 100, "Maximum number of epochs")

	rootCmd.RunE = trainCmd.RunE
	rootCmd.Args = trainCmd.Args
}
