package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var latestModelCmd = &cobra.Command{
	Use:   "latest-model",
	Short: "Show the most recently saved model checkpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ckpt, err := a.store.LatestModel(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "weights:     %s\n", ckpt.WeightsFile)
		fmt.Fprintf(out, "created:     %s\n", ckpt.Metadata.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "epochs:      %d\n", ckpt.TrainingState.Epochs)
		fmt.Fprintf(out, "classes:     %d %v\n", ckpt.TrainingState.NumClasses, ckpt.TrainingState.ClassCodes)
		for name, value := range ckpt.TrainingState.BestMetrics {
			fmt.Fprintf(out, "%-12s %.4f\n", name+":", value)
		}
		if ckpt.ModelSpec != nil {
			fmt.Fprintln(out)
			fmt.Fprint(out, ckpt.ModelSpec.Summary())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(latestModelCmd)
}
