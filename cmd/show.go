package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/robustlab/ibp/internal/store"
)

var showCmd = &cobra.Command{
	Use:   "show [checkpoint]",
	Short: "Show a checkpoint's metadata and attack history",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	checkpoint, err := store.Load(args[0])
	if err != nil {
		return err
	}

	cfg := checkpoint.Config
	fmt.Printf("Checkpoint: %s\n", args[0])
	fmt.Printf("  Saved:          %s\n", checkpoint.SavedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Epoch:          %d\n", checkpoint.Epoch)
	fmt.Printf("  Best metric:    %.4f\n", checkpoint.BestAccuracy)
	fmt.Printf("  Dataset/model:  %s / %s\n", cfg.Dataset, cfg.Model)
	fmt.Printf("  Train epsilon:  %g\n", cfg.Epsilon)
	fmt.Printf("  Learning rate:  %g\n", cfg.LearningRate)
	fmt.Printf("  Parameters:     %d tensors\n", len(checkpoint.StateDict))

	for attackName, records := range checkpoint.Attacks {
		fmt.Printf("\n%s records (%d):\n", attackName, len(records))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tEPSILON\tRESTARTS\tSUBSET\tSEED\tROBUSTNESS\tFOOLING RATE")
		for i, rec := range records {
			subset := "full"
			if rec.Subset != nil {
				subset = fmt.Sprint(*rec.Subset)
			}
			seed := "-"
			if rec.Seed != nil {
				seed = fmt.Sprint(*rec.Seed)
			}
			fmt.Fprintf(w, "%d\t%g\t%d\t%s\t%s\t%.4f\t%.4f\n",
				i, rec.Epsilon, rec.Restarts, subset, seed, rec.Robustness, rec.FoolingRate)
		}
		w.Flush()
	}
	return nil
}
