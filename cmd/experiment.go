package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robustlab/ibp/internal/store"
	"github.com/robustlab/ibp/internal/train"
)

var (
	experimentRun   bool
	experimentIndex int
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Run one of the training experiments",
	Long: `Enumerates the cartesian product of datasets, epsilons, learning rates and
models. Without --run the grid is printed; with --run the selected experiments
are executed with checkpoints and logs under deterministic directories.`,
	RunE: runExperiment,
}

func init() {
	experimentCmd.Flags().BoolVarP(&experimentRun, "run", "r", false, "Run instead of show the experiment(s)")
	experimentCmd.Flags().IntVarP(&experimentIndex, "index", "i", -1, "Which experiment (negative = all)")
	rootCmd.AddCommand(experimentCmd)
}

// trainingGrid enumerates every training experiment configuration in a fixed
// order, so an index always names the same run.
func trainingGrid() []store.RunConfig {
	datasets := []string{"blobs", "rings", "stripes"}
	epsilons := []float64{0.001, 0.01, 0.03, 0.1}
	learningRates := []float64{1e-1, 1e-2, 1e-3}
	models := []string{"small_mlp", "medium_mlp", "large_mlp"}

	var grid []store.RunConfig
	for _, dataset := range datasets {
		for _, epsilon := range epsilons {
			for _, learningRate := range learningRates {
				for _, model := range models {
					grid = append(grid, store.RunConfig{
						Dataset:      dataset,
						Model:        model,
						Epsilon:      epsilon,
						LearningRate: learningRate,
						Momentum:     0.9,
						WeightDecay:  1e-4,
						BatchSize:    256,
						Epochs:       90,
						Seed:         42,
					})
				}
			}
		}
	}
	return grid
}

func runExperiment(cmd *cobra.Command, args []string) error {
	for i, cfg := range trainingGrid() {
		if experimentIndex >= 0 && i != experimentIndex {
			continue
		}
		dir := cfg.Dir()
		fmt.Printf("%d ibp basic --train -d %s -m %s -e %g --learning-rate %g -l %s -c %s\n",
			i, cfg.Dataset, cfg.Model, cfg.Epsilon, cfg.LearningRate,
			dir, filepath.Join(dir, "checkpoint.json"))
		if !experimentRun {
			continue
		}
		trainer, err := train.New(train.Options{
			Config:         cfg,
			Jobs:           4,
			CheckpointPath: filepath.Join(dir, "checkpoint.json"),
			LogDir:         dir,
			Kappa:          0.5,
			Warmup:         10,
		})
		if err != nil {
			return err
		}
		if _, err := trainer.Run(); err != nil {
			return err
		}
	}
	return nil
}
