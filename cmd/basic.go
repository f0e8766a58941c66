package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/robustlab/ibp/internal/store"
	"github.com/robustlab/ibp/internal/train"
)

var (
	basicTrain        bool
	basicDataset      string
	basicModel        string
	basicPretrained   bool
	basicLearningRate float64
	basicMomentum     float64
	basicWeightDecay  float64
	basicEpochs       int
	basicBatchSize    int
	basicJobs         int
	basicCheckpoint   string
	basicResume       string
	basicLogDir       string
	basicSeed         int64
	basicEpsilon      float64
	basicKappa        float64
	basicWarmup       int
	basicPatience     int
)

var basicCmd = &cobra.Command{
	Use:   "basic",
	Short: "Start basic neural network training",
	Long: `Trains a classifier on the configured dataset. With a positive epsilon the
loss combines standard cross-entropy with the interval-bound robustness term,
and validation additionally reports certified accuracy. Without --train a
single validation pass runs on the (possibly resumed) model.`,
	RunE: runBasic,
}

func init() {
	basicCmd.Flags().BoolVarP(&basicTrain, "train", "t", false, "Train; the default is a single validation pass")
	basicCmd.Flags().StringVarP(&basicDataset, "dataset", "d", "blobs", "Which dataset to use")
	basicCmd.Flags().StringVarP(&basicModel, "model", "m", "small_mlp", "Which model architecture to use")
	basicCmd.Flags().BoolVarP(&basicPretrained, "pretrained", "p", false, "Initialize parameters from the checkpoint file")
	basicCmd.Flags().Float64Var(&basicLearningRate, "learning-rate", 1e-1, "Learning rate")
	basicCmd.Flags().Float64Var(&basicMomentum, "momentum", 0.9, "SGD momentum")
	basicCmd.Flags().Float64VarP(&basicWeightDecay, "weight-decay", "w", 1e-4, "SGD weight decay")
	basicCmd.Flags().IntVarP(&basicEpochs, "number-of-epochs", "n", 90, "The maximum number of epochs")
	basicCmd.Flags().IntVarP(&basicBatchSize, "batch-size", "b", 256, "Mini-batch size")
	basicCmd.Flags().IntVarP(&basicJobs, "jobs", "j", 4, "Number of batch prefetch workers")
	basicCmd.Flags().StringVarP(&basicCheckpoint, "checkpoint", "c", "checkpoint.json", "A checkpoint file to save the best model")
	basicCmd.Flags().StringVarP(&basicResume, "resume", "r", "", "A checkpoint file to resume from")
	basicCmd.Flags().StringVarP(&basicLogDir, "log-dir", "l", "logs", "A metrics log directory")
	basicCmd.Flags().Int64Var(&basicSeed, "seed", -1, "Seed the random number generators (negative = unseeded)")
	basicCmd.Flags().Float64VarP(&basicEpsilon, "epsilon", "e", 0, "Epsilon used for training with interval bounds")
	basicCmd.Flags().Float64Var(&basicKappa, "kappa", 0.5, "Weight of the robustness loss term")
	basicCmd.Flags().IntVar(&basicWarmup, "warmup", 10, "Epochs over which epsilon ramps up from zero")
	basicCmd.Flags().IntVar(&basicPatience, "patience", 0, "Early-stop patience in epochs (0 = disabled)")

	rootCmd.AddCommand(basicCmd)
}

func runBasic(cmd *cobra.Command, args []string) error {
	opts := train.Options{
		Config: store.RunConfig{
			Dataset:      basicDataset,
			Model:        basicModel,
			Epsilon:      basicEpsilon,
			LearningRate: basicLearningRate,
			Momentum:     basicMomentum,
			WeightDecay:  basicWeightDecay,
			BatchSize:    basicBatchSize,
			Epochs:       basicEpochs,
			Seed:         basicSeed,
		},
		Jobs:           basicJobs,
		CheckpointPath: basicCheckpoint,
		ResumePath:     basicResume,
		LogDir:         basicLogDir,
		EvaluateOnly:   !basicTrain,
		Kappa:          basicKappa,
		Warmup:         basicWarmup,
		Patience:       basicPatience,
	}
	if basicPretrained {
		opts.PretrainedPath = basicCheckpoint
	}

	trainer, err := train.New(opts)
	if err != nil {
		return err
	}
	summary, err := trainer.Run()
	if err != nil {
		return err
	}

	slog.Info("Run finished", "run_id", summary.RunID, "best", summary.BestMetric, "best_epoch", summary.BestEpoch)
	if opts.EvaluateOnly {
		fmt.Printf("accuracy: %.4f  certified accuracy: %.4f\n", summary.Accuracy, summary.Certified)
	} else {
		fmt.Printf("best validation metric: %.4f (epoch %d)\n", summary.BestMetric, summary.BestEpoch)
	}
	return nil
}
