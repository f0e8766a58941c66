package main

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robustlab/ibp/internal/attack"
	"github.com/robustlab/ibp/internal/bound"
	"github.com/robustlab/ibp/internal/data"
	"github.com/robustlab/ibp/internal/nn"
	"github.com/robustlab/ibp/internal/store"
)

var (
	pgdRun      bool
	pgdIndex    int
	pgdRestarts int
	pgdSubset   int
	pgdSeed     int64
	pgdSteps    int
)

var pgdCmd = &cobra.Command{
	Use:   "pgd",
	Short: "Compute PGD robustness for the experiments",
	Long: `Loads each selected experiment's checkpoint, attacks its validation set
with PGD, and appends the aggregated robustness record to the checkpoint
under the "PGD" key. Prior records are preserved.`,
	RunE: runPGD,
}

func init() {
	pgdCmd.Flags().BoolVarP(&pgdRun, "run", "r", false, "Run instead of show the experiment(s)")
	pgdCmd.Flags().IntVarP(&pgdIndex, "index", "i", -1, "Which experiment (negative = all)")
	pgdCmd.Flags().IntVar(&pgdRestarts, "restarts", 1, "Random restarts per sample")
	pgdCmd.Flags().IntVar(&pgdSubset, "subset", 0, "Evaluate a random subset of that size (0 = full set)")
	pgdCmd.Flags().Int64Var(&pgdSeed, "seed", -1, "Seed for the subset draw and restarts (negative = unseeded)")
	pgdCmd.Flags().IntVar(&pgdSteps, "steps", 40, "PGD iterations per restart")
	rootCmd.AddCommand(pgdCmd)
}

// pgdExperiment pairs a trained configuration with an attack budget.
type pgdExperiment struct {
	Config      store.RunConfig
	TestEpsilon float64
}

func pgdGrid() []pgdExperiment {
	datasets := []string{"blobs", "stripes"}
	trainEpsilons := []float64{0.01, 0.1}
	models := []string{"small_mlp", "medium_mlp"}
	learningRates := []float64{1e-1, 1e-2}
	testEpsilons := []float64{0.01, 0.05, 0.1}

	var grid []pgdExperiment
	for _, dataset := range datasets {
		for _, epsilon := range trainEpsilons {
			for _, model := range models {
				for _, learningRate := range learningRates {
					for _, testEpsilon := range testEpsilons {
						grid = append(grid, pgdExperiment{
							Config: store.RunConfig{
								Dataset:      dataset,
								Model:        model,
								Epsilon:      epsilon,
								LearningRate: learningRate,
								Momentum:     0.9,
								WeightDecay:  1e-4,
								BatchSize:    256,
								Epochs:       90,
								Seed:         42,
							},
							TestEpsilon: testEpsilon,
						})
					}
				}
			}
		}
	}
	return grid
}

func runPGD(cmd *cobra.Command, args []string) error {
	for i, exp := range pgdGrid() {
		if pgdIndex >= 0 && i != pgdIndex {
			continue
		}
		checkpointFile := filepath.Join(exp.Config.Dir(), "checkpoint.json")
		fmt.Printf("%d %s test-epsilon %g\n", i, checkpointFile, exp.TestEpsilon)
		if !pgdRun {
			continue
		}
		if err := attackCheckpoint(checkpointFile, exp); err != nil {
			return err
		}
	}
	return nil
}

func attackCheckpoint(checkpointFile string, exp pgdExperiment) error {
	checkpoint, err := store.Load(checkpointFile)
	if err != nil {
		return err
	}

	seed := checkpoint.Config.Seed
	if seed < 0 {
		seed = 0
	}
	rng := rand.New(rand.NewSource(seed))
	_, valid, err := data.Load(exp.Config.Dataset, seed)
	if err != nil {
		return err
	}
	net, err := nn.Build(exp.Config.Model, valid.Features(), valid.Classes, rng)
	if err != nil {
		return err
	}
	if err := nn.WithNormalization(net, valid.Mean, valid.Std); err != nil {
		return err
	}
	if err := net.LoadStateDict(checkpoint.StateDict); err != nil {
		return err
	}

	opt := attack.Options{
		Epsilon:   exp.TestEpsilon,
		Steps:     pgdSteps,
		Restarts:  pgdRestarts,
		BatchSize: exp.Config.BatchSize,
	}
	var recSeed *int64
	if pgdSeed >= 0 {
		s := pgdSeed
		opt.Seed = &s
		recSeed = &s
	}
	var recSubset *int
	if pgdSubset > 0 {
		n := pgdSubset
		opt.Subset = &n
		recSubset = &n
	}

	results, err := attack.ComputeRobustness(net, valid, bound.UnitDomain, opt)
	if err != nil {
		return err
	}

	checkpoint.AppendResult("PGD", store.AttackRecord{
		Seed:         recSeed,
		Subset:       recSubset,
		Restarts:     pgdRestarts,
		Epsilon:      exp.TestEpsilon,
		Robustness:   results.Robustness,
		FoolingRate:  results.FoolingRate,
		SortedErrors: results.SortedErrors,
	})
	return store.Save(checkpointFile, checkpoint)
}
