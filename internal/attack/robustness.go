package attack

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/robustlab/ibp/internal/bound"
	"github.com/robustlab/ibp/internal/data"
	"github.com/robustlab/ibp/internal/nn"
)

// Options configures a robustness evaluation over a dataset.
type Options struct {
	Epsilon  float64
	Steps    int
	StepSize float64
	Restarts int

	// Subset evaluates a deterministic random sample of that size;
	// nil evaluates the full set.
	Subset *int

	// Seed drives the subset draw. nil draws from the clock, which still
	// evaluates correctly but is not reproducible.
	Seed *int64

	BatchSize int
}

// SampleResult is the worst case over all restarts for one sample.
type SampleResult struct {
	// Misclassified is true when any restart made the prediction disagree
	// with the true label.
	Misclassified bool

	// Fooled is true when any restart changed the prediction away from the
	// clean prediction, regardless of correctness.
	Fooled bool

	// Margin is the true-class logit minus the best wrong-class logit,
	// minimized over restarts.
	Margin float64
}

// Results are the aggregate robustness statistics for one evaluation.
type Results struct {
	Robustness   float64
	FoolingRate  float64
	SortedErrors []float64
}

// Aggregate folds per-sample worst-case results into dataset statistics.
// SortedErrors is ascending and has one entry per evaluated sample.
func Aggregate(samples []SampleResult) Results {
	if len(samples) == 0 {
		return Results{SortedErrors: []float64{}}
	}
	robust := 0
	fooled := 0
	errors := make([]float64, len(samples))
	for i, s := range samples {
		if !s.Misclassified {
			robust++
		}
		if s.Fooled {
			fooled++
		}
		errors[i] = s.Margin
	}
	sort.Float64s(errors)
	n := float64(len(samples))
	return Results{
		Robustness:   float64(robust) / n,
		FoolingRate:  float64(fooled) / n,
		SortedErrors: errors,
	}
}

// ComputeRobustness attacks every selected sample of the dataset with PGD
// under the given options and aggregates the worst case over restarts. The
// first restart starts from the clean input; later restarts start from
// random points inside the ball.
func ComputeRobustness(net *nn.Network, ds *data.Dataset, dom bound.Domain, opt Options) (Results, error) {
	if opt.Restarts < 1 {
		return Results{}, fmt.Errorf("restarts %d must be at least 1", opt.Restarts)
	}
	if opt.Epsilon < 0 {
		return Results{}, fmt.Errorf("epsilon %g must be non-negative", opt.Epsilon)
	}
	batchSize := opt.BatchSize
	if batchSize < 1 {
		batchSize = 256
	}
	stepSize := opt.StepSize
	if stepSize <= 0 {
		stepSize = opt.Epsilon / 8
	}
	steps := opt.Steps
	if steps <= 0 {
		steps = 40
	}

	indices, err := selectSubset(ds.Len(), opt.Subset, opt.Seed)
	if err != nil {
		return Results{}, err
	}

	var seed int64
	if opt.Seed != nil {
		seed = *opt.Seed
	} else {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed + 1))

	cfg := PGDConfig{Epsilon: opt.Epsilon, Steps: steps, StepSize: stepSize}
	samples := make([]SampleResult, 0, len(indices))

	for start := 0; start < len(indices); start += batchSize {
		end := start + batchSize
		if end > len(indices) {
			end = len(indices)
		}
		x, y := ds.Batch(indices[start:end])
		rows, _ := x.Dims()

		cleanLogits, err := net.Forward(x)
		if err != nil {
			return Results{}, err
		}
		cleanPred := nn.Predictions(cleanLogits)

		batch := make([]SampleResult, rows)
		for i := range batch {
			batch[i].Margin = math.Inf(1)
		}
		for restart := 0; restart < opt.Restarts; restart++ {
			adv := PGD(net, x, y, cfg, dom, rng, restart > 0)
			logits, err := net.Forward(adv)
			if err != nil {
				return Results{}, err
			}
			pred := nn.Predictions(logits)
			for i := 0; i < rows; i++ {
				m := margin(logits, i, y[i])
				if m < batch[i].Margin {
					batch[i].Margin = m
				}
				if pred[i] != y[i] {
					batch[i].Misclassified = true
				}
				if pred[i] != cleanPred[i] {
					batch[i].Fooled = true
				}
			}
		}
		samples = append(samples, batch...)
	}

	results := Aggregate(samples)
	slog.Info("Robustness computed",
		"samples", len(samples),
		"restarts", opt.Restarts,
		"epsilon", opt.Epsilon,
		"robustness", results.Robustness,
		"fooling_rate", results.FoolingRate,
	)
	return results, nil
}

// margin returns the true-class logit minus the best wrong-class logit for
// row i. Negative means misclassified.
func margin(logits *mat.Dense, i, label int) float64 {
	_, cols := logits.Dims()
	trueLogit := logits.At(i, label)
	bestWrong := math.Inf(-1)
	for j := 0; j < cols; j++ {
		if j == label {
			continue
		}
		if v := logits.At(i, j); v > bestWrong {
			bestWrong = v
		}
	}
	return trueLogit - bestWrong
}

// selectSubset picks the evaluated sample indices: all of them, or a
// deterministic seeded draw of the requested size.
func selectSubset(n int, subset *int, seed *int64) ([]int, error) {
	if subset == nil {
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}
	size := *subset
	if size < 1 || size > n {
		return nil, fmt.Errorf("subset size %d out of range [1, %d]", size, n)
	}
	var src int64
	if seed != nil {
		src = *seed
	} else {
		src = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(src))
	return rng.Perm(n)[:size], nil
}
