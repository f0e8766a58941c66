// Package data provides in-memory classification datasets and a prefetching
// batch loader. Real-world corpora are out of scope; the registered datasets
// are synthetic but deterministic, which is all training, certification and
// attack evaluation need.
package data

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Dataset is a fixed set of feature vectors with integer labels. Features
// live in [0, 1], matching the unit input domain assumed by the bound
// propagator and the attack engine.
type Dataset struct {
	Name     string
	X        *mat.Dense // n x features
	Y        []int
	Classes  int
	Mean     []float64 // per-feature statistics of the training split
	Std      []float64
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	n, _ := d.X.Dims()
	return n
}

// Features returns the feature width.
func (d *Dataset) Features() int {
	_, c := d.X.Dims()
	return c
}

// Batch copies the given rows into a fresh batch.
func (d *Dataset) Batch(indices []int) (*mat.Dense, []int) {
	_, cols := d.X.Dims()
	x := mat.NewDense(len(indices), cols, nil)
	y := make([]int, len(indices))
	for bi, i := range indices {
		x.SetRow(bi, mat.Row(nil, i, d.X))
		y[bi] = d.Y[i]
	}
	return x, y
}

type generator func(n int, rng *rand.Rand) (*mat.Dense, []int, int)

var generators = map[string]generator{
	"blobs":   genBlobs,
	"rings":   genRings,
	"stripes": genStripes,
}

// Names lists the registered datasets in sorted order.
func Names() []string {
	names := make([]string, 0, len(generators))
	for name := range generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const (
	trainSamples = 2048
	validSamples = 512
)

// Load builds the train and validation splits of a registered dataset. The
// same seed always yields the same data.
func Load(name string, seed int64) (train, valid *Dataset, err error) {
	gen, ok := generators[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown dataset %q (have %v)", name, Names())
	}
	rng := rand.New(rand.NewSource(seed))
	trainX, trainY, classes := gen(trainSamples, rng)
	validX, validY, _ := gen(validSamples, rng)

	mean, std := featureStats(trainX)
	train = &Dataset{Name: name, X: trainX, Y: trainY, Classes: classes, Mean: mean, Std: std}
	valid = &Dataset{Name: name, X: validX, Y: validY, Classes: classes, Mean: mean, Std: std}
	return train, valid, nil
}

func featureStats(x *mat.Dense) (mean, std []float64) {
	rows, cols := x.Dims()
	mean = make([]float64, cols)
	std = make([]float64, cols)
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += x.At(i, j)
		}
		m := sum / float64(rows)
		varsum := 0.0
		for i := 0; i < rows; i++ {
			d := x.At(i, j) - m
			varsum += d * d
		}
		mean[j] = m
		s := math.Sqrt(varsum / float64(rows))
		if s < 1e-3 {
			s = 1e-3
		}
		std[j] = s
	}
	return mean, std
}

// genBlobs draws 3 gaussian clusters in an 8-dimensional unit cube.
func genBlobs(n int, rng *rand.Rand) (*mat.Dense, []int, int) {
	const features = 8
	const classes = 3
	centers := make([][]float64, classes)
	for c := range centers {
		centers[c] = make([]float64, features)
		for j := range centers[c] {
			centers[c][j] = 0.2 + 0.6*rng.Float64()
		}
	}
	x := mat.NewDense(n, features, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % classes
		y[i] = c
		for j := 0; j < features; j++ {
			x.Set(i, j, clampUnit(centers[c][j]+rng.NormFloat64()*0.06))
		}
	}
	return x, y, classes
}

// genRings draws two concentric annuli in the plane, embedded in [0,1]^2.
func genRings(n int, rng *rand.Rand) (*mat.Dense, []int, int) {
	x := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % 2
		y[i] = c
		radius := 0.15 + 0.25*float64(c) + rng.NormFloat64()*0.03
		angle := 2 * math.Pi * rng.Float64()
		x.Set(i, 0, clampUnit(0.5+radius*math.Cos(angle)))
		x.Set(i, 1, clampUnit(0.5+radius*math.Sin(angle)))
	}
	return x, y, 2
}

// genStripes labels 4-dimensional points by which vertical band the first
// coordinate falls into. Linearly separable, so even tiny models certify well.
func genStripes(n int, rng *rand.Rand) (*mat.Dense, []int, int) {
	const features = 4
	const classes = 2
	x := mat.NewDense(n, features, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % classes
		y[i] = c
		base := 0.25 + 0.5*float64(c)
		x.Set(i, 0, clampUnit(base+rng.NormFloat64()*0.05))
		for j := 1; j < features; j++ {
			x.Set(i, j, rng.Float64())
		}
	}
	return x, y, classes
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
