package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLoadRegisteredDatasets(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			train, valid, err := Load(name, 3)
			require.NoError(t, err)

			assert.Equal(t, trainSamples, train.Len())
			assert.Equal(t, validSamples, valid.Len())
			assert.Equal(t, train.Features(), valid.Features())
			assert.Equal(t, train.Classes, valid.Classes)
			assert.GreaterOrEqual(t, train.Classes, 2)

			// labels in range, features inside the unit domain
			for _, ds := range []*Dataset{train, valid} {
				rows, cols := ds.X.Dims()
				for i := 0; i < rows; i++ {
					require.GreaterOrEqual(t, ds.Y[i], 0)
					require.Less(t, ds.Y[i], ds.Classes)
					for j := 0; j < cols; j++ {
						v := ds.X.At(i, j)
						require.GreaterOrEqual(t, v, 0.0)
						require.LessOrEqual(t, v, 1.0)
					}
				}
			}

			// validation is normalized with the training statistics
			assert.Equal(t, train.Mean, valid.Mean)
			assert.Equal(t, train.Std, valid.Std)
			for j := range train.Std {
				assert.Greater(t, train.Std[j], 0.0)
			}
		})
	}
}

func TestLoadDeterministicPerSeed(t *testing.T) {
	a1, _, err := Load("rings", 7)
	require.NoError(t, err)
	a2, _, err := Load("rings", 7)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a1.X, a2.X), "same seed must yield identical data")
	assert.Equal(t, a1.Y, a2.Y)

	b, _, err := Load("rings", 8)
	require.NoError(t, err)
	assert.False(t, mat.Equal(a1.X, b.X), "different seeds must yield different data")
}

func TestLoadUnknownDataset(t *testing.T) {
	_, _, err := Load("imagenet", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dataset")
}

func TestBatchCopiesRows(t *testing.T) {
	train, _, err := Load("stripes", 1)
	require.NoError(t, err)

	x, y := train.Batch([]int{5, 0, 9})
	rows, cols := x.Dims()
	require.Equal(t, 3, rows)
	require.Equal(t, train.Features(), cols)
	assert.Equal(t, train.Y[5], y[0])
	assert.Equal(t, train.Y[0], y[1])

	// mutating the batch must not touch the dataset
	before := train.X.At(5, 0)
	x.Set(0, 0, -42)
	assert.Equal(t, before, train.X.At(5, 0))
}

func TestFeatureStatsFloorsStd(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		0.5, 0.1,
		0.5, 0.9,
		0.5, 0.1,
		0.5, 0.9,
	})
	mean, std := featureStats(x)
	assert.InDelta(t, 0.5, mean[0], 1e-15)
	assert.Equal(t, 1e-3, std[0], "constant feature gets the std floor")
	assert.InDelta(t, 0.4, std[1], 1e-12)
}
