package certify

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/robustlab/ibp/internal/bound"
	"github.com/robustlab/ibp/internal/nn"
)

// fixedNet builds a small hand-weighted classifier whose pre-activations stay
// far from the ReLU kink for the inputs and epsilons used below, keeping the
// loss smooth around the test point.
func fixedNet() *nn.Network {
	d1 := nn.NewDense(2, 3)
	d1.W.SetRow(0, []float64{0.5, -0.3, 0.8})
	d1.W.SetRow(1, []float64{0.2, 0.4, -0.6})
	d1.B.SetRow(0, []float64{0.1, 0.2, 0.3})

	d2 := nn.NewDense(3, 2)
	d2.W.SetRow(0, []float64{1.0, -0.5})
	d2.W.SetRow(1, []float64{0.3, 0.7})
	d2.W.SetRow(2, []float64{-0.2, 0.6})

	return &nn.Network{Name: "fixed", InDim: 2, Classes: 2, Layers: []nn.Layer{d1, nn.NewReLU(), d2}}
}

func identityNet() *nn.Network {
	d := nn.NewDense(2, 2)
	d.W.Set(0, 0, 1)
	d.W.Set(1, 1, 1)
	return &nn.Network{Name: "identity", InDim: 2, Classes: 2, Layers: []nn.Layer{d}}
}

func TestRobustTermVanishesAtZeroEpsilon(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	net, err := nn.Build("small_mlp", 4, 3, rng)
	require.NoError(t, err)

	x := mat.NewDense(5, 4, nil)
	for i := 0; i < 5; i++ {
		for j := 0; j < 4; j++ {
			x.Set(i, j, rng.Float64())
		}
	}
	labels := []int{0, 1, 2, 0, 1}

	res, err := Loss{Kappa: 0.5}.Eval(net, x, labels, 0, bound.UnitDomain, false)
	require.NoError(t, err)
	assert.Zero(t, res.Robust, "robust term must be exactly zero at epsilon 0")
	assert.Equal(t, res.Fit, res.Loss, "epsilon 0 degenerates to standard training")
}

func TestRobustTermZeroWithoutOverlap(t *testing.T) {
	net := identityNet()
	x := mat.NewDense(1, 2, []float64{1.0, -1.0})
	dom := bound.Domain{Min: -1, Max: 1}

	// Bounds: logit 0 in [0.5, 1.0], logit 1 in [-1.0, -0.5]. The margin is
	// -1, so the hinged penalty is exactly zero.
	res, err := Loss{Kappa: 1}.Eval(net, x, []int{0}, 0.5, dom, false)
	require.NoError(t, err)
	assert.Zero(t, res.Robust)
}

func identityNet3() *nn.Network {
	d := nn.NewDense(3, 3)
	for i := 0; i < 3; i++ {
		d.W.Set(i, i, 1)
	}
	return &nn.Network{Name: "identity3", InDim: 3, Classes: 3, Layers: []nn.Layer{d}}
}

func TestRobustTermMultiClass(t *testing.T) {
	net := identityNet3()
	dom := bound.UnitDomain

	// Margins -0.4 and -0.5: no overlap, yet the log-sum-exp over two
	// negative margins is log(e^-0.4 + e^-0.5) > 0, so the surrogate keeps a
	// small positive value. It still upper-bounds the hard-max hinge, which
	// is zero here.
	x := mat.NewDense(1, 3, []float64{0.9, 0.4, 0.3})
	res, err := Loss{Kappa: 1}.Eval(net, x, []int{0}, 0.05, dom, false)
	require.NoError(t, err)
	lse := math.Log(math.Exp(-0.4) + math.Exp(-0.5))
	assert.InDelta(t, lse, res.Robust, 1e-12)
	assert.Greater(t, res.Robust, 0.0)

	// Margins below -log(classes-1) push the log-sum-exp negative and the
	// hinge clamps the term to zero.
	far := mat.NewDense(1, 3, []float64{0.95, 0.05, 0.05})
	res, err = Loss{Kappa: 1}.Eval(net, far, []int{0}, 0.01, dom, false)
	require.NoError(t, err)
	assert.Zero(t, res.Robust)
}

func TestRobustTermPositiveOnOverlap(t *testing.T) {
	net := identityNet()
	x := mat.NewDense(1, 2, []float64{1.0, -1.0})
	dom := bound.Domain{Min: -1, Max: 1}

	res, err := Loss{Kappa: 1}.Eval(net, x, []int{0}, 2.0, dom, false)
	require.NoError(t, err)
	assert.Greater(t, res.Robust, 0.0, "interval overlap must be penalized")
	assert.Greater(t, res.Loss, res.Fit)
}

func TestKappaWeighsRobustTerm(t *testing.T) {
	net := identityNet()
	x := mat.NewDense(1, 2, []float64{1.0, -1.0})
	dom := bound.Domain{Min: -1, Max: 1}

	weak, err := Loss{Kappa: 0.1}.Eval(net, x, []int{0}, 2.0, dom, false)
	require.NoError(t, err)
	strong, err := Loss{Kappa: 1.0}.Eval(net, x, []int{0}, 2.0, dom, false)
	require.NoError(t, err)

	assert.Equal(t, weak.Robust, strong.Robust)
	assert.Less(t, weak.Loss, strong.Loss)
}

func TestCombinedGradientMatchesFiniteDifferences(t *testing.T) {
	const (
		epsilon = 0.05
		kappa   = 0.7
	)
	net := fixedNet()
	x := mat.NewDense(1, 2, []float64{0.6, 0.4})
	labels := []int{1} // wrong class 0 dominates, so the hinge is active

	loss := Loss{Kappa: kappa}
	res, err := loss.Eval(net, x, labels, epsilon, bound.UnitDomain, false)
	require.NoError(t, err)
	require.Greater(t, res.Robust, 0.0, "test needs an active robustness term")

	net.ZeroGrad()
	_, err = loss.Eval(net, x, labels, epsilon, bound.UnitDomain, true)
	require.NoError(t, err)
	var analytic []float64
	for _, p := range net.Params() {
		analytic = append(analytic, p.Grad.RawMatrix().Data...)
	}

	var theta []float64
	for _, p := range net.Params() {
		theta = append(theta, p.Value.RawMatrix().Data...)
	}
	setFlat := func(v []float64) {
		offset := 0
		for _, p := range net.Params() {
			data := p.Value.RawMatrix().Data
			copy(data, v[offset:offset+len(data)])
			offset += len(data)
		}
	}
	numeric := fd.Gradient(nil, func(v []float64) float64 {
		setFlat(v)
		r, err := loss.Eval(net, x, labels, epsilon, bound.UnitDomain, false)
		if err != nil {
			t.Fatal(err)
		}
		return r.Loss
	}, theta, &fd.Settings{Formula: fd.Central})
	setFlat(theta)

	require.Len(t, analytic, len(numeric))
	for i := range numeric {
		assert.InDelta(t, numeric[i], analytic[i], 1e-6, "parameter %d", i)
	}
}

func TestScheduleRampsLinearly(t *testing.T) {
	s := Schedule{Target: 0.3, Warmup: 10}

	assert.InDelta(t, 0.03, s.At(1), 1e-12)
	assert.InDelta(t, 0.15, s.At(5), 1e-12)
	assert.InDelta(t, 0.3, s.At(10), 1e-12)
	assert.InDelta(t, 0.3, s.At(50), 1e-12)
}

func TestScheduleWithoutWarmup(t *testing.T) {
	s := Schedule{Target: 0.1, Warmup: 0}
	assert.Equal(t, 0.1, s.At(1))

	zero := Schedule{Target: 0, Warmup: 5}
	assert.Zero(t, zero.At(3))
}
