// Package certify implements the combined training loss for interval bound
// propagation: standard cross-entropy on the nominal logits plus a margin
// penalty on the logit bounds reachable inside the epsilon-ball.
package certify

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/robustlab/ibp/internal/bound"
	"github.com/robustlab/ibp/internal/nn"
)

// Loss combines the nominal fit term with the robustness term:
// total = fit + Kappa*robust.
type Loss struct {
	// Kappa weighs the robustness term. Zero recovers plain cross-entropy
	// training even with a positive epsilon.
	Kappa float64
}

// Result holds the per-batch loss components. Robust is exactly zero when
// epsilon is zero. With a positive epsilon it upper-bounds the hard-max
// margin penalty; with more than two classes the log-sum-exp stays positive
// until every margin is below roughly -log(classes-1), so a safely certified
// batch can still carry a small robust term.
type Result struct {
	Loss   float64
	Fit    float64
	Robust float64
}

// Eval computes the combined loss on one batch. With backprop set, parameter
// gradients are accumulated on the network (the caller zeroes them).
//
// The robustness term hinges the log-sum-exp of the per-class margins
// upper[c] - lower[label] over the wrong classes: log-sum-exp instead of a
// hard max keeps gradients informative across all threatening classes, and
// the hinge clamps the term at zero once the log-sum-exp drops below zero
// (with two classes, exactly when no interval overlap exists).
func (c Loss) Eval(net *nn.Network, x *mat.Dense, labels []int, epsilon float64, dom bound.Domain, backprop bool) (Result, error) {
	logits, err := net.Forward(x)
	if err != nil {
		return Result{}, err
	}
	fit, gradFit := nn.CrossEntropy(logits, labels)

	if epsilon == 0 {
		if backprop {
			net.Backward(gradFit)
		}
		return Result{Loss: fit, Fit: fit}, nil
	}

	iv, err := bound.Propagate(net, x, epsilon, dom)
	if err != nil {
		return Result{}, err
	}

	rows, cols := iv.Dims()
	inv := 1.0 / float64(rows)
	robust := 0.0
	var gl, gu *mat.Dense
	if backprop {
		gl = mat.NewDense(rows, cols, nil)
		gu = mat.NewDense(rows, cols, nil)
	}

	margins := make([]float64, 0, cols-1)
	classes := make([]int, 0, cols-1)
	for i := 0; i < rows; i++ {
		y := labels[i]
		lowerTrue := iv.Lower.At(i, y)
		margins = margins[:0]
		classes = classes[:0]
		for j := 0; j < cols; j++ {
			if j == y {
				continue
			}
			margins = append(margins, iv.Upper.At(i, j)-lowerTrue)
			classes = append(classes, j)
		}
		lse := nn.LogSumExp(margins)
		if lse <= 0 {
			continue
		}
		robust += lse * inv
		if backprop {
			// d lse / d margin_c is the softmax over margins; each margin
			// adds to upper[c] and subtracts from lower[y].
			for k, j := range classes {
				s := math.Exp(margins[k]-lse) * c.Kappa * inv
				gu.Set(i, j, s)
				gl.Set(i, y, gl.At(i, y)-s)
			}
		}
	}

	if backprop {
		net.Backward(gradFit)
		net.BackwardInterval(gl, gu)
	}
	return Result{Loss: fit + c.Kappa*robust, Fit: fit, Robust: robust}, nil
}

// Schedule ramps the training epsilon linearly from zero up to Target over
// the first Warmup epochs. Throwing the full budget at an untrained network
// destabilizes the early epochs.
type Schedule struct {
	Target float64
	Warmup int
}

// At returns the epsilon for a 1-based epoch number.
func (s Schedule) At(epoch int) float64 {
	if s.Target == 0 || s.Warmup <= 0 || epoch >= s.Warmup {
		return s.Target
	}
	if epoch < 1 {
		epoch = 1
	}
	return s.Target * float64(epoch) / float64(s.Warmup)
}
