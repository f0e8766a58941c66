// Package bound computes sound output intervals of a classifier under
// bounded L-infinity input perturbation (interval bound propagation).
package bound

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/robustlab/ibp/internal/nn"
)

// Domain is the valid input range, e.g. [0, 1] for normalized pixels.
type Domain struct {
	Min float64
	Max float64
}

// UnitDomain is the default pixel domain.
var UnitDomain = Domain{Min: 0, Max: 1}

// InputInterval builds the perturbation interval center +- epsilon, clipped
// to the valid domain.
func InputInterval(center *mat.Dense, epsilon float64, dom Domain) nn.Interval {
	var lo, hi mat.Dense
	lo.Apply(func(_, _ int, v float64) float64 {
		return clamp(v-epsilon, dom.Min, dom.Max)
	}, center)
	hi.Apply(func(_, _ int, v float64) float64 {
		return clamp(v+epsilon, dom.Min, dom.Max)
	}, center)
	return nn.Interval{Lower: &lo, Upper: &hi}
}

// Propagate pushes the epsilon-ball around center through the network layer
// by layer and returns the logit interval. With epsilon = 0 the interval
// collapses to a point and every layer rule degenerates to the ordinary
// forward computation.
func Propagate(net *nn.Network, center *mat.Dense, epsilon float64, dom Domain) (nn.Interval, error) {
	if epsilon < 0 {
		return nn.Interval{}, fmt.Errorf("propagate: epsilon %g must be non-negative", epsilon)
	}
	_, cols := center.Dims()
	if err := net.CheckShapes(cols); err != nil {
		return nn.Interval{}, err
	}
	if epsilon == 0 {
		// A point interval is the ordinary forward pass. Running it as one
		// keeps the result bit-identical to standard inference instead of
		// merely equal up to summation order.
		out, err := net.Forward(center)
		if err != nil {
			return nn.Interval{}, err
		}
		return nn.Interval{Lower: out, Upper: mat.DenseCopyOf(out)}, nil
	}
	iv := InputInterval(center, epsilon, dom)
	for _, l := range net.Layers {
		iv = l.Propagate(iv)
	}
	return iv, nil
}

// CertifiedRows reports, per batch row, whether the logit interval proves
// that no perturbation can flip the prediction away from the label: the true
// class's lower bound strictly dominates every wrong class's upper bound.
func CertifiedRows(logits nn.Interval, labels []int) []bool {
	rows, cols := logits.Dims()
	certified := make([]bool, rows)
	for i := 0; i < rows; i++ {
		lo := logits.Lower.At(i, labels[i])
		ok := true
		for j := 0; j < cols; j++ {
			if j == labels[i] {
				continue
			}
			if logits.Upper.At(i, j) >= lo {
				ok = false
				break
			}
		}
		certified[i] = ok
	}
	return certified
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
