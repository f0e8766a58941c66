package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Norm standardizes each feature with fixed statistics: y = (x - mean) / std.
//
// This is the inference-mode form of batch normalization with its running
// statistics frozen and folded into a per-feature affine map. Because every
// scale 1/std is positive, the map is monotone and interval propagation
// applies it to both endpoints directly, which is the standard sound
// treatment of normalization layers under IBP.
type Norm struct {
	Mean []float64
	Std  []float64
}

// NewNorm builds a normalization layer. Every std entry must be positive.
func NewNorm(mean, std []float64) (*Norm, error) {
	if len(mean) != len(std) {
		return nil, fmt.Errorf("norm: mean has %d features, std has %d", len(mean), len(std))
	}
	for i, s := range std {
		if s <= 0 {
			return nil, fmt.Errorf("norm: std[%d] = %g, must be positive", i, s)
		}
	}
	return &Norm{Mean: mean, Std: std}, nil
}

func (l *Norm) Kind() string { return "norm" }

func (l *Norm) OutDim(in int) (int, bool) {
	if in != len(l.Mean) {
		return 0, false
	}
	return in, true
}

func (l *Norm) apply(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Apply(func(_, j int, v float64) float64 {
		return (v - l.Mean[j]) / l.Std[j]
	}, x)
	return &y
}

func (l *Norm) scaleGrad(g *mat.Dense) *mat.Dense {
	var gin mat.Dense
	gin.Apply(func(_, j int, v float64) float64 {
		return v / l.Std[j]
	}, g)
	return &gin
}

func (l *Norm) Forward(x *mat.Dense) *mat.Dense { return l.apply(x) }

func (l *Norm) Backward(grad *mat.Dense) *mat.Dense { return l.scaleGrad(grad) }

func (l *Norm) Propagate(iv Interval) Interval {
	return Interval{Lower: l.apply(iv.Lower), Upper: l.apply(iv.Upper)}
}

func (l *Norm) BackwardInterval(gl, gu *mat.Dense) (*mat.Dense, *mat.Dense) {
	return l.scaleGrad(gl), l.scaleGrad(gu)
}
