package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ReLU is the elementwise max(0, x) nonlinearity. It is monotone, so interval
// propagation applies it independently to both endpoints.
type ReLU struct {
	x     *mat.Dense
	lower *mat.Dense
	upper *mat.Dense
}

func NewReLU() *ReLU { return &ReLU{} }

func (l *ReLU) Kind() string { return "relu" }

func (l *ReLU) OutDim(in int) (int, bool) { return in, true }

func (l *ReLU) Forward(x *mat.Dense) *mat.Dense {
	l.x = x
	var y mat.Dense
	// math.Max keeps NaN, so a non-finite activation reaches the loss
	// instead of being clipped to zero.
	y.Apply(func(_, _ int, v float64) float64 {
		return math.Max(0, v)
	}, x)
	return &y
}

func (l *ReLU) Backward(grad *mat.Dense) *mat.Dense {
	var gin mat.Dense
	gin.Apply(func(i, j int, g float64) float64 {
		if l.x.At(i, j) > 0 {
			return g
		}
		return 0
	}, grad)
	return &gin
}

func (l *ReLU) Propagate(iv Interval) Interval {
	l.lower = iv.Lower
	l.upper = iv.Upper
	clip := func(_, _ int, v float64) float64 {
		return math.Max(0, v)
	}
	var lo, hi mat.Dense
	lo.Apply(clip, iv.Lower)
	hi.Apply(clip, iv.Upper)
	return Interval{Lower: &lo, Upper: &hi}
}

func (l *ReLU) BackwardInterval(gl, gu *mat.Dense) (*mat.Dense, *mat.Dense) {
	var ginLo, ginHi mat.Dense
	ginLo.Apply(func(i, j int, g float64) float64 {
		if l.lower.At(i, j) > 0 {
			return g
		}
		return 0
	}, gl)
	ginHi.Apply(func(i, j int, g float64) float64 {
		if l.upper.At(i, j) > 0 {
			return g
		}
		return 0
	}, gu)
	return &ginLo, &ginHi
}
