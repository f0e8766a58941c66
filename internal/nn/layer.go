package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Interval is a pair of per-activation bound matrices (batch rows, feature
// columns). The invariant Lower <= Upper holds elementwise for every interval
// produced by a layer from a valid input interval.
type Interval struct {
	Lower *mat.Dense
	Upper *mat.Dense
}

// PointInterval wraps a nominal activation as a degenerate interval.
func PointInterval(x *mat.Dense) Interval {
	lower := mat.DenseCopyOf(x)
	upper := mat.DenseCopyOf(x)
	return Interval{Lower: lower, Upper: upper}
}

// Dims reports the shape shared by both bound matrices.
func (iv Interval) Dims() (rows, cols int) {
	return iv.Lower.Dims()
}

// Layer is one stage of a feed-forward classifier. Each concrete layer kind
// implements its own interval propagation rule; there is no generic fallback,
// so adding a new kind means adding an explicit rule.
//
// Layers cache forward-pass inputs for the matching backward pass, so a
// network is not safe for concurrent use.
type Layer interface {
	// Kind identifies the layer type in state dicts and error messages.
	Kind() string

	// OutDim reports the output width for input width in.
	// ok is false when the layer cannot accept an input of that width.
	OutDim(in int) (out int, ok bool)

	// Forward computes the nominal activation.
	Forward(x *mat.Dense) *mat.Dense

	// Backward consumes the gradient w.r.t. this layer's output, accumulates
	// any parameter gradients, and returns the gradient w.r.t. its input.
	Backward(grad *mat.Dense) *mat.Dense

	// Propagate maps an input interval to a sound output interval.
	Propagate(iv Interval) Interval

	// BackwardInterval backpropagates gradients w.r.t. the output bounds,
	// returning gradients w.r.t. the input bounds.
	BackwardInterval(gradLower, gradUpper *mat.Dense) (*mat.Dense, *mat.Dense)
}

// Param is a named trainable tensor with its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// ParamLayer is a layer with trainable parameters.
type ParamLayer interface {
	Layer
	Params() []*Param
	ZeroGrad()
}

// ShapeError reports a disagreement between a layer's declared input width
// and the activation or interval reaching it.
type ShapeError struct {
	Layer string // layer kind
	Index int    // position in the network
	Want  int
	Got   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch at layer %d (%s): want width %d, got %d",
		e.Index, e.Layer, e.Want, e.Got)
}
