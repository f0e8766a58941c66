package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Network is an ordered stack of layers ending in class logits.
type Network struct {
	Name    string
	InDim   int
	Classes int
	Layers  []Layer
}

// CheckShapes walks the declared layer widths starting from in and returns a
// ShapeError at the first disagreement. The final width must match Classes.
func (n *Network) CheckShapes(in int) error {
	width := in
	for i, l := range n.Layers {
		out, ok := l.OutDim(width)
		if !ok {
			want := width
			if d, isDense := l.(*Dense); isDense {
				want = d.In
			} else if nm, isNorm := l.(*Norm); isNorm {
				want = len(nm.Mean)
			}
			return &ShapeError{Layer: l.Kind(), Index: i, Want: want, Got: width}
		}
		width = out
	}
	if width != n.Classes {
		return fmt.Errorf("network %s: output width %d, want %d classes", n.Name, width, n.Classes)
	}
	return nil
}

// Forward runs the nominal forward pass and returns the logits.
func (n *Network) Forward(x *mat.Dense) (*mat.Dense, error) {
	_, cols := x.Dims()
	if err := n.CheckShapes(cols); err != nil {
		return nil, err
	}
	out := x
	for _, l := range n.Layers {
		out = l.Forward(out)
	}
	return out, nil
}

// Backward backpropagates the logit gradient through the stack, accumulating
// parameter gradients, and returns the gradient w.r.t. the input.
func (n *Network) Backward(grad *mat.Dense) *mat.Dense {
	g := grad
	for i := len(n.Layers) - 1; i >= 0; i-- {
		g = n.Layers[i].Backward(g)
	}
	return g
}

// BackwardInterval backpropagates gradients w.r.t. the output bounds through
// the interval computation graph of the last Propagate pass.
func (n *Network) BackwardInterval(gradLower, gradUpper *mat.Dense) {
	gl, gu := gradLower, gradUpper
	for i := len(n.Layers) - 1; i >= 0; i-- {
		gl, gu = n.Layers[i].BackwardInterval(gl, gu)
	}
}

// Params returns all trainable parameters with stable dotted names, e.g.
// "layers.2.weight".
func (n *Network) Params() []*Param {
	var params []*Param
	for i, l := range n.Layers {
		pl, ok := l.(ParamLayer)
		if !ok {
			continue
		}
		for _, p := range pl.Params() {
			params = append(params, &Param{
				Name:  fmt.Sprintf("layers.%d.%s", i, p.Name),
				Value: p.Value,
				Grad:  p.Grad,
			})
		}
	}
	return params
}

// ZeroGrad clears all accumulated parameter gradients.
func (n *Network) ZeroGrad() {
	for _, l := range n.Layers {
		if pl, ok := l.(ParamLayer); ok {
			pl.ZeroGrad()
		}
	}
}

// Tensor is a flat parameter value with its shape, the serialized form used
// in checkpoint state dicts.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// LoadError reports a state dict that does not fit the current architecture.
type LoadError struct {
	Param  string
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load error: parameter %q %s", e.Param, e.Reason)
}

// StateDict exports a deep copy of all parameter values.
func (n *Network) StateDict() map[string]Tensor {
	sd := make(map[string]Tensor)
	for _, p := range n.Params() {
		r, c := p.Value.Dims()
		data := make([]float64, r*c)
		copy(data, p.Value.RawMatrix().Data)
		sd[p.Name] = Tensor{Shape: []int{r, c}, Data: data}
	}
	return sd
}

// LoadStateDict copies parameter values from sd into the network. The dict
// must cover exactly the network's parameters with matching shapes.
func (n *Network) LoadStateDict(sd map[string]Tensor) error {
	params := n.Params()
	if len(sd) != len(params) {
		return &LoadError{Param: "", Reason: fmt.Sprintf(
			"count mismatch: state dict has %d entries, network has %d parameters", len(sd), len(params))}
	}
	for _, p := range params {
		t, ok := sd[p.Name]
		if !ok {
			return &LoadError{Param: p.Name, Reason: "missing from state dict"}
		}
		r, c := p.Value.Dims()
		if len(t.Shape) != 2 || t.Shape[0] != r || t.Shape[1] != c {
			return &LoadError{Param: p.Name, Reason: fmt.Sprintf(
				"shape %v incompatible with [%d %d]", t.Shape, r, c)}
		}
		if len(t.Data) != r*c {
			return &LoadError{Param: p.Name, Reason: fmt.Sprintf(
				"data length %d, want %d", len(t.Data), r*c)}
		}
		copy(p.Value.RawMatrix().Data, t.Data)
	}
	return nil
}
