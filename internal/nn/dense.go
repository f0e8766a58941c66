package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected affine layer: y = x*W + b.
type Dense struct {
	In  int
	Out int
	W   *mat.Dense // In x Out
	B   *mat.Dense // 1 x Out

	dW *mat.Dense
	dB *mat.Dense

	// forward-pass caches
	x     *mat.Dense
	lower *mat.Dense
	upper *mat.Dense
}

// NewDense creates a dense layer with zeroed parameters and gradients.
func NewDense(in, out int) *Dense {
	return &Dense{
		In:  in,
		Out: out,
		W:   mat.NewDense(in, out, nil),
		B:   mat.NewDense(1, out, nil),
		dW:  mat.NewDense(in, out, nil),
		dB:  mat.NewDense(1, out, nil),
	}
}

// InitParams fills the weights with He-scaled gaussian values. The bias stays
// at zero.
func (d *Dense) InitParams(rng *rand.Rand) {
	scale := math.Sqrt(2.0 / float64(d.In))
	for i := 0; i < d.In; i++ {
		for j := 0; j < d.Out; j++ {
			d.W.Set(i, j, rng.NormFloat64()*scale)
		}
	}
	d.B.Zero()
}

func (d *Dense) Kind() string { return "dense" }

func (d *Dense) OutDim(in int) (int, bool) {
	if in != d.In {
		return 0, false
	}
	return d.Out, true
}

func (d *Dense) Forward(x *mat.Dense) *mat.Dense {
	d.x = x
	var y mat.Dense
	y.Mul(x, d.W)
	addRowVector(&y, d.B)
	return &y
}

func (d *Dense) Backward(grad *mat.Dense) *mat.Dense {
	var dw mat.Dense
	dw.Mul(d.x.T(), grad)
	d.dW.Add(d.dW, &dw)
	accumColSums(d.dB, grad)

	var gin mat.Dense
	gin.Mul(grad, d.W.T())
	return &gin
}

// Propagate applies interval arithmetic for the affine map: the positive part
// of W carries lower to lower and upper to upper, the negative part swaps
// them.
func (d *Dense) Propagate(iv Interval) Interval {
	d.lower = iv.Lower
	d.upper = iv.Upper
	wpos, wneg := splitSigns(d.W)

	var lo, hi, tmp mat.Dense
	lo.Mul(iv.Lower, wpos)
	tmp.Mul(iv.Upper, wneg)
	lo.Add(&lo, &tmp)
	addRowVector(&lo, d.B)

	hi.Mul(iv.Upper, wpos)
	tmp.Mul(iv.Lower, wneg)
	hi.Add(&hi, &tmp)
	addRowVector(&hi, d.B)

	return Interval{Lower: &lo, Upper: &hi}
}

func (d *Dense) BackwardInterval(gl, gu *mat.Dense) (*mat.Dense, *mat.Dense) {
	// Weight gradient: a positive weight routes lower->lower and
	// upper->upper, a negative weight routes the opposite way.
	var direct, swapped, tmp mat.Dense
	direct.Mul(d.lower.T(), gl)
	tmp.Mul(d.upper.T(), gu)
	direct.Add(&direct, &tmp)

	swapped.Mul(d.upper.T(), gl)
	tmp.Reset()
	tmp.Mul(d.lower.T(), gu)
	swapped.Add(&swapped, &tmp)

	for i := 0; i < d.In; i++ {
		for j := 0; j < d.Out; j++ {
			if d.W.At(i, j) >= 0 {
				d.dW.Set(i, j, d.dW.At(i, j)+direct.At(i, j))
			} else {
				d.dW.Set(i, j, d.dW.At(i, j)+swapped.At(i, j))
			}
		}
	}
	accumColSums(d.dB, gl)
	accumColSums(d.dB, gu)

	wpos, wneg := splitSigns(d.W)
	var ginLo, ginHi mat.Dense
	ginLo.Mul(gl, wpos.T())
	tmp.Reset()
	tmp.Mul(gu, wneg.T())
	ginLo.Add(&ginLo, &tmp)

	ginHi.Mul(gu, wpos.T())
	tmp.Reset()
	tmp.Mul(gl, wneg.T())
	ginHi.Add(&ginHi, &tmp)

	return &ginLo, &ginHi
}

func (d *Dense) Params() []*Param {
	return []*Param{
		{Name: "weight", Value: d.W, Grad: d.dW},
		{Name: "bias", Value: d.B, Grad: d.dB},
	}
}

func (d *Dense) ZeroGrad() {
	d.dW.Zero()
	d.dB.Zero()
}

// splitSigns returns the elementwise positive and negative parts of w.
func splitSigns(w *mat.Dense) (pos, neg *mat.Dense) {
	r, c := w.Dims()
	pos = mat.NewDense(r, c, nil)
	neg = mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := w.At(i, j)
			if v > 0 {
				pos.Set(i, j, v)
			} else {
				neg.Set(i, j, v)
			}
		}
	}
	return pos, neg
}

// addRowVector adds the 1xN row b to every row of m in place.
func addRowVector(m *mat.Dense, b *mat.Dense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, m.At(i, j)+b.At(0, j))
		}
	}
}

// accumColSums adds the column sums of g onto the 1xN accumulator dst.
func accumColSums(dst *mat.Dense, g *mat.Dense) {
	r, c := g.Dims()
	for j := 0; j < c; j++ {
		sum := 0.0
		for i := 0; i < r; i++ {
			sum += g.At(i, j)
		}
		dst.Set(0, j, dst.At(0, j)+sum)
	}
}
