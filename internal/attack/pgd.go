// Package attack implements the PGD adversarial attack and the robustness
// statistics aggregated from it.
package attack

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/robustlab/ibp/internal/bound"
	"github.com/robustlab/ibp/internal/nn"
)

// PGDConfig parameterizes one projected-gradient-descent trajectory.
type PGDConfig struct {
	Epsilon  float64
	Steps    int
	StepSize float64
}

// PGD perturbs x inside the L-infinity epsilon-ball, maximizing the
// classification loss with signed-gradient ascent and projecting back onto
// ball and domain after every step. With randomStart the trajectory begins
// at a uniform point inside the ball instead of at x.
//
// PGD never fails: a degenerate step (zero gradient, shape error) simply
// leaves the current iterate where it is.
func PGD(net *nn.Network, x *mat.Dense, labels []int, cfg PGDConfig, dom bound.Domain, rng *rand.Rand, randomStart bool) *mat.Dense {
	adv := mat.DenseCopyOf(x)
	rows, cols := x.Dims()

	if randomStart {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				adv.Set(i, j, adv.At(i, j)+(2*rng.Float64()-1)*cfg.Epsilon)
			}
		}
		project(adv, x, cfg.Epsilon, dom)
	}

	for step := 0; step < cfg.Steps; step++ {
		logits, err := net.Forward(adv)
		if err != nil {
			break
		}
		_, grad := nn.CrossEntropy(logits, labels)
		inputGrad := net.Backward(grad)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				g := inputGrad.At(i, j)
				switch {
				case g > 0:
					adv.Set(i, j, adv.At(i, j)+cfg.StepSize)
				case g < 0:
					adv.Set(i, j, adv.At(i, j)-cfg.StepSize)
				}
			}
		}
		project(adv, x, cfg.Epsilon, dom)
	}
	net.ZeroGrad()
	return adv
}

// project clamps adv onto the epsilon-ball around center intersected with
// the valid input domain, in place.
func project(adv, center *mat.Dense, epsilon float64, dom bound.Domain) {
	rows, cols := adv.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			c := center.At(i, j)
			v := adv.At(i, j)
			if v > c+epsilon {
				v = c + epsilon
			}
			if v < c-epsilon {
				v = c - epsilon
			}
			if v < dom.Min {
				v = dom.Min
			}
			if v > dom.Max {
				v = dom.Max
			}
			adv.Set(i, j, v)
		}
	}
}
