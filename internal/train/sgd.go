package train

import (
	"gonum.org/v1/gonum/mat"

	"github.com/robustlab/ibp/internal/nn"
)

// SGD is stochastic gradient descent with momentum and L2 weight decay.
// Velocity buffers are keyed by parameter name, so the same optimizer must
// stay paired with the same network.
type SGD struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64

	velocity map[string]*mat.Dense
}

func NewSGD(learningRate, momentum, weightDecay float64) *SGD {
	return &SGD{
		LearningRate: learningRate,
		Momentum:     momentum,
		WeightDecay:  weightDecay,
		velocity:     make(map[string]*mat.Dense),
	}
}

// Step applies one update: v = momentum*v + grad + weightDecay*value,
// value -= learningRate*v.
func (s *SGD) Step(params []*nn.Param) {
	for _, p := range params {
		r, c := p.Value.Dims()
		v, ok := s.velocity[p.Name]
		if !ok {
			v = mat.NewDense(r, c, nil)
			s.velocity[p.Name] = v
		}
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				g := p.Grad.At(i, j) + s.WeightDecay*p.Value.At(i, j)
				vel := s.Momentum*v.At(i, j) + g
				v.Set(i, j, vel)
				p.Value.Set(i, j, p.Value.At(i, j)-s.LearningRate*vel)
			}
		}
	}
}
