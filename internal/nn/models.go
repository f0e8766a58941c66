package nn

import (
	"fmt"
	"math/rand"
	"sort"
)

// hidden widths per registered architecture
var architectures = map[string][]int{
	"small_mlp":  {64, 64},
	"medium_mlp": {128, 128, 128},
	"large_mlp":  {256, 256, 256, 256},
}

// ModelNames lists the registered architectures in sorted order.
func ModelNames() []string {
	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a registered architecture for the given input width and
// class count, with He-initialized weights drawn from rng.
func Build(name string, in, classes int, rng *rand.Rand) (*Network, error) {
	hidden, ok := architectures[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q (have %v)", name, ModelNames())
	}
	if in <= 0 || classes <= 0 {
		return nil, fmt.Errorf("model %s: input width %d and classes %d must be positive", name, in, classes)
	}
	net := &Network{Name: name, InDim: in, Classes: classes}
	width := in
	for _, h := range hidden {
		d := NewDense(width, h)
		d.InitParams(rng)
		net.Layers = append(net.Layers, d, NewReLU())
		width = h
	}
	out := NewDense(width, classes)
	out.InitParams(rng)
	net.Layers = append(net.Layers, out)
	return net, nil
}

// WithNormalization prepends a fixed-statistics normalization layer, fitting
// the network to a dataset's feature distribution.
func WithNormalization(net *Network, mean, std []float64) error {
	if len(mean) != net.InDim {
		return fmt.Errorf("model %s: normalization over %d features, network input is %d",
			net.Name, len(mean), net.InDim)
	}
	norm, err := NewNorm(mean, std)
	if err != nil {
		return err
	}
	net.Layers = append([]Layer{norm}, net.Layers...)
	return nil
}
