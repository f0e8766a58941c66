package train

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robustlab/ibp/internal/store"
)

func validOptions() Options {
	return Options{
		Config: store.RunConfig{
			Dataset:      "blobs",
			Model:        "small_mlp",
			Epsilon:      0.01,
			LearningRate: 0.1,
			Momentum:     0.9,
			WeightDecay:  1e-4,
			BatchSize:    256,
			Epochs:       2,
			Seed:         1,
		},
		Jobs:   2,
		Kappa:  0.5,
		Warmup: 10,
	}
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Options)
		field  string
	}{
		{"negative learning rate", func(o *Options) { o.Config.LearningRate = -0.1 }, "learning-rate"},
		{"negative momentum", func(o *Options) { o.Config.Momentum = -1 }, "momentum"},
		{"negative weight decay", func(o *Options) { o.Config.WeightDecay = -1e-4 }, "weight-decay"},
		{"negative epsilon", func(o *Options) { o.Config.Epsilon = -0.01 }, "epsilon"},
		{"negative epochs", func(o *Options) { o.Config.Epochs = -1 }, "number-of-epochs"},
		{"zero batch size", func(o *Options) { o.Config.BatchSize = 0 }, "batch-size"},
		{"negative jobs", func(o *Options) { o.Jobs = -1 }, "jobs"},
		{"negative kappa", func(o *Options) { o.Kappa = -0.5 }, "kappa"},
		{"negative warmup", func(o *Options) { o.Warmup = -1 }, "warmup"},
		{"negative patience", func(o *Options) { o.Patience = -1 }, "patience"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := validOptions()
			tc.mutate(&opts)
			err := opts.Validate()
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
	assert.NoError(t, validOptions().Validate())
}

func TestResumeErrorUnwraps(t *testing.T) {
	inner := &store.NotFoundError{Path: "gone.json"}
	err := &ResumeError{Path: "gone.json", Err: inner}
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.Contains(t, err.Error(), "gone.json")
}
