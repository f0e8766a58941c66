package train

import (
	"fmt"

	"github.com/robustlab/ibp/internal/store"
)

// Options configures one training or evaluation run.
type Options struct {
	Config store.RunConfig

	// Jobs is the data-loader prefetch worker count.
	Jobs int

	// CheckpointPath receives the best model. Empty disables checkpointing.
	CheckpointPath string

	// PretrainedPath, when set, initializes the model parameters from an
	// existing checkpoint's state dict before training.
	PretrainedPath string

	// ResumePath, when set, restores the full training state (parameters,
	// epoch, best metric) and continues. Unreadable or incompatible files
	// are fatal.
	ResumePath string

	// LogDir receives the per-epoch metrics trace. Empty disables tracing.
	LogDir string

	// EvaluateOnly runs a single validation pass and exits.
	EvaluateOnly bool

	// Kappa weighs the robustness loss term. Must be non-negative.
	Kappa float64

	// Warmup is the number of epochs over which training epsilon ramps
	// linearly from zero to the target. Zero applies the target at once.
	Warmup int

	// Patience stops training after that many epochs without validation
	// improvement. Zero disables early stopping.
	Patience int
}

// ConfigError reports a hyperparameter outside its valid range. It is fatal
// before any training state is touched.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s = %s %s", e.Field, e.Value, e.Reason)
}

func configErrf(field string, value interface{}, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: fmt.Sprint(value), Reason: reason}
}

// Validate checks all hyperparameter ranges up front.
func (o Options) Validate() error {
	c := o.Config
	if c.LearningRate < 0 {
		return configErrf("learning-rate", c.LearningRate, "must be non-negative")
	}
	if c.Momentum < 0 {
		return configErrf("momentum", c.Momentum, "must be non-negative")
	}
	if c.WeightDecay < 0 {
		return configErrf("weight-decay", c.WeightDecay, "must be non-negative")
	}
	if c.Epsilon < 0 {
		return configErrf("epsilon", c.Epsilon, "must be non-negative")
	}
	if c.Epochs < 0 {
		return configErrf("number-of-epochs", c.Epochs, "must be non-negative")
	}
	if c.BatchSize < 1 {
		return configErrf("batch-size", c.BatchSize, "must be positive")
	}
	if o.Jobs < 0 {
		return configErrf("jobs", o.Jobs, "must be non-negative")
	}
	if o.Kappa < 0 {
		return configErrf("kappa", o.Kappa, "must be non-negative")
	}
	if o.Warmup < 0 {
		return configErrf("warmup", o.Warmup, "must be non-negative")
	}
	if o.Patience < 0 {
		return configErrf("patience", o.Patience, "must be non-negative")
	}
	return nil
}

// ResumeError reports a resume checkpoint that could not be restored.
type ResumeError struct {
	Path string
	Err  error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("cannot resume from %s: %v", e.Path, e.Err)
}

func (e *ResumeError) Unwrap() error { return e.Err }

// TrainingDivergedError reports a non-finite batch loss. Continuing would
// taint the optimizer state, so it aborts the run.
type TrainingDivergedError struct {
	Epoch int
	Batch int
	Loss  float64
}

func (e *TrainingDivergedError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d batch %d: loss = %g", e.Epoch, e.Batch, e.Loss)
}
