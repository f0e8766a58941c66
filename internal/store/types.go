package store

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robustlab/ibp/internal/nn"
)

// RunConfig fully determines a reproducible training run and the directory
// layout derived from it.
type RunConfig struct {
	Dataset      string  `json:"dataset"`
	Model        string  `json:"model"`
	Epsilon      float64 `json:"epsilon"`
	LearningRate float64 `json:"learningRate"`
	Momentum     float64 `json:"momentum"`
	WeightDecay  float64 `json:"weightDecay"`
	BatchSize    int     `json:"batchSize"`
	Epochs       int     `json:"epochs"`
	Seed         int64   `json:"seed"`
}

// Dir derives the deterministic experiment directory:
// {dataset}-{model}-{epsilon}/{learningRate}.
func (c RunConfig) Dir() string {
	return filepath.Join(
		fmt.Sprintf("%s-%s-%s", c.Dataset, c.Model, formatFloat(c.Epsilon)),
		formatFloat(c.LearningRate),
	)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// AttackRecord is one immutable robustness-evaluation result. Records are
// appended to a checkpoint and never rewritten.
type AttackRecord struct {
	Seed         *int64    `json:"seed"`   // nil when the subset draw was unseeded
	Subset       *int      `json:"subset"` // nil means the full evaluation set
	Restarts     int       `json:"restarts"`
	Epsilon      float64   `json:"epsilon"`
	Robustness   float64   `json:"robustness"`
	FoolingRate  float64   `json:"fooling_rate"`
	SortedErrors []float64 `json:"sorted_errors"`
}

// Checkpoint is the persisted training state: parameter values, best-metric
// bookkeeping, the run configuration, and the accumulated attack results
// keyed by attack name ("PGD").
type Checkpoint struct {
	StateDict    map[string]nn.Tensor      `json:"state_dict"`
	Epoch        int                       `json:"epoch"`
	BestAccuracy float64                   `json:"best_accuracy"`
	Config       RunConfig                 `json:"config"`
	Attacks      map[string][]AttackRecord `json:"attacks,omitempty"`
	SavedAt      time.Time                 `json:"saved_at"`
}

// AppendResult appends an attack record under the given attack name,
// preserving all prior records.
func (c *Checkpoint) AppendResult(attack string, rec AttackRecord) {
	if c.Attacks == nil {
		c.Attacks = make(map[string][]AttackRecord)
	}
	c.Attacks[attack] = append(c.Attacks[attack], rec)
}

// Validate checks the fields every well-formed checkpoint must carry.
func (c *Checkpoint) Validate() error {
	if len(c.StateDict) == 0 {
		return &ValidationError{Field: "state_dict", Reason: "cannot be empty"}
	}
	if c.Epoch < 0 {
		return &ValidationError{Field: "epoch", Reason: "cannot be negative"}
	}
	if c.BestAccuracy < 0 || c.BestAccuracy > 1 {
		return &ValidationError{Field: "best_accuracy", Reason: "must be in [0, 1]"}
	}
	if c.Config.Dataset == "" {
		return &ValidationError{Field: "config.dataset", Reason: "cannot be empty"}
	}
	if c.Config.Model == "" {
		return &ValidationError{Field: "config.model", Reason: "cannot be empty"}
	}
	return nil
}

// ValidationError reports a malformed checkpoint field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// MissingKeyError reports a checkpoint file that lacks a required key, as
// opposed to one that fails to deserialize at all.
type MissingKeyError struct {
	Key  string
	Path string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("checkpoint %s: missing required key %q", e.Path, e.Key)
}

func (e *MissingKeyError) Is(target error) bool {
	_, ok := target.(*MissingKeyError)
	return ok
}
