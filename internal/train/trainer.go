package train

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/robustlab/ibp/internal/bound"
	"github.com/robustlab/ibp/internal/certify"
	"github.com/robustlab/ibp/internal/data"
	"github.com/robustlab/ibp/internal/nn"
	"github.com/robustlab/ibp/internal/store"
)

// Phase is the trainer's state-machine state.
type Phase string

const (
	PhaseInitializing  Phase = "initializing"
	PhaseTrainEpoch    Phase = "train_epoch"
	PhaseValidate      Phase = "validate"
	PhaseCheckpointing Phase = "checkpointing"
	PhaseDone          Phase = "done"
)

// Summary is the outcome of a completed run.
type Summary struct {
	RunID      string
	Epochs     int
	BestMetric float64
	BestEpoch  int
	Accuracy   float64
	Certified  float64
}

// Trainer drives certified training: per batch it combines the nominal
// cross-entropy with the interval-bound robustness loss, backpropagates, and
// steps SGD; per epoch it validates and checkpoints on improvement.
type Trainer struct {
	opts     Options
	phase    Phase
	runID    string
	net      *nn.Network
	trainSet *data.Dataset
	validSet *data.Dataset
	loader   *data.Loader
	sgd      *SGD
	loss     certify.Loss
	schedule certify.Schedule
	dom      bound.Domain
	trace    *store.TraceWriter
	rng      *rand.Rand

	startEpoch int
	best       float64
	bestEpoch  int
	hasBest    bool
}

// New builds the trainer: datasets, model (optionally from a pretrained or
// resume checkpoint), optimizer, and metric trace.
func New(opts Options) (*Trainer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg := opts.Config

	seed := cfg.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	trainSet, validSet, err := data.Load(cfg.Dataset, seed)
	if err != nil {
		return nil, err
	}

	net, err := nn.Build(cfg.Model, trainSet.Features(), trainSet.Classes, rng)
	if err != nil {
		return nil, err
	}
	if err := nn.WithNormalization(net, trainSet.Mean, trainSet.Std); err != nil {
		return nil, err
	}

	t := &Trainer{
		opts:     opts,
		phase:    PhaseInitializing,
		runID:    uuid.NewString(),
		net:      net,
		trainSet: trainSet,
		validSet: validSet,
		loader:   data.NewLoader(trainSet, cfg.BatchSize, opts.Jobs, true, rng),
		sgd:      NewSGD(cfg.LearningRate, cfg.Momentum, cfg.WeightDecay),
		loss:     certify.Loss{Kappa: opts.Kappa},
		schedule: certify.Schedule{Target: cfg.Epsilon, Warmup: opts.Warmup},
		dom:      bound.UnitDomain,
		rng:      rng,
	}

	if opts.PretrainedPath != "" {
		ckpt, err := store.Load(opts.PretrainedPath)
		if err != nil {
			return nil, fmt.Errorf("loading pretrained checkpoint: %w", err)
		}
		if err := net.LoadStateDict(ckpt.StateDict); err != nil {
			return nil, fmt.Errorf("pretrained checkpoint does not fit %s: %w", cfg.Model, err)
		}
		slog.Info("Loaded pretrained parameters", "path", opts.PretrainedPath)
	}

	if opts.ResumePath != "" {
		ckpt, err := store.Load(opts.ResumePath)
		if err != nil {
			return nil, &ResumeError{Path: opts.ResumePath, Err: err}
		}
		if err := net.LoadStateDict(ckpt.StateDict); err != nil {
			return nil, &ResumeError{Path: opts.ResumePath, Err: err}
		}
		t.startEpoch = ckpt.Epoch
		t.best = ckpt.BestAccuracy
		t.bestEpoch = ckpt.Epoch
		t.hasBest = true
		slog.Info("Resumed from checkpoint",
			"path", opts.ResumePath, "epoch", ckpt.Epoch, "best", ckpt.BestAccuracy)
	}

	if opts.LogDir != "" {
		trace, err := store.NewTraceWriter(opts.LogDir)
		if err != nil {
			return nil, err
		}
		t.trace = trace
	}
	return t, nil
}

// Network exposes the model, mainly for evaluate-only callers and tests.
func (t *Trainer) Network() *nn.Network { return t.net }

// Run executes the configured run to completion.
func (t *Trainer) Run() (Summary, error) {
	if t.trace != nil {
		defer t.trace.Close()
	}
	cfg := t.opts.Config

	if t.opts.EvaluateOnly {
		t.phase = PhaseValidate
		acc, cert, err := t.validate()
		if err != nil {
			return Summary{}, err
		}
		t.phase = PhaseDone
		slog.Info("Evaluation complete", "accuracy", acc, "certified_accuracy", cert)
		return Summary{
			RunID:      t.runID,
			Epochs:     0,
			BestMetric: t.metric(acc, cert),
			Accuracy:   acc,
			Certified:  cert,
		}, nil
	}

	stopper := NewEarlyStop(t.opts.Patience, 0)
	var lastAcc, lastCert float64
	lastEpoch := t.startEpoch
	start := time.Now()

	for epoch := t.startEpoch + 1; epoch <= cfg.Epochs; epoch++ {
		lastEpoch = epoch
		t.phase = PhaseTrainEpoch
		epsilon := t.schedule.At(epoch)
		avgLoss, err := t.trainEpoch(epoch, epsilon)
		if err != nil {
			return Summary{}, err
		}

		t.phase = PhaseValidate
		acc, cert, err := t.validate()
		if err != nil {
			return Summary{}, err
		}
		lastAcc, lastCert = acc, cert
		metric := t.metric(acc, cert)

		t.phase = PhaseCheckpointing
		improved := !t.hasBest || metric > t.best
		if improved {
			t.best = metric
			t.bestEpoch = epoch
			t.hasBest = true
			if err := t.writeCheckpoint(epoch); err != nil {
				return Summary{}, err
			}
		}

		slog.Info("Epoch complete",
			"epoch", epoch,
			"loss", avgLoss,
			"epsilon", epsilon,
			"accuracy", acc,
			"certified_accuracy", cert,
			"best", t.best,
			"improved", improved,
		)
		if err := t.writeTrace(epoch, map[string]float64{
			"loss":               avgLoss,
			"epsilon":            epsilon,
			"accuracy":           acc,
			"certified_accuracy": cert,
		}); err != nil {
			return Summary{}, err
		}

		if stopper.Update(metric) {
			slog.Info("Early stop", "epoch", epoch, "patience", t.opts.Patience)
			break
		}
	}

	t.phase = PhaseDone
	slog.Info("Training complete",
		"best", t.best, "best_epoch", t.bestEpoch, "elapsed", time.Since(start).Round(time.Millisecond))
	return Summary{
		RunID:      t.runID,
		Epochs:     lastEpoch,
		BestMetric: t.best,
		BestEpoch:  t.bestEpoch,
		Accuracy:   lastAcc,
		Certified:  lastCert,
	}, nil
}

// metric is the validation quantity checkpoints compete on: plain accuracy
// for standard training, certified accuracy once an epsilon budget is set.
func (t *Trainer) metric(acc, cert float64) float64 {
	if t.opts.Config.Epsilon > 0 {
		return cert
	}
	return acc
}

func (t *Trainer) trainEpoch(epoch int, epsilon float64) (float64, error) {
	done := make(chan struct{})
	defer close(done)

	total := 0.0
	batches := 0
	for batch := range t.loader.Epoch(done) {
		t.net.ZeroGrad()
		res, err := t.loss.Eval(t.net, batch.X, batch.Y, epsilon, t.dom, true)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0) {
			return 0, &TrainingDivergedError{Epoch: epoch, Batch: batches, Loss: res.Loss}
		}
		t.sgd.Step(t.net.Params())
		total += res.Loss
		batches++
	}
	if batches == 0 {
		return 0, nil
	}
	return total / float64(batches), nil
}

// validate computes accuracy and, when an epsilon budget is configured,
// certified accuracy at the full target epsilon. No gradients, no updates.
func (t *Trainer) validate() (acc, cert float64, err error) {
	cfg := t.opts.Config
	correct := 0
	certified := 0
	n := t.validSet.Len()

	done := make(chan struct{})
	defer close(done)

	loader := data.NewLoader(t.validSet, cfg.BatchSize, t.opts.Jobs, false, t.rng)
	for batch := range loader.Epoch(done) {
		logits, err := t.net.Forward(batch.X)
		if err != nil {
			return 0, 0, err
		}
		preds := nn.Predictions(logits)
		for i, p := range preds {
			if p == batch.Y[i] {
				correct++
			}
		}
		if cfg.Epsilon > 0 {
			iv, err := bound.Propagate(t.net, batch.X, cfg.Epsilon, t.dom)
			if err != nil {
				return 0, 0, err
			}
			for _, ok := range bound.CertifiedRows(iv, batch.Y) {
				if ok {
					certified++
				}
			}
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(correct) / float64(n), float64(certified) / float64(n), nil
}

func (t *Trainer) writeCheckpoint(epoch int) error {
	if t.opts.CheckpointPath == "" {
		return nil
	}
	ckpt := &store.Checkpoint{
		StateDict:    t.net.StateDict(),
		Epoch:        epoch,
		BestAccuracy: t.best,
		Config:       t.opts.Config,
		SavedAt:      time.Now(),
	}
	// Carry forward attack results already recorded against this path.
	if prev, err := store.Load(t.opts.CheckpointPath); err == nil {
		ckpt.Attacks = prev.Attacks
	} else if !errors.Is(err, ErrCheckpointMissing) {
		slog.Warn("Ignoring unreadable previous checkpoint", "path", t.opts.CheckpointPath, "error", err)
	}
	return store.Save(t.opts.CheckpointPath, ckpt)
}

// ErrCheckpointMissing aliases the store sentinel for callers of this package.
var ErrCheckpointMissing = store.ErrNotFound

func (t *Trainer) writeTrace(epoch int, scalars map[string]float64) error {
	if t.trace == nil {
		return nil
	}
	return t.trace.Write(store.TraceEntry{
		RunID:     t.runID,
		Epoch:     epoch,
		Scalars:   scalars,
		Timestamp: time.Now(),
	})
}
