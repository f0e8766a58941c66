package train

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robustlab/ibp/internal/store"
)

func TestNewRejectsBadConfig(t *testing.T) {
	opts := validOptions()
	opts.Config.BatchSize = 0
	_, err := New(opts)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "batch-size", cerr.Field)
}

func TestNewRejectsUnknownDatasetAndModel(t *testing.T) {
	opts := validOptions()
	opts.Config.Dataset = "no-such-set"
	_, err := New(opts)
	require.Error(t, err)

	opts = validOptions()
	opts.Config.Model = "no-such-model"
	_, err = New(opts)
	require.Error(t, err)
}

func TestRunCheckpointsBestEpoch(t *testing.T) {
	dir := t.TempDir()
	opts := validOptions()
	opts.Config.Epsilon = 0
	opts.Config.Epochs = 3
	opts.CheckpointPath = filepath.Join(dir, "checkpoint.json")
	opts.LogDir = filepath.Join(dir, "logs")

	tr, err := New(opts)
	require.NoError(t, err)
	summary, err := tr.Run()
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	require.GreaterOrEqual(t, summary.BestEpoch, 1)
	assert.LessOrEqual(t, summary.BestEpoch, 3)

	ckpt, err := store.Load(opts.CheckpointPath)
	require.NoError(t, err)
	assert.Equal(t, summary.BestEpoch, ckpt.Epoch, "checkpoint belongs to the best epoch")
	assert.Equal(t, summary.BestMetric, ckpt.BestAccuracy)
	assert.Equal(t, opts.Config, ckpt.Config)

	entries, err := store.ReadTrace(opts.LogDir)
	require.NoError(t, err)
	require.Len(t, entries, 3, "one trace entry per epoch")
	for i, entry := range entries {
		assert.Equal(t, summary.RunID, entry.RunID)
		assert.Equal(t, i+1, entry.Epoch)
		assert.Contains(t, entry.Scalars, "loss")
		assert.Contains(t, entry.Scalars, "accuracy")
	}
}

func TestRunEvaluateOnly(t *testing.T) {
	opts := validOptions()
	opts.Config.Epsilon = 0
	opts.EvaluateOnly = true
	opts.CheckpointPath = filepath.Join(t.TempDir(), "checkpoint.json")

	tr, err := New(opts)
	require.NoError(t, err)
	summary, err := tr.Run()
	require.NoError(t, err)

	assert.Zero(t, summary.Epochs)
	assert.GreaterOrEqual(t, summary.Accuracy, 0.0)
	assert.LessOrEqual(t, summary.Accuracy, 1.0)

	_, statErr := os.Stat(opts.CheckpointPath)
	assert.True(t, os.IsNotExist(statErr), "evaluation must not write a checkpoint")
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	opts := validOptions()
	opts.Config.Epsilon = 0
	opts.Config.Epochs = 2
	opts.CheckpointPath = filepath.Join(dir, "checkpoint.json")

	tr, err := New(opts)
	require.NoError(t, err)
	_, err = tr.Run()
	require.NoError(t, err)

	ckpt, err := store.Load(opts.CheckpointPath)
	require.NoError(t, err)

	// Resuming with the epoch budget already spent runs no further epochs and
	// reports the restored best.
	resumed := opts
	resumed.Config.Epochs = ckpt.Epoch
	resumed.ResumePath = opts.CheckpointPath

	tr2, err := New(resumed)
	require.NoError(t, err)
	summary, err := tr2.Run()
	require.NoError(t, err)
	assert.Equal(t, ckpt.BestAccuracy, summary.BestMetric)
	assert.Equal(t, ckpt.Epoch, summary.BestEpoch)
}

func TestResumeFailures(t *testing.T) {
	opts := validOptions()
	opts.ResumePath = filepath.Join(t.TempDir(), "missing.json")
	_, err := New(opts)
	var rerr *ResumeError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	path := filepath.Join(t.TempDir(), "truncated.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"epoch": 1}`), 0644))
	opts.ResumePath = path
	_, err = New(opts)
	require.ErrorAs(t, err, &rerr)
	assert.True(t, errors.Is(err, &store.MissingKeyError{}))
}

func TestSummaryReportsEpochsActuallyRun(t *testing.T) {
	opts := validOptions()
	opts.Config.Epsilon = 0
	opts.Config.Epochs = 10
	// A zero learning rate freezes the model, so the validation metric never
	// improves after the first epoch and patience expires on schedule.
	opts.Config.LearningRate = 0
	opts.Patience = 2

	tr, err := New(opts)
	require.NoError(t, err)
	summary, err := tr.Run()
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Epochs, "early stop after 1 improvement + 2 stale epochs")
	assert.Equal(t, 1, summary.BestEpoch)
}

func TestRunDetectsDivergence(t *testing.T) {
	opts := validOptions()
	opts.Config.Epsilon = 0
	opts.Config.Epochs = 1

	tr, err := New(opts)
	require.NoError(t, err)
	// Poison one parameter so the first batch loss is non-finite.
	tr.Network().Params()[0].Value.Set(0, 0, math.NaN())

	_, err = tr.Run()
	var derr *TrainingDivergedError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 1, derr.Epoch)
}

func TestCheckpointCarriesAttackRecordsForward(t *testing.T) {
	dir := t.TempDir()
	opts := validOptions()
	opts.Config.Epsilon = 0
	opts.Config.Epochs = 1
	opts.CheckpointPath = filepath.Join(dir, "checkpoint.json")

	tr, err := New(opts)
	require.NoError(t, err)
	_, err = tr.Run()
	require.NoError(t, err)

	ckpt, err := store.Load(opts.CheckpointPath)
	require.NoError(t, err)
	ckpt.AppendResult("PGD", store.AttackRecord{
		Restarts: 1, Epsilon: 0.05, Robustness: 0.8, FoolingRate: 0.1,
		SortedErrors: []float64{-0.1, 0.2},
	})
	require.NoError(t, store.Save(opts.CheckpointPath, ckpt))

	// A fresh run over the same path must not drop recorded attacks.
	tr2, err := New(opts)
	require.NoError(t, err)
	_, err = tr2.Run()
	require.NoError(t, err)

	reloaded, err := store.Load(opts.CheckpointPath)
	require.NoError(t, err)
	require.Len(t, reloaded.Attacks["PGD"], 1)
	assert.Equal(t, 0.05, reloaded.Attacks["PGD"][0].Epsilon)
}
