package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceWriteReadBack(t *testing.T) {
	dir := t.TempDir()
	tw, err := NewTraceWriter(dir)
	require.NoError(t, err)

	for epoch := 1; epoch <= 3; epoch++ {
		require.NoError(t, tw.Write(TraceEntry{
			RunID: "run-1",
			Epoch: epoch,
			Scalars: map[string]float64{
				"loss":     1.0 / float64(epoch),
				"accuracy": float64(epoch) / 10,
			},
			Timestamp: time.Now().UTC(),
		}))
	}
	require.NoError(t, tw.Close())

	entries, err := ReadTrace(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, "run-1", entry.RunID)
		assert.Equal(t, i+1, entry.Epoch)
		assert.InDelta(t, 1.0/float64(i+1), entry.Scalars["loss"], 1e-12)
	}
}

func TestTraceAppendsAcrossWriters(t *testing.T) {
	dir := t.TempDir()

	for run := 0; run < 2; run++ {
		tw, err := NewTraceWriter(dir)
		require.NoError(t, err)
		require.NoError(t, tw.Write(TraceEntry{RunID: fmt.Sprintf("run-%d", run), Epoch: 1}))
		require.NoError(t, tw.Close())
	}

	entries, err := ReadTrace(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-0", entries[0].RunID)
	assert.Equal(t, "run-1", entries[1].RunID)
}

func TestTraceConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	tw, err := NewTraceWriter(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				tw.Write(TraceEntry{RunID: fmt.Sprintf("w%d", w), Epoch: i})
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, tw.Close())

	entries, err := ReadTrace(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 200, "every concurrent write must land on its own line")
}

func TestReadTraceMissing(t *testing.T) {
	_, err := ReadTrace(t.TempDir())
	assert.True(t, errors.Is(err, ErrNotFound))
}
