package train

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarlyStopPatienceZeroNeverStops(t *testing.T) {
	e := NewEarlyStop(0, 0)
	for i := 0; i < 50; i++ {
		assert.False(t, e.Update(0.5))
	}
}

func TestEarlyStopFiresAfterStaleEpochs(t *testing.T) {
	e := NewEarlyStop(3, 0)
	assert.False(t, e.Update(0.5))
	assert.False(t, e.Update(0.6)) // improvement resets the counter
	assert.False(t, e.Update(0.6))
	assert.False(t, e.Update(0.55))
	assert.True(t, e.Update(0.59))
}

func TestEarlyStopMinDelta(t *testing.T) {
	e := NewEarlyStop(2, 0.05)
	assert.False(t, e.Update(0.5))
	assert.False(t, e.Update(0.52)) // below min delta, counts as stale
	assert.True(t, e.Update(0.54))
	// a real improvement still resets
	e = NewEarlyStop(2, 0.05)
	e.Update(0.5)
	assert.False(t, e.Update(0.6))
	assert.False(t, e.Update(0.6))
	assert.True(t, e.Update(0.6))
}
