package train

// EarlyStop watches the validation metric and reports when it has gone stale.
// A positive MinDelta requires improvements to be at least that large to
// reset the patience counter.
type EarlyStop struct {
	Patience int
	MinDelta float64

	best  float64
	stale int
	seen  bool
}

// NewEarlyStop creates a tracker. Patience 0 never stops.
func NewEarlyStop(patience int, minDelta float64) *EarlyStop {
	return &EarlyStop{Patience: patience, MinDelta: minDelta}
}

// Update records the latest metric (higher is better) and returns true when
// Patience epochs have passed without a significant improvement.
func (e *EarlyStop) Update(metric float64) bool {
	if !e.seen || metric > e.best+e.MinDelta {
		e.best = metric
		e.stale = 0
		e.seen = true
		return false
	}
	e.stale++
	return e.Patience > 0 && e.stale >= e.Patience
}
