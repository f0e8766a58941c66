package data

import (
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Batch is one mini-batch of samples.
type Batch struct {
	X *mat.Dense
	Y []int
}

// Loader hands out mini-batches with a bounded pool of prefetch workers.
// Each sample appears exactly once per epoch; the order batches arrive in is
// not guaranteed once more than one worker is running.
type Loader struct {
	ds        *Dataset
	batchSize int
	jobs      int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader creates a loader. jobs below 1 is treated as 1.
func NewLoader(ds *Dataset, batchSize, jobs int, shuffle bool, rng *rand.Rand) *Loader {
	if jobs < 1 {
		jobs = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Loader{ds: ds, batchSize: batchSize, jobs: jobs, shuffle: shuffle, rng: rng}
}

// Batches returns the number of batches per epoch.
func (l *Loader) Batches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Epoch starts the prefetch workers for one pass over the dataset and
// returns the channel they deliver batches on. The channel is closed once
// every sample has been delivered exactly once. Closing done releases the
// workers when the consumer abandons the epoch early; a nil done is allowed
// for consumers that always drain the channel.
func (l *Loader) Epoch(done <-chan struct{}) <-chan Batch {
	indices := make([]int, l.ds.Len())
	for i := range indices {
		indices[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	work := make(chan []int, l.Batches())
	for start := 0; start < len(indices); start += l.batchSize {
		end := start + l.batchSize
		if end > len(indices) {
			end = len(indices)
		}
		work <- indices[start:end]
	}
	close(work)

	out := make(chan Batch, l.jobs)
	var wg sync.WaitGroup
	for w := 0; w < l.jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ix := range work {
				x, y := l.ds.Batch(ix)
				select {
				case out <- Batch{X: x, Y: y}:
				case <-done:
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
