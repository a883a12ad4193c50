package bulk

import (
	"math"
	"sync"
	"time"
)

// batchController is a multiplicative increase / multiplicative decrease
// feedback controller over the batch size. Batches that finish well under
// the target duration grow the next batch by 25%; batches well over it
// shrink the next one by 20%. Both corrections are proportional, so the
// controller converges whether batches hold five files or five hundred.
type batchController struct {
	mu     sync.Mutex
	size   int
	min    int
	max    int
	target time.Duration
}

func newBatchController(initial, min, max int, target time.Duration) *batchController {
	return &batchController{
		size:   clampInt(initial, min, max),
		min:    min,
		max:    max,
		target: target,
	}
}

// Size returns the current batch size.
func (c *batchController) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Observe feeds one completed batch's wall-clock duration back into the
// controller and returns the adjusted size.
func (c *batchController) Observe(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case d < time.Duration(0.6*float64(c.target)) && c.size < c.max:
		c.size = clampInt(int(math.Round(float64(c.size)*1.25)), c.min, c.max)
	case d > time.Duration(1.4*float64(c.target)) && c.size > c.min:
		c.size = clampInt(int(math.Round(float64(c.size)*0.8)), c.min, c.max)
	}
	return c.size
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
