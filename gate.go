// gate.go
package parallelconsumer

import (
	"time"

	"golang.org/x/time/rate"
)

// PartitionGate is the authoritative per-partition view the shard scheduler
// consults before handing out work. The scheduler holds a gate reference for
// read-only delegation only; partition state is owned elsewhere.
type PartitionGate interface {
	// CouldBeTakenAsWork reports whether the unit's origin segment may
	// currently yield work at all (assigned, not paused, under its
	// in-flight cap).
	CouldBeTakenAsWork(u *WorkUnit) bool

	// IsWorkStale reports whether the unit belongs to a segment that has
	// been reassigned away, making further processing pointless.
	IsWorkStale(u *WorkUnit) bool

	// RecordSlowWork is a metric hook, called at most once per unit per
	// slow-work detection.
	RecordSlowWork(seg Segment)
}

// SlowWorkReporter emits at most one warning per cool-down window. The
// throttling itself is a plain token bucket; callers only decide when to
// attempt emission.
type SlowWorkReporter struct {
	limiter *rate.Limiter
}

// NewSlowWorkReporter creates a reporter with a fixed cool-down between runs
func NewSlowWorkReporter(cooldown time.Duration) *SlowWorkReporter {
	return &SlowWorkReporter{limiter: rate.NewLimiter(rate.Every(cooldown), 1)}
}

// PerformIfNotLimited runs fn unless a previous run happened within the
// cool-down window
func (r *SlowWorkReporter) PerformIfNotLimited(fn func()) {
	if r.limiter.Allow() {
		fn()
	}
}
