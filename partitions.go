// partitions.go
package parallelconsumer

import (
	"sync"

	"go.uber.org/zap"
)

// partitionState is the tracker's view of one assigned partition
type partitionState struct {
	epoch    int64
	paused   bool
	inFlight int64
}

// PartitionTracker owns per-partition admission state and implements
// PartitionGate for the shard schedulers.
//
// Every assignment of a partition gets a fresh epoch. A unit captures the
// epoch it was admitted under; once the partition is revoked (or re-assigned
// with a new epoch) units carrying the old epoch are stale and get evicted
// from their shards.
type PartitionTracker struct {
	mu           sync.RWMutex
	partitions   map[Segment]*partitionState
	epochCounter int64

	maxInFlight int64
	metrics     *Metrics
	logger      *zap.Logger
}

// NewPartitionTracker creates a tracker with no partitions assigned
func NewPartitionTracker(opts Options, metrics *Metrics) *PartitionTracker {
	return &PartitionTracker{
		partitions:  make(map[Segment]*partitionState),
		maxInFlight: int64(opts.MaxInFlightPerPartition),
		metrics:     metrics,
		logger:      opts.Logger,
	}
}

// CouldBeTakenAsWork reports whether the unit's segment may yield work:
// assigned under the unit's epoch, not paused, and under the in-flight cap.
func (pt *PartitionTracker) CouldBeTakenAsWork(u *WorkUnit) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	state, ok := pt.partitions[u.Segment()]
	if !ok || state.epoch != u.Epoch() || state.paused {
		return false
	}
	return pt.maxInFlight == 0 || state.inFlight < pt.maxInFlight
}

// IsWorkStale reports whether the unit's segment has been revoked or
// re-assigned since the unit was admitted
func (pt *PartitionTracker) IsWorkStale(u *WorkUnit) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	state, ok := pt.partitions[u.Segment()]
	return !ok || state.epoch != u.Epoch()
}

// RecordSlowWork counts a unit observed waiting past the warning threshold
func (pt *PartitionTracker) RecordSlowWork(seg Segment) {
	pt.metrics.recordSlowWork(seg)
}

// ObserveSegment returns the segment's current epoch, assigning it lazily on
// the first message. The consumer only delivers messages for partitions it
// holds, so a first sighting is an assignment.
func (pt *PartitionTracker) ObserveSegment(seg Segment) int64 {
	pt.mu.RLock()
	if state, ok := pt.partitions[seg]; ok {
		epoch := state.epoch
		pt.mu.RUnlock()
		return epoch
	}
	pt.mu.RUnlock()

	pt.mu.Lock()
	defer pt.mu.Unlock()
	if state, ok := pt.partitions[seg]; ok {
		return state.epoch
	}
	pt.epochCounter++
	pt.partitions[seg] = &partitionState{epoch: pt.epochCounter}
	pt.logger.Info("tracking partition", zap.Stringer("segment", seg), zap.Int64("epoch", pt.epochCounter))
	return pt.epochCounter
}

// OnAssigned registers newly assigned partitions, each under a fresh epoch
func (pt *PartitionTracker) OnAssigned(segs []Segment) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for _, seg := range segs {
		pt.epochCounter++
		pt.partitions[seg] = &partitionState{epoch: pt.epochCounter}
	}
	pt.logger.Info("partitions assigned", zap.Int("count", len(segs)))
}

// OnRevoked drops revoked partitions; their in-flight and queued units
// become stale immediately
func (pt *PartitionTracker) OnRevoked(segs []Segment) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for _, seg := range segs {
		delete(pt.partitions, seg)
	}
	pt.logger.Info("partitions revoked", zap.Int("count", len(segs)))
}

// Pause stops the segment from yielding work until Resume
func (pt *PartitionTracker) Pause(seg Segment) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if state, ok := pt.partitions[seg]; ok {
		state.paused = true
	}
}

// Resume lifts a pause
func (pt *PartitionTracker) Resume(seg Segment) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if state, ok := pt.partitions[seg]; ok {
		state.paused = false
	}
}

// RecordDispatched counts a unit handed to a worker against its segment's
// in-flight cap
func (pt *PartitionTracker) RecordDispatched(seg Segment) {
	pt.mu.Lock()
	if state, ok := pt.partitions[seg]; ok {
		state.inFlight++
	}
	pt.mu.Unlock()
	pt.metrics.recordDispatched()
}

// RecordResolved releases a dispatched unit's slot after success or failure
func (pt *PartitionTracker) RecordResolved(seg Segment) {
	pt.mu.Lock()
	if state, ok := pt.partitions[seg]; ok && state.inFlight > 0 {
		state.inFlight--
	}
	pt.mu.Unlock()
	pt.metrics.recordResolved()
}

// Assigned reports whether the segment is currently tracked
func (pt *PartitionTracker) Assigned(seg Segment) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	_, ok := pt.partitions[seg]
	return ok
}
