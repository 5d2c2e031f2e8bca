// shard.go
package parallelconsumer

import (
	"sync/atomic"
	"time"

	"github.com/zhangyunhao116/skipmap"
	"go.uber.org/zap"
)

// Shard models the queue of work for one ordering scope and decides which
// units are currently eligible for dispatch.
//
// entries is a concurrent skip-list map rather than a mutex-held sorted
// tree: the scheduling thread iterates it while workers and the rebalance
// path insert and remove, and a tree behind a single lock showed missing
// entries under high load. Weakly-consistent lock-free iteration is a hard
// requirement here, not an optimization. It is a map because Unordered mode
// needs random access; records do not complete in order.
type Shard struct {
	key           ShardKey
	ordering      OrderingPolicy
	slowThreshold time.Duration
	gate          PartitionGate
	entries       *skipmap.OrderedMap[int64, *WorkUnit]

	// available approximates how many entries are currently selectable.
	// It drifts under races and is clamped at zero; it is a scheduling
	// hint and a metric, never a gate for correctness.
	available atomic.Int64

	slowWarn *SlowWorkReporter
	logger   *zap.Logger
}

// NewShard creates the scheduler for one shard key. The gate reference is
// non-owning and immutable for the shard's lifetime.
func NewShard(key ShardKey, opts Options, gate PartitionGate) *Shard {
	return &Shard{
		key:           key,
		ordering:      opts.Ordering,
		slowThreshold: opts.QueueWarningThreshold,
		gate:          gate,
		entries:       skipmap.New[int64, *WorkUnit](),
		slowWarn:      NewSlowWorkReporter(opts.SlowWarningCooldown),
		logger:        opts.Logger.With(zap.Stringer("shard", key)),
	}
}

// Key returns the shard's identity
func (s *Shard) Key() ShardKey { return s.key }

// Add tracks a unit. Re-adding an offset that is already tracked is a no-op;
// duplicate delivery is expected and not an error.
func (s *Shard) Add(u *WorkUnit) {
	if _, loaded := s.entries.LoadOrStore(u.Offset(), u); loaded {
		s.logger.Debug("offset already tracked in shard, dropping record",
			zap.Int64("offset", u.Offset()),
			zap.Stringer("segment", u.Segment()))
		return
	}
	s.available.Add(1)
}

// Remove discards the entry at offset unconditionally, e.g. when its
// partition is revoked. Returns the removed unit, or nil if absent.
func (s *Shard) Remove(offset int64) *WorkUnit {
	u, ok := s.entries.LoadAndDelete(offset)
	if !ok {
		return nil
	}
	if u.IsAvailableToTakeAsWork() {
		s.decrementAvailable(1)
	}
	return u
}

// OnSuccess removes a completed unit from the shard's queue
func (s *Shard) OnSuccess(u *WorkUnit) {
	s.entries.LoadAndDelete(u.Offset())
}

// OnFailure corrects the available hint for a dispatched unit that failed.
// The increment happens before any retry-expiry computation elsewhere so a
// racing scan does not undercount.
func (s *Shard) OnFailure() {
	s.available.Add(1)
}

// SelectWork returns up to maxCount units now transitioned to in flight,
// scanning entries in ascending offset order.
//
// A segment-level block stops the scan outright: all work in one shard
// originates from the same segment under every ordering mode, so no later
// entry can fare better. Under ordered policies the scan also stops after
// the first gate-passing candidate, taken or not; dispatching a later unit
// before an earlier one is resolved would break the ordering guarantee.
func (s *Shard) SelectWork(maxCount int) []*WorkUnit {
	if maxCount <= 0 {
		return nil
	}

	var (
		taken []*WorkUnit
		slow  map[*WorkUnit]struct{}
	)
	s.entries.Range(func(offset int64, u *WorkUnit) bool {
		if !s.gate.CouldBeTakenAsWork(u) {
			s.logger.Debug("segment blocked for work taking, stopping shard scan",
				zap.Stringer("segment", u.Segment()))
			return false
		}

		if u.IsAvailableToTakeAsWork() {
			u.StartFlight()
			taken = append(taken, u)
		} else {
			slow = s.noteSlowWorkMaybe(slow, u)
		}

		if s.ordering != Unordered {
			return false
		}
		return len(taken) < maxCount
	})

	s.reportSlowWork(slow)

	if n := len(taken); n > 0 {
		s.decrementAvailable(int64(n))
	}
	return taken
}

// noteSlowWorkMaybe records a skipped unit in the per-call slow set if it
// has waited past the warning threshold, notifying the gate the first time
// the unit is seen as slow in this call.
func (s *Shard) noteSlowWorkMaybe(slow map[*WorkUnit]struct{}, u *WorkUnit) map[*WorkUnit]struct{} {
	if s.slowThreshold <= 0 || u.TimeInQueue() <= s.slowThreshold {
		return slow
	}
	if _, seen := slow[u]; !seen {
		s.gate.RecordSlowWork(u.Segment())
		if slow == nil {
			slow = make(map[*WorkUnit]struct{})
		}
		slow[u] = struct{}{}
	}
	return slow
}

func (s *Shard) reportSlowWork(slow map[*WorkUnit]struct{}) {
	if len(slow) == 0 {
		return
	}

	distinct := make(map[Segment]struct{}, len(slow))
	segments := make([]string, 0, len(slow))
	for u := range slow {
		if _, ok := distinct[u.Segment()]; ok {
			continue
		}
		distinct[u.Segment()] = struct{}{}
		segments = append(segments, u.Segment().String())
	}

	s.slowWarn.PerformIfNotLimited(func() {
		s.logger.Warn("records in queue have been waiting longer than the warning threshold",
			zap.Int("count", len(slow)),
			zap.Duration("threshold", s.slowThreshold),
			zap.Strings("segments", segments))
	})
}

// EvictStale removes every unit the gate reports as stale and reports
// whether anything was evicted. Stale units left in place would block later
// units in ordered shards and keep the revoked segment's consumption paused
// indefinitely.
func (s *Shard) EvictStale() bool {
	evicted := false
	s.entries.Range(func(offset int64, u *WorkUnit) bool {
		if !s.gate.IsWorkStale(u) {
			return true
		}
		if _, ok := s.entries.LoadAndDelete(offset); ok {
			s.decrementAvailable(1)
			evicted = true
			s.logger.Debug("evicted stale unit",
				zap.Int64("offset", offset),
				zap.Stringer("segment", u.Segment()))
		}
		return true
	})
	return evicted
}

// IsEmpty reports whether the shard tracks no units
func (s *Shard) IsEmpty() bool { return s.entries.Len() == 0 }

// CountTracked returns the number of units currently tracked
func (s *Shard) CountTracked() int64 { return int64(s.entries.Len()) }

// CountAvailable returns the heuristic count of selectable units
func (s *Shard) CountAvailable() int64 { return s.available.Load() }

// CountInFlight returns the number of tracked units currently in flight
func (s *Shard) CountInFlight() int64 {
	var n int64
	s.entries.Range(func(_ int64, u *WorkUnit) bool {
		if u.IsInFlight() {
			n++
		}
		return true
	})
	return n
}

// decrementAvailable floors the hint at zero. The CompareAndSwap targets the
// observed negative value so a concurrent increment is not erased.
func (s *Shard) decrementAvailable(delta int64) {
	if v := s.available.Add(-delta); v < 0 {
		s.available.CompareAndSwap(v, 0)
	}
}
