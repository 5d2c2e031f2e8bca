// workunit.go
package parallelconsumer

import (
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// WorkUnit wraps a single consumed record and its scheduling state.
//
// A unit is queued when created, moves in flight when selected, and either
// succeeds (terminal, removed from its shard) or fails and becomes selectable
// again once its retry delay has elapsed. State fields are atomics so the
// scheduling thread, worker threads and the maintenance path can all touch
// the same unit without a lock.
type WorkUnit struct {
	msg     *kafka.Message
	segment Segment
	epoch   int64

	queuedAt  time.Time
	inFlight  atomic.Bool
	succeeded atomic.Bool
	retryAt   atomic.Int64 // unix nanos; 0 means no retry delay pending
	attempts  atomic.Int32
}

// NewWorkUnit creates a unit for a consumed message. epoch is the partition
// assignment epoch the message was received under; it is compared against
// the partition's current epoch to detect staleness after a rebalance.
func NewWorkUnit(msg *kafka.Message, epoch int64) *WorkUnit {
	return &WorkUnit{
		msg: msg,
		segment: Segment{
			Topic:     topicOf(msg),
			Partition: msg.TopicPartition.Partition,
		},
		epoch:    epoch,
		queuedAt: time.Now(),
	}
}

func topicOf(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}

// Message returns the wrapped record
func (u *WorkUnit) Message() *kafka.Message { return u.msg }

// Offset returns the record's offset within its origin segment
func (u *WorkUnit) Offset() int64 { return int64(u.msg.TopicPartition.Offset) }

// Segment returns the origin topic partition
func (u *WorkUnit) Segment() Segment { return u.segment }

// Epoch returns the assignment epoch the unit was admitted under
func (u *WorkUnit) Epoch() int64 { return u.epoch }

// Attempts returns how many times the unit has failed so far
func (u *WorkUnit) Attempts() int { return int(u.attempts.Load()) }

// IsInFlight reports whether the unit is currently held by a worker
func (u *WorkUnit) IsInFlight() bool { return u.inFlight.Load() }

// HasSucceeded reports whether the unit completed successfully
func (u *WorkUnit) HasSucceeded() bool { return u.succeeded.Load() }

// IsDelayPassed reports whether any pending retry delay has elapsed
func (u *WorkUnit) IsDelayPassed() bool {
	at := u.retryAt.Load()
	return at == 0 || time.Now().UnixNano() >= at
}

// IsAvailableToTakeAsWork reports whether the unit may be selected: its
// retry delay has elapsed, it is not in flight, and it has not succeeded.
func (u *WorkUnit) IsAvailableToTakeAsWork() bool {
	return u.IsDelayPassed() && !u.IsInFlight() && !u.HasSucceeded()
}

// TimeInQueue returns how long the unit has been waiting since admission
func (u *WorkUnit) TimeInQueue() time.Duration {
	return time.Since(u.queuedAt)
}

// StartFlight transitions the unit to in flight. Called by the scheduler at
// the moment the unit is selected, before it is handed to a worker.
func (u *WorkUnit) StartFlight() {
	u.inFlight.Store(true)
}

// Succeed marks the unit terminally complete
func (u *WorkUnit) Succeed() {
	u.succeeded.Store(true)
	u.inFlight.Store(false)
}

// Fail returns the unit to the queue, selectable again after backoff
func (u *WorkUnit) Fail(backoff time.Duration) {
	u.attempts.Add(1)
	u.retryAt.Store(time.Now().Add(backoff).UnixNano())
	u.inFlight.Store(false)
}
