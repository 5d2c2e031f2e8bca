// commit.go
package parallelconsumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// OffsetTracker tracks processed offsets for one partition and computes the
// highest contiguous offset safe to commit. Failed records leave gaps, so
// at-least-once delivery is preserved across restarts.
type OffsetTracker struct {
	mu            sync.Mutex
	segment       Segment
	processed     map[int64]bool
	lastCommitted int64
	highWatermark int64
	logger        *zap.Logger
}

// NewOffsetTracker creates a tracker for one partition
func NewOffsetTracker(seg Segment, logger *zap.Logger) *OffsetTracker {
	return &OffsetTracker{
		segment:       seg,
		processed:     make(map[int64]bool),
		lastCommitted: -1,
		highWatermark: -1,
		logger:        logger,
	}
}

// Observe records that an offset has been consumed (not yet processed)
func (ot *OffsetTracker) Observe(offset int64) {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	if offset > ot.highWatermark {
		ot.highWatermark = offset
	}
}

// MarkProcessed records a successfully processed offset
func (ot *OffsetTracker) MarkProcessed(offset int64) {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	ot.processed[offset] = true
}

// GetCommittableOffset returns the highest contiguous processed offset
func (ot *OffsetTracker) GetCommittableOffset() int64 {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	return FindCommittableOffset(ot.processed, ot.lastCommitted, ot.highWatermark)
}

// GetLastCommitted returns the last committed offset
func (ot *OffsetTracker) GetLastCommitted() int64 {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	return ot.lastCommitted
}

// CommitOffset records a successful commit and drops tracking state at or
// below the committed offset
func (ot *OffsetTracker) CommitOffset(offset int64) {
	ot.mu.Lock()
	defer ot.mu.Unlock()

	ot.lastCommitted = offset
	for o := range ot.processed {
		if o <= offset {
			delete(ot.processed, o)
		}
	}
}

// GapRanges returns the unprocessed ranges blocking the next commit
func (ot *OffsetTracker) GapRanges() [][2]int64 {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	return GetGapRanges(ot.processed, ot.lastCommitted+1, ot.highWatermark)
}

// CommitManager handles periodic offset commits
type CommitManager struct {
	consumer            *kafka.Consumer
	trackers            map[Segment]*OffsetTracker
	trackersMu          sync.RWMutex
	commitInterval      time.Duration
	commitBatchSize     int
	messagesSinceCommit int64
	metrics             *Metrics
	logger              *zap.Logger
	statsCounter        *int64 // Pointer to the pool's stats counter
}

// NewCommitManager creates a new commit manager
func NewCommitManager(consumer *kafka.Consumer, opts Options, metrics *Metrics, statsCounter *int64) *CommitManager {
	return &CommitManager{
		consumer:        consumer,
		trackers:        make(map[Segment]*OffsetTracker),
		commitInterval:  opts.CommitInterval,
		commitBatchSize: opts.CommitBatchSize,
		metrics:         metrics,
		logger:          opts.Logger,
		statsCounter:    statsCounter,
	}
}

// TrackerFor returns the partition's tracker, creating it on first use
func (cm *CommitManager) TrackerFor(seg Segment) *OffsetTracker {
	cm.trackersMu.RLock()
	tracker := cm.trackers[seg]
	cm.trackersMu.RUnlock()
	if tracker != nil {
		return tracker
	}

	cm.trackersMu.Lock()
	defer cm.trackersMu.Unlock()
	if tracker := cm.trackers[seg]; tracker != nil {
		return tracker
	}
	tracker = NewOffsetTracker(seg, cm.logger)
	cm.trackers[seg] = tracker
	return tracker
}

// UnregisterTracker removes a partition's tracker (for rebalance)
func (cm *CommitManager) UnregisterTracker(seg Segment) {
	cm.trackersMu.Lock()
	defer cm.trackersMu.Unlock()
	delete(cm.trackers, seg)
}

// RecordMessage increments the message counter (for the batch commit trigger)
func (cm *CommitManager) RecordMessage() {
	atomic.AddInt64(&cm.messagesSinceCommit, 1)
}

// Start begins the commit loop
func (cm *CommitManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.commitInterval)
	defer ticker.Stop()

	cm.logger.Info("commit manager started",
		zap.Duration("interval", cm.commitInterval),
		zap.Int("batch_size", cm.commitBatchSize))

	for {
		select {
		case <-ctx.Done():
			// Final commit before shutdown
			cm.tryCommit(ctx)
			cm.logger.Info("commit manager stopped")
			return

		case <-ticker.C:
			cm.tryCommit(ctx)
		}

		if atomic.LoadInt64(&cm.messagesSinceCommit) >= int64(cm.commitBatchSize) {
			cm.tryCommit(ctx)
		}
	}
}

// tryCommit commits the highest contiguous processed offset per partition
func (cm *CommitManager) tryCommit(ctx context.Context) error {
	cm.trackersMu.RLock()
	defer cm.trackersMu.RUnlock()

	if len(cm.trackers) == 0 {
		return nil // No partitions assigned
	}

	offsets := make([]kafka.TopicPartition, 0, len(cm.trackers))
	segments := make([]Segment, 0, len(cm.trackers))

	for seg, tracker := range cm.trackers {
		committable := tracker.GetCommittableOffset()
		if committable <= tracker.GetLastCommitted() {
			continue
		}
		topic := seg.Topic
		// Kafka commits "next offset to read", so add 1
		offsets = append(offsets, kafka.TopicPartition{
			Topic:     &topic,
			Partition: seg.Partition,
			Offset:    kafka.Offset(committable + 1),
		})
		segments = append(segments, seg)
	}

	if len(offsets) == 0 {
		cm.logger.Debug("no offsets to commit")
		return nil
	}

	// Synchronous commit for safety
	_, err := cm.consumer.CommitOffsets(offsets)
	if err != nil {
		cm.logger.Error("failed to commit offsets",
			zap.Error(err),
			zap.Any("offsets", offsets))
		return err
	}

	for i, tp := range offsets {
		cm.trackers[segments[i]].CommitOffset(int64(tp.Offset) - 1)
	}

	atomic.StoreInt64(&cm.messagesSinceCommit, 0)
	cm.metrics.recordCommitted(len(offsets))
	if cm.statsCounter != nil {
		atomic.AddInt64(cm.statsCounter, int64(len(offsets)))
	}

	cm.logger.Info("committed offsets", zap.Int("partitions", len(offsets)))

	return nil
}
