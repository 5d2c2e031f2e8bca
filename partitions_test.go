// partitions_test.go
package parallelconsumer

import (
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitUnderTracker(pt *PartitionTracker, topic string, partition int32, offset int64) *WorkUnit {
	seg := Segment{Topic: topic, Partition: partition}
	epoch := pt.ObserveSegment(seg)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: partition,
			Offset:    kafka.Offset(offset),
		},
	}
	return NewWorkUnit(msg, epoch)
}

func TestPartitionTrackerObserveAssignsOnce(t *testing.T) {
	pt := NewPartitionTracker(testOptions(), nil)
	seg := Segment{Topic: "t", Partition: 0}

	first := pt.ObserveSegment(seg)
	second := pt.ObserveSegment(seg)

	assert.Equal(t, first, second)
	assert.True(t, pt.Assigned(seg))
}

func TestPartitionTrackerAdmitsLiveWork(t *testing.T) {
	pt := NewPartitionTracker(testOptions(), nil)
	unit := unitUnderTracker(pt, "t", 0, 1)

	assert.True(t, pt.CouldBeTakenAsWork(unit))
	assert.False(t, pt.IsWorkStale(unit))
}

func TestPartitionTrackerRevokeMakesWorkStale(t *testing.T) {
	pt := NewPartitionTracker(testOptions(), nil)
	seg := Segment{Topic: "t", Partition: 0}
	unit := unitUnderTracker(pt, "t", 0, 1)

	pt.OnRevoked([]Segment{seg})

	assert.True(t, pt.IsWorkStale(unit))
	assert.False(t, pt.CouldBeTakenAsWork(unit))
}

func TestPartitionTrackerReassignmentKeepsOldWorkStale(t *testing.T) {
	pt := NewPartitionTracker(testOptions(), nil)
	seg := Segment{Topic: "t", Partition: 0}
	old := unitUnderTracker(pt, "t", 0, 1)

	pt.OnRevoked([]Segment{seg})
	pt.OnAssigned([]Segment{seg})

	// a unit admitted under the old epoch never becomes live again
	assert.True(t, pt.IsWorkStale(old))
	assert.False(t, pt.CouldBeTakenAsWork(old))

	fresh := unitUnderTracker(pt, "t", 0, 2)
	assert.False(t, pt.IsWorkStale(fresh))
	assert.True(t, pt.CouldBeTakenAsWork(fresh))
}

func TestPartitionTrackerPauseResume(t *testing.T) {
	pt := NewPartitionTracker(testOptions(), nil)
	seg := Segment{Topic: "t", Partition: 0}
	unit := unitUnderTracker(pt, "t", 0, 1)

	pt.Pause(seg)
	assert.False(t, pt.CouldBeTakenAsWork(unit))
	// paused is not stale, the work stays queued
	assert.False(t, pt.IsWorkStale(unit))

	pt.Resume(seg)
	assert.True(t, pt.CouldBeTakenAsWork(unit))
}

func TestPartitionTrackerInFlightCap(t *testing.T) {
	opts := testOptions()
	opts.MaxInFlightPerPartition = 1
	pt := NewPartitionTracker(opts, nil)
	seg := Segment{Topic: "t", Partition: 0}
	unit := unitUnderTracker(pt, "t", 0, 1)

	require.True(t, pt.CouldBeTakenAsWork(unit))

	pt.RecordDispatched(seg)
	assert.False(t, pt.CouldBeTakenAsWork(unit))

	pt.RecordResolved(seg)
	assert.True(t, pt.CouldBeTakenAsWork(unit))
}

func TestPartitionTrackerUnlimitedInFlight(t *testing.T) {
	opts := testOptions()
	opts.MaxInFlightPerPartition = 0
	pt := NewPartitionTracker(opts, nil)
	seg := Segment{Topic: "t", Partition: 0}
	unit := unitUnderTracker(pt, "t", 0, 1)

	for i := 0; i < 100; i++ {
		pt.RecordDispatched(seg)
	}
	assert.True(t, pt.CouldBeTakenAsWork(unit))
}
