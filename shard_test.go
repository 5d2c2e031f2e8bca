// shard_test.go
package parallelconsumer

import (
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubGate is a controllable PartitionGate for scheduler tests
type stubGate struct {
	mu      sync.Mutex
	blocked map[Segment]bool
	stale   map[int64]bool
	slow    []Segment
}

func newStubGate() *stubGate {
	return &stubGate{
		blocked: make(map[Segment]bool),
		stale:   make(map[int64]bool),
	}
}

func (g *stubGate) CouldBeTakenAsWork(u *WorkUnit) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.blocked[u.Segment()]
}

func (g *stubGate) IsWorkStale(u *WorkUnit) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stale[u.Offset()]
}

func (g *stubGate) RecordSlowWork(seg Segment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slow = append(g.slow, seg)
}

func (g *stubGate) slowRecords() []Segment {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Segment(nil), g.slow...)
}

func makeUnit(topic string, partition int32, offset int64, key string) *WorkUnit {
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: partition,
			Offset:    kafka.Offset(offset),
		},
		Key: []byte(key),
	}
	return NewWorkUnit(msg, 1)
}

func testOptions() Options {
	return DefaultOptions(zap.NewNop())
}

func newTestShard(ordering OrderingPolicy, gate PartitionGate) *Shard {
	opts := testOptions()
	opts.Ordering = ordering
	return NewShard(ShardKey{Topic: "t", Partition: 0}, opts, gate)
}

func offsetsOf(units []*WorkUnit) []int64 {
	offsets := make([]int64, 0, len(units))
	for _, u := range units {
		offsets = append(offsets, u.Offset())
	}
	return offsets
}

func TestShardAddIsIdempotent(t *testing.T) {
	shard := newTestShard(Unordered, newStubGate())

	first := makeUnit("t", 0, 5, "k")
	shard.Add(first)
	shard.Add(makeUnit("t", 0, 5, "k"))

	assert.Equal(t, int64(1), shard.CountTracked())
	assert.Equal(t, int64(1), shard.CountAvailable())
	// the first unit stays, the duplicate was dropped
	assert.Same(t, first, shard.Remove(5))
}

func TestShardSelectWorkUnorderedSkipsUnavailable(t *testing.T) {
	shard := newTestShard(Unordered, newStubGate())

	delayed := makeUnit("t", 0, 1, "k")
	delayed.Fail(time.Hour) // retry delay not yet elapsed
	shard.Add(delayed)
	shard.Add(makeUnit("t", 0, 2, "k"))
	shard.Add(makeUnit("t", 0, 3, "k"))

	taken := shard.SelectWork(3)

	assert.Equal(t, []int64{2, 3}, offsetsOf(taken))
	for _, u := range taken {
		assert.True(t, u.IsInFlight())
	}
	assert.False(t, delayed.IsInFlight())
}

func TestShardSelectWorkOrderedStopsAtBlockedHead(t *testing.T) {
	for _, ordering := range []OrderingPolicy{KeyOrdered, PartitionOrdered} {
		t.Run(ordering.String(), func(t *testing.T) {
			shard := newTestShard(ordering, newStubGate())

			head := makeUnit("t", 0, 1, "k")
			head.Fail(time.Hour)
			shard.Add(head)
			shard.Add(makeUnit("t", 0, 2, "k"))
			shard.Add(makeUnit("t", 0, 3, "k"))

			// strict ordering must not skip past the blocked head
			assert.Empty(t, shard.SelectWork(3))
		})
	}
}

func TestShardSelectWorkOrderedTakesOnlyHead(t *testing.T) {
	shard := newTestShard(KeyOrdered, newStubGate())

	head := makeUnit("t", 0, 1, "k")
	shard.Add(head)
	shard.Add(makeUnit("t", 0, 2, "k"))
	shard.Add(makeUnit("t", 0, 3, "k"))

	taken := shard.SelectWork(3)
	require.Equal(t, []int64{1}, offsetsOf(taken))

	// head in flight: nothing else may be dispatched
	assert.Empty(t, shard.SelectWork(3))

	head.Succeed()
	shard.OnSuccess(head)

	assert.Equal(t, []int64{2}, offsetsOf(shard.SelectWork(3)))
}

func TestShardSelectWorkSegmentBlockStopsScan(t *testing.T) {
	gate := newStubGate()
	gate.blocked[Segment{Topic: "t", Partition: 0}] = true
	shard := newTestShard(Unordered, gate)

	shard.Add(makeUnit("t", 0, 1, "k"))
	shard.Add(makeUnit("t", 0, 2, "k"))

	assert.Empty(t, shard.SelectWork(2))
	// nothing was taken, the hint is untouched
	assert.Equal(t, int64(2), shard.CountAvailable())
}

func TestShardSelectWorkRespectsMaxCount(t *testing.T) {
	shard := newTestShard(Unordered, newStubGate())
	for offset := int64(1); offset <= 5; offset++ {
		shard.Add(makeUnit("t", 0, offset, "k"))
	}

	assert.Equal(t, []int64{1, 2}, offsetsOf(shard.SelectWork(2)))
	assert.Equal(t, []int64{3, 4}, offsetsOf(shard.SelectWork(2)))
	assert.Equal(t, []int64{5}, offsetsOf(shard.SelectWork(10)))
	assert.Empty(t, shard.SelectWork(10))
	assert.Equal(t, int64(0), shard.CountAvailable())
}

func TestShardOnSuccessRemovesEntry(t *testing.T) {
	shard := newTestShard(Unordered, newStubGate())
	unit := makeUnit("t", 0, 7, "k")
	shard.Add(unit)

	require.Len(t, shard.SelectWork(1), 1)
	unit.Succeed()
	shard.OnSuccess(unit)

	assert.True(t, shard.IsEmpty())
	assert.Nil(t, shard.Remove(7))
}

func TestShardOnFailureRestoresAvailableHint(t *testing.T) {
	shard := newTestShard(Unordered, newStubGate())
	unit := makeUnit("t", 0, 1, "k")
	shard.Add(unit)

	require.Len(t, shard.SelectWork(1), 1)
	assert.Equal(t, int64(0), shard.CountAvailable())

	unit.Fail(0)
	shard.OnFailure()
	assert.Equal(t, int64(1), shard.CountAvailable())

	// delay of zero has already elapsed, the unit is selectable again
	assert.Equal(t, []int64{1}, offsetsOf(shard.SelectWork(1)))
}

func TestShardRemoveDecrementsOnlyWhenSelectable(t *testing.T) {
	shard := newTestShard(Unordered, newStubGate())
	shard.Add(makeUnit("t", 0, 1, "k"))
	shard.Add(makeUnit("t", 0, 2, "k"))

	require.Equal(t, []int64{1}, offsetsOf(shard.SelectWork(1)))
	require.Equal(t, int64(1), shard.CountAvailable())

	// offset 1 is in flight, removing it must not touch the hint
	require.NotNil(t, shard.Remove(1))
	assert.Equal(t, int64(1), shard.CountAvailable())

	// offset 2 is selectable, removing it does
	require.NotNil(t, shard.Remove(2))
	assert.Equal(t, int64(0), shard.CountAvailable())
}

func TestShardEvictStale(t *testing.T) {
	gate := newStubGate()
	shard := newTestShard(Unordered, gate)

	for offset := int64(0); offset < 10; offset++ {
		shard.Add(makeUnit("t", 0, offset, "k"))
		gate.stale[offset] = true
	}

	assert.True(t, shard.EvictStale())
	assert.True(t, shard.IsEmpty())
	assert.Equal(t, int64(0), shard.CountAvailable())
	assert.False(t, shard.EvictStale())
}

func TestShardEvictStaleKeepsLiveUnits(t *testing.T) {
	gate := newStubGate()
	shard := newTestShard(Unordered, gate)

	for offset := int64(1); offset <= 4; offset++ {
		shard.Add(makeUnit("t", 0, offset, "k"))
	}
	gate.stale[2] = true
	gate.stale[4] = true

	assert.True(t, shard.EvictStale())
	assert.Equal(t, int64(2), shard.CountTracked())
	assert.Equal(t, []int64{1, 3}, offsetsOf(shard.SelectWork(10)))
}

func TestShardAvailableCountNeverNegative(t *testing.T) {
	gate := newStubGate()
	shard := newTestShard(Unordered, gate)

	unit := makeUnit("t", 0, 1, "k")
	shard.Add(unit)
	require.Len(t, shard.SelectWork(1), 1)
	require.Equal(t, int64(0), shard.CountAvailable())

	// evicting the in-flight unit decrements an already-zero hint
	gate.stale[1] = true
	assert.True(t, shard.EvictStale())
	assert.GreaterOrEqual(t, shard.CountAvailable(), int64(0))
	assert.Equal(t, int64(0), shard.CountAvailable())
}

func TestShardCountInFlight(t *testing.T) {
	shard := newTestShard(Unordered, newStubGate())
	for offset := int64(1); offset <= 3; offset++ {
		shard.Add(makeUnit("t", 0, offset, "k"))
	}

	require.Len(t, shard.SelectWork(2), 2)
	assert.Equal(t, int64(2), shard.CountInFlight())
	assert.Equal(t, int64(3), shard.CountTracked())
}

func TestShardSlowWorkReportedToGate(t *testing.T) {
	gate := newStubGate()
	opts := testOptions()
	opts.QueueWarningThreshold = time.Millisecond
	shard := NewShard(ShardKey{Topic: "t", Partition: 0}, opts, gate)

	unit := makeUnit("t", 0, 1, "k")
	unit.queuedAt = time.Now().Add(-time.Second)
	unit.StartFlight() // in flight, so the scan skips it
	shard.Add(unit)

	assert.Empty(t, shard.SelectWork(1))
	assert.Equal(t, []Segment{{Topic: "t", Partition: 0}}, gate.slowRecords())
}

func TestShardSlowWorkNotReportedUnderThreshold(t *testing.T) {
	gate := newStubGate()
	shard := newTestShard(Unordered, gate) // default 10s threshold

	unit := makeUnit("t", 0, 1, "k")
	unit.StartFlight()
	shard.Add(unit)

	assert.Empty(t, shard.SelectWork(1))
	assert.Empty(t, gate.slowRecords())
}

func TestShardConcurrentMutationDuringScan(t *testing.T) {
	shard := newTestShard(Unordered, newStubGate())
	for offset := int64(0); offset < 200; offset++ {
		shard.Add(makeUnit("t", 0, offset, "k"))
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for offset := int64(200); offset < 400; offset++ {
			shard.Add(makeUnit("t", 0, offset, "k"))
		}
	}()
	go func() {
		defer wg.Done()
		for offset := int64(0); offset < 200; offset += 2 {
			shard.Remove(offset)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			for _, u := range shard.SelectWork(4) {
				u.Succeed()
				shard.OnSuccess(u)
			}
		}
	}()
	wg.Wait()

	assert.GreaterOrEqual(t, shard.CountAvailable(), int64(0))
	assert.GreaterOrEqual(t, shard.CountTracked(), int64(0))
}
