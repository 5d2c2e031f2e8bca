// types.go
package parallelconsumer

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// ProcessFunc is the user-defined function for processing a message
type ProcessFunc func(context.Context, *kafka.Message) error

// OrderingPolicy controls how many units of one shard may be in flight at
// once, and in what order they are handed to workers.
type OrderingPolicy int

const (
	// Unordered dispatches any eligible unit of a shard concurrently.
	Unordered OrderingPolicy = iota
	// KeyOrdered dispatches units of one message key strictly in offset
	// order, at most one in flight per key.
	KeyOrdered
	// PartitionOrdered dispatches units of one partition strictly in offset
	// order, at most one in flight per partition.
	PartitionOrdered
)

func (o OrderingPolicy) String() string {
	switch o {
	case Unordered:
		return "unordered"
	case KeyOrdered:
		return "key-ordered"
	case PartitionOrdered:
		return "partition-ordered"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// Segment identifies the source topic partition a unit originates from
type Segment struct {
	Topic     string
	Partition int32
}

func (s Segment) String() string {
	return fmt.Sprintf("%s[%d]", s.Topic, s.Partition)
}

// Job represents a unit of work handed to a worker
type Job struct {
	Unit        *WorkUnit
	ProcessFunc ProcessFunc
}

// Result represents the outcome of processing a job
type Result struct {
	Unit    *WorkUnit
	Success bool
	Error   error
}

// Stats contains runtime statistics
type Stats struct {
	MessagesProcessed int64
	MessagesFailed    int64
	OffsetsCommitted  int64
	WorkTracked       int64
	WorkInFlight      int64
	WorkAvailable     int64
	Shards            int
}
