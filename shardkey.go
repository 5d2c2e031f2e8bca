// shardkey.go
package parallelconsumer

import "fmt"

// ShardKey identifies one ordering scope. A shard covers one message key
// under KeyOrdered and one partition otherwise.
type ShardKey struct {
	Topic     string
	Partition int32
	Key       string
}

// NewShardKey derives the shard a unit belongs to under the given policy.
// Unordered still shards by partition (it is parallel partitions); only the
// scan rule differs. Pooling partitions together would let equal offsets
// from different partitions collide in one entries map, and a single blocked
// partition at the head of the pool would starve the rest.
func NewShardKey(u *WorkUnit, ordering OrderingPolicy) ShardKey {
	if ordering == KeyOrdered {
		return ShardKey{Topic: u.segment.Topic, Key: string(u.msg.Key)}
	}
	return ShardKey{Topic: u.segment.Topic, Partition: u.segment.Partition}
}

func (k ShardKey) String() string {
	if k.Key != "" {
		return fmt.Sprintf("shard(%s/key=%s)", k.Topic, k.Key)
	}
	return fmt.Sprintf("shard(%s[%d])", k.Topic, k.Partition)
}
