// shards.go
package parallelconsumer

import (
	"sync"

	"go.uber.org/zap"
)

// ShardManager owns the registry of shard schedulers. Shards are created
// lazily the first time a unit maps to an unseen key and dropped once empty,
// so the registry stays proportional to the live working set.
type ShardManager struct {
	opts    Options
	gate    PartitionGate
	metrics *Metrics

	mu     sync.RWMutex
	shards map[ShardKey]*Shard

	logger *zap.Logger
}

// NewShardManager creates an empty registry
func NewShardManager(opts Options, gate PartitionGate, metrics *Metrics) *ShardManager {
	return &ShardManager{
		opts:    opts,
		gate:    gate,
		metrics: metrics,
		shards:  make(map[ShardKey]*Shard),
		logger:  opts.Logger,
	}
}

// Add routes a unit to its shard, creating the shard on first sight
func (m *ShardManager) Add(u *WorkUnit) {
	key := NewShardKey(u, m.opts.Ordering)
	for {
		shard := m.getOrCreate(key)
		shard.Add(u)
		// an empty-shard drop can race with the insert; if the shard is no
		// longer registered, redo the add against a fresh one
		if m.get(key) == shard {
			return
		}
	}
}

// OnSuccess removes a completed unit and drops its shard if now empty
func (m *ShardManager) OnSuccess(u *WorkUnit) {
	key := NewShardKey(u, m.opts.Ordering)
	shard := m.get(key)
	if shard == nil {
		m.logger.Warn("no shard for completed unit", zap.Stringer("shard", key))
		return
	}
	shard.OnSuccess(u)
	m.dropIfEmpty(key)
}

// OnFailure restores the available hint on the unit's shard
func (m *ShardManager) OnFailure(u *WorkUnit) {
	if shard := m.get(NewShardKey(u, m.opts.Ordering)); shard != nil {
		shard.OnFailure()
	}
}

// Remove discards a unit outright, e.g. on permanent failure or revocation
func (m *ShardManager) Remove(u *WorkUnit) *WorkUnit {
	key := NewShardKey(u, m.opts.Ordering)
	shard := m.get(key)
	if shard == nil {
		return nil
	}
	removed := shard.Remove(u.Offset())
	m.dropIfEmpty(key)
	return removed
}

// SelectWork gathers up to maxCount eligible units across all shards. Go's
// randomized map iteration spreads selection across shards between calls.
func (m *ShardManager) SelectWork(maxCount int) []*WorkUnit {
	if maxCount <= 0 {
		return nil
	}

	var taken []*WorkUnit
	for _, shard := range m.snapshot() {
		remaining := maxCount - len(taken)
		if remaining <= 0 {
			break
		}
		taken = append(taken, shard.SelectWork(remaining)...)
	}
	return taken
}

// EvictStale sweeps every shard for stale units and drops shards emptied by
// the sweep. Reports whether anything was evicted.
func (m *ShardManager) EvictStale() bool {
	evicted := false
	for _, shard := range m.snapshot() {
		before := shard.CountTracked()
		if shard.EvictStale() {
			evicted = true
			m.metrics.recordStaleEvicted(before - shard.CountTracked())
			m.dropIfEmpty(shard.Key())
		}
	}
	return evicted
}

// CountTracked sums tracked units across shards
func (m *ShardManager) CountTracked() int64 {
	var n int64
	for _, shard := range m.snapshot() {
		n += shard.CountTracked()
	}
	return n
}

// CountInFlight sums in-flight units across shards
func (m *ShardManager) CountInFlight() int64 {
	var n int64
	for _, shard := range m.snapshot() {
		n += shard.CountInFlight()
	}
	return n
}

// CountAvailable sums the available hints across shards
func (m *ShardManager) CountAvailable() int64 {
	var n int64
	for _, shard := range m.snapshot() {
		n += shard.CountAvailable()
	}
	return n
}

// ShardCount returns the number of live shards
func (m *ShardManager) ShardCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shards)
}

func (m *ShardManager) get(key ShardKey) *Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shards[key]
}

func (m *ShardManager) getOrCreate(key ShardKey) *Shard {
	m.mu.RLock()
	shard := m.shards[key]
	m.mu.RUnlock()
	if shard != nil {
		return shard
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.shards[key]; existing != nil {
		return existing
	}
	shard = NewShard(key, m.opts, m.gate)
	m.shards[key] = shard
	m.logger.Debug("created shard", zap.Stringer("shard", key))
	return shard
}

func (m *ShardManager) dropIfEmpty(key ShardKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shard, ok := m.shards[key]; ok && shard.IsEmpty() {
		delete(m.shards, key)
		m.logger.Debug("dropped empty shard", zap.Stringer("shard", key))
	}
}

func (m *ShardManager) snapshot() []*Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	shards := make([]*Shard, 0, len(m.shards))
	for _, shard := range m.shards {
		shards = append(shards, shard)
	}
	return shards
}
