// pool.go
package parallelconsumer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const (
	// dispatchInterval is how often the dispatcher asks the shards for work
	dispatchInterval = 20 * time.Millisecond
	// evictInterval is how often stale work is swept from the shards
	evictInterval = 10 * time.Second
)

// Pool is the main entry point: it polls Kafka, schedules records through
// per-shard work queues honoring the configured ordering policy, executes
// them on a worker pool, and commits the highest contiguous processed offset
// per partition.
type Pool struct {
	consumer      *kafka.Consumer
	opts          Options
	metrics       *Metrics
	partitions    *PartitionTracker
	shards        *ShardManager
	workerPool    *WorkerPool
	commitManager *CommitManager
	errorTracker  *ErrorTracker
	logger        *zap.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	rebalanceCb   kafka.RebalanceCb

	// Statistics (atomic counters)
	statsMessagesProcessed int64
	statsMessagesFailed    int64
	statsOffsetsCommitted  int64
}

// NewPool creates a new pool around an existing consumer. The consumer must
// have enable.auto.commit disabled; the pool owns offset commits.
func NewPool(consumer *kafka.Consumer, opts Options) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var metrics *Metrics
	if opts.Metrics != nil {
		metrics = NewMetrics(opts.Metrics)
	}

	partitions := NewPartitionTracker(opts, metrics)

	pool := &Pool{
		consumer:     consumer,
		opts:         opts,
		metrics:      metrics,
		partitions:   partitions,
		shards:       NewShardManager(opts, partitions, metrics),
		workerPool:   NewWorkerPool(opts.NumWorkers, opts.JobQueueSize, opts.ResultQueueSize, opts.Logger),
		errorTracker: NewErrorTracker(opts.MaxConsecutiveErrors, opts.Logger),
		logger:       opts.Logger,
		ctx:          ctx,
		cancel:       cancel,
	}
	pool.commitManager = NewCommitManager(consumer, opts, metrics, &pool.statsOffsetsCommitted)

	pool.setupRebalanceCallback()

	return pool, nil
}

// RebalanceCallback returns the callback to pass to consumer.Subscribe so
// the pool sees partition assignment changes
func (p *Pool) RebalanceCallback() kafka.RebalanceCb {
	return p.rebalanceCb
}

// Run starts the pool and processes messages until the context is cancelled
func (p *Pool) Run(ctx context.Context, processFunc ProcessFunc) error {
	p.logger.Info("starting pool",
		zap.Int("num_workers", p.opts.NumWorkers),
		zap.Stringer("ordering", p.opts.Ordering),
		zap.Duration("commit_interval", p.opts.CommitInterval))

	p.workerPool.Start()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.commitManager.Start(p.ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.processResults()
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.dispatchLoop(processFunc)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.maintenanceLoop()
	}()

	// Main poll loop (single-threaded - the Kafka consumer is NOT thread-safe)
	err := p.pollLoop(ctx)

	p.logger.Info("shutting down pool")
	p.cancel()
	p.wg.Wait()
	p.workerPool.Stop()

	return err
}

// pollLoop reads messages from Kafka and tracks them as work units
func (p *Pool) pollLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			// internal halt, e.g. error threshold exceeded
			return p.ctx.Err()

		default:
			msg, err := p.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				// Timeout or transient error - continue
				kafkaErr, ok := err.(kafka.Error)
				if ok && kafkaErr.Code() == kafka.ErrTimedOut {
					continue
				}
				p.logger.Warn("kafka read error", zap.Error(err))
				continue
			}

			seg := Segment{Topic: topicOf(msg), Partition: msg.TopicPartition.Partition}
			epoch := p.partitions.ObserveSegment(seg)
			unit := NewWorkUnit(msg, epoch)

			p.shards.Add(unit)

			p.commitManager.TrackerFor(seg).Observe(unit.Offset())
			p.commitManager.RecordMessage()
		}
	}
}

// dispatchLoop drains eligible work from the shards into the worker pool
func (p *Pool) dispatchLoop(processFunc ProcessFunc) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}

		capacity := p.opts.JobQueueSize - p.workerPool.QueuedJobs()
		if capacity <= 0 {
			continue
		}

		for _, unit := range p.shards.SelectWork(capacity) {
			p.partitions.RecordDispatched(unit.Segment())
			job := &Job{Unit: unit, ProcessFunc: processFunc}
			if err := p.workerPool.SubmitJob(p.ctx, job); err != nil {
				return
			}
		}
	}
}

// maintenanceLoop periodically evicts work whose partitions have moved away
func (p *Pool) maintenanceLoop() {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if p.shards.EvictStale() {
				p.logger.Info("evicted stale work",
					zap.Int64("tracked", p.shards.CountTracked()))
			}
		}
	}
}

// processResults handles results from workers
func (p *Pool) processResults() {
	for {
		var result *Result
		select {
		case <-p.ctx.Done():
			return
		case result = <-p.workerPool.Results():
		}
		if result == nil {
			return
		}

		unit := result.Unit
		p.partitions.RecordResolved(unit.Segment())

		if result.Success {
			unit.Succeed()
			p.shards.OnSuccess(unit)
			p.commitManager.TrackerFor(unit.Segment()).MarkProcessed(unit.Offset())
			p.errorTracker.RecordSuccess()
			p.metrics.recordProcessed()
			atomic.AddInt64(&p.statsMessagesProcessed, 1)

			p.logger.Debug("message processed successfully",
				zap.Stringer("segment", unit.Segment()),
				zap.Int64("offset", unit.Offset()))
		} else {
			p.handleFailure(result)
		}
	}
}

// handleFailure returns a failed unit to its shard for a delayed retry, or
// discards it after the retry budget is spent
func (p *Pool) handleFailure(result *Result) {
	unit := result.Unit

	if unit.Attempts() < p.opts.MaxRetries && isRetriable(result.Error) {
		backoff := calculateBackoff(unit.Attempts(), p.opts.RetryBackoffBase)

		// the unit stays in its shard and becomes selectable again once the
		// backoff elapses; no resubmission machinery needed
		unit.Fail(backoff)
		p.shards.OnFailure(unit)

		p.logger.Info("retrying message",
			zap.Stringer("segment", unit.Segment()),
			zap.Int64("offset", unit.Offset()),
			zap.Int("attempt", unit.Attempts()),
			zap.Int("max_retries", p.opts.MaxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(result.Error))
		return
	}

	// Permanent failure - drop from the shard, leaving a commit gap
	p.shards.Remove(unit)
	p.metrics.recordFailed()
	atomic.AddInt64(&p.statsMessagesFailed, 1)

	p.logger.Error("permanent message failure",
		zap.Stringer("segment", unit.Segment()),
		zap.Int64("offset", unit.Offset()),
		zap.Int("attempts", unit.Attempts()+1),
		zap.Error(result.Error))

	if p.errorTracker.RecordError(unit.Segment(), unit.Offset(), result.Error) {
		p.logger.Error("error threshold exceeded, halting pool")
		p.cancel()
	}
}

// setupRebalanceCallback configures partition rebalance handling
func (p *Pool) setupRebalanceCallback() {
	p.rebalanceCb = func(c *kafka.Consumer, event kafka.Event) error {
		switch ev := event.(type) {
		case kafka.AssignedPartitions:
			p.onPartitionsAssigned(ev.Partitions)
			return c.Assign(ev.Partitions)

		case kafka.RevokedPartitions:
			p.onPartitionsRevoked(ev.Partitions)
			return c.Unassign()
		}
		return nil
	}
}

// onPartitionsAssigned handles a new partition assignment
func (p *Pool) onPartitionsAssigned(partitions []kafka.TopicPartition) {
	segs := toSegments(partitions)
	p.partitions.OnAssigned(segs)
}

// onPartitionsRevoked handles partition revocation: save what is already
// processed, then mark everything the revoked partitions still own as stale
// and evict it so it cannot block the shards
func (p *Pool) onPartitionsRevoked(partitions []kafka.TopicPartition) {
	segs := toSegments(partitions)
	p.logger.Info("partitions revoked", zap.Int("count", len(segs)))

	// Final commit before losing the partitions
	p.commitManager.tryCommit(p.ctx)

	p.partitions.OnRevoked(segs)
	p.shards.EvictStale()

	for _, seg := range segs {
		p.commitManager.UnregisterTracker(seg)
	}
}

func toSegments(partitions []kafka.TopicPartition) []Segment {
	segs := make([]Segment, 0, len(partitions))
	for _, tp := range partitions {
		topic := ""
		if tp.Topic != nil {
			topic = *tp.Topic
		}
		segs = append(segs, Segment{Topic: topic, Partition: tp.Partition})
	}
	return segs
}

// GetStats returns runtime statistics
func (p *Pool) GetStats() Stats {
	return Stats{
		MessagesProcessed: atomic.LoadInt64(&p.statsMessagesProcessed),
		MessagesFailed:    atomic.LoadInt64(&p.statsMessagesFailed),
		OffsetsCommitted:  atomic.LoadInt64(&p.statsOffsetsCommitted),
		WorkTracked:       p.shards.CountTracked(),
		WorkInFlight:      p.shards.CountInFlight(),
		WorkAvailable:     p.shards.CountAvailable(),
		Shards:            p.shards.ShardCount(),
	}
}
