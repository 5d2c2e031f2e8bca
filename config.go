// config.go
package parallelconsumer

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options contains configuration for the Pool
type Options struct {
	// Worker pool configuration
	NumWorkers      int // Number of concurrent workers (default: 10)
	JobQueueSize    int // Size of job queue buffer (default: 1000)
	ResultQueueSize int // Size of result queue buffer (default: 1000)

	// Work scheduling
	Ordering                OrderingPolicy // Dispatch ordering guarantee (default: Unordered)
	MaxInFlightPerPartition int            // In-flight cap per partition, 0 = unlimited (default: 1000)
	QueueWarningThreshold   time.Duration  // Warn when work waits longer than this (default: 10s)
	SlowWarningCooldown     time.Duration  // Minimum gap between slow-work warnings (default: 5s)

	// Commit configuration
	CommitInterval  time.Duration // How often to commit offsets (default: 5s)
	CommitBatchSize int           // Max messages before forcing commit (default: 1000)

	// Error handling
	MaxConsecutiveErrors int           // Max consecutive errors before halt (default: 10)
	MaxRetries           int           // Max retries per message (default: 3)
	RetryBackoffBase     time.Duration // Base backoff duration (default: 100ms)

	// Logging and metrics
	Logger  *zap.Logger           // Logger instance (required)
	Metrics prometheus.Registerer // Optional registry; nil disables metrics
}

// DefaultOptions returns options with sensible defaults
func DefaultOptions(logger *zap.Logger) Options {
	return Options{
		NumWorkers:              10,
		JobQueueSize:            1000,
		ResultQueueSize:         1000,
		Ordering:                Unordered,
		MaxInFlightPerPartition: 1000,
		QueueWarningThreshold:   10 * time.Second,
		SlowWarningCooldown:     5 * time.Second,
		CommitInterval:          5 * time.Second,
		CommitBatchSize:         1000,
		MaxConsecutiveErrors:    10,
		MaxRetries:              3,
		RetryBackoffBase:        100 * time.Millisecond,
		Logger:                  logger,
	}
}

// Validate checks if the options are valid
func (o Options) Validate() error {
	if o.NumWorkers <= 0 {
		return fmt.Errorf("NumWorkers must be > 0, got %d", o.NumWorkers)
	}
	if o.Logger == nil {
		return fmt.Errorf("Logger is required")
	}
	if o.CommitInterval <= 0 {
		return fmt.Errorf("CommitInterval must be > 0")
	}
	if o.SlowWarningCooldown <= 0 {
		return fmt.Errorf("SlowWarningCooldown must be > 0")
	}
	if o.MaxInFlightPerPartition < 0 {
		return fmt.Errorf("MaxInFlightPerPartition must be >= 0, got %d", o.MaxInFlightPerPartition)
	}
	switch o.Ordering {
	case Unordered, KeyOrdered, PartitionOrdered:
	default:
		return fmt.Errorf("unknown ordering policy %d", int(o.Ordering))
	}
	return nil
}
