// errors_test.go
package parallelconsumer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestErrorTrackerHaltsAfterThreshold(t *testing.T) {
	et := NewErrorTracker(3, zap.NewNop())
	seg := Segment{Topic: "t", Partition: 0}
	err := errors.New("boom")

	assert.False(t, et.RecordError(seg, 1, err))
	assert.False(t, et.RecordError(seg, 2, err))
	assert.True(t, et.RecordError(seg, 3, err))

	consecutive, total := et.GetStats()
	assert.Equal(t, 3, consecutive)
	assert.Equal(t, int64(3), total)
}

func TestErrorTrackerSuccessResetsStreak(t *testing.T) {
	et := NewErrorTracker(2, zap.NewNop())
	seg := Segment{Topic: "t", Partition: 0}
	err := errors.New("boom")

	assert.False(t, et.RecordError(seg, 1, err))
	et.RecordSuccess()
	assert.False(t, et.RecordError(seg, 2, err))

	consecutive, total := et.GetStats()
	assert.Equal(t, 1, consecutive)
	assert.Equal(t, int64(2), total)
}

func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, calculateBackoff(0, base))
	assert.Equal(t, 200*time.Millisecond, calculateBackoff(1, base))
	assert.Equal(t, 800*time.Millisecond, calculateBackoff(3, base))
	// capped at 60s
	assert.Equal(t, 60*time.Second, calculateBackoff(30, base))
}

func TestIsRetriable(t *testing.T) {
	assert.False(t, isRetriable(nil))
	assert.True(t, isRetriable(errors.New("boom")))
}
