// gap_test.go
package parallelconsumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func processedSet(offsets ...int64) map[int64]bool {
	set := make(map[int64]bool, len(offsets))
	for _, o := range offsets {
		set[o] = true
	}
	return set
}

func TestFindCommittableOffset(t *testing.T) {
	tests := []struct {
		name          string
		processed     []int64
		lastCommitted int64
		highWatermark int64
		want          int64
	}{
		{
			name:          "all processed in order",
			processed:     []int64{0, 1, 2, 3, 4},
			lastCommitted: -1,
			highWatermark: 4,
			want:          4,
		},
		{
			name:          "gap in the middle",
			processed:     []int64{0, 1, 3, 4},
			lastCommitted: -1,
			highWatermark: 4,
			want:          1,
		},
		{
			name:          "gap at the beginning",
			processed:     []int64{1, 2, 3},
			lastCommitted: -1,
			highWatermark: 3,
			want:          -1,
		},
		{
			name:          "nothing processed",
			processed:     nil,
			lastCommitted: -1,
			highWatermark: 4,
			want:          -1,
		},
		{
			name:          "resumes after previous commit",
			processed:     []int64{5, 6},
			lastCommitted: 4,
			highWatermark: 6,
			want:          6,
		},
		{
			name:          "no progress since last commit",
			processed:     nil,
			lastCommitted: 4,
			highWatermark: 4,
			want:          4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindCommittableOffset(processedSet(tt.processed...), tt.lastCommitted, tt.highWatermark)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCountGaps(t *testing.T) {
	processed := processedSet(0, 2, 4)
	assert.Equal(t, 2, CountGaps(processed, 0, 4))
	assert.Equal(t, 0, CountGaps(processed, 0, 0))
}

func TestGetGapRanges(t *testing.T) {
	processed := processedSet(0, 1, 4, 7)

	gaps := GetGapRanges(processed, 0, 8)

	assert.Equal(t, [][2]int64{{2, 3}, {5, 6}, {8, 8}}, gaps)
	assert.Empty(t, GetGapRanges(processedSet(0, 1), 0, 1))
}
