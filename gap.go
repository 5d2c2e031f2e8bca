// gap.go
package parallelconsumer

// FindCommittableOffset returns the highest offset of one partition where
// every offset from lastCommitted+1 up to it has been processed. A failed
// record leaves a gap, and nothing past a gap may be committed.
//
// Pure function, no side effects.
//
// Example:
//
//	processed = {0: true, 1: true, 2: true, 4: true}
//	lastCommitted = -1
//	highWatermark = 4
//	returns: 2 (3 is a gap, so 4 is not committable)
func FindCommittableOffset(
	processed map[int64]bool,
	lastCommitted int64,
	highWatermark int64,
) int64 {
	committable := lastCommitted
	for offset := lastCommitted + 1; offset <= highWatermark; offset++ {
		if !processed[offset] {
			break
		}
		committable = offset
	}
	return committable
}

// CountGaps returns the number of unprocessed offsets in [start, end]
func CountGaps(processed map[int64]bool, start, end int64) int {
	count := 0
	for offset := start; offset <= end; offset++ {
		if !processed[offset] {
			count++
		}
	}
	return count
}

// GetGapRanges returns the contiguous unprocessed ranges in [start, end] as
// [start, end] pairs, used for diagnostics when a commit stalls
func GetGapRanges(processed map[int64]bool, start, end int64) [][2]int64 {
	var gaps [][2]int64
	inGap := false
	var gapStart int64

	for offset := start; offset <= end; offset++ {
		if !processed[offset] {
			if !inGap {
				gapStart = offset
				inGap = true
			}
		} else if inGap {
			gaps = append(gaps, [2]int64{gapStart, offset - 1})
			inGap = false
		}
	}

	if inGap {
		gaps = append(gaps, [2]int64{gapStart, end})
	}

	return gaps
}
