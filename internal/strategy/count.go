// Package strategy holds queuing strategies for readable streams.
package strategy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Count applies backpressure on the number of queued chunks: every chunk
// costs 1, whatever its content. The zero value has a high water mark of 0,
// so backpressure starts as soon as one chunk is queued.
type Count struct {
	highWaterMark float64
}

// NewCount returns a counting strategy. Negative and NaN marks become 0.
func NewCount(highWaterMark float64) Count {
	if math.IsNaN(highWaterMark) || highWaterMark < 0 {
		highWaterMark = 0
	}
	return Count{highWaterMark: highWaterMark}
}

// ParseCount coerces textual input, as found in flags and config files, into
// a counting strategy.
func ParseCount(s string) (Count, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Count{}, fmt.Errorf("high water mark %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Count{}, fmt.Errorf("high water mark %q: must be a finite non-negative number", s)
	}
	return Count{highWaterMark: v}, nil
}

func (c Count) HighWaterMark() float64 { return c.highWaterMark }

// ShouldApplyBackpressure reports whether queueSize exceeds the mark.
func (c Count) ShouldApplyBackpressure(queueSize float64) bool {
	return queueSize > c.highWaterMark
}

// Size is 1 for every chunk.
func (Count) Size(any) float64 { return 1 }
