// Package metrics provides latency aggregation and Prometheus instrumentation.
package metrics

import (
	"sync"
	"time"

	"github.com/gateway-fm/rpcprobe/pkg/types"
)

// Summary accumulates min/max/mean over a stream of durations.
// O(1) memory, safe for concurrent use.
type Summary struct {
	mu    sync.Mutex
	count int
	sum   time.Duration
	min   time.Duration
	max   time.Duration
}

// NewSummary creates an empty Summary.
func NewSummary() *Summary {
	return &Summary{}
}

// Add records a sample.
func (s *Summary) Add(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.count++
	s.sum += d
}

// Count returns the number of samples recorded.
func (s *Summary) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Stats returns the current summary, or nil if no samples were recorded.
func (s *Summary) Stats() *types.LatencySummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}
	return &types.LatencySummary{
		Count: s.count,
		Min:   s.min,
		Max:   s.max,
		Mean:  s.sum / time.Duration(s.count),
	}
}

// Reset clears all samples.
func (s *Summary) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.sum = 0
	s.min = 0
	s.max = 0
}
