package speech

import (
	"sync"
	"time"
)

// latencyWindow is the number of recent synthesis latencies kept for
// the rolling average.
const latencyWindow = 64

// UsageStats aggregates synthesis activity across providers.
type UsageStats struct {
	mu sync.Mutex

	totalGenerated int64
	cacheHits      int64
	failures       int64
	perProvider    map[string]int64

	latencies []time.Duration
	next      int
	filled    bool
}

// NewUsageStats returns zeroed usage stats.
func NewUsageStats() *UsageStats {
	return &UsageStats{
		perProvider: make(map[string]int64),
		latencies:   make([]time.Duration, latencyWindow),
	}
}

// RecordSynthesis records one successful synthesis by a provider.
func (s *UsageStats) RecordSynthesis(provider string, cacheHit bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalGenerated++
	s.perProvider[provider]++
	if cacheHit {
		s.cacheHits++
	}

	s.latencies[s.next] = latency
	s.next = (s.next + 1) % latencyWindow
	if s.next == 0 {
		s.filled = true
	}
}

// RecordFailure records one provider failure.
func (s *UsageStats) RecordFailure(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
}

// Snapshot is a point-in-time copy of usage stats.
type Snapshot struct {
	TotalGenerated int64            `json:"total_generated"`
	CacheHits      int64            `json:"cache_hits"`
	Failures       int64            `json:"failures"`
	PerProvider    map[string]int64 `json:"per_provider"`
	AvgLatency     time.Duration    `json:"avg_latency"`
}

// Snapshot returns a copy of the current stats. The rolling latency
// average covers at most the last 64 syntheses.
func (s *UsageStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalGenerated: s.totalGenerated,
		CacheHits:      s.cacheHits,
		Failures:       s.failures,
		PerProvider:    make(map[string]int64, len(s.perProvider)),
	}
	for name, n := range s.perProvider {
		snap.PerProvider[name] = n
	}

	n := s.next
	if s.filled {
		n = latencyWindow
	}
	if n > 0 {
		var sum time.Duration
		for i := 0; i < n; i++ {
			sum += s.latencies[i]
		}
		snap.AvgLatency = sum / time.Duration(n)
	}
	return snap
}
