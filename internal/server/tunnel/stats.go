package tunnel

import (
	"sync/atomic"
	"time"
)

// TrafficStats tracks traffic for one tunnel session.
// Bytes in are request bodies sent to the client, bytes out are result
// payloads written back to callers.
type TrafficStats struct {
	totalBytesIn  atomic.Int64
	totalBytesOut atomic.Int64
	totalRequests atomic.Int64
	timeouts      atomic.Int64

	startTime time.Time
}

// NewTrafficStats creates a new traffic stats tracker
func NewTrafficStats(now time.Time) *TrafficStats {
	return &TrafficStats{startTime: now}
}

// AddRequest records one dispatched request and its body size
func (s *TrafficStats) AddRequest(bodyBytes int) {
	s.totalRequests.Add(1)
	s.totalBytesIn.Add(int64(bodyBytes))
}

// AddBytesOut adds delivered response bytes to the counter
func (s *TrafficStats) AddBytesOut(n int) {
	s.totalBytesOut.Add(int64(n))
}

// AddTimeout records a request that expired without a result
func (s *TrafficStats) AddTimeout() {
	s.timeouts.Add(1)
}

// GetTotalBytesIn returns total request body bytes
func (s *TrafficStats) GetTotalBytesIn() int64 {
	return s.totalBytesIn.Load()
}

// GetTotalBytesOut returns total response bytes
func (s *TrafficStats) GetTotalBytesOut() int64 {
	return s.totalBytesOut.Load()
}

// GetTotalRequests returns total request count
func (s *TrafficStats) GetTotalRequests() int64 {
	return s.totalRequests.Load()
}

// GetTimeouts returns the number of expired requests
func (s *TrafficStats) GetTimeouts() int64 {
	return s.timeouts.Load()
}

// GetUptime returns how long the session has existed at now
func (s *TrafficStats) GetUptime(now time.Time) time.Duration {
	return now.Sub(s.startTime)
}
