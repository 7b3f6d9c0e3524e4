package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. Counters are atomic; size tracking is mutex guarded.
type Statistics struct {
	writes     int64
	reads      int64
	peeks      int64
	overwrites int64
	fulls      int64
	timeouts   int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// StatsSnapshot is a point-in-time copy of Statistics
type StatsSnapshot struct {
	Writes      int64         `json:"writes"`
	Reads       int64         `json:"reads"`
	Overwrites  int64         `json:"overwrites"`
	Fulls       int64         `json:"fulls"`
	Timeouts    int64         `json:"timeouts"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	Uptime      time.Duration `json:"uptime"`
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records an accepted write
func (s *Statistics) Write() { atomic.AddInt64(&s.writes, 1) }

// Read records a successful read
func (s *Statistics) Read() { atomic.AddInt64(&s.reads, 1) }

// Peek records a successful peek
func (s *Statistics) Peek() { atomic.AddInt64(&s.peeks, 1) }

// Overwrite records a write that displaced the oldest item
func (s *Statistics) Overwrite() { atomic.AddInt64(&s.overwrites, 1) }

// Full records a write rejected with Full
func (s *Statistics) Full() { atomic.AddInt64(&s.fulls, 1) }

// Timeout records a blocking write that timed out
func (s *Statistics) Timeout() { atomic.AddInt64(&s.timeouts, 1) }

// UpdateSize records the current occupancy and tracks the high-water mark
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Writes returns the number of accepted writes
func (s *Statistics) Writes() int64 { return atomic.LoadInt64(&s.writes) }

// Reads returns the number of successful reads
func (s *Statistics) Reads() int64 { return atomic.LoadInt64(&s.reads) }

// Peeks returns the number of successful peeks
func (s *Statistics) Peeks() int64 { return atomic.LoadInt64(&s.peeks) }

// Overwrites returns the number of writes that displaced an item
func (s *Statistics) Overwrites() int64 { return atomic.LoadInt64(&s.overwrites) }

// Fulls returns the number of writes rejected with Full
func (s *Statistics) Fulls() int64 { return atomic.LoadInt64(&s.fulls) }

// Timeouts returns the number of blocking writes that timed out
func (s *Statistics) Timeouts() int64 { return atomic.LoadInt64(&s.timeouts) }

// CurrentSize returns the last recorded occupancy
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the highest occupancy observed
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// Throughput returns accepted writes per second since creation or the last Reset
func (s *Statistics) Throughput() float64 {
	elapsed := s.Uptime()
	if elapsed <= 0 {
		return 0.0
	}
	return float64(s.Writes()) / elapsed.Seconds()
}

// RejectRate returns the share of write attempts that ended in Full or Timeout (0.0 to 1.0)
func (s *Statistics) RejectRate() float64 {
	rejected := s.Fulls() + s.Timeouts()
	total := s.Writes() + rejected
	if total == 0 {
		return 0.0
	}
	return float64(rejected) / float64(total)
}

// Utilization returns occupancy as a fraction of capacity
func (s *Statistics) Utilization(capacity int64) float64 {
	if capacity == 0 {
		return 0.0
	}
	return float64(s.CurrentSize()) / float64(capacity)
}

// Uptime returns how long the buffer has been collecting
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Snapshot copies every counter
func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Overwrites:  s.Overwrites(),
		Fulls:       s.Fulls(),
		Timeouts:    s.Timeouts(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		Uptime:      s.Uptime(),
	}
}

// Reset zeroes every counter and restarts the uptime clock
func (s *Statistics) Reset() {
	atomic.StoreInt64(&s.writes, 0)
	atomic.StoreInt64(&s.reads, 0)
	atomic.StoreInt64(&s.peeks, 0)
	atomic.StoreInt64(&s.overwrites, 0)
	atomic.StoreInt64(&s.fulls, 0)
	atomic.StoreInt64(&s.timeouts, 0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.currentSize = 0
	s.maxSize = 0
	s.mu.Unlock()
}
