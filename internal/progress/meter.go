package progress

import "time"

// Stats is a point-in-time snapshot of one transfer.
type Stats struct {
	BytesDone int64
	Elapsed   time.Duration
	AvgBps    float64 // BytesDone over Elapsed
}

// Meter counts the bytes of a single transfer against a clock. It is owned
// by the goroutine running the transfer.
type Meter struct {
	done      int64
	startedAt time.Time
	now       func() time.Time
}

// NewMeter returns a meter on the wall clock.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{now: now}
}

// Start resets the meter and starts the clock.
func (m *Meter) Start() {
	m.done = 0
	m.startedAt = m.now()
}

// Add records n more bytes moved.
func (m *Meter) Add(n int) {
	if n > 0 {
		m.done += int64(n)
	}
}

// Snapshot returns current stats.
func (m *Meter) Snapshot() Stats {
	stats := Stats{BytesDone: m.done}
	if !m.startedAt.IsZero() {
		stats.Elapsed = m.now().Sub(m.startedAt)
	}
	if secs := stats.Elapsed.Seconds(); secs > 0 {
		stats.AvgBps = float64(m.done) / secs
	}
	return stats
}
