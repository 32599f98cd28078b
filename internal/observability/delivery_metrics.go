package observability

import (
	"sync/atomic"
	"time"
)

// DeliveryMetrics is a cheap in-process counter set the worker logs
// periodically; prometheus carries the scrapeable versions.
type DeliveryMetrics struct {
	received  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewDeliveryMetrics() *DeliveryMetrics {
	return &DeliveryMetrics{}
}

func (m *DeliveryMetrics) IncReceived()  { m.received.Add(1) }
func (m *DeliveryMetrics) IncCompleted() { m.completed.Add(1) }
func (m *DeliveryMetrics) IncFailed()    { m.failed.Add(1) }
func (m *DeliveryMetrics) IncSkipped()   { m.skipped.Add(1) }

func (m *DeliveryMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type DeliveryMetricsSnapshot struct {
	Received        uint64
	Completed       uint64
	Failed          uint64
	Skipped         uint64
	DurationCount   uint64
	AverageDuration time.Duration
	MaxDuration     time.Duration
}

func (m *DeliveryMetrics) Snapshot() DeliveryMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()
	max := m.durationMax.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return DeliveryMetricsSnapshot{
		Received:        m.received.Load(),
		Completed:       m.completed.Load(),
		Failed:          m.failed.Load(),
		Skipped:         m.skipped.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(max),
	}
}
