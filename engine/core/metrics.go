package core

import (
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

// ImportMetrics keeps counters and a rolling average of import durations.
// It belongs to a single import system; nothing here is process-wide.
type ImportMetrics struct {
	mu sync.Mutex

	avgCounter uint8
	samples    [AVG_COUNT]time.Duration
	sampled    uint8
	average    time.Duration

	Submitted uint64
	Completed uint64
	Failed    uint64
}

type MetricsSnapshot struct {
	Submitted       uint64
	Completed       uint64
	Failed          uint64
	AverageDuration time.Duration
}

func NewImportMetrics() *ImportMetrics {
	return &ImportMetrics{}
}

func (m *ImportMetrics) RecordSubmitted() {
	m.mu.Lock()
	m.Submitted++
	m.mu.Unlock()
}

// RecordFinished stores the outcome of one import and its duration.
func (m *ImportMetrics) RecordFinished(elapsed time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if failed {
		m.Failed++
	} else {
		m.Completed++
	}

	m.samples[m.avgCounter] = elapsed
	m.avgCounter = (m.avgCounter + 1) % AVG_COUNT
	if m.sampled < AVG_COUNT {
		m.sampled++
	}

	var total time.Duration
	for i := uint8(0); i < m.sampled; i++ {
		total += m.samples[i]
	}
	m.average = total / time.Duration(m.sampled)
}

func (m *ImportMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Submitted:       m.Submitted,
		Completed:       m.Completed,
		Failed:          m.Failed,
		AverageDuration: m.average,
	}
}
