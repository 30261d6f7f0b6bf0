package parsing

import "sync"

// Metrics is the snapshot shape returned by Parser.Metrics(), matching
// §4.2's { total, successful, failed, failedByConstraint, avgLatency,
// successRate } exactly (grounded on data_parser.py's get_metrics()).
type Metrics struct {
	TotalProcessed      int64
	Successful          int64
	Failed              int64
	FailedByConstraint  map[string]int64
	AvgProcessingTimeMs float64
	SuccessRate         float64
}

type metricsTracker struct {
	mu                  sync.Mutex
	totalProcessed      int64
	successful          int64
	failed              int64
	failedByConstraint  map[string]int64
	totalProcessingTime float64 // ms
}

func newMetricsTracker() *metricsTracker {
	return &metricsTracker{failedByConstraint: make(map[string]int64)}
}

func (m *metricsTracker) recordSuccess(elapsedMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalProcessed++
	m.successful++
	m.totalProcessingTime += elapsedMs
}

func (m *metricsTracker) recordFailure(constraint string, elapsedMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalProcessed++
	m.failed++
	m.failedByConstraint[constraint]++
	m.totalProcessingTime += elapsedMs
}

func (m *metricsTracker) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Metrics{
		TotalProcessed:     m.totalProcessed,
		Successful:         m.successful,
		Failed:             m.failed,
		FailedByConstraint: make(map[string]int64, len(m.failedByConstraint)),
	}
	for k, v := range m.failedByConstraint {
		out.FailedByConstraint[k] = v
	}
	if m.totalProcessed > 0 {
		out.AvgProcessingTimeMs = m.totalProcessingTime / float64(m.totalProcessed)
		out.SuccessRate = float64(m.successful) / float64(m.totalProcessed) * 100
	}
	return out
}

func (m *metricsTracker) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalProcessed = 0
	m.successful = 0
	m.failed = 0
	m.failedByConstraint = make(map[string]int64)
	m.totalProcessingTime = 0
}
