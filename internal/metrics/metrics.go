package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	connections   int64
	selections    map[string]int64
	responded     map[string]int64
	failed        map[string]int64
	causes        map[string]map[string]int64
	responseTimes map[string][]time.Duration
	healthStatus  map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalConnections int64                     `json:"total_connections"`
	Uptime           time.Duration             `json:"uptime"`
	Backends         map[string]BackendMetrics `json:"backends"`
	Strategy         string                    `json:"strategy"`
}

type BackendMetrics struct {
	Selections  int64            `json:"selections"`
	Responded   int64            `json:"responded"`
	Failed      int64            `json:"failed"`
	Healthy     bool             `json:"healthy"`
	AvgResponse time.Duration    `json:"avg_response"`
	P50Response time.Duration    `json:"p50_response"`
	P95Response time.Duration    `json:"p95_response"`
	P99Response time.Duration    `json:"p99_response"`
	Failures    map[string]int64 `json:"failures,omitempty"`
	Breaker     string           `json:"breaker,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		selections:    make(map[string]int64),
		responded:     make(map[string]int64),
		failed:        make(map[string]int64),
		causes:        make(map[string]map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		healthStatus:  make(map[string]bool),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementConnections() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connections++
}

func (m *Metrics) RecordBackendSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[backend]++
}

// RecordDispatch stores the outcome of one fetch. Only successful fetches
// contribute to the response time percentiles.
func (m *Metrics) RecordDispatch(backend string, duration time.Duration, outcome Outcome, cause string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if outcome == OutcomeFailed {
		m.failed[backend]++
		if m.causes[backend] == nil {
			m.causes[backend] = make(map[string]int64)
		}
		m.causes[backend][cause]++
		return
	}

	m.responded[backend]++
	m.responseTimes[backend] = append(m.responseTimes[backend], duration)
	if len(m.responseTimes[backend]) > maxSamples {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalConnections: m.connections,
		Uptime:           time.Since(m.startTime),
		Backends:         make(map[string]BackendMetrics),
		Strategy:         strategy,
	}

	known := make(map[string]struct{})
	for _, source := range []map[string]int64{m.selections, m.responded, m.failed} {
		for backend := range source {
			known[backend] = struct{}{}
		}
	}
	for backend := range m.healthStatus {
		known[backend] = struct{}{}
	}

	for backend := range known {
		bm := BackendMetrics{
			Selections: m.selections[backend],
			Responded:  m.responded[backend],
			Failed:     m.failed[backend],
			Healthy:    m.healthStatus[backend],
		}

		if causes := m.causes[backend]; len(causes) > 0 {
			bm.Failures = make(map[string]int64, len(causes))
			for cause, n := range causes {
				bm.Failures[cause] = n
			}
		}

		if durations := m.responseTimes[backend]; len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
