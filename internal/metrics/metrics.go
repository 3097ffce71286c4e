package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	rejected      map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                    `json:"total_requests"`
	Uptime        time.Duration            `json:"uptime"`
	Targets       map[string]TargetMetrics `json:"targets"`
}

type TargetMetrics struct {
	Requests    int64         `json:"requests"`
	Rejected    int64         `json:"rejected"`
	Healthy     *bool         `json:"healthy,omitempty"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		rejected:      make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementRequests(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[key]++
}

func (m *Metrics) IncrementRejected(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejected[key]++
}

func (m *Metrics) RecordResponse(key string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[key] = append(m.responseTimes[key], duration)
	if len(m.responseTimes[key]) > maxSamples {
		m.responseTimes[key] = m.responseTimes[key][1:]
	}

	if m.statusCodes[key] == nil {
		m.statusCodes[key] = make(map[int]int64)
	}
	m.statusCodes[key][statusCode]++
}

func (m *Metrics) UpdateHealthStatus(key string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[key] = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:  time.Since(m.startTime),
		Targets: make(map[string]TargetMetrics),
	}

	keys := make(map[string]bool)
	for key := range m.requests {
		keys[key] = true
	}
	for key := range m.rejected {
		keys[key] = true
	}
	for key := range m.responseTimes {
		keys[key] = true
	}
	for key := range m.healthStatus {
		keys[key] = true
	}

	for key := range keys {
		snap.TotalRequests += m.requests[key]

		tm := TargetMetrics{
			Requests:    m.requests[key],
			Rejected:    m.rejected[key],
			StatusCodes: make(map[int]int64, len(m.statusCodes[key])),
		}
		for code, n := range m.statusCodes[key] {
			tm.StatusCodes[code] = n
		}
		if healthy, ok := m.healthStatus[key]; ok {
			tm.Healthy = &healthy
		}

		durations := m.responseTimes[key]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			tm.AvgResponse = average(sorted)
			tm.P50Response = percentile(sorted, 0.50)
			tm.P95Response = percentile(sorted, 0.95)
			tm.P99Response = percentile(sorted, 0.99)
		}

		snap.Targets[key] = tm
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
