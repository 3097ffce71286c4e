package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/devproxy/internal/metrics"
)

var _ = Describe("Metrics", func() {
	const php = "http://php:8000"

	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("IncrementRequests", func() {
		It("should track proxied and local requests separately", func() {
			m.IncrementRequests(php)
			m.IncrementRequests(metrics.LocalKey)
			m.IncrementRequests(php)

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Targets[php].Requests).To(Equal(int64(2)))
			Expect(snap.Targets[metrics.LocalKey].Requests).To(Equal(int64(1)))
		})
	})

	Describe("IncrementRejected", func() {
		It("should count rejections without counting requests", func() {
			m.IncrementRejected(php)

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(BeZero())
			Expect(snap.Targets[php].Rejected).To(Equal(int64(1)))
		})
	})

	Describe("RecordResponse", func() {
		It("should record response time and status code", func() {
			m.RecordResponse(php, 100*time.Millisecond, 200)
			m.RecordResponse(php, 300*time.Millisecond, 502)

			tm := m.Snapshot().Targets[php]
			Expect(tm.AvgResponse).To(Equal(200 * time.Millisecond))
			Expect(tm.StatusCodes).To(Equal(map[int]int64{200: 1, 502: 1}))
		})

		It("should calculate percentiles", func() {
			for i := 1; i <= 100; i++ {
				m.RecordResponse(php, time.Duration(i)*time.Millisecond, 200)
			}

			tm := m.Snapshot().Targets[php]
			Expect(tm.P50Response).To(Equal(51 * time.Millisecond))
			Expect(tm.P95Response).To(BeNumerically("~", 95*time.Millisecond, time.Millisecond))
			Expect(tm.P99Response).To(BeNumerically("~", 99*time.Millisecond, time.Millisecond))
		})

		It("should keep only the most recent samples", func() {
			for i := 0; i < 1500; i++ {
				m.RecordResponse(php, time.Second, 200)
			}
			m.RecordResponse(php, time.Second, 200)

			tm := m.Snapshot().Targets[php]
			Expect(tm.StatusCodes[200]).To(Equal(int64(1501)))
			Expect(tm.AvgResponse).To(Equal(time.Second))
		})
	})

	Describe("UpdateHealthStatus", func() {
		It("should only report health for probed targets", func() {
			m.IncrementRequests(metrics.LocalKey)
			m.UpdateHealthStatus(php, false)

			snap := m.Snapshot()
			Expect(snap.Targets[metrics.LocalKey].Healthy).To(BeNil())
			Expect(snap.Targets[php].Healthy).To(HaveValue(BeFalse()))
		})
	})

	Describe("Snapshot", func() {
		It("should not share status code maps with the live metrics", func() {
			m.RecordResponse(php, time.Millisecond, 200)
			snap := m.Snapshot()
			m.RecordResponse(php, time.Millisecond, 200)

			Expect(snap.Targets[php].StatusCodes[200]).To(Equal(int64(1)))
		})
	})
})
