package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/devproxy/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(2, 50*time.Millisecond)
	})

	Describe("GetBreaker", func() {
		It("should return the same breaker for the same target", func() {
			Expect(registry.GetBreaker("http://php:8000")).To(BeIdenticalTo(registry.GetBreaker("http://php:8000")))
		})

		It("should return different breakers for different targets", func() {
			Expect(registry.GetBreaker("http://php:8000")).NotTo(BeIdenticalTo(registry.GetBreaker("http://api:9000")))
		})

		It("should configure breakers with the registry settings", func() {
			cb := registry.GetBreaker("http://php:8000")
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			time.Sleep(60 * time.Millisecond)
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should create a single breaker under concurrent access", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					registry.GetBreaker("http://php:8000")
				}()
			}
			wg.Wait()

			Expect(registry.Stats()).To(HaveLen(1))
		})
	})

	Describe("Stats and Reset", func() {
		It("should report and then forget breaker states", func() {
			registry.GetBreaker("http://php:8000")
			down := registry.GetBreaker("http://api:9000")
			down.RecordFailure()
			down.RecordFailure()

			Expect(registry.Stats()).To(Equal(map[string]circuitbreaker.State{
				"http://php:8000": circuitbreaker.StateClosed,
				"http://api:9000": circuitbreaker.StateOpen,
			}))

			registry.Reset()
			Expect(registry.Stats()).To(BeEmpty())
		})
	})
})
