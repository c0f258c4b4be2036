package circuitbreaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/internal/circuitbreaker"
)

var _ = Describe("CircuitBreaker", func() {
	var cb *circuitbreaker.CircuitBreaker

	BeforeEach(func() {
		cb = circuitbreaker.NewCircuitBreaker(3, 50*time.Millisecond)
	})

	It("should start closed", func() {
		Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		Expect(cb.Allow()).To(BeTrue())
		Expect(cb.Failures()).To(Equal(0))
	})

	It("should raise a threshold below one to one", func() {
		cb = circuitbreaker.NewCircuitBreaker(0, time.Second)
		cb.RecordFailure()
		Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
	})

	Context("when closed", func() {
		It("should stay closed below the threshold", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Failures()).To(Equal(2))
		})

		It("should open at the threshold", func() {
			for i := 0; i < 3; i++ {
				cb.RecordFailure()
			}
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			Expect(cb.Allow()).To(BeFalse())
		})

		It("should count consecutive failures only", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			cb.RecordSuccess()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Failures()).To(Equal(1))
		})
	})

	Context("when open", func() {
		var clock time.Time

		BeforeEach(func() {
			clock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			cb.SetClock(func() time.Time { return clock })

			for i := 0; i < 3; i++ {
				cb.RecordFailure()
			}
		})

		It("should reject traffic until the reset timeout elapses", func() {
			clock = clock.Add(49 * time.Millisecond)
			Expect(cb.Allow()).To(BeFalse())
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should move to half-open after the reset timeout", func() {
			clock = clock.Add(50 * time.Millisecond)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
		})

		It("should close on a successful trial", func() {
			clock = clock.Add(time.Second)
			Expect(cb.Allow()).To(BeTrue())
			cb.RecordSuccess()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Failures()).To(Equal(0))
		})

		It("should reopen on a failed trial and restart the timeout", func() {
			clock = clock.Add(time.Second)
			Expect(cb.Allow()).To(BeTrue())
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			Expect(cb.Allow()).To(BeFalse())

			clock = clock.Add(50 * time.Millisecond)
			Expect(cb.Allow()).To(BeTrue())
		})
	})

	DescribeTable("State.String",
		func(state circuitbreaker.State, expected string) {
			Expect(state.String()).To(Equal(expected))
		},
		Entry("closed", circuitbreaker.StateClosed, "CLOSED"),
		Entry("open", circuitbreaker.StateOpen, "OPEN"),
		Entry("half-open", circuitbreaker.StateHalfOpen, "HALF-OPEN"),
		Entry("unknown", circuitbreaker.State(42), "UNKNOWN"),
	)
})
