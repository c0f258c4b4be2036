package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/strategy"
)

var _ = Describe("Random", func() {
	var backends []*backend.Backend

	BeforeEach(func() {
		backends = newBackends(4)
	})

	It("should return nil for an empty backend list", func() {
		Expect(strategy.NewRandomStrategy().SelectBackend(nil)).To(BeNil())
	})

	It("should always return the only backend of a single-backend set", func() {
		single := newBackends(1)
		strat := strategy.NewRandomStrategy()
		for i := 0; i < 50; i++ {
			Expect(strat.SelectBackend(single)).To(BeIdenticalTo(single[0]))
		}
	})

	It("should converge to a uniform distribution", func() {
		strat := strategy.NewRandomStrategy()
		const draws = 40000

		counts := make(map[*backend.Backend]int)
		for i := 0; i < draws; i++ {
			counts[strat.SelectBackend(backends)]++
		}

		Expect(counts).To(HaveLen(len(backends)))
		for _, b := range backends {
			share := float64(counts[b]) / draws
			Expect(share).To(BeNumerically("~", 0.25, 0.02))
		}
	})

	It("should replay the same sequence for the same seed", func() {
		a := strategy.NewSeededRandomStrategy(42)
		b := strategy.NewSeededRandomStrategy(42)
		for i := 0; i < 100; i++ {
			Expect(a.SelectBackend(backends)).To(BeIdenticalTo(b.SelectBackend(backends)))
		}
	})

	It("should be safe for concurrent use when seeded", func() {
		strat := strategy.NewSeededRandomStrategy(7)
		done := make(chan struct{})
		for g := 0; g < 8; g++ {
			go func() {
				defer GinkgoRecover()
				for i := 0; i < 200; i++ {
					Expect(backends).To(ContainElement(BeIdenticalTo(strat.SelectBackend(backends))))
				}
				done <- struct{}{}
			}()
		}
		for g := 0; g < 8; g++ {
			Eventually(done).Should(Receive())
		}
	})
})
