package strategy_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/strategy"
)

var _ = Describe("WeightedRoundRobin", func() {
	var strat strategy.Strategy

	BeforeEach(func() {
		strat = strategy.NewWeightedRoundRobinStrategy()
	})

	count := func(backends []*backend.Backend, iterations int) map[*backend.Backend]int {
		counts := make(map[*backend.Backend]int)
		for i := 0; i < iterations; i++ {
			b := strat.SelectBackend(backends)
			Expect(b).NotTo(BeNil())
			counts[b]++
		}
		return counts
	}

	It("should distribute evenly with equal weights", func() {
		backends := newBackends(3)
		counts := count(backends, 300)
		for _, b := range backends {
			Expect(counts[b]).To(Equal(100))
		}
	})

	It("should distribute proportionally to weights", func() {
		backends := []*backend.Backend{
			newWeighted("http://localhost:8081", 5),
			newWeighted("http://localhost:8082", 3),
			newWeighted("redis://localhost:6379", 1),
		}

		counts := count(backends, 900)
		Expect(counts[backends[0]]).To(Equal(500))
		Expect(counts[backends[1]]).To(Equal(300))
		Expect(counts[backends[2]]).To(Equal(100))
	})

	It("should handle extreme weight differences", func() {
		backends := []*backend.Backend{
			newWeighted("http://localhost:8081", 100),
			newWeighted("http://localhost:8082", 1),
		}

		counts := count(backends, 1010)
		Expect(counts[backends[0]]).To(Equal(1000))
		Expect(counts[backends[1]]).To(Equal(10))
	})

	It("should interleave picks instead of bursting", func() {
		backends := []*backend.Backend{
			newWeighted("http://localhost:8081", 2),
			newWeighted("http://localhost:8082", 1),
		}

		picks := make([]*backend.Backend, 6)
		for i := range picks {
			picks[i] = strat.SelectBackend(backends)
		}

		Expect(picks).To(Equal([]*backend.Backend{
			backends[0], backends[1], backends[0],
			backends[0], backends[1], backends[0],
		}))
	})

	It("should return nil for empty or nil backends", func() {
		Expect(strat.SelectBackend([]*backend.Backend{})).To(BeNil())
		Expect(strat.SelectBackend(nil)).To(BeNil())
	})

	It("should adapt when the candidate set shrinks", func() {
		backends := newBackends(3)
		count(backends, 10)

		counts := count(backends[:2], 100)
		Expect(counts).To(HaveLen(2))
		Expect(counts[backends[0]]).To(BeNumerically("~", 50, 2))
		Expect(counts[backends[1]]).To(BeNumerically("~", 50, 2))
	})

	It("should be safe for concurrent use", func() {
		backends := newBackends(2)

		var (
			wg    sync.WaitGroup
			mutex sync.Mutex
			total int
		)
		for g := 0; g < 10; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					if strat.SelectBackend(backends) != nil {
						mutex.Lock()
						total++
						mutex.Unlock()
					}
				}
			}()
		}
		wg.Wait()
		Expect(total).To(Equal(100))
	})
})
