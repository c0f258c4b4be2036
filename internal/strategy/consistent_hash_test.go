package strategy_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/strategy"
)

var _ = Describe("ConsistentHash", func() {
	var (
		keyed    strategy.KeyedStrategy
		backends []*backend.Backend
	)

	BeforeEach(func() {
		var ok bool
		keyed, ok = strategy.NewConsistentHashStrategy(100).(strategy.KeyedStrategy)
		Expect(ok).To(BeTrue())
		backends = newBackends(3)
	})

	It("should return the same backend for the same key", func() {
		first := keyed.SelectBackendForKey(backends, "192.168.1.100")
		Expect(first).NotTo(BeNil())

		for i := 0; i < 5; i++ {
			Expect(keyed.SelectBackendForKey(backends, "192.168.1.100")).To(BeIdenticalTo(first))
		}
	})

	It("should spread different keys across backends", func() {
		seen := make(map[*backend.Backend]bool)
		for i := 0; i < 200; i++ {
			seen[keyed.SelectBackendForKey(backends, fmt.Sprintf("10.0.%d.%d", i/256, i%256))] = true
		}
		Expect(seen).To(HaveLen(3))
	})

	It("should only move keys owned by a removed backend", func() {
		owners := make(map[string]*backend.Backend)
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("client-%d", i)
			owners[key] = keyed.SelectBackendForKey(backends, key)
		}

		remaining := backends[:2]
		for key, owner := range owners {
			now := keyed.SelectBackendForKey(remaining, key)
			if owner != backends[2] {
				Expect(now).To(BeIdenticalTo(owner), key)
			} else {
				Expect(remaining).To(ContainElement(BeIdenticalTo(now)))
			}
		}
	})

	It("should return nil for an empty backend list", func() {
		Expect(keyed.SelectBackendForKey(nil, "key")).To(BeNil())
	})
})
