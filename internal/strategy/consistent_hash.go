package strategy

import (
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/angeloszaimis/dispatcher/internal/backend"
)

const defaultVirtualNodes = 100

// consistentHashStrategy maps a key onto a crc32 ring of virtual nodes.
// The ring is rebuilt whenever the candidate set changes, e.g. when the
// health-aware filter drops a backend.
type consistentHashStrategy struct {
	virtualNodes int
	mutex        sync.RWMutex
	ring         *ring
}

type ring struct {
	signature string
	positions []uint32
	owners    map[uint32]*backend.Backend
}

func buildRing(backends []*backend.Backend, vnodes int, signature string) *ring {
	r := &ring{
		signature: signature,
		positions: make([]uint32, 0, len(backends)*vnodes),
		owners:    make(map[uint32]*backend.Backend, len(backends)*vnodes),
	}

	for _, b := range backends {
		for i := 0; i < vnodes; i++ {
			hash := crc32.ChecksumIEEE([]byte(b.Address() + "#" + strconv.Itoa(i)))
			if _, taken := r.owners[hash]; taken {
				continue
			}
			r.positions = append(r.positions, hash)
			r.owners[hash] = b
		}
	}

	sort.Slice(r.positions, func(i, j int) bool { return r.positions[i] < r.positions[j] })
	return r
}

func (r *ring) lookup(hash uint32) *backend.Backend {
	if len(r.positions) == 0 {
		return nil
	}

	idx := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= hash
	})
	if idx == len(r.positions) {
		idx = 0
	}

	return r.owners[r.positions[idx]]
}

func signatureOf(backends []*backend.Backend) string {
	var sb strings.Builder
	for _, b := range backends {
		sb.WriteString(b.Address())
		sb.WriteByte('|')
	}
	return sb.String()
}

func (s *consistentHashStrategy) ringFor(backends []*backend.Backend) *ring {
	sig := signatureOf(backends)

	s.mutex.RLock()
	r := s.ring
	s.mutex.RUnlock()

	if r != nil && r.signature == sig {
		return r
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.ring == nil || s.ring.signature != sig {
		s.ring = buildRing(backends, s.virtualNodes, sig)
	}
	return s.ring
}

// SelectBackend without a key routes everything to the owner of hash 0.
func (s *consistentHashStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	return s.SelectBackendForKey(backends, "")
}

func (s *consistentHashStrategy) SelectBackendForKey(backends []*backend.Backend, key string) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	return s.ringFor(backends).lookup(crc32.ChecksumIEEE([]byte(key)))
}

func NewConsistentHashStrategy(virtualNodes int) Strategy {
	if virtualNodes <= 0 {
		virtualNodes = defaultVirtualNodes
	}

	return &consistentHashStrategy{virtualNodes: virtualNodes}
}
