package l1

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/meridian-rollup/meridian/mr-service/eth"
	"github.com/meridian-rollup/meridian/mr-service/sources/caching"
)

// l1State is the client's view of the L1 chain: the latest snapshot plus a
// bounded cache of finalized blocks. Only finalized blocks are cached, since
// they are the only ones that cannot be invalidated by a reorg. The lock is
// never held across a network call.
type l1State struct {
	mu       sync.RWMutex
	snapshot eth.L1Snapshot
	// finalized blocks, keyed by height since a finalized height maps to
	// exactly one block
	finalized *caching.LRUCache[uint64, eth.L1BlockInfoWithParent]
	// lastFinalized is the highest finalized height ever observed, a
	// watermark that survives cache evictions.
	lastFinalized *uint64

	log log.Logger
}

func newL1State(lgr log.Logger, m caching.Metrics, cacheSize int) *l1State {
	return &l1State{
		finalized: caching.NewLRUCache[uint64, eth.L1BlockInfoWithParent](m, "finalized_blocks", cacheSize),
		log:       lgr,
	}
}

func (s *l1State) Snapshot() eth.L1Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// advance applies one update-loop observation: the latest head height and the
// latest finalized block (nil if the chain has not finalized anything yet).
// Both watermarks only ever move forward; stale observations are ignored.
func (s *l1State) advance(head uint64, finalized *eth.L1BlockInfoWithParent) (newHead, newFinalized bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if head > s.snapshot.Head {
		s.snapshot.Head = head
		newHead = true
	}
	if finalized != nil && (s.snapshot.Finalized == nil || finalized.Number > s.snapshot.Finalized.Number) {
		info := finalized.L1BlockInfo
		s.snapshot.Finalized = &info
		s.putFinalizedLocked(*finalized)
		newFinalized = true
	}
	return newHead, newFinalized
}

// putFinalized caches a finalized block. The caller must only pass blocks at
// or below the snapshot's finalized height; anything else indicates a logic
// error severe enough to crash on.
func (s *l1State) putFinalized(info eth.L1BlockInfoWithParent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putFinalizedLocked(info)
}

func (s *l1State) putFinalizedLocked(info eth.L1BlockInfoWithParent) {
	if s.snapshot.Finalized == nil || info.Number > s.snapshot.Finalized.Number {
		panic(fmt.Sprintf(
			"inserting block %s that is not finalized yet, snapshot finalized: %s",
			info, s.snapshot.Finalized,
		))
	}

	if s.lastFinalized == nil || *s.lastFinalized < info.Number {
		n := info.Number
		s.lastFinalized = &n
	}

	// Two different blocks at the same finalized height means a provider lied
	// about finality. Loud but non-fatal; the newer entry wins.
	if old, ok := s.finalized.Peek(info.Number); ok && old != info {
		s.log.Error("Conflicting finalized blocks at the same height, L1 provider may be unreliable",
			"height", info.Number, "old", old, "new", info)
	}
	s.finalized.Add(info.Number, info)
}

// getFinalized returns the cached finalized block at the given height.
func (s *l1State) getFinalized(number uint64) (eth.L1BlockInfoWithParent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalized.Get(number)
}

// lastFinalizedNumber returns the lastFinalized watermark.
func (s *l1State) lastFinalizedNumber() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastFinalized == nil {
		return 0, false
	}
	return *s.lastFinalized, true
}
