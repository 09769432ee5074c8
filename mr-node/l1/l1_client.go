// Package l1 maintains a continuously updated, failure tolerant view of an
// L1 chain: its current head, its finalized block, and the deposit events
// the rollup credits on its own chain.
//
// All RPC traffic runs through a failover transport over the configured
// providers. Finalized history is resolved by walking parent hashes backward
// from a known finalized block, so a lagging provider that was just failed
// over to cannot serve us a conflicting block.
package l1

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/meridian-rollup/meridian/mr-service/client"
	"github.com/meridian-rollup/meridian/mr-service/eth"
	"github.com/meridian-rollup/meridian/mr-service/retry"
	"github.com/meridian-rollup/meridian/mr-service/sources"
)

// implementationSlot is the EIP-1967 implementation slot,
// keccak256("eip1967.proxy.implementation") - 1.
var implementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// L1Client watches an L1 chain through a set of RPC providers.
//
// A background update loop (see Start) tracks the chain head and the finality
// frontier, keeps the snapshot current and broadcasts events. The WaitFor*
// methods block until the chain reaches the requested point; they only fail
// if the passed context does.
type L1Client struct {
	cfg     Config
	log     log.Logger
	metrics Metricer

	transport *client.SwitchingClient
	ethCl     *sources.EthClient
	state     *l1State
	feed      *eventFeed

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewL1Client dials the configured providers and returns a stopped client.
// Call Start to begin tracking the chain.
func NewL1Client(ctx context.Context, lgr log.Logger, m Metricer, cfg Config) (*L1Client, error) {
	cfg.fillDefaults()
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid L1 client config: %w", err)
	}
	if m == nil {
		m = NoopMetrics{}
	}
	transport, err := client.NewSwitchingClient(ctx, lgr, m, cfg.Transport, cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to set up L1 transport: %w", err)
	}
	return newL1Client(lgr, m, cfg, transport)
}

func newL1Client(lgr log.Logger, m Metricer, cfg Config, transport *client.SwitchingClient) (*L1Client, error) {
	ethCl, err := sources.NewEthClient(transport, lgr, m, &sources.EthClientConfig{
		HeadersCacheSize: cfg.BlocksCacheSize,
	})
	if err != nil {
		transport.Close()
		return nil, err
	}
	return &L1Client{
		cfg:       cfg,
		log:       lgr,
		metrics:   m,
		transport: transport,
		ethCl:     ethCl,
		state:     newL1State(lgr, m, cfg.BlocksCacheSize),
		feed:      newEventFeed(cfg.EventsChannelCapacity),
	}, nil
}

// Start spawns the background update loop. Calling Start on a running client
// is a no-op.
func (c *L1Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	go func() {
		defer close(done)
		c.updateLoop(ctx)
	}()
}

// Stop cancels the update loop and waits for it to exit. Calling Stop on a
// stopped client is a no-op; the client can be started again afterwards.
func (c *L1Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the client and releases the RPC connections. The client cannot
// be restarted afterwards.
func (c *L1Client) Close() {
	c.Stop()
	c.feed.close()
	c.ethCl.Close()
}

// Snapshot returns the latest known (head, finalized) view of the L1.
func (c *L1Client) Snapshot() eth.L1Snapshot {
	return c.state.Snapshot()
}

// SubscribeEvents subscribes to chain progress notifications. Slow consumers
// lose their oldest undelivered events rather than blocking the client.
func (c *L1Client) SubscribeEvents() *EventSubscription {
	return c.feed.subscribe()
}

// WaitForBlock blocks until the L1 head height reaches at least number.
//
// It carries no information about the block itself: the head is not
// necessarily finalized, so all it guarantees is that some block at this
// height exists. The only error it returns is the context's.
func (c *L1Client) WaitForBlock(ctx context.Context, number uint64) error {
	for {
		// Subscribe before checking the current state, so an update between
		// the check and the subscription cannot be missed.
		sub := c.feed.subscribe()

		if head := c.state.Snapshot().Head; head >= number {
			sub.Unsubscribe()
			return nil
		}
		c.log.Info("Waiting for L1 block", "number", number)

		ok, err := c.consumeEvents(ctx, sub, func(ev Event) bool {
			head, isHead := ev.(NewHeadEvent)
			return isHead && head.Head >= number
		})
		sub.Unsubscribe()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		// The stream ended without delivering the block. All we can do is
		// wait a moment and start the whole wait over.
		c.log.Warn("L1 event stream ended unexpectedly, retrying wait", "number", number)
		if err := c.retrySleep(ctx); err != nil {
			return err
		}
	}
}

// WaitForFinalizedBlock blocks until the block at the given height is
// finalized and returns it. The block's provenance is verified by hash
// chaining from a finalized descendant. The only error it returns is the
// context's.
func (c *L1Client) WaitForFinalizedBlock(ctx context.Context, number uint64) (eth.L1BlockInfo, error) {
	for {
		sub := c.feed.subscribe()

		if fin := c.state.Snapshot().Finalized; fin != nil && fin.Number >= number {
			sub.Unsubscribe()
			return c.finalizedBlockByNumber(ctx, number)
		}
		c.log.Info("Waiting for finalized L1 block", "number", number)

		ok, err := c.consumeEvents(ctx, sub, func(ev Event) bool {
			fin, isFin := ev.(NewFinalizedEvent)
			return isFin && fin.Finalized.Number >= number
		})
		sub.Unsubscribe()
		if err != nil {
			return eth.L1BlockInfo{}, err
		}
		if ok {
			return c.finalizedBlockByNumber(ctx, number)
		}

		c.log.Warn("L1 event stream ended unexpectedly, retrying wait", "number", number)
		if err := c.retrySleep(ctx); err != nil {
			return eth.L1BlockInfo{}, err
		}
	}
}

// WaitForFinalizedBlockWithTimestamp blocks until some finalized block has a
// timestamp >= the given one, then returns the earliest such block.
//
// Assumes timestamps are non-decreasing by height, which the L1 consensus
// rules guarantee. The only error it returns is the context's.
func (c *L1Client) WaitForFinalizedBlockWithTimestamp(ctx context.Context, timestamp *uint256.Int) (eth.L1BlockInfo, error) {
	// Wait until the finalized tip has a sufficient timestamp; it is the
	// upper bound of the search.
	block, err := c.waitForFinalizedTimestamp(ctx, timestamp)
	if err != nil {
		return eth.L1BlockInfo{}, err
	}

	// Some earlier block may also satisfy the timestamp. Binary search for
	// the earliest one. Invariants: block has timestamp >= the target,
	// block number lower-1 has timestamp < the target (strictly).
	upper := block.Number
	lower := uint64(0)
	for lower < upper {
		mid := (lower + upper) / 2
		midBlock, err := c.finalizedBlockByNumber(ctx, mid)
		if err != nil {
			return eth.L1BlockInfo{}, err
		}
		if midBlock.Timestamp.Lt(timestamp) {
			lower = mid + 1
		} else {
			upper = mid
			block = midBlock
		}
	}
	return block, nil
}

func (c *L1Client) waitForFinalizedTimestamp(ctx context.Context, timestamp *uint256.Int) (eth.L1BlockInfo, error) {
	for {
		sub := c.feed.subscribe()

		if fin := c.state.Snapshot().Finalized; fin != nil && !fin.Timestamp.Lt(timestamp) {
			sub.Unsubscribe()
			return *fin, nil
		}
		c.log.Info("Waiting for finalized L1 block with timestamp", "timestamp", timestamp)

		var found eth.L1BlockInfo
		ok, err := c.consumeEvents(ctx, sub, func(ev Event) bool {
			fin, isFin := ev.(NewFinalizedEvent)
			if !isFin || fin.Finalized.Timestamp.Lt(timestamp) {
				return false
			}
			found = fin.Finalized.L1BlockInfo
			return true
		})
		sub.Unsubscribe()
		if err != nil {
			return eth.L1BlockInfo{}, err
		}
		if ok {
			return found, nil
		}

		c.log.Warn("L1 event stream ended unexpectedly, retrying wait", "timestamp", timestamp)
		if err := c.retrySleep(ctx); err != nil {
			return eth.L1BlockInfo{}, err
		}
	}
}

// consumeEvents drains the subscription until the predicate matches (true),
// the stream ends (false), or the context is done (error).
func (c *L1Client) consumeEvents(ctx context.Context, sub *EventSubscription, match func(Event) bool) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return false, nil
			}
			if match(ev) {
				return true, nil
			}
		}
	}
}

// finalizedBlockByNumber resolves the finalized block at the given height,
// which must already be at or below the snapshot's finalized height.
//
// Looking the block up by number alone would be unsound: after a failover,
// the new provider may lag behind the old one and report a non-finalized
// (reorgable) block at this height. Instead we locate a known finalized
// descendant and walk parent hashes backward to the requested height,
// caching every visited block. Lookups far enough below the finality
// frontier (per the configured safety margin) skip the walk: every provider
// has long since finalized them.
func (c *L1Client) finalizedBlockByNumber(ctx context.Context, number uint64) (eth.L1BlockInfo, error) {
	latest := c.state.Snapshot().Finalized
	if latest == nil || number > latest.Number {
		panic(fmt.Sprintf("requesting finalized block %d beyond the finalized height %s", number, latest))
	}

	if margin := c.cfg.FinalizedSafetyMargin; margin > 0 && number < latest.Number-min(margin, latest.Number) {
		c.log.Debug("Skipping hash chain check for old finalized block", "number", number, "finalized", latest)
		block, err := c.loadAndCacheFinalized(ctx, func(fetchCtx context.Context) (eth.L1BlockInfoWithParent, error) {
			return c.ethCl.BlockInfoByNumber(fetchCtx, number)
		})
		return block.L1BlockInfo, err
	}

	// Find a finalized descendant at or after the requested height: the
	// nearest cached one, or failing that the network's current finalized
	// block.
	successor, ok := c.cachedDescendant(number, latest.Number)
	if !ok {
		var err error
		successor, err = c.loadAndCacheFinalized(ctx, func(fetchCtx context.Context) (eth.L1BlockInfoWithParent, error) {
			info, err := c.ethCl.BlockInfoByLabel(fetchCtx, eth.Finalized)
			if errors.Is(err, ethereum.NotFound) {
				// Can be caused by a failover to a provider that has not
				// finalized anything yet, even though our snapshot has.
				return eth.L1BlockInfoWithParent{}, errors.New("provider reports no finalized block")
			}
			return info, err
		})
		if err != nil {
			return eth.L1BlockInfo{}, err
		}
	}

	// Walk backward from the descendant, fetching by parent hash so each
	// step is verified against the previous one.
	for successor.Number > number {
		c.log.Debug("Verifying hash chain for finalized block", "number", number, "successor", successor)
		parentHash := successor.ParentHash
		var err error
		successor, err = c.loadAndCacheFinalized(ctx, func(fetchCtx context.Context) (eth.L1BlockInfoWithParent, error) {
			return c.ethCl.BlockInfoByHash(fetchCtx, parentHash)
		})
		if err != nil {
			return eth.L1BlockInfo{}, err
		}
	}
	return successor.L1BlockInfo, nil
}

// cachedDescendant scans the finalized cache upward from the given height for
// the nearest cached block at or after it.
func (c *L1Client) cachedDescendant(number, latestFinalized uint64) (eth.L1BlockInfoWithParent, bool) {
	for n := number; n <= latestFinalized; n++ {
		if block, ok := c.state.getFinalized(n); ok {
			return block, true
		}
	}
	return eth.L1BlockInfoWithParent{}, false
}

// loadAndCacheFinalized retries the fetch until it succeeds or the context is
// done, then records the block in the finalized cache.
func (c *L1Client) loadAndCacheFinalized(ctx context.Context, fetch func(context.Context) (eth.L1BlockInfoWithParent, error)) (eth.L1BlockInfoWithParent, error) {
	block, err := retry.Forever(ctx, retry.Fixed(c.cfg.RetryDelay), func() (eth.L1BlockInfoWithParent, error) {
		block, err := fetch(ctx)
		if err != nil {
			c.log.Warn("Failed to fetch finalized L1 block, will retry", "err", err)
		}
		return block, err
	})
	if err != nil {
		return eth.L1BlockInfoWithParent{}, err
	}
	c.state.putFinalized(block)
	return block, nil
}

// IsProxyContract reports whether the given address is an EIP-1967 proxy, by
// checking that its implementation slot holds a non-zero address.
func (c *L1Client) IsProxyContract(ctx context.Context, proxyAddress common.Address) (bool, error) {
	storage, err := c.ethCl.GetStorageAt(ctx, proxyAddress, implementationSlot, string(eth.Latest))
	if err != nil {
		return false, fmt.Errorf("failed to read implementation slot of %s: %w", proxyAddress, err)
	}
	implementation := common.BytesToAddress(storage.Bytes())
	return implementation != (common.Address{}), nil
}

// RetryOnAllProviders repeats op until it succeeds or every configured
// provider has had a chance to serve it: it gives up once the transport has
// advanced a full round of generations past the one it started on, and
// returns the last error.
func (c *L1Client) RetryOnAllProviders(ctx context.Context, op func() error) error {
	start := c.transport.Current().Generation()
	end := start + c.transport.NumProviders()
	for {
		err := op()
		if err == nil {
			return nil
		}
		if c.transport.Current().Generation() >= end {
			return err
		}
		if serr := c.retrySleep(ctx); serr != nil {
			return serr
		}
	}
}

func (c *L1Client) retrySleep(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
