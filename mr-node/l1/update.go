package l1

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/meridian-rollup/meridian/mr-service/client"
	"github.com/meridian-rollup/meridian/mr-service/eth"
	"github.com/meridian-rollup/meridian/mr-service/retry"
)

// updateLoop is the background task that keeps the snapshot current: it
// streams new L1 heads (WebSocket subscription if configured, HTTP polling
// otherwise), polls the finality frontier once per head, and broadcasts
// progress events. It exits only when the context is done; any stream
// failure tears the stream down and starts over.
func (c *L1Client) updateLoop(ctx context.Context) {
	for attempt := 0; ctx.Err() == nil; attempt++ {
		// Fetch the current head up front and replay it as the first stream
		// element, so the state initializes without waiting for a new block.
		head, err := retry.Forever(ctx, retry.Fixed(c.cfg.RetryDelay), func() (eth.L1BlockInfoWithParent, error) {
			head, err := c.ethCl.BlockInfoByLabel(ctx, eth.Latest)
			if err != nil {
				c.log.Info("Failed to fetch L1 head block, will retry", "err", err)
			}
			return head, err
		})
		if err != nil {
			return
		}

		var heads <-chan eth.L1BlockInfoWithParent
		var stop func()
		if n := len(c.cfg.WSProviders); n > 0 {
			// Rotate WebSocket hosts across attempts, in case one host
			// specifically is the problem.
			heads, stop, err = c.subscribeHeads(ctx, head, c.cfg.WSProviders[attempt%n])
			if err != nil {
				c.log.Warn("Failed to subscribe to L1 blocks, will retry", "err", err)
				if c.retrySleep(ctx) != nil {
					return
				}
				continue
			}
		} else {
			heads, stop = c.pollHeads(ctx, head)
		}

		c.log.Info("Established L1 block stream")
		c.consumeHeads(ctx, heads)
		stop()

		if ctx.Err() == nil {
			c.metrics.RecordReconnect()
		}
	}
}

// consumeHeads processes stream elements until the stream ends, stalls past
// the subscription timeout, or the context is done.
func (c *L1Client) consumeHeads(ctx context.Context, heads <-chan eth.L1BlockInfoWithParent) {
	timeout := time.NewTimer(c.cfg.SubscriptionTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-heads:
			if !ok {
				c.log.Error("L1 block stream ended unexpectedly, re-establishing block stream")
				return
			}
			c.processHead(ctx, head.Number)
			if !timeout.Stop() {
				<-timeout.C
			}
			timeout.Reset(c.cfg.SubscriptionTimeout)
		case <-timeout.C:
			c.log.Error("No L1 block received within timeout, re-establishing block stream",
				"timeout", c.cfg.SubscriptionTimeout)
			return
		}
	}
}

// processHead handles one received head: it polls the current finalized
// block, advances the snapshot and broadcasts what changed. New blocks are
// rare enough that polling finality once per head is cheap.
func (c *L1Client) processHead(ctx context.Context, head uint64) {
	c.log.Debug("Received L1 block", "head", head)

	finalized, err := retry.Forever(ctx, retry.Fixed(c.cfg.RetryDelay), func() (*eth.L1BlockInfoWithParent, error) {
		return c.fetchFinalizedTip(ctx)
	})
	if err != nil {
		return
	}

	oldSnapshot := c.state.Snapshot()
	newHead, newFinalized := c.state.advance(head, finalized)
	if newHead {
		c.log.Debug("L1 head updated", "head", head, "old_head", oldSnapshot.Head)
		c.metrics.RecordHead(head)
		c.feed.send(NewHeadEvent{Head: head})
	}
	if newFinalized {
		c.log.Info("L1 finalized updated", "finalized", finalized, "old_finalized", oldSnapshot.Finalized)
		c.metrics.RecordFinalized(finalized.Number)
		c.feed.send(NewFinalizedEvent{Finalized: *finalized})
	}
}

// fetchFinalizedTip fetches the network's current finalized block. A young
// chain that has not finalized anything yet yields nil rather than an error,
// which is common in test and demo environments.
func (c *L1Client) fetchFinalizedTip(ctx context.Context) (*eth.L1BlockInfoWithParent, error) {
	info, err := c.ethCl.BlockInfoByLabel(ctx, eth.Finalized)
	if errors.Is(err, ethereum.NotFound) {
		c.log.Warn("No finalized L1 block yet")
		return nil, nil
	}
	if err != nil {
		c.log.Warn("Failed to fetch finalized L1 block, will retry", "err", err)
		return nil, err
	}
	return &info, nil
}

// subscribeHeads streams heads from a newHeads WebSocket subscription on the
// given host, after replaying the already-fetched current head. The returned
// stop function tears the subscription down.
func (c *L1Client) subscribeHeads(ctx context.Context, first eth.L1BlockInfoWithParent, wsURL string) (<-chan eth.L1BlockInfoWithParent, func(), error) {
	wsClient, err := client.NewRPC(ctx, c.log, wsURL)
	if err != nil {
		return nil, nil, err
	}
	rawHeads := make(chan *types.Header, 10)
	sub, err := wsClient.Subscribe(ctx, "eth", rawHeads, "newHeads")
	if err != nil {
		wsClient.Close()
		return nil, nil, err
	}

	streamCtx, stop := context.WithCancel(ctx)
	out := make(chan eth.L1BlockInfoWithParent, 1)
	go func() {
		defer close(out)
		defer wsClient.Close()
		defer sub.Unsubscribe()

		if !sendHead(streamCtx, out, first) {
			return
		}
		for {
			select {
			case <-streamCtx.Done():
				return
			case err := <-sub.Err():
				c.log.Warn("L1 block subscription failed", "err", err)
				return
			case header := <-rawHeads:
				if !sendHead(streamCtx, out, headerToBlockInfo(header)) {
					return
				}
			}
		}
	}()
	return out, stop, nil
}

// pollHeads simulates a subscription over the HTTP transport: it replays the
// already-fetched current head, then polls the chain tip at the configured
// interval and fetches each new tip by its hash. The stream ends early when
// the transport fails over, so polling resumes promptly against the new
// active provider.
func (c *L1Client) pollHeads(ctx context.Context, first eth.L1BlockInfoWithParent) (<-chan eth.L1BlockInfoWithParent, func()) {
	streamCtx, stop := context.WithCancel(ctx)
	switched := c.transport.Switched()
	out := make(chan eth.L1BlockInfoWithParent, 1)
	go func() {
		defer close(out)

		if !sendHead(streamCtx, out, first) {
			return
		}
		lastHash := first.Hash

		ticker := time.NewTicker(c.cfg.PollingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-switched:
				c.log.Debug("L1 transport switched, restarting head polling")
				return
			case <-ticker.C:
				tip, err := c.ethCl.BlockInfoByLabel(streamCtx, eth.Latest)
				if err != nil {
					// Skip this tick; persistent failures trigger a failover,
					// which ends the stream via the switch signal.
					c.log.Warn("Failed to poll L1 head block", "err", err)
					continue
				}
				if tip.Hash == lastHash {
					continue
				}
				// Re-fetch the new tip by its hash, so the block handed out is
				// verified against the hash we observed and cached under it.
				info, err := c.ethCl.BlockInfoByHash(streamCtx, tip.Hash)
				if err != nil {
					c.log.Warn("Failed to fetch polled L1 head block", "hash", tip.Hash, "err", err)
					continue
				}
				lastHash = info.Hash
				if !sendHead(streamCtx, out, info) {
					return
				}
			}
		}
	}()
	return out, stop
}

func sendHead(ctx context.Context, ch chan<- eth.L1BlockInfoWithParent, head eth.L1BlockInfoWithParent) bool {
	select {
	case ch <- head:
		return true
	case <-ctx.Done():
		return false
	}
}

func headerToBlockInfo(header *types.Header) eth.L1BlockInfoWithParent {
	info := eth.L1BlockInfo{
		Number: header.Number.Uint64(),
		Hash:   header.Hash(),
	}
	info.Timestamp.SetUint64(header.Time)
	return eth.L1BlockInfoWithParent{
		L1BlockInfo: info,
		ParentHash:  header.ParentHash,
	}
}
