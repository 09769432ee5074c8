package l1

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/meridian-rollup/meridian/mr-service/client"
	"github.com/meridian-rollup/meridian/mr-service/eth"
	"github.com/meridian-rollup/meridian/mr-service/testlog"
	"github.com/meridian-rollup/meridian/mr-service/testutils"
)

// fastTestConfig keeps retry and polling delays small so tests that exercise
// real timers stay quick.
func fastTestConfig() Config {
	return Config{
		Providers:           []string{"test"},
		RetryDelay:          10 * time.Millisecond,
		PollingInterval:     10 * time.Millisecond,
		SubscriptionTimeout: 5 * time.Second,
	}
}

func newTestL1(t *testing.T, cfg Config, handles ...client.RPC) *L1Client {
	t.Helper()
	cfg.fillDefaults()
	require.NoError(t, cfg.Check())
	lgr := testlog.Logger(t, slog.LevelDebug)
	transport, err := client.NewSwitchingClientWithHandles(lgr, nil, cfg.Transport, handles)
	require.NoError(t, err)
	cl, err := newL1Client(lgr, NoopMetrics{}, cfg, transport)
	require.NoError(t, err)
	t.Cleanup(cl.Close)
	return cl
}

// chainBlock reads a block of the fake chain as the client would see it.
func chainBlock(chain *testutils.FakeChain, number uint64) eth.L1BlockInfoWithParent {
	info := eth.L1BlockInfo{
		Number: number,
		Hash:   chain.HashOf(number),
	}
	info.Timestamp.SetUint64(chain.TimeOf(number))
	var parent common.Hash
	if number > 0 {
		parent = chain.HashOf(number - 1)
	}
	return eth.L1BlockInfoWithParent{L1BlockInfo: info, ParentHash: parent}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestL1ClientTracksChainProgress(t *testing.T) {
	chain := testutils.NewFakeChain("progress", 1000, 12)
	chain.AddBlocks(10)
	chain.Finalize(4)

	cl := newTestL1(t, fastTestConfig(), chain)
	cl.Start()
	ctx := testCtx(t)

	// The replayed initial head initializes the snapshot without waiting for
	// a new block.
	require.NoError(t, cl.WaitForBlock(ctx, 10))
	snap := cl.Snapshot()
	require.Equal(t, uint64(10), snap.Head)
	require.NotNil(t, snap.Finalized)
	require.Equal(t, uint64(4), snap.Finalized.Number)

	// New blocks and finality progress are picked up by polling.
	sub := cl.SubscribeEvents()
	defer sub.Unsubscribe()
	chain.AddBlocks(5)
	chain.Finalize(12)

	require.NoError(t, cl.WaitForBlock(ctx, 15))
	finalized, err := cl.WaitForFinalizedBlock(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, chainBlock(chain, 12).L1BlockInfo, finalized)

	var sawHead, sawFinalized bool
	for !(sawHead && sawFinalized) {
		select {
		case ev := <-sub.C:
			switch ev := ev.(type) {
			case NewHeadEvent:
				sawHead = sawHead || ev.Head >= 15
			case NewFinalizedEvent:
				sawFinalized = sawFinalized || ev.Finalized.Number >= 12
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestL1ClientStartStopIdempotent(t *testing.T) {
	chain := testutils.NewFakeChain("lifecycle", 1000, 12)
	chain.AddBlocks(3)

	cl := newTestL1(t, fastTestConfig(), chain)
	cl.Start()
	cl.Start()
	require.NoError(t, cl.WaitForBlock(testCtx(t), 3))
	cl.Stop()
	cl.Stop()

	// The client can be restarted after a stop.
	chain.AddBlocks(2)
	cl.Start()
	require.NoError(t, cl.WaitForBlock(testCtx(t), 5))
	cl.Stop()
}

func TestL1ClientFailsOverToHealthyProvider(t *testing.T) {
	chain := testutils.NewFakeChain("failover", 1000, 12)
	chain.AddBlocks(6)
	down := &testutils.FailingRPC{Err: errors.New("connection refused")}

	cfg := fastTestConfig()
	cfg.Transport.ConsecutiveFailureTolerance = 2

	cl := newTestL1(t, cfg, down, chain)
	cl.Start()

	// The primary is unreachable, yet the snapshot fills in within the test
	// timeout via the secondary provider.
	require.NoError(t, cl.WaitForBlock(testCtx(t), 6))
	require.Equal(t, uint64(6), cl.Snapshot().Head)
	require.GreaterOrEqual(t, cl.transport.Current().Generation(), 1)
}

func TestWaitForBlockImmediate(t *testing.T) {
	chain := testutils.NewFakeChain("wait", 1000, 12)
	cl := newTestL1(t, fastTestConfig(), chain)

	cl.state.advance(5, nil)
	require.NoError(t, cl.WaitForBlock(testCtx(t), 3))
}

func TestWaitForBlockOnEvent(t *testing.T) {
	chain := testutils.NewFakeChain("wait", 1000, 12)
	cl := newTestL1(t, fastTestConfig(), chain)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cl.state.advance(4, nil)
		cl.feed.send(NewHeadEvent{Head: 4})
		time.Sleep(20 * time.Millisecond)
		cl.state.advance(7, nil)
		cl.feed.send(NewHeadEvent{Head: 7})
	}()
	require.NoError(t, cl.WaitForBlock(testCtx(t), 6))
}

func TestWaitForBlockContextCancelled(t *testing.T) {
	chain := testutils.NewFakeChain("wait", 1000, 12)
	cl := newTestL1(t, fastTestConfig(), chain)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := cl.WaitForBlock(ctx, 100)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForFinalizedBlockWalksHashChain(t *testing.T) {
	chain := testutils.NewFakeChain("chainwalk", 1000, 12)
	chain.AddBlocks(20)
	chain.Finalize(15)

	cl := newTestL1(t, fastTestConfig(), chain)
	fin := chainBlock(chain, 15)
	cl.state.advance(20, &fin)

	block, err := cl.WaitForFinalizedBlock(testCtx(t), 10)
	require.NoError(t, err)
	require.Equal(t, chainBlock(chain, 10).L1BlockInfo, block)

	// Every block visited by the walk is now cached.
	for n := uint64(10); n <= 15; n++ {
		cached, ok := cl.state.getFinalized(n)
		require.True(t, ok, "walk should have cached block %d", n)
		require.Equal(t, chainBlock(chain, n), cached)
	}

	// A second lookup is served from the cache without new RPC calls.
	calls := chain.Calls
	_, err = cl.WaitForFinalizedBlock(testCtx(t), 12)
	require.NoError(t, err)
	require.Equal(t, calls, chain.Calls)
}

func TestFinalizedBlockSafetyMarginSkipsWalk(t *testing.T) {
	chain := testutils.NewFakeChain("margin", 1000, 12)
	chain.AddBlocks(100)
	chain.Finalize(90)

	cfg := fastTestConfig()
	cfg.FinalizedSafetyMargin = 20

	cl := newTestL1(t, cfg, chain)
	fin := chainBlock(chain, 90)
	cl.state.advance(100, &fin)

	calls := chain.Calls
	block, err := cl.finalizedBlockByNumber(testCtx(t), 5)
	require.NoError(t, err)
	require.Equal(t, chainBlock(chain, 5).L1BlockInfo, block)
	// A single direct fetch, no walk from the finalized tip.
	require.Equal(t, calls+1, chain.Calls)
}

func TestWaitForFinalizedBlockWithTimestamp(t *testing.T) {
	chain := testutils.NewFakeChain("timestamps", 1000, 12)
	chain.AddBlocks(30)
	chain.FinalizeAll()

	cl := newTestL1(t, fastTestConfig(), chain)
	fin := chainBlock(chain, 30)
	cl.state.advance(30, &fin)
	ctx := testCtx(t)

	// Exact hit: the earliest block with timestamp >= t is block 17 itself.
	target := uint256.NewInt(chain.TimeOf(17))
	block, err := cl.WaitForFinalizedBlockWithTimestamp(ctx, target)
	require.NoError(t, err)
	require.Equal(t, uint64(17), block.Number)
	require.False(t, block.Timestamp.Lt(target))
	parent := chainBlock(chain, block.Number-1)
	require.True(t, parent.Timestamp.Lt(target))

	// Between two blocks: the next block is the answer.
	target = uint256.NewInt(chain.TimeOf(8) + 1)
	block, err = cl.WaitForFinalizedBlockWithTimestamp(ctx, target)
	require.NoError(t, err)
	require.Equal(t, uint64(9), block.Number)

	// At or before genesis: block 0.
	block, err = cl.WaitForFinalizedBlockWithTimestamp(ctx, uint256.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, uint64(0), block.Number)
}

func TestWaitForFinalizedBlockWithTimestampWaits(t *testing.T) {
	chain := testutils.NewFakeChain("timestamps", 1000, 12)
	chain.AddBlocks(10)
	chain.FinalizeAll()

	cl := newTestL1(t, fastTestConfig(), chain)
	fin5 := chainBlock(chain, 5)
	cl.state.advance(10, &fin5)

	// The finalized tip is too early; finality must progress first.
	target := uint256.NewInt(chain.TimeOf(8))
	go func() {
		time.Sleep(30 * time.Millisecond)
		fin9 := chainBlock(chain, 9)
		cl.state.advance(10, &fin9)
		cl.feed.send(NewFinalizedEvent{Finalized: fin9})
	}()

	block, err := cl.WaitForFinalizedBlockWithTimestamp(testCtx(t), target)
	require.NoError(t, err)
	require.Equal(t, uint64(8), block.Number)
}

func TestIsProxyContract(t *testing.T) {
	chain := testutils.NewFakeChain("proxy", 1000, 12)
	cl := newTestL1(t, fastTestConfig(), chain)
	ctx := testCtx(t)

	proxy := common.HexToAddress("0x1111111111111111111111111111111111111111")
	plain := common.HexToAddress("0x2222222222222222222222222222222222222222")
	impl := common.HexToAddress("0x3333333333333333333333333333333333333333")
	chain.SetStorage(proxy, implementationSlot, common.BytesToHash(impl.Bytes()))

	isProxy, err := cl.IsProxyContract(ctx, proxy)
	require.NoError(t, err)
	require.True(t, isProxy)

	isProxy, err = cl.IsProxyContract(ctx, plain)
	require.NoError(t, err)
	require.False(t, isProxy)
}

func TestRetryOnAllProviders(t *testing.T) {
	chain := testutils.NewFakeChain("retry", 1000, 12)
	chain.AddBlocks(4)
	down := &testutils.FailingRPC{Err: errors.New("connection refused")}

	cfg := fastTestConfig()
	cfg.Transport.ConsecutiveFailureTolerance = 1

	cl := newTestL1(t, cfg, down, chain)
	ctx := testCtx(t)

	// The op fails on the primary, the transport fails over, and the retry
	// succeeds on the secondary.
	err := cl.RetryOnAllProviders(ctx, func() error {
		_, err := cl.ethCl.BlockNumber(ctx)
		return err
	})
	require.NoError(t, err)

	// With every provider down, the error surfaces after one full round.
	allDown := newTestL1(t, cfg,
		&testutils.FailingRPC{Err: errors.New("connection refused")},
		&testutils.FailingRPC{Err: errors.New("connection refused")})
	err = allDown.RetryOnAllProviders(ctx, func() error {
		_, err := allDown.ethCl.BlockNumber(ctx)
		return err
	})
	require.Error(t, err)
}
