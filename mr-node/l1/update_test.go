package l1

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-rollup/meridian/mr-service/client"
	"github.com/meridian-rollup/meridian/mr-service/testlog"
	"github.com/meridian-rollup/meridian/mr-service/testutils"
)

// countingMetrics counts stream reconnects, discarding everything else.
type countingMetrics struct {
	NoopMetrics
	reconnects atomic.Int64
}

func (m *countingMetrics) RecordReconnect() {
	m.reconnects.Add(1)
}

func TestUpdateLoopRestartsStalledStream(t *testing.T) {
	chain := testutils.NewFakeChain("stall", 1000, 12)
	chain.AddBlocks(3)

	cfg := fastTestConfig()
	cfg.SubscriptionTimeout = 50 * time.Millisecond
	cfg.fillDefaults()
	require.NoError(t, cfg.Check())

	lgr := testlog.Logger(t, slog.LevelDebug)
	transport, err := client.NewSwitchingClientWithHandles(lgr, nil, cfg.Transport, []client.RPC{chain})
	require.NoError(t, err)
	m := &countingMetrics{}
	cl, err := newL1Client(lgr, m, cfg, transport)
	require.NoError(t, err)
	t.Cleanup(cl.Close)

	cl.Start()
	ctx := testCtx(t)
	require.NoError(t, cl.WaitForBlock(ctx, 3))

	// The chain stops producing blocks, so the stream stays silent past the
	// subscription timeout. The loop must tear it down and rebuild it.
	require.Eventually(t, func() bool {
		return m.reconnects.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond, "stream should be re-established after the subscription timeout")

	// The rebuilt stream keeps tracking chain progress.
	chain.AddBlocks(2)
	chain.Finalize(4)
	require.NoError(t, cl.WaitForBlock(ctx, 5))
	fin, err := cl.WaitForFinalizedBlock(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, chainBlock(chain, 4).L1BlockInfo, fin)
}
