package sources_test

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/meridian-rollup/meridian/mr-service/eth"
	"github.com/meridian-rollup/meridian/mr-service/sources"
	"github.com/meridian-rollup/meridian/mr-service/testlog"
	"github.com/meridian-rollup/meridian/mr-service/testutils"
)

func newTestEthClient(t *testing.T) (*sources.EthClient, *testutils.FakeChain) {
	t.Helper()
	chain := testutils.NewFakeChain("eth-client", 1000, 12)
	cl, err := sources.NewEthClient(chain, testlog.Logger(t, slog.LevelDebug), nil, sources.DefaultEthClientConfig())
	require.NoError(t, err)
	return cl, chain
}

func TestEthClientBlockInfoByNumber(t *testing.T) {
	cl, chain := newTestEthClient(t)
	chain.AddBlocks(10)

	info, err := cl.BlockInfoByNumber(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, uint64(7), info.Number)
	require.Equal(t, chain.HashOf(7), info.Hash)
	require.Equal(t, chain.HashOf(6), info.ParentHash)
	require.Equal(t, chain.TimeOf(7), info.Timestamp.Uint64())

	_, err = cl.BlockInfoByNumber(context.Background(), 99)
	require.ErrorIs(t, err, ethereum.NotFound)
}

func TestEthClientBlockInfoByHashCaches(t *testing.T) {
	cl, chain := newTestEthClient(t)
	chain.AddBlocks(3)
	hash := chain.HashOf(2)

	info, err := cl.BlockInfoByHash(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, uint64(2), info.Number)

	calls := chain.Calls
	again, err := cl.BlockInfoByHash(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, info, again)
	require.Equal(t, calls, chain.Calls, "second lookup must be served from the cache")
}

func TestEthClientBlockInfoByLabel(t *testing.T) {
	cl, chain := newTestEthClient(t)
	chain.AddBlocks(5)

	// Nothing finalized yet: a young chain is not an RPC error.
	_, err := cl.BlockInfoByLabel(context.Background(), eth.Finalized)
	require.ErrorIs(t, err, ethereum.NotFound)

	latest, err := cl.BlockInfoByLabel(context.Background(), eth.Latest)
	require.NoError(t, err)
	require.Equal(t, uint64(5), latest.Number)

	chain.Finalize(3)
	finalized, err := cl.BlockInfoByLabel(context.Background(), eth.Finalized)
	require.NoError(t, err)
	require.Equal(t, uint64(3), finalized.Number)
}

func TestEthClientBlockNumber(t *testing.T) {
	cl, chain := newTestEthClient(t)
	chain.AddBlocks(8)

	num, err := cl.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), num)
}

func TestEthClientGetStorageAt(t *testing.T) {
	cl, chain := newTestEthClient(t)
	addr := common.HexToAddress("0xabc0000000000000000000000000000000000001")
	slot := common.HexToHash("0x01")
	value := common.HexToHash("0x1234")
	chain.SetStorage(addr, slot, value)

	got, err := cl.GetStorageAt(context.Background(), addr, slot, "latest")
	require.NoError(t, err)
	require.Equal(t, value, got)

	empty, err := cl.GetStorageAt(context.Background(), addr, common.HexToHash("0x02"), "latest")
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, empty)
}

func TestEthClientFilterLogs(t *testing.T) {
	cl, chain := newTestEthClient(t)
	contract := common.HexToAddress("0xfee0000000000000000000000000000000000001")
	depositor := common.HexToAddress("0xacc0000000000000000000000000000000000001")
	chain.AddBlocks(2)
	chain.AddDepositBlock(contract, depositor, big.NewInt(1000))
	chain.AddBlocks(2)

	logs, err := cl.FilterLogs(context.Background(), ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		ToBlock:   big.NewInt(5),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{testutils.DepositTopic}},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, uint64(3), logs[0].BlockNumber)
	require.Equal(t, contract, logs[0].Address)
}
