package l1

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/meridian-rollup/meridian/mr-service/testutils"
)

func ethAmount(tenths int64) *big.Int {
	wei := new(big.Int).Mul(big.NewInt(tenths), big.NewInt(params.Ether))
	return wei.Div(wei, big.NewInt(10))
}

func TestFinalizedDeposits(t *testing.T) {
	chain := testutils.NewFakeChain("deposits", 1000, 12)
	feeContract := common.HexToAddress("0xfee0000000000000000000000000000000000001")
	depositor := common.HexToAddress("0xacc0000000000000000000000000000000000001")

	// Five deposits of 0.1 to 0.5 ETH, with some empty blocks around them.
	chain.AddBlocks(2)
	for tenths := int64(1); tenths <= 5; tenths++ {
		chain.AddDepositBlock(feeContract, depositor, ethAmount(tenths))
	}
	chain.AddBlocks(3)
	chain.FinalizeAll()
	head := chain.Head()

	// A small block range cap forces the scan to chunk the query.
	cfg := fastTestConfig()
	cfg.EventsMaxBlockRange = 3

	cl := newTestL1(t, cfg, chain)
	ctx := testCtx(t)

	deposits, err := cl.FinalizedDeposits(ctx, feeContract, nil, head)
	require.NoError(t, err)
	require.Len(t, deposits, 5)

	total := new(big.Int)
	for i, dep := range deposits {
		require.Equal(t, depositor, dep.Account)
		require.Equal(t, ethAmount(int64(i+1)), dep.Amount, "deposits must preserve chain order")
		total.Add(total, dep.Amount)
	}
	require.Equal(t, ethAmount(15), total)
}

func TestFinalizedDepositsRange(t *testing.T) {
	chain := testutils.NewFakeChain("deposits", 1000, 12)
	feeContract := common.HexToAddress("0xfee0000000000000000000000000000000000001")
	depositor := common.HexToAddress("0xacc0000000000000000000000000000000000001")

	chain.AddDepositBlock(feeContract, depositor, ethAmount(1)) // block 1
	chain.AddBlocks(3)
	chain.AddDepositBlock(feeContract, depositor, ethAmount(2)) // block 5
	chain.FinalizeAll()

	cl := newTestL1(t, fastTestConfig(), chain)
	ctx := testCtx(t)

	// Nothing newly finalized: always empty.
	k := uint64(5)
	deposits, err := cl.FinalizedDeposits(ctx, feeContract, &k, k)
	require.NoError(t, err)
	require.Empty(t, deposits)

	// prev is exclusive: only the deposit at block 5 is in (1, 5].
	prev := uint64(1)
	deposits, err = cl.FinalizedDeposits(ctx, feeContract, &prev, 5)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	require.Equal(t, ethAmount(2), deposits[0].Amount)

	// No prev: the scan covers the chain from genesis.
	deposits, err = cl.FinalizedDeposits(ctx, feeContract, nil, 5)
	require.NoError(t, err)
	require.Len(t, deposits, 2)
}

func TestParseDepositLog(t *testing.T) {
	chain := testutils.NewFakeChain("deposits", 1000, 12)
	feeContract := common.HexToAddress("0xfee0000000000000000000000000000000000001")
	depositor := common.HexToAddress("0xacc0000000000000000000000000000000000001")
	chain.AddDepositBlock(feeContract, depositor, ethAmount(7))
	chain.FinalizeAll()

	cl := newTestL1(t, fastTestConfig(), chain)
	deposits, err := cl.FinalizedDeposits(testCtx(t), feeContract, nil, chain.Head())
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	require.Equal(t, DepositInfo{Account: depositor, Amount: ethAmount(7)}, deposits[0])
}
