package l1

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/meridian-rollup/meridian/mr-service/retry"
)

// feeContractABI is the deposit surface of the fee contract: users deposit
// native value on L1 to fund fee payments on the rollup.
const feeContractABI = `[{"type":"event","name":"Deposit","inputs":[{"name":"account","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false}]`

var (
	feeABI = mustParseABI(feeContractABI)

	// DepositEventID is the topic hash identifying Deposit logs.
	DepositEventID = feeABI.Events["Deposit"].ID
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// DepositInfo is one Deposit event: the depositing account and the amount of
// native value it put into the fee contract.
type DepositInfo struct {
	Account common.Address
	Amount  *big.Int
}

func (d DepositInfo) String() string {
	return fmt.Sprintf("deposit(%s, %s)", d.Account, d.Amount)
}

// FinalizedDeposits returns every Deposit event the fee contract emitted
// between the previously processed finalized height (exclusive; nil if no
// blocks were processed yet) and the given finalized height (inclusive).
//
// The range is scanned in chunks capped at the configured max block range,
// each chunk retried until the query succeeds, so the only error returned is
// the context's. Results preserve chain order.
func (c *L1Client) FinalizedDeposits(ctx context.Context, feeContract common.Address, prevFinalized *uint64, newFinalized uint64) ([]DepositInfo, error) {
	// No new blocks have been finalized, so there are no new deposits.
	if prevFinalized != nil && *prevFinalized >= newFinalized {
		return nil, nil
	}

	// prevFinalized has already been processed, unless nothing was.
	var start uint64
	if prevFinalized != nil {
		start = *prevFinalized + 1
	}

	var deposits []DepositInfo
	chunkSize := c.cfg.EventsMaxBlockRange
	for from := start; from <= newFinalized; from += chunkSize {
		to := min(from+chunkSize-1, newFinalized)
		c.log.Debug("Fetching deposit events", "from", from, "to", to)

		logs, err := retry.Forever(ctx, retry.Fixed(c.cfg.RetryDelay), func() ([]types.Log, error) {
			logs, err := c.ethCl.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(from),
				ToBlock:   new(big.Int).SetUint64(to),
				Addresses: []common.Address{feeContract},
				Topics:    [][]common.Hash{{DepositEventID}},
			})
			if err != nil {
				c.log.Warn("Failed to fetch deposit events, will retry", "from", from, "to", to, "err", err)
			}
			return logs, err
		})
		if err != nil {
			return nil, err
		}

		for _, lg := range logs {
			deposit, err := parseDepositLog(lg)
			if err != nil {
				c.log.Error("Skipping malformed Deposit log", "block", lg.BlockNumber, "err", err)
				continue
			}
			deposits = append(deposits, deposit)
		}
	}
	return deposits, nil
}

func parseDepositLog(lg types.Log) (DepositInfo, error) {
	if len(lg.Topics) != 2 || lg.Topics[0] != DepositEventID {
		return DepositInfo{}, fmt.Errorf("unexpected topics %v", lg.Topics)
	}
	unpacked, err := feeABI.Unpack("Deposit", lg.Data)
	if err != nil {
		return DepositInfo{}, fmt.Errorf("failed to unpack Deposit data: %w", err)
	}
	amount, ok := unpacked[0].(*big.Int)
	if !ok {
		return DepositInfo{}, fmt.Errorf("unexpected Deposit amount type %T", unpacked[0])
	}
	return DepositInfo{
		Account: common.BytesToAddress(lg.Topics[1].Bytes()),
		Amount:  amount,
	}, nil
}
