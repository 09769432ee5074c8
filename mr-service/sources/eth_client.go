// Package sources exports typed clients used to access L1 chain data.
//
// The exported [EthClient] wraps a [client.RPC] (typically the failover
// transport) with header bindings, log filtering, storage reads and caching.
package sources

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/meridian-rollup/meridian/mr-service/client"
	"github.com/meridian-rollup/meridian/mr-service/eth"
	"github.com/meridian-rollup/meridian/mr-service/sources/caching"
)

type EthClientConfig struct {
	// Number of block headers to cache, keyed by hash.
	HeadersCacheSize int
}

func DefaultEthClientConfig() *EthClientConfig {
	return &EthClientConfig{HeadersCacheSize: 100}
}

func (c *EthClientConfig) Check() error {
	if c.HeadersCacheSize < 0 {
		return fmt.Errorf("invalid headers cache size: %d", c.HeadersCacheSize)
	}
	return nil
}

// EthClient retrieves L1 data over a [client.RPC] with cached results.
// Headers are cached by hash only: a hash uniquely identifies a block, while
// numbers and labels can be invalidated by reorgs.
type EthClient struct {
	client client.RPC

	log log.Logger

	// cache block headers of blocks by hash
	// common.Hash -> eth.L1BlockInfoWithParent
	headersCache *caching.LRUCache[common.Hash, eth.L1BlockInfoWithParent]
}

// NewEthClient returns an [EthClient] wrapping an RPC with header bindings,
// error logging, optional cache metric tracking, and caching.
func NewEthClient(client client.RPC, log log.Logger, metrics caching.Metrics, config *EthClientConfig) (*EthClient, error) {
	if err := config.Check(); err != nil {
		return nil, fmt.Errorf("bad config, cannot create L1 source: %w", err)
	}
	return &EthClient{
		client:       client,
		log:          log,
		headersCache: caching.NewLRUCache[common.Hash, eth.L1BlockInfoWithParent](metrics, "headers", config.HeadersCacheSize),
	}, nil
}

// SubscribeNewHead subscribes to notifications about the current blockchain head on the given channel.
func (s *EthClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return s.client.Subscribe(ctx, "eth", ch, "newHeads")
}

func (s *EthClient) headerCall(ctx context.Context, method string, id rpcBlockID) (eth.L1BlockInfoWithParent, error) {
	var header *rpcHeader
	err := s.client.CallContext(ctx, &header, method, id.Arg(), false) // headers are just blocks without txs
	if err != nil {
		return eth.L1BlockInfoWithParent{}, eth.MaybeAsNotFoundErr(err)
	}
	if header == nil {
		return eth.L1BlockInfoWithParent{}, ethereum.NotFound
	}
	info := header.BlockInfo()
	if err := id.CheckID(info.ID()); err != nil {
		return eth.L1BlockInfoWithParent{}, fmt.Errorf("fetched block header does not match requested ID: %w", err)
	}
	s.headersCache.Add(info.Hash, info)
	return info, nil
}

// BlockInfoByHash returns the block info for the given block hash.
// We cache the header by hash since a collision is not a realistic concern.
func (s *EthClient) BlockInfoByHash(ctx context.Context, hash common.Hash) (eth.L1BlockInfoWithParent, error) {
	if header, ok := s.headersCache.Get(hash); ok {
		return header, nil
	}
	return s.headerCall(ctx, "eth_getBlockByHash", hashID(hash))
}

// BlockInfoByNumber returns the block info for the given block number.
// Results cannot be served from the cache: a reorg can swap the block at a number.
func (s *EthClient) BlockInfoByNumber(ctx context.Context, num uint64) (eth.L1BlockInfoWithParent, error) {
	return s.headerCall(ctx, "eth_getBlockByNumber", numberID(num))
}

// BlockInfoByLabel returns the block info for the given block label.
// Results cannot be served from the cache: labels are not guaranteed to be unique.
func (s *EthClient) BlockInfoByLabel(ctx context.Context, label eth.BlockLabel) (eth.L1BlockInfoWithParent, error) {
	return s.headerCall(ctx, "eth_getBlockByNumber", label)
}

// BlockNumber fetches the current head block number.
func (s *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	err := s.client.CallContext(ctx, &result, "eth_blockNumber")
	return uint64(result), err
}

// GetStorageAt returns the storage value at the given address and storage
// slot, without verifying the correctness of the result.
func (s *EthClient) GetStorageAt(ctx context.Context, address common.Address, storageSlot common.Hash, blockTag string) (common.Hash, error) {
	var out common.Hash
	err := s.client.CallContext(ctx, &out, "eth_getStorageAt", address, storageSlot, blockTag)
	return out, err
}

// FilterLogs executes an eth_getLogs query.
func (s *EthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	arg, err := toFilterArg(q)
	if err != nil {
		return nil, err
	}
	var logs []types.Log
	err = s.client.CallContext(ctx, &logs, "eth_getLogs", arg)
	return logs, err
}

func (s *EthClient) RPC() client.RPC {
	return s.client
}

func (s *EthClient) Close() {
	s.client.Close()
}
