package testutils

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/meridian-rollup/meridian/mr-service/client"
)

// DepositTopic is the topic hash of Deposit(address,uint256).
var DepositTopic = crypto.Keccak256Hash([]byte("Deposit(address,uint256)"))

type fakeBlock struct {
	number     uint64
	hash       common.Hash
	parentHash common.Hash
	time       uint64
	logs       []types.Log
}

// FakeChain is a synthetic L1 chain served over the client.RPC interface.
// It answers the block, log and storage queries the L1 client subsystem
// issues, from an in-memory chain under the test's control.
type FakeChain struct {
	mu        sync.Mutex
	seed      string
	blockTime uint64
	blocks    []fakeBlock
	finalized int // index of highest finalized block, -1 if none
	storage   map[common.Address]map[common.Hash]common.Hash

	// Calls counts served CallContext invocations, for assertions on
	// rate-limit short-circuiting.
	Calls int
}

var _ client.RPC = (*FakeChain)(nil)

// NewFakeChain creates a chain with only a genesis block and nothing
// finalized. The seed lets tests construct two chains that disagree about
// every hash, to simulate divergent providers.
func NewFakeChain(seed string, genesisTime, blockTime uint64) *FakeChain {
	c := &FakeChain{
		seed:      seed,
		blockTime: blockTime,
		finalized: -1,
		storage:   make(map[common.Address]map[common.Hash]common.Hash),
	}
	c.blocks = []fakeBlock{{
		number: 0,
		hash:   c.hashOf(0, common.Hash{}),
		time:   genesisTime,
	}}
	return c
}

func (c *FakeChain) hashOf(number uint64, parent common.Hash) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return crypto.Keccak256Hash([]byte(c.seed), buf[:], parent[:])
}

// AddBlocks extends the chain by n empty blocks.
func (c *FakeChain) AddBlocks(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.addBlockLocked(nil)
	}
}

// AddDepositBlock extends the chain by one block carrying a single Deposit
// log from the given contract.
func (c *FakeChain) AddDepositBlock(contract common.Address, account common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := uint64(len(c.blocks))
	lg := types.Log{
		Address:     contract,
		Topics:      []common.Hash{DepositTopic, common.BytesToHash(account.Bytes())},
		Data:        common.BigToHash(amount).Bytes(),
		BlockNumber: next,
	}
	c.addBlockLocked([]types.Log{lg})
}

func (c *FakeChain) addBlockLocked(logs []types.Log) {
	tip := c.blocks[len(c.blocks)-1]
	b := fakeBlock{
		number:     tip.number + 1,
		parentHash: tip.hash,
		time:       tip.time + c.blockTime,
		logs:       logs,
	}
	b.hash = c.hashOf(b.number, b.parentHash)
	c.blocks = append(c.blocks, b)
}

// Finalize marks all blocks up to and including the given height finalized.
func (c *FakeChain) Finalize(number uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(number) >= len(c.blocks) {
		panic(fmt.Sprintf("cannot finalize %d, chain height is %d", number, len(c.blocks)-1))
	}
	if int(number) > c.finalized {
		c.finalized = int(number)
	}
}

// FinalizeAll finalizes the whole chain.
func (c *FakeChain) FinalizeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = len(c.blocks) - 1
}

// Head returns the current tip height.
func (c *FakeChain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1].number
}

// HashOf returns the hash of the block at the given height.
func (c *FakeChain) HashOf(number uint64) common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[number].hash
}

// TimeOf returns the timestamp of the block at the given height.
func (c *FakeChain) TimeOf(number uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[number].time
}

// SetStorage sets the storage slot value served for eth_getStorageAt.
func (c *FakeChain) SetStorage(addr common.Address, slot, value common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storage[addr] == nil {
		c.storage[addr] = make(map[common.Hash]common.Hash)
	}
	c.storage[addr][slot] = value
}

func (c *FakeChain) headerJSON(b fakeBlock) map[string]any {
	return map[string]any{
		"hash":       b.hash,
		"parentHash": b.parentHash,
		"number":     hexutil.Uint64(b.number),
		"timestamp":  hexutil.Uint64(b.time),
	}
}

func (c *FakeChain) CallContext(ctx context.Context, result any, method string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++

	switch method {
	case "eth_blockNumber":
		return writeResult(result, hexutil.Uint64(c.blocks[len(c.blocks)-1].number))
	case "eth_getBlockByNumber":
		id := args[0].(string)
		var b *fakeBlock
		switch id {
		case "latest":
			b = &c.blocks[len(c.blocks)-1]
		case "finalized":
			if c.finalized < 0 {
				return writeResult(result, nil)
			}
			b = &c.blocks[c.finalized]
		default:
			n, err := hexutil.DecodeUint64(id)
			if err != nil {
				return err
			}
			if int(n) >= len(c.blocks) {
				return writeResult(result, nil)
			}
			b = &c.blocks[n]
		}
		return writeResult(result, c.headerJSON(*b))
	case "eth_getBlockByHash":
		h := args[0].(common.Hash)
		for i := range c.blocks {
			if c.blocks[i].hash == h {
				return writeResult(result, c.headerJSON(c.blocks[i]))
			}
		}
		return writeResult(result, nil)
	case "eth_getLogs":
		arg := args[0].(map[string]any)
		from, err := hexutil.DecodeUint64(arg["fromBlock"].(string))
		if err != nil {
			return err
		}
		to := uint64(len(c.blocks) - 1)
		if s, ok := arg["toBlock"].(string); ok && s != "latest" {
			if to, err = hexutil.DecodeUint64(s); err != nil {
				return err
			}
		}
		addrs := arg["address"].([]common.Address)
		topics := arg["topics"].([][]common.Hash)
		var out []types.Log
		for n := from; n <= to && int(n) < len(c.blocks); n++ {
			for _, lg := range c.blocks[n].logs {
				if matchesFilter(lg, addrs, topics) {
					out = append(out, lg)
				}
			}
		}
		return writeResult(result, out)
	case "eth_getStorageAt":
		addr := args[0].(common.Address)
		slot := args[1].(common.Hash)
		return writeResult(result, c.storage[addr][slot])
	default:
		return fmt.Errorf("unsupported method %q", method)
	}
}

func matchesFilter(lg types.Log, addrs []common.Address, topics [][]common.Hash) bool {
	if len(addrs) > 0 {
		found := false
		for _, a := range addrs {
			if a == lg.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, want := range topics {
		if len(want) == 0 {
			continue
		}
		if i >= len(lg.Topics) {
			return false
		}
		ok := false
		for _, t := range want {
			if t == lg.Topics[i] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// writeResult mimics the JSON round trip of a real RPC client, so the fake
// serves exactly what a provider would.
func writeResult(result, v any) error {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func (c *FakeChain) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	for i := range b {
		b[i].Error = c.CallContext(ctx, b[i].Result, b[i].Method, b[i].Args...)
	}
	return nil
}

func (c *FakeChain) Subscribe(ctx context.Context, namespace string, channel any, args ...any) (ethereum.Subscription, error) {
	return nil, rpc.ErrNotificationsUnsupported
}

func (c *FakeChain) Close() {}

// FailingRPC always fails with the configured error and counts its calls.
type FailingRPC struct {
	mu    sync.Mutex
	Err   error
	calls int
}

var _ client.RPC = (*FailingRPC)(nil)

func (f *FailingRPC) CallContext(ctx context.Context, result any, method string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.Err
}

func (f *FailingRPC) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.Err
}

func (f *FailingRPC) Subscribe(ctx context.Context, namespace string, channel any, args ...any) (ethereum.Subscription, error) {
	return nil, rpc.ErrNotificationsUnsupported
}

func (f *FailingRPC) Close() {}

// Calls returns how many requests reached this provider.
func (f *FailingRPC) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FlakyRPC injects scripted failures in front of an inner RPC: each queued
// error fails one request, then requests flow through to the inner handle.
type FlakyRPC struct {
	mu     sync.Mutex
	inner  client.RPC
	errs   []error
	served int
}

var _ client.RPC = (*FlakyRPC)(nil)

func NewFlakyRPC(inner client.RPC, errs ...error) *FlakyRPC {
	return &FlakyRPC{inner: inner, errs: errs}
}

// QueueErrors appends failures to inject on the next requests.
func (f *FlakyRPC) QueueErrors(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

// Served returns how many requests reached the inner RPC.
func (f *FlakyRPC) Served() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.served
}

func (f *FlakyRPC) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	f.served++
	return nil
}

func (f *FlakyRPC) CallContext(ctx context.Context, result any, method string, args ...any) error {
	if err := f.next(); err != nil {
		return err
	}
	return f.inner.CallContext(ctx, result, method, args...)
}

func (f *FlakyRPC) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	if err := f.next(); err != nil {
		return err
	}
	return f.inner.BatchCallContext(ctx, b)
}

func (f *FlakyRPC) Subscribe(ctx context.Context, namespace string, channel any, args ...any) (ethereum.Subscription, error) {
	return f.inner.Subscribe(ctx, namespace, channel, args...)
}

func (f *FlakyRPC) Close() { f.inner.Close() }

// HTTPError builds an error that the transport recognizes as an HTTP status
// failure, e.g. 429 for rate limiting.
func HTTPError(status int) error {
	return rpc.HTTPError{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
	}
}
