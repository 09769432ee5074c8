package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// L1BlockInfo identifies an L1 block and carries the fields the node needs to
// reason about it: its height, timestamp and hash. Values are immutable once
// constructed and comparable with ==, so two reports of the same block can be
// checked for bit-identity.
type L1BlockInfo struct {
	Number    uint64
	Timestamp uint256.Int
	Hash      common.Hash
}

func (info L1BlockInfo) String() string {
	return fmt.Sprintf("%d:%s", info.Number, info.Hash.TerminalString())
}

// L1BlockInfoWithParent extends L1BlockInfo with the parent hash, which is
// what makes hash-chain walks from a known finalized descendant possible.
type L1BlockInfoWithParent struct {
	L1BlockInfo
	ParentHash common.Hash
}

func (info L1BlockInfoWithParent) String() string {
	return fmt.Sprintf("%d:%s(parent:%s)", info.Number, info.Hash.TerminalString(), info.ParentHash.TerminalString())
}

// L1Snapshot is the client's latest known view of the L1: the height of the
// current head, and the most recent finalized block, if the L1 has finalized
// one at all.
//
// The head is tracked by number only: a reorg may swap the block at that
// height, but can never make the chain shorter, so the number stays valid.
// The finalized block cannot be reorged, so we keep its full info.
type L1Snapshot struct {
	Head uint64

	// Finalized is nil in the rare case where the L1 chain is so young that
	// it has not finalized any block yet.
	Finalized *L1BlockInfo
}

// BlockID identifies a block by both number and hash.
type BlockID struct {
	Hash   common.Hash
	Number uint64
}

func (id BlockID) String() string {
	return fmt.Sprintf("%d:%s", id.Number, id.Hash.TerminalString())
}

func (info L1BlockInfo) ID() BlockID {
	return BlockID{Hash: info.Hash, Number: info.Number}
}

// BlockLabel is a symbolic identifier of a block that the RPC resolves
// server-side, e.g. the current head or the current finalized block.
type BlockLabel string

const (
	// Latest is the block at the tip of the chain, unsafe to rely on.
	Latest BlockLabel = "latest"
	// Finalized is the latest block the chain treats as irreversible.
	Finalized BlockLabel = "finalized"
)

// Arg translates the label into an RPC argument.
func (label BlockLabel) Arg() any { return string(label) }

// CheckID is a no-op: labels are resolved by the server and are not
// guaranteed to map to any particular block.
func (label BlockLabel) CheckID(id BlockID) error { return nil }
