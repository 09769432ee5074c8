package client

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPC is a client interface to perform JSON-RPC requests with.
// It is the request/response seam everything above the wire client composes
// over: typed sources, instrumentation and the failover transport all
// implement or consume this same interface.
type RPC interface {
	Close()
	CallContext(ctx context.Context, result any, method string, args ...any) error
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
	Subscribe(ctx context.Context, namespace string, channel any, args ...any) (ethereum.Subscription, error)
}

// NewRPC dials the given endpoint and wraps the client into the RPC interface.
// HTTP endpoints are dialed lazily; WebSocket endpoints connect immediately.
func NewRPC(ctx context.Context, lgr log.Logger, addr string) (RPC, error) {
	underlying, err := rpc.DialContext(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial address (%s): %w", addr, err)
	}
	return NewBaseRPCClient(underlying), nil
}

// BaseRPCClient is a wrapper around a concrete *rpc.Client instance.
type BaseRPCClient struct {
	c *rpc.Client
}

var _ RPC = (*BaseRPCClient)(nil)

func NewBaseRPCClient(c *rpc.Client) *BaseRPCClient {
	return &BaseRPCClient{c: c}
}

func (b *BaseRPCClient) Close() {
	b.c.Close()
}

func (b *BaseRPCClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return b.c.CallContext(ctx, result, method, args...)
}

func (b *BaseRPCClient) BatchCallContext(ctx context.Context, batch []rpc.BatchElem) error {
	return b.c.BatchCallContext(ctx, batch)
}

func (b *BaseRPCClient) Subscribe(ctx context.Context, namespace string, channel any, args ...any) (ethereum.Subscription, error) {
	return b.c.Subscribe(ctx, namespace, channel, args...)
}
