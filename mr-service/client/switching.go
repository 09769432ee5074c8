package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/meridian-rollup/meridian/mr-service/eth"
	"github.com/meridian-rollup/meridian/mr-service/locks"
)

// TransportConfig tunes the failover policy of a SwitchingClient.
type TransportConfig struct {
	// ConsecutiveFailureTolerance is the number of back-to-back failures on
	// the active provider after which the client fails over, regardless of
	// how far apart the failures are.
	ConsecutiveFailureTolerance int

	// FrequentFailureTolerance fails the provider over if two failures occur
	// within this window of each other.
	FrequentFailureTolerance time.Duration

	// RateLimitDelay is how long to locally reject requests after the active
	// provider responds with HTTP 429.
	RateLimitDelay time.Duration

	// FailoverRevert is how long after failing away from the primary provider
	// the client schedules a revert back to it.
	FailoverRevert time.Duration
}

func (cfg *TransportConfig) Check() error {
	if cfg.ConsecutiveFailureTolerance < 1 {
		return errors.New("consecutive failure tolerance must be at least 1")
	}
	return nil
}

// TransportMetrics is the metrics surface of the switching transport.
// Implementations must be safe for concurrent use.
type TransportMetrics interface {
	RecordFailover()
	RecordProviderFailure(provider int)
}

// NoopTransportMetrics discards all transport metrics.
type NoopTransportMetrics struct{}

func (NoopTransportMetrics) RecordFailover()             {}
func (NoopTransportMetrics) RecordProviderFailure(_ int) {}

var _ TransportMetrics = NoopTransportMetrics{}

// transportStatus tracks the health of one provider generation. The
// shuttingDown flag is a one-shot latch: of all concurrent callers observing
// failures on the same generation, exactly one gets to perform the switch.
type transportStatus struct {
	mu                  sync.Mutex
	lastFailure         time.Time
	consecutiveFailures int
	rateLimitedUntil    time.Time
	shuttingDown        bool
}

// logSuccess resets the consecutive failure count.
func (st *transportStatus) logSuccess() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.consecutiveFailures = 0
}

// logFailure records a failed call and reports whether this caller should
// switch the transport to the next provider.
func (st *transportStatus) logFailure(cfg *TransportConfig) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.consecutiveFailures++
	shouldSwitch := st.shouldSwitch(cfg)
	st.lastFailure = time.Now()
	return shouldSwitch
}

// shouldSwitch must be called with st.mu held.
func (st *transportStatus) shouldSwitch(cfg *TransportConfig) bool {
	if st.shuttingDown {
		// Someone else already decided to switch away from this transport.
		return false
	}
	if st.consecutiveFailures >= cfg.ConsecutiveFailureTolerance {
		st.shuttingDown = true
		return true
	}
	if !st.lastFailure.IsZero() && time.Since(st.lastFailure) < cfg.FrequentFailureTolerance {
		st.shuttingDown = true
		return true
	}
	return false
}

// shouldRevert reports whether the scheduled revert time has passed, latching
// the shutdown flag so only one caller performs the revert.
func (st *transportStatus) shouldRevert(revertAt time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.shuttingDown || revertAt.IsZero() {
		return false
	}
	if !time.Now().Before(revertAt) {
		st.shuttingDown = true
		return true
	}
	return false
}

// rateLimited returns whether the provider is inside a local rate-limit
// window. An expired window is cleared so the check stays cheap.
func (st *transportStatus) rateLimited() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.rateLimitedUntil.IsZero() {
		return false
	}
	if time.Now().Before(st.rateLimitedUntil) {
		return true
	}
	st.rateLimitedUntil = time.Time{}
	return false
}

func (st *transportStatus) setRateLimitedUntil(t time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rateLimitedUntil = t
}

// SingleTransport is one provider generation: the RPC handle for a provider
// endpoint, its health status, and the time at which the client should try
// reverting to the primary provider (zero if no revert is scheduled).
// Handles are captured once per logical call, so an in-flight concurrent
// switch never changes the target of a call that already started.
type SingleTransport struct {
	generation int
	rpc        RPC
	status     *transportStatus
	revertAt   time.Time
}

// Generation identifies the (provider, epoch) pairing of this transport.
// It increases monotonically across switches; generation % number-of-URLs
// yields the provider index.
func (t *SingleTransport) Generation() int {
	return t.generation
}

// SwitchingClient is an RPC client with multiple remote providers.
//
// It routes every request to one provider at a time. When the active provider
// is detected to be in a failing state, the client automatically switches to
// the next provider in its list, and schedules a revert back to the primary
// provider after a configured delay.
type SwitchingClient struct {
	urls    []string
	handles []RPC
	cfg     TransportConfig
	log     log.Logger
	metrics TransportMetrics

	current locks.RWValue[*SingleTransport]

	// switched is closed and replaced on every transport switch, so pollers
	// can abandon a stale provider as soon as a failover happens.
	switchedMu sync.Mutex
	switched   chan struct{}
}

var _ RPC = (*SwitchingClient)(nil)

// NewSwitchingClient dials all provider URLs (HTTP endpoints are dialed
// lazily, so no connections are made) and starts at generation 0, the primary
// provider.
func NewSwitchingClient(ctx context.Context, lgr log.Logger, m TransportMetrics, cfg TransportConfig, urls []string) (*SwitchingClient, error) {
	if len(urls) == 0 {
		return nil, errors.New("need at least one provider URL")
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if m == nil {
		m = NoopTransportMetrics{}
	}
	handles := make([]RPC, 0, len(urls))
	for _, u := range urls {
		handle, err := NewRPC(ctx, lgr, u)
		if err != nil {
			for _, h := range handles {
				h.Close()
			}
			return nil, err
		}
		handles = append(handles, handle)
	}
	s := &SwitchingClient{
		urls:     urls,
		handles:  handles,
		cfg:      cfg,
		log:      lgr,
		metrics:  m,
		switched: make(chan struct{}),
	}
	s.current.Set(&SingleTransport{generation: 0, rpc: handles[0], status: &transportStatus{}})
	return s, nil
}

// NewSwitchingClientWithHandles is like NewSwitchingClient but uses
// pre-constructed RPC handles, one per provider. Intended for tests.
func NewSwitchingClientWithHandles(lgr log.Logger, m TransportMetrics, cfg TransportConfig, handles []RPC) (*SwitchingClient, error) {
	if len(handles) == 0 {
		return nil, errors.New("need at least one provider handle")
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if m == nil {
		m = NoopTransportMetrics{}
	}
	urls := make([]string, len(handles))
	s := &SwitchingClient{
		urls:     urls,
		handles:  handles,
		cfg:      cfg,
		log:      lgr,
		metrics:  m,
		switched: make(chan struct{}),
	}
	s.current.Set(&SingleTransport{generation: 0, rpc: handles[0], status: &transportStatus{}})
	return s, nil
}

// NumProviders returns how many providers are configured.
func (s *SwitchingClient) NumProviders() int {
	return len(s.handles)
}

// Current returns a handle to the active transport, captured at this moment.
func (s *SwitchingClient) Current() *SingleTransport {
	return s.current.Get()
}

// Switched returns a channel that is closed the next time the active
// transport is replaced, whether by failover or by a revert to the primary.
func (s *SwitchingClient) Switched() <-chan struct{} {
	s.switchedMu.Lock()
	defer s.switchedMu.Unlock()
	return s.switched
}

func (s *SwitchingClient) notifySwitched() {
	s.switchedMu.Lock()
	defer s.switchedMu.Unlock()
	close(s.switched)
	s.switched = make(chan struct{})
}

// switchTo replaces the active transport with the given generation.
// Reverting to the primary clears the scheduled revert time; failing over
// away from the primary schedules one; any other transition keeps the
// previous schedule.
func (s *SwitchingClient) switchTo(nextGen int, current *SingleTransport) *SingleTransport {
	n := len(s.handles)
	nextIndex := nextGen % n

	var revertAt time.Time
	switch {
	case nextIndex == 0:
		// revert to primary: nothing further to schedule
	case current.generation%n == 0:
		revertAt = time.Now().Add(s.cfg.FailoverRevert)
	default:
		revertAt = current.revertAt
	}

	s.log.Info("Switching L1 RPC provider", "provider", nextIndex, "generation", nextGen)
	next := &SingleTransport{
		generation: nextGen,
		rpc:        s.handles[nextIndex],
		status:     &transportStatus{},
		revertAt:   revertAt,
	}
	s.current.Set(next)
	s.notifySwitched()
	return next
}

// do routes one logical request through the failover policy.
func (s *SwitchingClient) do(op func(rpc RPC) error) error {
	t := s.current.Get()
	n := len(s.handles)

	if t.status.shouldRevert(t.revertAt) {
		// Rounding the generation down to a multiple of n gives the last
		// primary epoch; adding n jumps to the next one, which maps back to
		// provider index 0.
		nextGen := (t.generation/n)*n + n
		t = s.switchTo(nextGen, t)
	}

	if t.status.rateLimited() {
		return eth.ErrRateLimited
	}

	err := op(t.rpc)
	if err == nil {
		t.status.logSuccess()
		return nil
	}

	s.metrics.RecordProviderFailure(t.generation % n)

	// Rate limiting does not count toward failover; it only imposes a local
	// backoff window on the active provider.
	if isRateLimitErr(err) {
		t.status.setRateLimitedUntil(time.Now().Add(s.cfg.RateLimitDelay))
		return err
	}

	s.log.Warn("L1 provider call failed", "provider", t.generation%n, "generation", t.generation, "err", err)
	if t.status.logFailure(&s.cfg) {
		s.metrics.RecordFailover()
		s.switchTo(t.generation+1, t)
	}
	return err
}

func (s *SwitchingClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return s.do(func(r RPC) error {
		return r.CallContext(ctx, result, method, args...)
	})
}

func (s *SwitchingClient) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	return s.do(func(r RPC) error {
		return r.BatchCallContext(ctx, b)
	})
}

// Subscribe is unsupported: the configured providers are HTTP endpoints.
// Subscription feeds use dedicated WebSocket URLs outside the failover
// transport.
func (s *SwitchingClient) Subscribe(ctx context.Context, namespace string, channel any, args ...any) (ethereum.Subscription, error) {
	return nil, rpc.ErrNotificationsUnsupported
}

func (s *SwitchingClient) Close() {
	for _, h := range s.handles {
		h.Close()
	}
}

// isRateLimitErr identifies HTTP 429 responses, whether surfaced as an HTTP
// transport error or as a JSON-RPC error object.
func isRateLimitErr(err error) bool {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == http.StatusTooManyRequests {
		return true
	}
	return false
}
