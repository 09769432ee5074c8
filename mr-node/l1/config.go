package l1

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-rollup/meridian/mr-service/client"
)

const (
	DefaultRetryDelay                  = time.Second
	DefaultPollingInterval             = 7 * time.Second
	DefaultSubscriptionTimeout         = time.Minute
	DefaultBlocksCacheSize             = 100
	DefaultEventsChannelCapacity       = 100
	DefaultEventsMaxBlockRange         = 10000
	DefaultConsecutiveFailureTolerance = 10
	DefaultFrequentFailureTolerance    = time.Minute
	DefaultFailoverRevert              = 30 * time.Minute
)

// Config tunes the L1 client. Zero values of optional fields are filled from
// the defaults above; Providers is the only field without a default.
type Config struct {
	// Providers are the HTTP JSON-RPC endpoints, in priority order. The first
	// entry is the primary provider the transport reverts to after failovers.
	Providers []string

	// WSProviders are optional WebSocket endpoints used for head
	// subscriptions. When empty, heads are polled over the HTTP transport.
	WSProviders []string

	// RetryDelay is the wait between attempts of indefinitely retried
	// requests, such as the head fetch at update-loop startup.
	RetryDelay time.Duration

	// PollingInterval is the cadence of head polling when no WebSocket
	// providers are configured.
	PollingInterval time.Duration

	// SubscriptionTimeout bounds how long the update loop waits for the next
	// head before treating the stream as dead and reconnecting.
	SubscriptionTimeout time.Duration

	// BlocksCacheSize is the capacity of the finalized block cache.
	BlocksCacheSize int

	// EventsChannelCapacity bounds each event subscriber's buffer. When a
	// subscriber falls behind, its oldest pending events are dropped.
	EventsChannelCapacity int

	// EventsMaxBlockRange is the largest block span per eth_getLogs query
	// when scanning for deposits.
	EventsMaxBlockRange uint64

	// FinalizedSafetyMargin, when non-zero, lets finalized block lookups that
	// are at least this far below the finalized head skip the hash-chain walk
	// and trust a direct fetch by number.
	FinalizedSafetyMargin uint64

	// Transport is the failover policy of the underlying RPC transport.
	Transport client.TransportConfig
}

// DefaultConfig returns a config for the given providers with every optional
// knob at its default.
func DefaultConfig(providers ...string) Config {
	cfg := Config{Providers: providers}
	cfg.fillDefaults()
	return cfg
}

func (cfg *Config) fillDefaults() {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.PollingInterval == 0 {
		cfg.PollingInterval = DefaultPollingInterval
	}
	if cfg.SubscriptionTimeout == 0 {
		cfg.SubscriptionTimeout = DefaultSubscriptionTimeout
	}
	if cfg.BlocksCacheSize == 0 {
		cfg.BlocksCacheSize = DefaultBlocksCacheSize
	}
	if cfg.EventsChannelCapacity == 0 {
		cfg.EventsChannelCapacity = DefaultEventsChannelCapacity
	}
	if cfg.EventsMaxBlockRange == 0 {
		cfg.EventsMaxBlockRange = DefaultEventsMaxBlockRange
	}
	if cfg.Transport.ConsecutiveFailureTolerance == 0 {
		cfg.Transport.ConsecutiveFailureTolerance = DefaultConsecutiveFailureTolerance
	}
	if cfg.Transport.FrequentFailureTolerance == 0 {
		cfg.Transport.FrequentFailureTolerance = DefaultFrequentFailureTolerance
	}
	if cfg.Transport.FailoverRevert == 0 {
		cfg.Transport.FailoverRevert = DefaultFailoverRevert
	}
	// Rate-limit backoff windows default to the general retry delay.
	if cfg.Transport.RateLimitDelay == 0 {
		cfg.Transport.RateLimitDelay = cfg.RetryDelay
	}
}

func (cfg *Config) Check() error {
	if len(cfg.Providers) == 0 {
		return errors.New("need at least one L1 provider")
	}
	if cfg.RetryDelay <= 0 {
		return fmt.Errorf("invalid retry delay: %v", cfg.RetryDelay)
	}
	if cfg.PollingInterval <= 0 {
		return fmt.Errorf("invalid polling interval: %v", cfg.PollingInterval)
	}
	if cfg.SubscriptionTimeout <= 0 {
		return fmt.Errorf("invalid subscription timeout: %v", cfg.SubscriptionTimeout)
	}
	if cfg.BlocksCacheSize < 1 {
		return fmt.Errorf("invalid blocks cache size: %d", cfg.BlocksCacheSize)
	}
	if cfg.EventsChannelCapacity < 1 {
		return fmt.Errorf("invalid events channel capacity: %d", cfg.EventsChannelCapacity)
	}
	if cfg.EventsMaxBlockRange < 1 {
		return fmt.Errorf("invalid events max block range: %d", cfg.EventsMaxBlockRange)
	}
	return cfg.Transport.Check()
}
