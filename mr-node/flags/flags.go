package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/meridian-rollup/meridian/mr-node/l1"
)

const EnvVarPrefix = "MERIDIAN"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	/* Required Flags */
	L1RPCAddrs = &cli.StringSliceFlag{
		Name:    "l1.rpc",
		Usage:   "HTTP provider URLs for L1, in priority order. The first is the primary provider.",
		EnvVars: prefixEnvVars("L1_RPC"),
	}
	/* Optional Flags */
	L1WSAddrs = &cli.StringSliceFlag{
		Name:    "l1.ws-rpc",
		Usage:   "WebSocket provider URLs for L1 head subscriptions. Polling over HTTP is used if unset.",
		EnvVars: prefixEnvVars("L1_WS_RPC"),
	}
	L1RetryDelay = &cli.DurationFlag{
		Name:    "l1.retry-delay",
		Usage:   "Delay between retries of indefinitely retried L1 requests.",
		Value:   l1.DefaultRetryDelay,
		EnvVars: prefixEnvVars("L1_RETRY_DELAY"),
	}
	L1PollingInterval = &cli.DurationFlag{
		Name:    "l1.polling-interval",
		Usage:   "Interval of L1 head polling when no WebSocket providers are configured.",
		Value:   l1.DefaultPollingInterval,
		EnvVars: prefixEnvVars("L1_POLLING_INTERVAL"),
	}
	L1SubscriptionTimeout = &cli.DurationFlag{
		Name:    "l1.subscription-timeout",
		Usage:   "Max time to wait for the next L1 head before reconnecting the block stream.",
		Value:   l1.DefaultSubscriptionTimeout,
		EnvVars: prefixEnvVars("L1_SUBSCRIPTION_TIMEOUT"),
	}
	L1BlocksCacheSize = &cli.IntFlag{
		Name:    "l1.blocks-cache-size",
		Usage:   "Capacity of the finalized L1 block cache.",
		Value:   l1.DefaultBlocksCacheSize,
		EnvVars: prefixEnvVars("L1_BLOCKS_CACHE_SIZE"),
	}
	L1EventsChannelCapacity = &cli.IntFlag{
		Name:    "l1.events-channel-capacity",
		Usage:   "Buffer size per L1 event subscriber; slow subscribers lose their oldest events.",
		Value:   l1.DefaultEventsChannelCapacity,
		EnvVars: prefixEnvVars("L1_EVENTS_CHANNEL_CAPACITY"),
	}
	L1EventsMaxBlockRange = &cli.Uint64Flag{
		Name:    "l1.events-max-block-range",
		Usage:   "Largest block span per L1 log query when scanning for deposits.",
		Value:   l1.DefaultEventsMaxBlockRange,
		EnvVars: prefixEnvVars("L1_EVENTS_MAX_BLOCK_RANGE"),
	}
	L1ConsecutiveFailureTolerance = &cli.IntFlag{
		Name:    "l1.consecutive-failure-tolerance",
		Usage:   "Consecutive failures on the active L1 provider before failing over.",
		Value:   l1.DefaultConsecutiveFailureTolerance,
		EnvVars: prefixEnvVars("L1_CONSECUTIVE_FAILURE_TOLERANCE"),
	}
	L1FrequentFailureTolerance = &cli.DurationFlag{
		Name:    "l1.frequent-failure-tolerance",
		Usage:   "Fail over when two L1 provider failures occur within this window.",
		Value:   l1.DefaultFrequentFailureTolerance,
		EnvVars: prefixEnvVars("L1_FREQUENT_FAILURE_TOLERANCE"),
	}
	L1FailoverRevert = &cli.DurationFlag{
		Name:    "l1.failover-revert",
		Usage:   "How long after failing away from the primary L1 provider to revert back to it.",
		Value:   l1.DefaultFailoverRevert,
		EnvVars: prefixEnvVars("L1_FAILOVER_REVERT"),
	}
	L1RateLimitDelay = &cli.DurationFlag{
		Name:    "l1.rate-limit-delay",
		Usage:   "Local backoff window after an L1 provider responds with HTTP 429. Defaults to the retry delay.",
		EnvVars: prefixEnvVars("L1_RATE_LIMIT_DELAY"),
	}
	L1FinalizedSafetyMargin = &cli.Uint64Flag{
		Name:    "l1.finalized-safety-margin",
		Usage:   "Finalized blocks at least this far below the finality frontier are fetched by number without hash chain verification. 0 disables the fast path.",
		EnvVars: prefixEnvVars("L1_FINALIZED_SAFETY_MARGIN"),
	}
	LogLevel = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "The lowest log level that will be output: trace|debug|info|warn|error|crit",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
	}
	MetricsEnabled = &cli.BoolFlag{
		Name:    "metrics.enabled",
		Usage:   "Enable the metrics server",
		EnvVars: prefixEnvVars("METRICS_ENABLED"),
	}
	MetricsAddr = &cli.StringFlag{
		Name:    "metrics.addr",
		Usage:   "Metrics listening address",
		Value:   "0.0.0.0",
		EnvVars: prefixEnvVars("METRICS_ADDR"),
	}
	MetricsPort = &cli.IntFlag{
		Name:    "metrics.port",
		Usage:   "Metrics listening port",
		Value:   7300,
		EnvVars: prefixEnvVars("METRICS_PORT"),
	}
	StatusInterval = &cli.DurationFlag{
		Name:    "status.interval",
		Usage:   "Interval between L1 sync status log lines. 0 disables status logging.",
		Value:   30 * time.Second,
		EnvVars: prefixEnvVars("STATUS_INTERVAL"),
	}
)

var requiredFlags = []cli.Flag{
	L1RPCAddrs,
}

var optionalFlags = []cli.Flag{
	L1WSAddrs,
	L1RetryDelay,
	L1PollingInterval,
	L1SubscriptionTimeout,
	L1BlocksCacheSize,
	L1EventsChannelCapacity,
	L1EventsMaxBlockRange,
	L1ConsecutiveFailureTolerance,
	L1FrequentFailureTolerance,
	L1FailoverRevert,
	L1RateLimitDelay,
	L1FinalizedSafetyMargin,
	LogLevel,
	MetricsEnabled,
	MetricsAddr,
	MetricsPort,
	StatusInterval,
}

// Flags contains the list of configuration options available to the binary.
var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
