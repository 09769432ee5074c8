package node

import (
	"errors"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/meridian-rollup/meridian/mr-node/flags"
	"github.com/meridian-rollup/meridian/mr-node/l1"
	"github.com/meridian-rollup/meridian/mr-service/client"
	oplog "github.com/meridian-rollup/meridian/mr-service/log"
)

type MetricsConfig struct {
	Enabled    bool
	ListenAddr string
	ListenPort int
}

func (m MetricsConfig) Check() error {
	if !m.Enabled {
		return nil
	}
	if m.ListenPort < 0 || m.ListenPort > 65535 {
		return errors.New("invalid metrics port")
	}
	return nil
}

// Config is the full node configuration, assembled from CLI flags.
type Config struct {
	L1 l1.Config

	LogLevel slog.Level

	Metrics MetricsConfig

	// StatusInterval is how often the node logs its L1 sync status.
	// Zero disables status logging.
	StatusInterval time.Duration
}

func (cfg *Config) Check() error {
	if err := cfg.L1.Check(); err != nil {
		return err
	}
	return cfg.Metrics.Check()
}

// NewConfig builds the node config from the parsed CLI flags.
func NewConfig(ctx *cli.Context) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, err
	}
	logLevel, err := oplog.LevelFromString(ctx.String(flags.LogLevel.Name))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		L1: l1.Config{
			Providers:             ctx.StringSlice(flags.L1RPCAddrs.Name),
			WSProviders:           ctx.StringSlice(flags.L1WSAddrs.Name),
			RetryDelay:            ctx.Duration(flags.L1RetryDelay.Name),
			PollingInterval:       ctx.Duration(flags.L1PollingInterval.Name),
			SubscriptionTimeout:   ctx.Duration(flags.L1SubscriptionTimeout.Name),
			BlocksCacheSize:       ctx.Int(flags.L1BlocksCacheSize.Name),
			EventsChannelCapacity: ctx.Int(flags.L1EventsChannelCapacity.Name),
			EventsMaxBlockRange:   ctx.Uint64(flags.L1EventsMaxBlockRange.Name),
			FinalizedSafetyMargin: ctx.Uint64(flags.L1FinalizedSafetyMargin.Name),
			Transport: client.TransportConfig{
				ConsecutiveFailureTolerance: ctx.Int(flags.L1ConsecutiveFailureTolerance.Name),
				FrequentFailureTolerance:    ctx.Duration(flags.L1FrequentFailureTolerance.Name),
				RateLimitDelay:              ctx.Duration(flags.L1RateLimitDelay.Name),
				FailoverRevert:              ctx.Duration(flags.L1FailoverRevert.Name),
			},
		},
		LogLevel: logLevel,
		Metrics: MetricsConfig{
			Enabled:    ctx.Bool(flags.MetricsEnabled.Name),
			ListenAddr: ctx.String(flags.MetricsAddr.Name),
			ListenPort: ctx.Int(flags.MetricsPort.Name),
		},
		StatusInterval: ctx.Duration(flags.StatusInterval.Name),
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}
