// Package node wires the L1 client, metrics and logging into a runnable
// service.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-rollup/meridian/mr-node/l1"
	"github.com/meridian-rollup/meridian/mr-service/metrics"
)

// Run assembles the service and blocks until the context is cancelled or a
// component fails.
func Run(ctx context.Context, lgr log.Logger, cfg *Config) error {
	registry := metrics.NewRegistry()
	m := l1.NewMetrics(metrics.With(registry))

	l1Client, err := l1.NewL1Client(ctx, lgr, m, cfg.L1)
	if err != nil {
		return fmt.Errorf("failed to create L1 client: %w", err)
	}
	defer l1Client.Close()

	l1Client.Start()
	defer l1Client.Stop()
	lgr.Info("L1 client started", "providers", len(cfg.L1.Providers))

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv, err := metrics.StartServer(registry, cfg.Metrics.ListenAddr, cfg.Metrics.ListenPort)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		lgr.Info("Started metrics server", "addr", srv.Addr())
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.StatusInterval > 0 {
		group.Go(func() error {
			statusLoop(groupCtx, lgr, l1Client, cfg.StatusInterval)
			return nil
		})
	}

	return group.Wait()
}

// statusLoop periodically logs the L1 view the node is operating on.
func statusLoop(ctx context.Context, lgr log.Logger, cl *l1.L1Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := cl.Snapshot()
			if snap.Finalized != nil {
				lgr.Info("L1 status", "head", snap.Head, "finalized", snap.Finalized)
			} else {
				lgr.Info("L1 status", "head", snap.Head, "finalized", "none")
			}
		}
	}
}
