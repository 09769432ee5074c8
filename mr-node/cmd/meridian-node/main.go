package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/meridian-rollup/meridian/mr-node/flags"
	"github.com/meridian-rollup/meridian/mr-node/node"
	oplog "github.com/meridian-rollup/meridian/mr-service/log"
)

var (
	Version = "v0.1.0"
	Meta    = "dev"
)

func main() {
	app := cli.NewApp()
	app.Version = Version + "-" + Meta
	app.Name = "meridian-node"
	app.Usage = "Meridian Rollup Node"
	app.Description = "Tracks the L1 chain head, finality progress and fee deposits for the rollup."
	app.Flags = flags.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		oplog.NewLogger(os.Stderr, log.LevelError).Crit("Application failed", "err", err)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := node.NewConfig(cliCtx)
	if err != nil {
		return err
	}
	lgr := oplog.NewLogger(os.Stderr, cfg.LogLevel)

	// Run until interrupted.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lgr.Info("Starting meridian-node", "version", cliCtx.App.Version)
	return node.Run(ctx, lgr, cfg)
}
