package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"launchpilot/internal/api"
	"launchpilot/internal/chain"
	"launchpilot/internal/console"
	"launchpilot/internal/decoder"
	"launchpilot/internal/journal"
	"launchpilot/internal/pipeline"
)

//nolint:gochecknoglobals // Cobra boilerplate
var (
	noConsole bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the listen, buy and sell pipeline",
		Long: `Subscribes to the factory's token creation events, buys every new token and
sells the acquired balance after seller.cooldown.

Console commands on stdin: status, pause (alias: sell), resume, exit, help.`,
		RunE: runPipeline,
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&noConsole, "no-console", false, "do not read commands from stdin")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := setup(ctx)
	if err != nil {
		return err
	}
	defer d.Close()
	logger := d.logger

	pcfg, err := pipeline.ConfigFrom(d.cfg)
	if err != nil {
		return err
	}
	dec, err := decoder.New()
	if err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	j, err := journal.Open(d.cfg.Output.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	p := pipeline.New(pcfg, d.svc, chain.WSDialer(d.cfg.RPC.WS), dec, j, logger.Named("pipeline"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	if !noConsole {
		con := console.New(p, os.Stdout, logger.Named("console"))
		g.Go(func() error {
			return con.Run(gctx, os.Stdin)
		})
	}
	if d.cfg.API.Listen != "" {
		srv := api.NewServer(api.Config{
			Listen:    d.cfg.API.Listen,
			AuthToken: d.cfg.API.AuthToken,
			Logger:    logger.Named("api"),
		}, p, d.svc)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline-stopped", zap.Error(err))
		return err
	}
	logger.Info("pipeline-shutdown")
	return nil
}
