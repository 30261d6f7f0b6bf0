package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paynet/nexus-pipeline/internal/broker"
	"github.com/paynet/nexus-pipeline/internal/dbpool"
	"github.com/paynet/nexus-pipeline/internal/deadletter"
	"github.com/paynet/nexus-pipeline/internal/opsserver"
	"github.com/paynet/nexus-pipeline/internal/processor"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the live Processor, consuming from the broker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(cmd.Context())
		},
	}
}

func runMain(parent context.Context) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return configErr(err)
	}

	pool := dbpool.New(dbpool.Config{
		ConnectionString: cfg.Database.ConnectionString,
		MinConnections:   int32(cfg.Database.MinConnections),
		MaxConnections:   int32(cfg.Database.MaxConnections),
		ConnectTimeout:   cfg.Database.ConnectTimeout,
		IdleRecycleAfter: cfg.Database.IdleRecycleAfter,
	}, log)

	ctx, interrupted, stop := signalContext(parent)
	defer stop()

	if err := pool.Initialize(ctx); err != nil {
		return configErr(fmt.Errorf("initialize database pool: %w", err))
	}
	defer pool.CloseAll()

	deadLet := deadletter.New(pool.Raw(), log)

	archiver, err := buildArchiver(cfg, deadLet, log)
	if err != nil {
		return configErr(fmt.Errorf("construct archiver: %w", err))
	}
	defer archiver.Close(context.Background())

	rd := &runtimeDeps{cfg: cfg, log: log, pool: pool, archiver: archiver, deadLet: deadLet}
	deps, _, err := buildProcessorDeps(rd)
	if err != nil {
		return configErr(err)
	}

	if err := deps.Adapter.Connect(ctx); err != nil {
		return runtimeErr(fmt.Errorf("connect to broker: %w", err))
	}

	proc := processor.New(deps, processor.Config{}, log)

	var ops *opsserver.Server
	if cfg.OpsAddr != "" {
		ops = opsserver.New(opsserver.Config{Addr: cfg.OpsAddr}, func() map[string]bool {
			return map[string]bool{"broker": deps.Adapter.State() == broker.Connected}
		}, func() any {
			return proc.Metrics()
		}, log)
		go func() {
			if err := ops.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("ops server exited")
			}
		}()
	}

	runErr := proc.Run(ctx)

	if errors.Is(runErr, context.Canceled) {
		// Cancellation only ever originates from signalContext here; a
		// SIGINT maps to exit 130, any other shutdown signal (SIGTERM) is
		// a clean exit.
		if interrupted() {
			return interruptErr()
		}
		return nil
	}
	if runErr != nil {
		return runtimeErr(runErr)
	}
	return nil
}
