package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/paynet/nexus-pipeline/internal/aggregate"
	"github.com/paynet/nexus-pipeline/internal/archive"
	"github.com/paynet/nexus-pipeline/internal/broker"
	"github.com/paynet/nexus-pipeline/internal/config"
	"github.com/paynet/nexus-pipeline/internal/dbpool"
	"github.com/paynet/nexus-pipeline/internal/deadletter"
	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/parsing"
	"github.com/paynet/nexus-pipeline/internal/processor"
	"github.com/paynet/nexus-pipeline/internal/rules"
	"github.com/paynet/nexus-pipeline/internal/telemetry"
)

// globalFlags holds the flags every subcommand accepts.
type globalFlags struct {
	configPath string
	pretty     bool
}

var flags globalFlags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nexusd",
		Short:         "Payment-event ingestion and metric-derivation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "config/nexusd.yaml", "path to the YAML configuration file")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "console-format logs instead of JSON")

	root.AddCommand(newRunCmd())
	root.AddCommand(newReplayDateCmd())
	root.AddCommand(newReplayRangeCmd())
	root.AddCommand(newMetricsDumpCmd())
	root.AddCommand(newSimulateCmd())
	return root
}

// runtimeDeps bundles every long-lived collaborator `run` wires
// together, so Processor.Dependencies can be built once and tests (or
// replay commands, which only need a subset) can assemble a smaller
// slice of the same pieces.
type runtimeDeps struct {
	cfg      *config.Config
	log      zerolog.Logger
	pool     *dbpool.Pool
	archiver *archive.Archiver
	deadLet  *deadletter.Sink
}

// loadConfigAndLogger reads the config file and builds the base logger,
// the two things every subcommand needs before anything else. A failure
// here is always a configuration error (exit code 1).
func loadConfigAndLogger() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	log := telemetry.NewLogger(cfg.LogLevel, flags.pretty)
	return cfg, log, nil
}

// buildArchiver constructs the Columnar Archiver against the configured
// object store, routing flush-exhaustion failures to the given
// dead-letter sink.
func buildArchiver(cfg *config.Config, deadLet *deadletter.Sink, log zerolog.Logger) (*archive.Archiver, error) {
	store, err := archive.NewMinIOStore(cfg.Archive.Endpoint, cfg.Archive.AccessKey, cfg.Archive.SecretKey, cfg.Archive.Container, cfg.Archive.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("construct object store: %w", err)
	}

	archiveCfg := archive.Config{
		Container:     cfg.Archive.Container,
		BatchSize:     cfg.Archive.BatchSize,
		MaxBufferSize: cfg.Archive.MaxBufferSize,
		FlushInterval: cfg.Archive.FlushInterval,
		Compression:   cfg.Archive.Compression,
	}

	var handler archive.DeadLetterHandler
	if deadLet != nil {
		handler = func(events []domain.RawEvent, reason string) {
			for _, ev := range events {
				item := domain.FailedItem{
					TransactionID: ev.TransactionID,
					CorrelationID: ev.CorrelationID.String(),
					ErrorType:     "storage_error",
					ErrorMessage:  reason,
					FailedAt:      time.Now().UTC(),
				}
				if err := deadLet.Write(context.Background(), item); err != nil {
					log.Error().Err(err).Str("transaction_id", ev.TransactionID).Msg("dead-letter write failed for archive failure")
				}
			}
		}
	}

	return archive.New(archiveCfg, store, handler, log)
}

// buildBrokerAdapter selects the Kafka or Event Hubs wire variant per
// cfg.Broker.Flavor, matching the flavor switch config.Validate already
// restricted to a known value.
func buildBrokerAdapter(cfg *config.Config, log zerolog.Logger) broker.Adapter {
	switch cfg.Broker.Flavor {
	case "event_hubs":
		return broker.NewEventHubsAdapter(cfg.Broker.ConnectionString, cfg.Broker.Topic, cfg.Broker.GroupID, log)
	default:
		return broker.NewKafkaAdapter(cfg.Broker.Brokers, cfg.Broker.Topic, cfg.Broker.GroupID, log)
	}
}

// buildParser wires the Parser's dead-letter handler to the shared Sink,
// converting a failed ParseOutcome into a FailedItem row. manager is
// nil: schema lookup is an out-of-scope external collaborator per the
// distilled spec's Non-goals.
func buildParser(deadLet *deadletter.Sink, log zerolog.Logger) *parsing.Parser {
	var handler parsing.DeadLetterHandler
	if deadLet != nil {
		handler = func(outcome domain.ParseOutcome, rawBody []byte) {
			item := domain.FailedItem{
				ErrorType:    "validation_error",
				ErrorMessage: outcome.Err.Error(),
				RawPayload:   rawBody,
				FailedAt:     time.Now().UTC(),
			}
			if err := deadLet.Write(context.Background(), item); err != nil {
				log.Error().Err(err).Msg("dead-letter write failed for parse failure")
			}
		}
	}
	return parsing.New(nil, handler, parsing.Options{}, log)
}

// buildProcessorDeps assembles every live-path collaborator into the
// Dependencies struct run() drives. Nothing here is a package-level
// singleton: every constructor takes its collaborators explicitly, per
// §9's context-carrier decision.
func buildProcessorDeps(rd *runtimeDeps) (processor.Dependencies, *aggregate.Writer, error) {
	loadedRules, err := rules.Load(rd.cfg.RulesFile, rd.cfg.RuleVersion)
	if err != nil {
		return processor.Dependencies{}, nil, fmt.Errorf("load rules: %w", err)
	}
	engine := rules.New(loadedRules, rd.cfg.RuleVersion, rd.log)

	aggWriter := aggregate.New(aggregate.PgxPoolStarter{Pool: rd.pool.Raw()}, rd.log)
	parser := buildParser(rd.deadLet, rd.log)
	adapter := buildBrokerAdapter(rd.cfg, rd.log)

	deps := processor.Dependencies{
		Adapter:    adapter,
		Parser:     parser,
		Archiver:   rd.archiver,
		Rules:      engine,
		Aggregates: aggWriter,
		DeadLetter: rd.deadLet,
		SchemaName: "",
	}
	return deps, aggWriter, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. interrupted
// reports, once the context is done, whether cancellation was triggered
// by SIGINT specifically (the only signal the CLI surface maps to exit
// code 130). A second signal, or 30s without the caller observing
// shutdown completion, forces the process to terminate immediately —
// the "30s forced-shutdown budget" named in §5.
func signalContext(parent context.Context) (ctx context.Context, interrupted func() bool, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var sawInterrupt atomic.Bool

	go func() {
		sig := <-sigChan
		if sig == os.Interrupt {
			sawInterrupt.Store(true)
		}
		cancel()

		select {
		case <-sigChan:
			os.Exit(2)
		case <-time.After(30 * time.Second):
			os.Exit(2)
		case <-parent.Done():
		}
	}()

	return ctx, sawInterrupt.Load, func() { signal.Stop(sigChan); cancel() }
}
