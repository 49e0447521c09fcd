package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/autoreply/internal/config"
	"github.com/roach88/autoreply/internal/engine"
	"github.com/roach88/autoreply/internal/gateway"
	"github.com/roach88/autoreply/internal/inbound"
	"github.com/roach88/autoreply/internal/metric"
	"github.com/roach88/autoreply/internal/rule"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// drainInterval is how often stdin mode checks for outstanding replies
// after the input ends.
const drainInterval = 50 * time.Millisecond

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Enable bool     // force the engine on
	Allow  []string // replace the allowed sources

	// Clock overrides the engine clock (for testing).
	// If nil, engine.SystemClock is used.
	Clock engine.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the auto-reply engine",
		Long: `Start the auto-reply engine against the configured rule store.

With nats.url set, messages are read from the inbound and removed subjects
and replies are published to each message's reply subject.

Without it, events are read from stdin as JSON lines and replies are written
to stdout as JSON lines:

  {"type":"posted","source_id":"n1","origin":"chat","text":"hello","reply_to":"r1"}
  {"type":"removed","source_id":"n1"}

In stdin mode the command exits once the input ends and every pending
delayed reply has fired.

Example:
  autoreply run --enable --allow chat < events.jsonl
  AUTOREPLY_NATS_URL=nats://127.0.0.1:4222 autoreply run -c autoreply.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Enable, "enable", false, "enable the engine regardless of configuration")
	cmd.Flags().StringSliceVar(&opts.Allow, "allow", nil, "allowed sources (replaces engine.allowed_sources)")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Enable {
		cfg.Engine.Enabled = true
	}
	if cmd.Flags().Changed("allow") {
		cfg.Engine.AllowedSources = opts.Allow
	}

	logger := cfg.Log.NewLogger(cmd.ErrOrStderr(), opts.Verbose)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	logger.Info("opening rule store", "store", describeStore(cfg.Store))
	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open rule store", err)
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			logger.Error("error closing rule store", "error", closeErr)
		}
	}()

	reg := metric.NewRegistry()
	metrics, err := metric.NewMetrics(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}
	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer stop()
	}

	gates := config.NewGates(cfg.Engine)
	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, engine.WithClock(opts.Clock))
	}

	logger.Info("engine starting",
		"enabled", gates.EngineEnabled(),
		"allowed_sources", gates.AllowedSources())

	if cfg.NATS.URL != "" {
		err = runNATS(ctx, cfg.NATS, st, gates, engineOpts, logger)
	} else {
		gw := gateway.NewWriterGateway(cmd.OutOrStdout())
		eng := engine.New(st, gates, gw, engineOpts...)
		defer eng.Close()
		go drainErrors(ctx, eng, logger)
		err = runLines(ctx, cmd, eng, logger)
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	logger.Info("engine stopped gracefully")
	return nil
}

// runNATS connects to NATS, subscribes the engine and blocks until ctx is done.
func runNATS(ctx context.Context, cfg config.NATSConfig, st rule.Store, gates engine.Gates, engineOpts []engine.Option, logger *slog.Logger) error {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("autoreply"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	defer func() {
		if err := nc.Drain(); err != nil {
			logger.Error("error draining nats connection", "error", err)
		}
	}()

	eng := engine.New(st, gates, gateway.NewNATSGateway(nc), engineOpts...)
	defer eng.Close()
	nc.SetReconnectHandler(inbound.ReconnectHandler(eng, logger))
	go drainErrors(ctx, eng, logger)

	src := inbound.NewNATSSource(nc, eng, cfg.InboundSubject, cfg.RemovedSubject, inbound.WithLogger(logger))
	if err := src.Start(ctx); err != nil {
		return err
	}
	defer src.Stop()

	logger.Info("listening", "url", nc.ConnectedUrl(),
		"inbound_subject", cfg.InboundSubject,
		"removed_subject", cfg.RemovedSubject)

	<-ctx.Done()
	return ctx.Err()
}

// runLines feeds stdin to the engine, then waits for pending replies to fire.
func runLines(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, logger *slog.Logger) error {
	reader := inbound.NewLineReader(cmd.InOrStdin(), eng, logger)

	done := make(chan error, 1)
	go func() {
		done <- reader.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	return waitPending(ctx, eng, logger)
}

// waitPending returns once the engine has no pending or in-flight replies.
func waitPending(ctx context.Context, eng *engine.Engine, logger *slog.Logger) error {
	if n := eng.Outstanding(); n > 0 {
		logger.Info("input closed, waiting for delayed replies", "pending", n)
	}

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for eng.Outstanding() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// drainErrors logs engine runtime errors until ctx is done.
func drainErrors(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	for {
		select {
		case err := <-eng.Errors():
			var rtErr *engine.RuntimeError
			if errors.As(err, &rtErr) {
				logger.Warn("engine error", "code", rtErr.Code, "source_id", rtErr.SourceID, "rule_id", rtErr.RuleID, "error", rtErr.Err)
				continue
			}
			logger.Warn("engine error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// serveMetrics starts the metrics server and returns its shutdown function.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metric.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("error stopping metrics server", "error", err)
		}
	}
}
