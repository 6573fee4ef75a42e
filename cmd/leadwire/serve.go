package main

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

	"golang.org/x/sync/errgroup"

	"github.com/spf13/cobra"

	"leadwire/internal/api"
	"leadwire/internal/config"
	"leadwire/internal/conversation"
	"leadwire/internal/domain"
	"leadwire/internal/events"
	"leadwire/internal/metrics"
	"leadwire/internal/provider"
	"leadwire/internal/queue"
	"leadwire/internal/ratelimit"
	"leadwire/internal/store"
	"leadwire/internal/validate"
	"leadwire/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the delivery engine (API, webhook listener, worker pool)",
		Long:  "Starts the management API, the carrier webhook listener and the delivery worker pool. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := buildLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.General.DBPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	collector := metrics.NewCollector()
	delivery := metrics.NewDelivery(collector)

	sink := events.NewSink(256, log)
	defer sink.Close()
	sink.OnEvent(events.SlogHandler(log))

	sel := buildSelector(cfg, log, func(name string, from, to provider.BreakerState) {
		delivery.BreakerGauge(name).Set(breakerStateValue(to))
		sink.Publish(domain.Event{
			Kind: domain.EventBreakerState,
			Fields: map[string]any{
				"carrier": name,
				"from":    string(from),
				"to":      string(to),
			},
		})
	})
	if len(sel.Entries()) == 0 {
		return errors.New("no carriers configured")
	}

	if cfg.Validation.RulesDir != "" {
		sets, err := validate.LoadFromDirectory(cfg.Validation.RulesDir, log)
		if err != nil {
			return fmt.Errorf("load validation rules: %w", err)
		}
		log.Info("validation rule sets loaded", "count", len(sets), "dir", cfg.Validation.RulesDir)
	}

	stores := queue.Stores{Messages: st, Jobs: st}
	q, err := queue.New(stores, sink, delivery, log)
	if err != nil {
		return err
	}
	pool := queue.NewPool(queue.PoolConfig{
		Concurrency:  cfg.Queue.Concurrency,
		MaxRetries:   cfg.Queue.MaxRetries,
		PollInterval: time.Duration(cfg.Queue.PollIntervalMS) * time.Millisecond,
		SendTimeout:  secondsToDuration(cfg.Providers.TimeoutSeconds),
		Backoff: queue.NewBackoff(
			secondsToDuration(cfg.Queue.BaseDelaySeconds),
			secondsToDuration(cfg.Queue.MaxDelaySeconds),
		),
	}, stores, sel, sink, delivery, log)

	convMgr := conversation.NewManager(st, sink, log)

	var callerLimit, recipientLimit *ratelimit.Limiter
	if cfg.RateLimit.CallerPerMinute > 0 {
		callerLimit = ratelimit.New(cfg.RateLimit.CallerPerMinute, time.Minute)
	}
	if cfg.RateLimit.RecipientPerMinute > 0 {
		recipientLimit = ratelimit.New(cfg.RateLimit.RecipientPerMinute, time.Minute)
	}

	engagement := conversation.EngagementConfig{
		AIProcessingSLA:  time.Duration(cfg.Engagement.AIProcessingSLAMS) * time.Millisecond,
		AgentResponseSLA: secondsToDuration(cfg.Engagement.AgentResponseSLASeconds),
	}

	apiSrv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler: api.NewServer(q, st, convMgr, st, engagement, collector,
			callerLimit, recipientLimit, log).Routes(),
	}
	webhookSrv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Webhook.Host, cfg.Webhook.Port),
		Handler: webhook.NewServer(cfg.Webhook.Secrets, sel, st, convMgr,
			sink, delivery, log).Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := pool.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(serveHTTP(gctx, apiSrv, "api", log))
	g.Go(serveHTTP(gctx, webhookSrv, "webhook", log))
	g.Go(func() error {
		if callerLimit != nil {
			go callerLimit.SweepLoop(gctx.Done(), time.Minute)
		}
		if recipientLimit != nil {
			go recipientLimit.SweepLoop(gctx.Done(), time.Minute)
		}
		<-gctx.Done()
		return nil
	})

	log.Info("leadwire started",
		"api", apiSrv.Addr,
		"webhook", webhookSrv.Addr,
		"carriers", len(sel.Entries()),
		"version", version,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// serveHTTP runs one HTTP listener and shuts it down when the context
// ends, giving in-flight requests shutdownTimeout to finish.
func serveHTTP(ctx context.Context, srv *http.Server, name string, log *slog.Logger) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		select {
		case err := <-errCh:
			return fmt.Errorf("%s server: %w", name, err)
		case <-ctx.Done():
		}

		log.Info("stopping server", "server", name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown: %w", name, err)
		}
		return nil
	}
}

func buildLogger(cfg config.GeneralConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	out := os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}

func breakerStateValue(s provider.BreakerState) int64 {
	switch s {
	case provider.BreakerOpen:
		return 2
	case provider.BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
