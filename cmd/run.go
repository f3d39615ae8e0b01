package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/rulecheck/internal/config"
	"grimm.is/rulecheck/internal/events"
	"grimm.is/rulecheck/internal/health"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/metrics"
	"grimm.is/rulecheck/internal/scheduler"
	"grimm.is/rulecheck/internal/services/rulechecker"
	"grimm.is/rulecheck/internal/state"
)

// RunOptions configures the foreground daemon.
type RunOptions struct {
	ConfigFile string
	StateFile  string
	// ListenAddr serves /metrics and the health endpoints when non-empty.
	ListenAddr string
}

// RunDaemon runs the checker until SIGINT or SIGTERM. SIGHUP reloads the
// configuration file.
func RunDaemon(opts RunOptions) error {
	cfg, err := config.LoadFile(opts.ConfigFile)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Logging)

	store, policies, err := openPolicies(opts.StateFile, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := events.NewHub()
	svc := rulechecker.NewService(hub, rulechecker.Host{
		Switch:   policies,
		Policies: policies,
		Schedule: scheduler.NewEvaluator(nil, nil, logger.WithComponent("scheduler")),
		Mappings: state.NewMappingStore(store, logger.WithComponent("state")),
	}, logger.WithComponent("rulecheck"))

	if _, err := svc.Reload(cfg); err != nil {
		return err
	}
	// The policy database is fully loaded once it is open.
	hub.EmitPoliciesInitialized()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := health.NewPassTracker(nil, passMaxAge(cfg))
	go tracker.Run(ctx, hub)

	var srv *http.Server
	if opts.ListenAddr != "" {
		checker := health.NewChecker(nil)
		checker.Register("rulecheck", health.ServiceCheck(svc))
		checker.Register("last_pass", tracker.Check())
		checker.Register("events", health.HubCheck(hub))

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Get().Handler())
		mux.HandleFunc("/healthz", checker.Handler())
		mux.HandleFunc("/readyz", checker.ReadinessHandler())
		mux.HandleFunc("/livez", health.LivenessHandler())
		srv = &http.Server{Addr: opts.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "error", err)
			}
		}()
	}

	go logPassSummaries(ctx, hub, logger)

	runSignalLoop(ctx, opts.ConfigFile, svc, logger, func(cfg *config.Config) {
		tracker.SetMaxAge(passMaxAge(cfg))
	})

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown failed", "error", err)
		}
	}
	return svc.Stop(context.Background())
}

// passMaxAge is how long the health check tolerates no pass at all.
func passMaxAge(cfg *config.Config) time.Duration {
	return 3 * cfg.RuleCheck.IntervalDuration()
}

func runSignalLoop(ctx context.Context, configFile string, svc *rulechecker.Service, logger *logging.Logger, onReload func(*config.Config)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				logger.Info("received signal, shutting down", "signal", sig)
				return
			}
			logger.Info("received SIGHUP, reloading configuration")
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				logger.Error("failed to reload configuration", "error", err)
				continue
			}
			restarted, err := svc.Reload(cfg)
			if err != nil {
				logger.Error("failed to apply reloaded configuration", "error", err)
				continue
			}
			onReload(cfg)
			logger.Info("configuration reloaded", "restarted", restarted)
		}
	}
}

func logPassSummaries(ctx context.Context, hub *events.Hub, logger *logging.Logger) {
	ch := hub.Subscribe(8, events.EventRuleCheckPass)
	defer hub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if d, ok := e.Data.(events.RuleCheckPassData); ok && d.Drifted > 0 {
				logger.Warn("rule check found drift", "pass", d.PassID, "drifted", d.Drifted)
			}
		}
	}
}
