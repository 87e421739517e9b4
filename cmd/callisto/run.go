package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/dispatch"
	"mercator-hq/callisto/pkg/filter"
	"mercator-hq/callisto/pkg/journal/recorder"
	"mercator-hq/callisto/pkg/journal/retention"
	journalstorage "mercator-hq/callisto/pkg/journal/storage"
	"mercator-hq/callisto/pkg/limits/ratelimit"
	banstorage "mercator-hq/callisto/pkg/limits/storage"
	"mercator-hq/callisto/pkg/sandbox"
	"mercator-hq/callisto/pkg/server"
	"mercator-hq/callisto/pkg/sitesync"
	"mercator-hq/callisto/pkg/telemetry/health"
	"mercator-hq/callisto/pkg/telemetry/logging"
	"mercator-hq/callisto/pkg/telemetry/metrics"
	"mercator-hq/callisto/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	root          string
	logLevel      string
	dryRun        bool
	watchConfig   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Callisto server",
	Long: `Start serving the configured root directory.

The server listens on the configured address, admits clients through the
rate limiter, evaluates .passfilter rules and answers with static files,
redirects, status responses or sandboxed scripts. Metrics and health
endpoints are served on the admin address.

SIGHUP reloads the configuration file. With --watch-config the file is
also reloaded whenever it changes on disk.

Examples:
  # Start with built-in defaults
  callisto run

  # Start with a config file
  callisto run --config /etc/callisto/config.yaml

  # Override the root and listen address
  callisto run --root ./public --listen 127.0.0.1:8000

  # Validate config without starting the server
  callisto run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVarP(&runFlags.root, "root", "r", "", "override serving root")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVar(&runFlags.watchConfig, "watch-config", false, "reload the config file when it changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.root != "" {
		cfg.Server.Root = runFlags.root
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	logger, err := logging.Setup(cfg.Telemetry.Logging, os.Stderr)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	logger.Info("starting callisto",
		"version", Version,
		"config", cfgFile,
		"root", cfg.Server.Root,
	)

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to initialise tracing: %w", err))
	}
	defer shutdownWithTimeout(logger, "tracer", tracer.Shutdown)

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)

	var repo *sitesync.Repository
	if cfg.SiteSync.Enabled {
		repo, err = sitesync.NewRepository(&cfg.SiteSync, cfg.Server.Root)
		if err != nil {
			return cli.NewConfigError("sitesync", err.Error())
		}
		if err := repo.Clone(ctx); err != nil {
			return cli.NewCommandError("run", fmt.Errorf("site sync: %w", err))
		}
		if head, err := repo.Head(); err == nil {
			logger.Info("serving root checked out", "commit", head.SHA, "branch", head.Branch)
		}
	}

	checker.RegisterCheck("root", health.DirectoryCheck(cfg.Server.Root))
	checker.RegisterCheck("worker", health.ExecutableCheck(cfg.Sandbox.WorkerBinary))

	bans, err := banstorage.New(cfg.Limits.Storage)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to open ban storage: %w", err))
	}
	defer bans.Close()

	limiter := ratelimit.NewBanLimiter(ratelimit.Config{
		Threshold:       cfg.Limits.Threshold,
		Window:          cfg.Limits.Window,
		BanDuration:     cfg.Limits.BanDuration,
		MaxClients:      cfg.Limits.MaxClients,
		Shards:          cfg.Limits.Shards,
		CleanupInterval: cfg.Limits.CleanupInterval,
	}, ratelimit.WithStore(bans))
	defer limiter.Close()

	if _, err := limiter.Restore(ctx, time.Now()); err != nil {
		logger.Warn("failed to restore bans", "error", err)
	}

	var (
		source      filter.Source = filter.NewDiskSource(cfg.Server.Root, cfg.Filter.FileName, logger)
		cache       *filter.CachedSource
		invalidator sitesync.Invalidator
	)
	if cfg.Filter.Cache {
		cache = filter.NewCachedSource(source)
		source = cache
		counted := &countedInvalidator{cache: cache, metrics: collector}
		invalidator = counted

		watcher, err := filter.NewWatcher(filter.WatcherConfig{
			Root:     cfg.Server.Root,
			FileName: cfg.Filter.FileName,
			Debounce: cfg.Filter.Debounce,
		}, counted, logger)
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to watch rule files: %w", err))
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				logger.Error("rule watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	engine := filter.NewEngine(cfg.Server.Root, source, cfg.Filter.DefaultDocuments, logger)
	resolver := dispatch.NewResolver(cfg.Server.Root, cfg.Filter.DefaultDocuments, cfg.Sandbox.ScriptExtension)

	manager := sandbox.NewManager(cfg.Sandbox,
		sandbox.WithTracer(tracer.Tracer()),
		sandbox.WithLogger(logger),
	)

	opts := []server.Option{
		server.WithAdmitter(limiter),
		server.WithExecutor(manager),
		server.WithMetrics(collector),
		server.WithTracer(tracer.Tracer()),
		server.WithHealth(checker),
		server.WithLogger(logger),
	}

	if cfg.Journal.Enabled {
		store, err := journalstorage.New(cfg.Journal)
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to open journal: %w", err))
		}
		defer store.Close()

		rec := recorder.NewRecorder(store, &recorder.Config{
			AsyncBuffer:  cfg.Journal.Buffer,
			WriteTimeout: cfg.Journal.WriteTimeout,
		})
		defer rec.Close()
		opts = append(opts, server.WithJournal(rec))

		pruner := retention.NewPruner(store, &retention.Config{
			RetentionDays: cfg.Journal.RetentionDays,
			PruneSchedule: cfg.Journal.PruneSchedule,
		})
		if err := pruner.Start(ctx); err != nil {
			logger.Warn("failed to start journal retention", "error", err)
		} else {
			defer pruner.Stop()
			if next := pruner.NextPruning(); next != nil {
				logger.Debug("journal retention scheduled", "next_pruning", next)
			}
		}
	}

	srv := server.NewServer(&cfg.Server, engine, resolver, opts...)
	checker.RegisterCheck("serving", health.ServingCheck(srv.Serving))

	if repo != nil {
		syncer := sitesync.NewSyncer(repo, sitesync.SyncerConfig{
			Interval: cfg.SiteSync.Interval,
			RuleFile: cfg.Filter.FileName,
		}, invalidator, logger)
		go func() {
			if err := syncer.Run(ctx); err != nil {
				logger.Error("site sync stopped", "error", err)
			}
		}()
	}

	if cfg.Telemetry.AdminAddress != "" {
		admin := server.NewAdminServer(&cfg.Telemetry, collector, checker, versionInfo())
		if err := admin.Start(); err != nil {
			return cli.NewCommandError("run", err)
		}
		defer shutdownWithTimeout(logger, "admin server", admin.Shutdown)
	}

	go reportGauges(ctx, collector, limiter, cache, manager)

	config.OnReload(func(next *config.Config) {
		applyReload(logger, cfg, next, manager)
	})
	stopReload := cli.NotifyReload(func() { reloadConfig(logger) })
	defer stopReload()

	if runFlags.watchConfig {
		if cfgFile == "" {
			logger.Warn("--watch-config ignored without --config")
		} else {
			go func() {
				if err := watchConfigFile(ctx, cfgFile, logger); err != nil {
					logger.Error("config watcher stopped", "error", err)
				}
			}()
		}
	}

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	logger.Info("server stopped")
	return nil
}

// countedInvalidator records cache invalidations before passing them on.
type countedInvalidator struct {
	cache   *filter.CachedSource
	metrics *metrics.Collector
}

func (c *countedInvalidator) Invalidate(dir string) {
	c.cache.Invalidate(dir)
	c.metrics.RecordRuleInvalidation(false)
}

func (c *countedInvalidator) InvalidateAll() {
	c.cache.InvalidateAll()
	c.metrics.RecordRuleInvalidation(true)
}

// reportGauges refreshes the gauges that are sampled rather than counted.
func reportGauges(ctx context.Context, collector *metrics.Collector, limiter *ratelimit.BanLimiter, cache *filter.CachedSource, manager *sandbox.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.UpdateTrackedClients(limiter.Len())
			collector.UpdateSandboxInFlight(manager.InFlight())
			if cache != nil {
				collector.UpdateRuleCacheSize(cache.Len())
			}
		}
	}
}

func shutdownWithTimeout(logger *slog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", "component", name, "error", err)
	}
}
