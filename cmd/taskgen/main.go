// Command taskgen runs the telemetry-driven task generator: it tails a
// host application's context_log telemetry, converts it into prioritized
// task cards via the analyzer registry, and serves them over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/taskgen/internal/analyzer"
	"github.com/antigravity-dev/taskgen/internal/audit"
	"github.com/antigravity-dev/taskgen/internal/autoapprove"
	"github.com/antigravity-dev/taskgen/internal/broadcast"
	"github.com/antigravity-dev/taskgen/internal/config"
	"github.com/antigravity-dev/taskgen/internal/httpapi"
	"github.com/antigravity-dev/taskgen/internal/scheduler"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
	"github.com/antigravity-dev/taskgen/internal/taskstore"
)

func configureLogger(logLevel string, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// docsDocumented implements analyzer.DocPredicate by checking for a
// Markdown file named after the tool under a fixed docs/ directory beside
// the configured tasks directory. A host embedding TaskGen differently
// would supply its own predicate here.
func docsDocumented(root string) analyzer.DocPredicate {
	docsDir := filepath.Join(root, "docs")
	return func(name string) bool {
		if name == "" {
			return true
		}
		_, err := os.Stat(filepath.Join(docsDir, name+".md"))
		return err == nil
	}
}

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	root := flag.String("root", ".", "root directory for persisted state (tasks/, context_log/, docs/)")
	once := flag.Bool("once", false, "run a single scheduler tick then exit")
	flag.Parse()

	logger := configureLogger(*logLevel, *dev)
	slog.SetDefault(logger)
	logger.Info("taskgen starting", "root", *root)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfgMgr := config.NewManager(cfg)

	tasksDir := filepath.Join(*root, cfg.Storage.TasksDir)
	contextLogDir := filepath.Join(*root, cfg.Storage.ContextLogDir)
	if err := os.MkdirAll(contextLogDir, 0o755); err != nil {
		logger.Error("failed to create context_log dir", "dir", contextLogDir, "error", err)
		os.Exit(1)
	}

	store, err := taskstore.Open(tasksDir)
	if err != nil {
		logger.Error("failed to open task store", "dir", tasksDir, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	auditW, err := audit.NewWriter(contextLogDir)
	if err != nil {
		logger.Error("failed to open audit writer", "error", err)
		os.Exit(1)
	}

	templates, err := taskcard.LoadTemplateRegistry(filepath.Join(tasksDir, "templates.json"))
	if err != nil {
		logger.Error("failed to load template registry", "error", err)
		os.Exit(1)
	}

	registry := buildRegistry(cfg)
	docPredicate := docsDocumented(*root)
	checker := autoapprove.NewChecker(cfgMgr, store)

	sched := scheduler.New(cfgMgr, store, registry, contextLogDir, docPredicate, checker, auditW, logger.With("component", "scheduler"))

	hub := broadcast.NewHub(func() ([]taskcard.TaskCard, error) {
		return store.Load(taskcard.Filter{Status: taskcard.StatusGenerated}, 50)
	})
	watcher := broadcast.NewWatcher(hub, store.Path(), cfg.WatchDebounce.Duration, store.Changed(), logger.With("component", "broadcast"))

	srv := httpapi.New(cfg.Bind, cfgMgr, store, sched, templates, hub, checker, auditW, logger.With("component", "httpapi"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		logger.Info("running single tick (--once mode)")
		stats := sched.RunNow(ctx)
		logger.Info("single tick complete", "saved", stats.CardsSaved, "autoApproved", stats.CardsAutoApproved)
		return
	}

	go sched.Run(ctx)
	go watcher.Run(ctx)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("http api error", "error", err)
		}
	}()

	logger.Info("taskgen running", "bind", cfg.Bind, "interval_min", cfg.IntervalMin)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			if err := cfgMgr.Reload(); err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			logger.Info("config reloaded")
		default:
			shutdownStart := time.Now()
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			logger.Info("taskgen stopped", "shutdown_duration", time.Since(shutdownStart).String())
			return
		}
	}
}

// buildRegistry wires the five analyzers from the live config's
// per-analyzer thresholds.
func buildRegistry(cfg *config.Config) *analyzer.Registry {
	return analyzer.NewRegistry(
		analyzer.NewContinuationAnalyzer(cfg.Analyzers.ContinuationThreshold, true),
		analyzer.NewErrorSpikeAnalyzer(cfg.Analyzers.ErrorSpikeMultiplier, true),
		analyzer.NewDocsGapAnalyzer(cfg.Analyzers.DocsGapMinUsage, true),
		analyzer.NewPerformanceAnalyzer(cfg.Analyzers.PerformanceThreshold, true),
		analyzer.NewUXIssueAnalyzer(cfg.Analyzers.UXAbortThreshold, true),
	)
}
