package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ostiary-ai/ostiary/internal/adapter/inbound/http"
	"github.com/ostiary-ai/ostiary/internal/adapter/outbound/cel"
	"github.com/ostiary-ai/ostiary/internal/adapter/outbound/memory"
	"github.com/ostiary-ai/ostiary/internal/adapter/outbound/sqlite"
	"github.com/ostiary-ai/ostiary/internal/config"
	"github.com/ostiary-ai/ostiary/internal/domain/actionlog"
	"github.com/ostiary-ai/ostiary/internal/domain/authority"
	"github.com/ostiary-ai/ostiary/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the ostiary API server.

The server seeds the built-in action type catalog on boot, then serves
the authority, decision, and action lifecycle APIs over HTTP.

Examples:
  # Start with config file settings
  ostiary serve

  # Start with a specific config file
  ostiary --config /path/to/config.yaml serve

  # In-memory storage (state lost on restart)
  OSTIARY_DATABASE_DRIVER=memory ostiary serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("ostiary stopped")
	return nil
}

// run wires all components together and starts the transport.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ===== Storage =====
	var (
		typeStore    authority.TypeStore
		settingStore authority.SettingStore
		logStore     actionlog.Store
	)
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = db.Close() }()
		typeStore = sqlite.NewTypeStore(db)
		settingStore = sqlite.NewSettingStore(db)
		logStore = sqlite.NewLogStore(db)
		logger.Info("storage: sqlite", "path", cfg.Database.Path)
	default:
		typeStore = memory.NewTypeStore()
		settingStore = memory.NewSettingStore()
		logStore = memory.NewLogStore()
		logger.Info("storage: memory (state lost on restart)")
	}

	// ===== Expression evaluator =====
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create expression evaluator: %w", err)
	}

	// ===== Services =====
	registryService := service.NewRegistryService(typeStore, logger)
	authorityService := service.NewAuthorityService(typeStore, settingStore, evaluator, logger)
	decisionService := service.NewDecisionService(typeStore, authorityService, logStore, evaluator, logger)
	lifecycleService := service.NewLifecycleService(logStore, typeStore, logger)

	// Seed the built-in catalog so decisions work out of the box.
	created, existing, err := registryService.Seed(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	// Built-in executor registry. Real integrations (mail, calendar)
	// replace these at their own wiring points; the default executor just
	// records that execution was requested.
	executors := service.NewExecutorRegistry()
	types, err := registryService.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list catalog: %w", err)
	}
	for _, t := range types {
		executors.Register(t.Name, loggingExecutor(logger))
	}

	logger.Info("ostiary starting",
		"version", Version,
		"http_addr", cfg.Server.HTTPAddr,
		"catalog_created", created,
		"catalog_existing", existing,
		"executors", len(types),
	)

	// ===== Transport =====
	handler := http.NewHandler(
		registryService,
		authorityService,
		decisionService,
		lifecycleService,
		executors,
		nil, // metrics are wired by the transport
		logger,
	)

	transport := http.NewTransport(handler,
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithTimeouts(
			parseDurationOr(cfg.Server.ReadTimeout, 10*time.Second),
			parseDurationOr(cfg.Server.WriteTimeout, 30*time.Second),
			parseDurationOr(cfg.Server.ShutdownTimeout, 10*time.Second),
		),
		http.WithLogger(logger),
	)
	return transport.Start(ctx)
}

// loggingExecutor returns an executor that records the request and
// succeeds. It stands in for real downstream integrations.
func loggingExecutor(logger *slog.Logger) service.Executor {
	return func(ctx context.Context, log *actionlog.ActionLog) error {
		logger.Info("executing action",
			"action_id", log.ID,
			"action_type", log.ActionTypeName,
			"target_type", log.TargetType,
			"target_id", log.TargetID,
		)
		return nil
	}
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseDurationOr parses a duration string, falling back to def when
// empty or invalid.
func parseDurationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
