package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"plazos/internal/config"
	"plazos/internal/db"
	"plazos/internal/deadline"
	"plazos/internal/engine"
	"plazos/internal/holidays"
	"plazos/internal/logging"
	"plazos/internal/migrate"
	"plazos/internal/notify"
	"plazos/internal/rules"
	"plazos/internal/scheduler"
)

// App bundles the wired components of one workspace.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Logger    *zap.Logger
	Engine    engine.Engine
	Scheduler *scheduler.Scheduler
	Metrics   *prometheus.Registry
}

type Options struct {
	// Logger overrides the logger built from config.
	Logger *zap.Logger
	// RequireConfig fails when plazos.yml is missing instead of using defaults.
	RequireConfig bool
}

// Open loads config, opens and migrates the workspace database and wires the
// engine and scheduler.
func Open(ctx context.Context, workspace string, opts Options) (*App, error) {
	var cfg *config.Config
	var err error
	if opts.RequireConfig {
		cfg, err = config.Load(workspace)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		if logger, err = logging.New(cfg.Log.Level, cfg.Log.Development); err != nil {
			return nil, err
		}
	}
	calc, err := NewCalculator(cfg, workspace, logger)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, cfg, calc)
	e.Logger = logger

	transport, err := NewTransport(cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	reg := prometheus.NewRegistry()
	notifier := notify.AlertNotifier{
		Guard: notify.Guard{Store: e.Repo, Transport: transport, Logger: logger},
		Mode:  cfg.Scheduler.Mode,
	}
	sched := scheduler.New(e.Repo, notifier, scheduler.Options{
		Interval: cfg.Scheduler.Interval,
		Window:   cfg.Scheduler.Window,
		ClaimTTL: cfg.Scheduler.ClaimTTL,
		Logger:   logger.Named("scheduler"),
		Metrics:  scheduler.NewMetrics(reg),
	})

	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Logger:    logger,
		Engine:    e,
		Scheduler: sched,
		Metrics:   reg,
	}, nil
}

func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.DB.Close()
}

// NewCalculator loads the ruleset registry named by cfg, or the bundled one,
// and pairs it with the holiday data of cfg.
func NewCalculator(cfg *config.Config, workspace string, logger *zap.Logger) (*deadline.Calculator, error) {
	reg := rules.DefaultRegistry()
	if path := cfg.RulesetsPath(workspace); path != "" {
		loaded, err := rules.LoadRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("load rulesets: %w", err)
		}
		reg = loaded
	}
	provider := holidays.NewProvider(cfg.HolidaySource(), logger.Named("holidays"))
	return deadline.New(rules.NewResolver(reg), provider), nil
}

// NewTransport builds the configured notification transport.
func NewTransport(cfg *config.Config, logger *zap.Logger) (notify.Transport, error) {
	switch cfg.Notify.Transport {
	case "", "log":
		return notify.LogTransport{Logger: logger.Named("notify")}, nil
	case "webhook":
		return notify.WebhookTransport{
			URL:     cfg.Notify.Webhook.URL,
			Secret:  cfg.Notify.Webhook.Secret,
			Timeout: cfg.Notify.Webhook.Timeout,
		}, nil
	default:
		return nil, fmt.Errorf("unknown notify transport %q", cfg.Notify.Transport)
	}
}
