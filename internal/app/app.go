package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vol-alerts/internal/alerting"
	"vol-alerts/internal/config"
	"vol-alerts/internal/engine"
	"vol-alerts/internal/fetcher"
	"vol-alerts/internal/scheduler"
	"vol-alerts/internal/service"
	"vol-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() *fetcher.Yahoo {
	return fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:   a.Config.Source.BaseURL,
		Lookback:  a.Config.Source.Lookback,
		Timeout:   a.Config.Source.RequestTimeout,
		UserAgent: a.Config.Source.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if !a.Config.MailConfigured() {
		a.Logger.Warn().Msg("alerting enabled but smtp credentials incomplete; mail delivery disabled")
		return nil
	}

	cfg := a.Config.SMTP
	return alerting.NewSMTPNotifier(alerting.SMTPOptions{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		StartTLS: cfg.StartTLS,
	}, a.Logger)
}

// openStore connects to PostgreSQL. A missing or invalid DSN is the one
// startup condition allowed to abort a run.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store) *service.Service {
	eng := engine.New(store, a.newNotifier(), a.Config.Alerting.DefaultSeverity, a.Logger)

	return service.New(service.Options{
		Symbols: a.Config.Symbols,
		Source:  a.newSource(),
		Prices:  store,
		Engine:  eng,
		Locker:  store,
		LockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)
}

// Run executes the long-running daemon: one pass per scheduler interval.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(store)

	a.Logger.Info().Msg("starting volatility watcher")
	err = sched.Run(ctx, svc.ProcessRun)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("volatility watcher stopped")
	return nil
}

// RunOnce executes a single ingestion and evaluation pass. Intended for
// cron-style invocation.
func (a *App) RunOnce(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store)
	return svc.ProcessRun(ctx, time.Now().UTC())
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbol string
	Limit  int
}

// ExportOptions hold parameters for exporting historical rows.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Symbol   string
	Lookback string
	DryRun   bool
}
