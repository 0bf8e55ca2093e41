// Package app is the composition root of the loan bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kopakash/loanbot/core/bootstrap"
	corecmd "github.com/kopakash/loanbot/core/cmd"
	coreconfig "github.com/kopakash/loanbot/core/config"
	coredatabase "github.com/kopakash/loanbot/core/database"
	"github.com/kopakash/loanbot/core/logger"
	tg "github.com/kopakash/loanbot/core/telegram"
	tgsender "github.com/kopakash/loanbot/core/telegram/sender"
	"github.com/kopakash/loanbot/internal/application"
	"github.com/kopakash/loanbot/internal/bot"
	"github.com/kopakash/loanbot/internal/config"
	"github.com/kopakash/loanbot/internal/document"
	"github.com/kopakash/loanbot/internal/payhero"
	"github.com/kopakash/loanbot/internal/payment"
	"github.com/kopakash/loanbot/internal/store"
	"github.com/kopakash/loanbot/internal/webhook"
)

// Options override infrastructure for tests.
type Options struct {
	LoggerInit func(*coreconfig.Config) error
	// Gateway replaces the PayHero client.
	Gateway payment.Gateway
	// Store replaces the configured backend.
	Store store.Store
}

// App implements cmd.TelegramApp, cmd.ServiceProvider and io.Closer.
type App struct {
	cfg *config.Config

	infra *bootstrap.Result
	redis *redis.Client

	store      store.Store
	handlers   *bot.Handlers
	notifier   *bot.Notifier
	reconciler *payment.Reconciler
	webhook    *webhook.Server
	registry   *tg.Registry
}

var (
	_ corecmd.TelegramApp     = (*App)(nil)
	_ corecmd.ServiceProvider = (*App)(nil)
)

// LoadConfig adapts config.Load to the runner.
func LoadConfig(path string) (corecmd.ConfigCarrier, error) {
	return config.Load(path)
}

// Bootstrap adapts New to the runner.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*config.Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	return New(cfg, Options{})
}

// New connects storage and builds every component. Nothing runs until the
// runner starts the Telegram runtime and Services.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	a := &App{cfg: cfg}

	infra, err := bootstrap.Run(bootstrap.Options{
		Config:       &cfg.Config,
		Database:     cfg.Database,
		SkipDatabase: opts.Store != nil || cfg.Store.Driver != store.DriverPostgres,
		LoggerInit:   opts.LoggerInit,
	})
	if err != nil {
		return nil, err
	}
	a.infra = infra

	if err := a.openStore(opts.Store); err != nil {
		_ = a.Close()
		return nil, err
	}

	gw := opts.Gateway
	if gw == nil {
		client, err := payhero.New(payhero.Config{
			BaseURL:       cfg.PayHero.BaseURL,
			Username:      cfg.PayHero.Username,
			Password:      cfg.PayHero.Password,
			ChannelID:     cfg.PayHero.ChannelID,
			Provider:      cfg.PayHero.Provider,
			CallbackURL:   cfg.PayHero.CallbackURL,
			Timeout:       time.Duration(cfg.PayHero.TimeoutSeconds) * time.Second,
			StatusRetries: cfg.PayHero.StatusRetries,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		gw = client
	}

	minter, err := payment.NewMinter(cfg.Payment.ReferencePrefix)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	machine, err := application.NewMachine(a.store, application.Policy{
		MinAmount:       cfg.Loan.MinAmount,
		MaxAmount:       cfg.Loan.MaxAmount,
		MinReasonLength: cfg.Loan.MinReasonLength,
		Fee:             cfg.Payment.Fee,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.notifier = bot.NewNotifier(document.NewRenderer(""))
	a.reconciler = payment.NewReconciler(a.store, gw, a.notifier, minter, payment.ReconcilerOptions{
		Interval: cfg.Payment.PollInterval(),
		Attempts: cfg.Payment.PollAttempts,
	})
	a.handlers, err = bot.NewHandlers(bot.Deps{
		Machine:   machine,
		Store:     a.store,
		Initiator: payment.NewInitiator(a.store, gw, minter),
		Tracker:   a.reconciler,
		Stats:     a.reconciler,
		Fee:       cfg.Payment.Fee,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.registry = tg.NewRegistry()
	if err := a.handlers.Register(a.registry); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.webhook = webhook.New(webhook.Options{
		Addr:         cfg.CallbackServer.Addr(),
		CallbackPath: cfg.CallbackServer.Path,
	}, a.reconciler, payhero.ParseCallback)

	logger.Info(context.Background(), "app", "app.wired",
		slog.String("status", "ok"),
		slog.String("store", cfg.Store.Driver),
		slog.String("callback_addr", cfg.CallbackServer.Addr()),
	)
	return a, nil
}

func (a *App) openStore(override store.Store) error {
	if override != nil {
		a.store = override
		return nil
	}
	sopts := store.Options{
		Driver:    a.cfg.Store.Driver,
		DB:        a.infra.DB,
		TTL:       time.Duration(a.cfg.Store.StateTTLSeconds) * time.Second,
		KeyPrefix: a.cfg.Store.KeyPrefix,
	}
	if a.cfg.Store.Driver == store.DriverRedis {
		rdb, err := coredatabase.ConnectRedis(a.cfg.Redis)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.redis = rdb
		sopts.Redis = rdb
	}
	st, err := store.Open(sopts)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.store = st
	return nil
}

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	return tg.RunOptions{
		Config:   &a.cfg.Config,
		Registry: a.registry,
		// One worker keeps replies to a chat in the order they were produced.
		DispatcherOptions: tgsender.Options{Workers: 1, MaxRetries: 2},
		Middlewares:       tg.DefaultMiddlewares(&a.cfg.Config, a.handlers.RateLimited()),
		Routes:            a.handlers.Routes(a.registry, a.cfg.Telegram.AdminID),
		OnStart: func(_ context.Context, rt tg.Runtime) error {
			a.notifier.SetSender(rt.Bot)
			return nil
		},
		OnStop: func(_ context.Context, _ tg.Runtime) error {
			return a.reconciler.Close()
		},
	}, nil
}

// Services implements cmd.ServiceProvider.
func (a *App) Services() []corecmd.Service {
	return []corecmd.Service{a.webhook}
}

// Close stops polling and releases storage connections.
func (a *App) Close() error {
	var errs []error
	if a.reconciler != nil {
		errs = append(errs, a.reconciler.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.infra != nil {
		errs = append(errs, a.infra.Close())
	}
	return errors.Join(errs...)
}
