package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/ridesbot/core/bootstrap"
	coreconfig "github.com/m3rciful/ridesbot/core/config"
	"github.com/m3rciful/ridesbot/core/logger"
	tg "github.com/m3rciful/ridesbot/core/telegram"
	"github.com/m3rciful/ridesbot/core/telegram/router"
	tgsender "github.com/m3rciful/ridesbot/core/telegram/sender"
	"github.com/m3rciful/ridesbot/core/telegram/state"
	"github.com/m3rciful/ridesbot/rides/bot"
	"github.com/m3rciful/ridesbot/rides/events"
	"github.com/m3rciful/ridesbot/rides/ride"
	"github.com/m3rciful/ridesbot/rides/service"
	"github.com/m3rciful/ridesbot/rides/session"
	"github.com/m3rciful/ridesbot/rides/store"
	"github.com/m3rciful/ridesbot/rides/wizard"
)

// App holds the wired rides bot.
type App struct {
	cfg       *Config
	service   *service.Service
	announcer *bot.Announcer
	janitor   *bot.Janitor
	closers   []func() error
}

// Deps overrides infrastructure constructors; zero values use the defaults.
type Deps struct {
	Bootstrap func(bootstrap.Options) (*bootstrap.Result, error)
	Redis     func(*redis.Options) *redis.Client
}

// Bootstrap connects the configured backends and builds the service.
func Bootstrap(cfg *Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	runBootstrap := deps.Bootstrap
	if runBootstrap == nil {
		runBootstrap = bootstrap.Run
	}
	newRedis := deps.Redis
	if newRedis == nil {
		newRedis = redis.NewClient
	}

	res, err := runBootstrap(bootstrap.Options{
		Config:       &cfg.Config,
		Database:     cfg.Database,
		SkipDatabase: cfg.Storage.Driver != StoragePostgres,
	})
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	a.closers = append(a.closers, res.Close)

	var rides ride.Store
	if res.DB != nil {
		rides = store.NewPostgres(res.DB)
	} else {
		rides = store.NewMemory()
	}

	sessions, err := a.sessionRegistry(newRedis)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.Kafka.Enabled() {
		k, err := events.NewKafka(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("app: kafka: %w", err)
		}
		publisher = k
		a.closers = append(a.closers, k.Close)
	}

	a.announcer = bot.NewAnnouncer(cfg.Telegram.ChannelID)
	a.service = service.New(rides, sessions, a.announcer, service.Config{
		ExpireAfter: cfg.Rides.ExpireAfter,
		ListLimit:   cfg.Rides.ListLimit,
		IdleTimeout: cfg.Sessions.IdleTimeout,
	}, service.WithEvents(publisher))

	expireEvery := cfg.Rides.SweepInterval
	if cfg.Rides.ExpireAfter <= 0 {
		expireEvery = 0
	}
	a.janitor = bot.NewJanitor(a.service, expireEvery, cfg.Sessions.SweepInterval)

	logger.Info(context.Background(), "app", "bootstrap",
		slog.String("status", "ok"),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("sessions", cfg.Sessions.Backend),
		slog.Bool("kafka", cfg.Kafka.Enabled()),
	)
	return a, nil
}

func (a *App) sessionRegistry(newRedis func(*redis.Options) *redis.Client) (*session.Registry, error) {
	idle := a.cfg.Sessions.IdleTimeout
	if a.cfg.Sessions.Backend != SessionsRedis {
		return session.NewMemoryRegistry(idle, nil), nil
	}

	client := newRedis(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: redis ping: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	st := state.NewRedisStore[wizard.Session](client, a.cfg.Redis.KeyPrefix, state.WithIdleTimeout(idle))
	return session.NewRegistry(st, nil), nil
}

// Service exposes the ride service.
func (a *App) Service() *service.Service {
	return a.service
}

// CoreConfig satisfies the runner's config carrier.
func (a *App) CoreConfig() *coreconfig.Config {
	return a.cfg.CoreConfig()
}

// TelegramRunOptions registers the ride handlers and lifecycle hooks.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	reg := tg.NewRegistry()
	h, err := bot.Register(reg, a.service)
	if err != nil {
		return tg.RunOptions{}, fmt.Errorf("app: register handlers: %w", err)
	}

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID:       a.cfg.Telegram.AdminID,
		OnAdminReject: h.AdminRejected,
	})
	routes = append(routes, router.TextRoutes(h, reg, router.TextOptions{})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))

	sender := a.cfg.Sender
	return tg.RunOptions{
		Config:   &a.cfg.Config,
		Registry: reg,
		DispatcherOptions: tgsender.Options{
			QueueSize:    sender.QueueSize,
			Workers:      sender.Workers,
			MaxRetries:   sender.MaxRetries,
			RetryBackoff: time.Duration(sender.RetryBackoffMS) * time.Millisecond,
		},
		Middlewares: tg.DefaultMiddlewares(&a.cfg.Config, nil),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt tg.Runtime) error {
			if rt.Bot != nil {
				a.announcer.Attach(rt.Bot)
			}
			a.janitor.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context, rt tg.Runtime) error {
			a.janitor.Stop()
			return a.Close()
		},
	}, nil
}

// Close releases backends in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
