package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/atsn/emily/dashboard"
	"github.com/atsn/emily/internal/api"
	"github.com/atsn/emily/internal/configuration"
	"github.com/atsn/emily/internal/layout"
	"github.com/atsn/emily/internal/profile"
	"github.com/atsn/emily/internal/session"
	"github.com/atsn/emily/internal/theme"
	"github.com/atsn/emily/store"
)

// App holds the long-lived services shared by the commands.
type App struct {
	Config   *configuration.Config
	Logger   *zap.Logger
	Store    store.Store
	Metrics  *api.Metrics
	Client   *api.Client
	Sessions *session.Manager
	Profiles *profile.Cache
	Theme    *theme.Manager
}

// NewApp wires the services described by config.
// A store that cannot be opened degrades to memory.
func NewApp(ctx context.Context, config *configuration.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kv := store.OpenOrMemory(ctx, &store.Opts{
		Driver:       config.Storage.Driver,
		Path:         config.Storage.Path,
		URL:          config.Storage.URL,
		PollInterval: time.Duration(config.Storage.PollIntervalMs) * time.Millisecond,
		Logger:       logger.Named("store"),
	})

	var authenticator session.Authenticator
	if config.Auth.SupabaseURL != "" && config.Auth.SupabaseKey != "" {
		supabase, err := session.NewSupabase(config.Auth.SupabaseURL, config.Auth.SupabaseKey)
		if err != nil {
			kv.Close()
			return nil, errors.Wrap(err, "creating authenticator")
		}
		authenticator = supabase
	}
	sessions := session.NewManager(kv, authenticator, logger.Named("session"))

	metrics := api.NewMetrics()
	client := api.New(&api.Opts{
		BaseURL: config.APIURL,
		Timeout: time.Duration(config.RequestTimeout) * time.Second,
		Metrics: metrics,
		Logger:  logger.Named("api"),
	}, sessions)

	profiles := profile.NewCache(kv, client, metrics, logger.Named("profile"))
	sessions.SetProfileInvalidator(profiles)

	return &App{
		Config:   config,
		Logger:   logger,
		Store:    kv,
		Metrics:  metrics,
		Client:   client,
		Sessions: sessions,
		Profiles: profiles,
		Theme:    theme.New(ctx, kv, logger.Named("theme")),
	}, nil
}

// NewDashboard returns a dashboard aggregator over the services of the app.
func (a *App) NewDashboard(selector *layout.Selector) *dashboard.Aggregator {
	return dashboard.New(&dashboard.Opts{
		Conversations: a.Client,
		Profiles:      a.Profiles,
		Leads:         a.Client,
		Sessions:      a.Sessions,
		Theme:         a.Theme,
		Layout:        selector,
		DefaultFilter: a.Config.Dashboard.DefaultFilter,
		Metrics:       a.Metrics,
		Logger:        a.Logger.Named("dashboard"),
	})
}

// Close releases the store.
func (a *App) Close() error {
	a.Theme.Close()
	return a.Store.Close()
}
