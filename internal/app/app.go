package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SJKodehode/tutorial-chat-app/internal/auth"
	"github.com/SJKodehode/tutorial-chat-app/internal/config"
	"github.com/SJKodehode/tutorial-chat-app/internal/database"
	"github.com/SJKodehode/tutorial-chat-app/internal/navigation"
	"github.com/SJKodehode/tutorial-chat-app/internal/push"
	"github.com/SJKodehode/tutorial-chat-app/internal/realtime"
	"github.com/SJKodehode/tutorial-chat-app/internal/screens"
	"github.com/SJKodehode/tutorial-chat-app/internal/storage"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

// Options carries the platform collaborators the front end provides.
type Options struct {
	Alerter  screens.Alerter
	Opener   screens.Opener
	Prompter push.Prompter
	Location Location
	// Plain overrides the device store, mainly for tests.
	Plain storage.Store
	// Database overrides the backend selected by configuration.
	Database database.Database
}

// App owns every long-lived dependency. Screens get theirs injected from
// here; nothing is global.
type App struct {
	Config       *config.Config
	Plain        storage.Store
	Secure       storage.Store
	Auth         *auth.Service
	DB           database.Database
	Feed         *realtime.Client
	Router       *navigation.Router
	Push         push.Service
	Links        *DeepLinks
	Orchestrator *Orchestrator

	alerter screens.Alerter
	opener  screens.Opener
	cancel  context.CancelFunc
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{
		Config:  cfg,
		Router:  navigation.NewRouter(),
		Links:   NewDeepLinks(),
		alerter: opts.Alerter,
		opener:  opts.Opener,
	}

	var err error
	a.Plain = opts.Plain
	if a.Plain == nil {
		if a.Plain, err = openPlainStore(cfg); err != nil {
			return nil, err
		}
	}

	keyPath := filepath.Join(cfg.Storage.Dir, "master.key")
	if cfg.Storage.Dir == "" {
		keyPath = filepath.Join(os.TempDir(), "tutorial-chat-app.key")
	}
	masterKey, err := storage.LoadOrCreateMasterKey(keyPath, cfg.Storage.SecureKey)
	if err != nil {
		a.Plain.Close()
		return nil, err
	}
	if a.Secure, err = storage.NewSecureStore(a.Plain, masterKey); err != nil {
		a.Plain.Close()
		return nil, err
	}

	a.Auth = auth.NewService(auth.Options{
		ProjectURL:    cfg.Backend.URL,
		APIKey:        cfg.Backend.AnonKey,
		JWTSecret:     cfg.Auth.JWTSecret,
		Timeout:       cfg.Backend.HTTPTimeout,
		RefreshMargin: cfg.Auth.RefreshMargin,
	}, a.Secure)

	a.DB = opts.Database
	if a.DB == nil {
		if a.DB, err = a.openDatabase(ctx); err != nil {
			a.Plain.Close()
			return nil, err
		}
	}

	a.Push = push.NewDesktop(a.Plain, opts.Prompter)

	orch := OrchestratorConfig{
		Sessions: a.Auth,
		Profiles: a.DB,
		Router:   a.Router,
		Links:    a.Links,
		Location: opts.Location,
	}
	if a.Feed != nil {
		orch.Tokens = a.Feed
	}
	a.Orchestrator = NewOrchestrator(orch)
	return a, nil
}

func openPlainStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Dir == "" {
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.OpenPebble(filepath.Join(cfg.Storage.Dir, "kv"))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return store, nil
}

func (a *App) openDatabase(ctx context.Context) (database.Database, error) {
	cfg := a.Config
	switch cfg.Backend.Mode {
	case config.ModeREST:
		endpoint, err := realtime.EndpointURL(cfg.Backend.URL, cfg.Backend.AnonKey)
		if err != nil {
			return nil, err
		}
		a.Feed = realtime.NewClient(realtime.Options{
			Endpoint:  endpoint,
			Heartbeat: cfg.Realtime.Heartbeat,
			Reconnect: cfg.Realtime.Reconnect,
		}, a.Auth)
		return database.NewRESTDB(cfg.Backend.URL, cfg.Backend.AnonKey, cfg.Backend.HTTPTimeout, a.Auth, a.Feed), nil

	case config.ModePostgres:
		db, err := database.NewPostgresDB(ctx, cfg.Backend.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil

	case config.ModeMemory:
		logger.Warn("Using in-memory backend; data is lost on exit")
		return database.NewMemoryDB(), nil
	}
	return nil, fmt.Errorf("unknown backend mode %q", cfg.Backend.Mode)
}

// Start wires the orchestrator, restores the stored session and keeps it
// refreshed until Close.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	if err := a.Orchestrator.Start(ctx); err != nil {
		return err
	}
	if _, err := a.Auth.Restore(ctx); err != nil {
		return err
	}
	a.Auth.StartAutoRefresh(ctx)
	return nil
}

func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.Orchestrator.Stop()
	if a.Feed != nil {
		a.Feed.Close()
	}
	a.DB.Close()
	return a.Plain.Close()
}

// RedirectURL is where the OAuth provider sends the user back to.
func (a *App) RedirectURL() string { return a.Config.RedirectURL() }

func (a *App) LoginScreen() *screens.Login {
	return screens.NewLogin(a.Auth, a.opener, a.alerter, a.Config.Auth.Provider, a.RedirectURL())
}

func (a *App) ProfileScreen() *screens.Profile {
	return screens.NewProfile(a.DB, a.Auth, a.Router, a.alerter)
}

func (a *App) HomeScreen() *screens.Home {
	return screens.NewHome(a.DB, a.Router, a.alerter)
}

func (a *App) ChatScreen(roomID string) *screens.Chat {
	return screens.NewChat(a.DB, a.Auth, a.alerter, roomID)
}

func (a *App) SettingsScreen() *screens.Settings {
	return screens.NewSettings(a.Plain, a.Secure, a.Push, a.alerter)
}

func (a *App) CameraScreen(device screens.CameraDevice) *screens.Camera {
	return screens.NewCamera(device)
}

// Screen builds the controller for route. MainTabs resolves to the selected
// tab; unknown routes give nil.
func (a *App) Screen(route navigation.Route) screens.Screen {
	switch route.Name {
	case navigation.Login:
		return a.LoginScreen()
	case navigation.Profile:
		return a.ProfileScreen()
	case navigation.Chat:
		return a.ChatScreen(route.Param("roomId"))
	case navigation.MainTabs:
		if a.Router.Tab() == navigation.TabSettings {
			return a.SettingsScreen()
		}
		return a.HomeScreen()
	}
	return nil
}
