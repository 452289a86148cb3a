package app

import (
	"fmt"

	"go.uber.org/zap"

	"smart-meal-manager/internal/capture"
	"smart-meal-manager/internal/config"
	"smart-meal-manager/internal/database"
	"smart-meal-manager/internal/handoff"
	"smart-meal-manager/internal/history"
	"smart-meal-manager/internal/mealapi"
	"smart-meal-manager/internal/metrics"
	"smart-meal-manager/internal/poller"
	"smart-meal-manager/internal/session"
	"smart-meal-manager/internal/storage"
	"smart-meal-manager/internal/upload"
	"smart-meal-manager/internal/voice"
)

// Services are the long-lived components shared by the CLI and the bot.
type Services struct {
	Config *config.Config
	Logger *zap.Logger

	DB           *database.DB
	Client       mealapi.Client
	SessionStore *storage.Store
	LocalStore   *storage.Store
	History      *history.Repository
	Loader       *history.Loader
	Metrics      *metrics.Store
	Gateway      *upload.Gateway
	Poller       *poller.Poller
	Handoff      *handoff.Resolver
}

// NewServices opens the database and stores and wires the backend client.
func NewServices(cfg *config.Config, logger *zap.Logger) (*Services, error) {
	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	sessionStore, err := storage.NewStore(cfg.SessionStorePath())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	localStore, err := storage.NewStore(cfg.LocalStorePath())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize local store: %w", err)
	}

	metricsStore := metrics.NewStore(db.SQL)
	client := mealapi.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, mealapi.WithRecorder(metricsStore))

	return &Services{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		Client:       client,
		SessionStore: sessionStore,
		LocalStore:   localStore,
		History:      history.NewRepository(db.SQL),
		Loader:       history.NewLoader(client, logger),
		Metrics:      metricsStore,
		Gateway:      upload.NewGateway(client, logger),
		Poller: poller.New(client, poller.RealClock(), logger, poller.Options{
			Interval:    cfg.PollInterval,
			AutoAnalyze: cfg.AutoAnalyze,
			StopOnError: cfg.StopOnError,
		}),
		Handoff: handoff.NewResolver(handoff.Options{
			PublicOrigin: cfg.PublicOrigin,
			FrontendPort: cfg.FrontendPort,
			APIBaseURL:   cfg.APIBaseURL,
			Route:        cfg.MobileRoute,
		}, client, logger),
	}, nil
}

// Close releases the database.
func (s *Services) Close() error {
	return s.DB.Close()
}

// SessionCreator returns the backend as id issuer in backend session mode,
// or nil to generate ids locally.
func (s *Services) SessionCreator() session.Creator {
	if s.Config.SessionMode == config.SessionModeBackend {
		return s.Client
	}
	return nil
}

// Narrator returns the configured speech command, or a log narrator.
func (s *Services) Narrator() voice.Narrator {
	if s.Config.TTSCommand != "" {
		return voice.NewCommandNarrator(s.Config.TTSCommand)
	}
	return voice.LogNarrator{Logger: s.Logger}
}

// Camera returns the configured capture device.
func (s *Services) Camera(device string) capture.Camera {
	if device == "" {
		device = s.Config.CameraDevice
	}
	return capture.NewCommandCamera(s.Config.CameraCommand, device, s.Logger)
}
