package app

import (
	"strings"
	"time"

	"speech-gateway/internal/config"
	"speech-gateway/internal/observability/logging"

	"github.com/rs/zerolog"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("component", "application").
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("speech gateway application created")
	return a
}

// setupLogger configures the process-wide logger via the logging package,
// so every logging.With* helper used elsewhere in the gateway (session,
// wsapi, decoder) shares this same level/format configuration.
func (a *Application) setupLogger() {
	cfg := logging.DefaultConfig()
	if a.Cfg != nil {
		cfg.Level = strings.ToLower(a.Cfg.Observability.LogLevel)
		cfg.Format = a.Cfg.Observability.Format
	}
	logging.Init(cfg)

	a.Logger = logging.Logger().With().
		Str("service", "speech-gateway").
		Str("component", "application").
		Logger()

	a.Logger.Info().Str("logLevel", cfg.Level).Msg("logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("speech gateway starting")

	return nil
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("speech gateway shutting down")
}

