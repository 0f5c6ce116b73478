package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/temirov/GAuss/pkg/session"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/httpapi"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

const (
	commandUseName                = "server"
	commandShortDescription       = "Run the testimonial wall server"
	commandLongDescription        = "Launch the HTTP server that collects testimonials and serves embeddable widgets"
	missingConfigurationMessage   = "missing required configuration"
	invalidConfigurationMessage   = "invalid configuration"
	loggerCreationErrorMessage    = "logger"
	logEventListening             = "listening"
	logEventShutdown              = "shutdown"
	logFieldAddress               = "addr"
	logFieldServeMode             = "serve_mode"
	loggerContextOpenDatabase     = "open_db"
	loggerContextAutoMigrate      = "migrate"
	loggerContextBuildServer      = "build_server"
	loggerContextServer           = "server"
	readHeaderTimeoutSeconds      = 5
	shutdownTimeout               = 10 * time.Second
	unexpectedArgumentsMessage    = "unexpected command arguments"
	commandInitializationFailure  = "failed to configure command"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"
	minimumSessionSecretLength    = 32

	flagNameApplicationAddress   = "app-addr"
	flagNameDatabaseDriver       = "db-driver"
	flagNameDatabaseDataSource   = "db-dsn"
	flagNameSessionSecret        = "session-secret"
	flagNameGoogleClientID       = "google-client-id"
	flagNameGoogleClientSecret   = "google-client-secret"
	flagNamePublicBaseURL        = "public-base-url"
	flagNameServeMode            = "serve-mode"
	flagNameWidgetCacheTTL       = "widget-cache-ttl"
	flagNameConfigSyncInterval   = "config-sync-interval"
	flagNameWidgetFetchTimeout   = "widget-fetch-timeout"
	environmentKeyAppAddress     = "APP_ADDR"
	environmentKeyDatabaseDriver = "DB_DRIVER"
	environmentKeyDatabaseDSN    = "DB_DSN"
	environmentKeySessionSecret  = "SESSION_SECRET"
	environmentKeyGoogleClientID = "GOOGLE_CLIENT_ID"
	environmentKeyGoogleSecret   = "GOOGLE_CLIENT_SECRET"
	environmentKeyPublicBaseURL  = "PUBLIC_BASE_URL"
	environmentKeyServeMode      = "SERVE_MODE"
	environmentKeyWidgetCacheTTL = "WIDGET_CACHE_TTL"
	environmentKeySyncInterval   = "CONFIG_SYNC_INTERVAL"
	environmentKeyFetchTimeout   = "WIDGET_FETCH_TIMEOUT"

	defaultApplicationAddress = ":8080"
	defaultPublicBaseURL      = "http://localhost:8080"
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	DatabaseDriverName     string
	DatabaseDataSourceName string
	SessionSecret          string
	GoogleClientID         string
	GoogleClientSecret     string
	PublicBaseURL          string
	ServeMode              ServeMode
	WidgetCacheTTL         time.Duration
	ConfigSyncInterval     time.Duration
	WidgetFetchTimeout     time.Duration
}

// DatabaseOpener opens a database connection using the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

type flagBinding struct {
	flagName       string
	environmentKey string
}

var flagBindings = []flagBinding{
	{flagName: flagNameApplicationAddress, environmentKey: environmentKeyAppAddress},
	{flagName: flagNameDatabaseDriver, environmentKey: environmentKeyDatabaseDriver},
	{flagName: flagNameDatabaseDataSource, environmentKey: environmentKeyDatabaseDSN},
	{flagName: flagNameSessionSecret, environmentKey: environmentKeySessionSecret},
	{flagName: flagNameGoogleClientID, environmentKey: environmentKeyGoogleClientID},
	{flagName: flagNameGoogleClientSecret, environmentKey: environmentKeyGoogleSecret},
	{flagName: flagNamePublicBaseURL, environmentKey: environmentKeyPublicBaseURL},
	{flagName: flagNameServeMode, environmentKey: environmentKeyServeMode},
	{flagName: flagNameWidgetCacheTTL, environmentKey: environmentKeyWidgetCacheTTL},
	{flagName: flagNameConfigSyncInterval, environmentKey: environmentKeySyncInterval},
	{flagName: flagNameWidgetFetchTimeout, environmentKey: environmentKeyFetchTimeout},
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.SetDefault(environmentKeyAppAddress, defaultApplicationAddress)
	application.configurationLoader.SetDefault(environmentKeyDatabaseDriver, storage.DriverNameSQLite)
	application.configurationLoader.SetDefault(environmentKeyPublicBaseURL, defaultPublicBaseURL)
	application.configurationLoader.SetDefault(environmentKeyServeMode, string(ServeModeMonolith))
	application.configurationLoader.SetDefault(environmentKeyWidgetCacheTTL, widget.DefaultPayloadCacheTTL)
	application.configurationLoader.SetDefault(environmentKeySyncInterval, widget.DefaultSyncInterval)
	application.configurationLoader.SetDefault(environmentKeyFetchTimeout, httpapi.DefaultWidgetFetchTimeout)
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameApplicationAddress, defaultApplicationAddress, "address for the HTTP server to listen on")
	commandFlags.String(flagNameDatabaseDriver, storage.DriverNameSQLite, "database driver name")
	commandFlags.String(flagNameDatabaseDataSource, "", "database connection string")
	commandFlags.String(flagNameSessionSecret, "", "secret used to sign session cookies (at least 32 bytes)")
	commandFlags.String(flagNameGoogleClientID, "", "Google OAuth client ID")
	commandFlags.String(flagNameGoogleClientSecret, "", "Google OAuth client secret")
	commandFlags.String(flagNamePublicBaseURL, defaultPublicBaseURL, "externally visible base URL of the dashboard and widget assets")
	commandFlags.String(flagNameServeMode, string(ServeModeMonolith), "route families to serve: monolith, web, or api")
	commandFlags.Duration(flagNameWidgetCacheTTL, widget.DefaultPayloadCacheTTL, "how long widget payloads are memoized (0 disables)")
	commandFlags.Duration(flagNameConfigSyncInterval, widget.DefaultSyncInterval, "how often pending widget configuration saves are retried")
	commandFlags.Duration(flagNameWidgetFetchTimeout, httpapi.DefaultWidgetFetchTimeout, "how long widget.js waits for the widget payload")

	for _, binding := range flagBindings {
		if bindErr := application.bindFlag(commandFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
	}

	for _, binding := range flagBindings {
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadServerConfig() (ServerConfig, error) {
	serveMode, serveModeErr := ParseServeMode(application.configurationLoader.GetString(environmentKeyServeMode))
	if serveModeErr != nil {
		return ServerConfig{}, fmt.Errorf("%s: %w", invalidConfigurationMessage, serveModeErr)
	}

	return ServerConfig{
		ApplicationAddress:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyAppAddress)),
		DatabaseDriverName:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDataSourceName: strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDSN)),
		SessionSecret:          strings.TrimSpace(application.configurationLoader.GetString(environmentKeySessionSecret)),
		GoogleClientID:         strings.TrimSpace(application.configurationLoader.GetString(environmentKeyGoogleClientID)),
		GoogleClientSecret:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyGoogleSecret)),
		PublicBaseURL:          strings.TrimSpace(application.configurationLoader.GetString(environmentKeyPublicBaseURL)),
		ServeMode:              serveMode,
		WidgetCacheTTL:         application.configurationLoader.GetDuration(environmentKeyWidgetCacheTTL),
		ConfigSyncInterval:     application.configurationLoader.GetDuration(environmentKeySyncInterval),
		WidgetFetchTimeout:     application.configurationLoader.GetDuration(environmentKeyFetchTimeout),
	}, nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configErr := application.loadServerConfig()
	if configErr != nil {
		return configErr
	}

	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	session.NewSession([]byte(serverConfig.SessionSecret))

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriverName,
		DataSourceName: serverConfig.DatabaseDataSourceName,
	})
	if databaseErr != nil {
		logger.Fatal(loggerContextOpenDatabase, zap.Error(databaseErr))
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Fatal(loggerContextAutoMigrate, zap.Error(migrateErr))
	}

	runtimeState, runtimeErr := buildServerRuntime(serverConfig, database, logger)
	if runtimeErr != nil {
		logger.Fatal(loggerContextBuildServer, zap.Error(runtimeErr))
	}

	signalContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	runtimeState.bridge.Start(signalContext)
	defer runtimeState.bridge.Stop()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           runtimeState.router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	serveErrs := make(chan error, 1)
	go func() {
		logger.Info(logEventListening,
			zap.String(logFieldAddress, serverConfig.ApplicationAddress),
			zap.String(logFieldServeMode, string(serverConfig.ServeMode)))
		serveErrs <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-serveErrs:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error(loggerContextServer, zap.Error(serveErr))
			return serveErr
		}
	case <-signalContext.Done():
		logger.Info(logEventShutdown)
		shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
			logger.Error(loggerContextServer, zap.Error(shutdownErr))
		}
		runtimeState.syncEvents.Close()
	}

	return nil
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.DatabaseDataSourceName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDataSource)
	}

	if configuration.SessionSecret == "" {
		missingParameters = append(missingParameters, flagNameSessionSecret)
	}

	if configuration.ServeMode.ServesWeb() {
		if configuration.GoogleClientID == "" {
			missingParameters = append(missingParameters, flagNameGoogleClientID)
		}
		if configuration.GoogleClientSecret == "" {
			missingParameters = append(missingParameters, flagNameGoogleClientSecret)
		}
	}

	if configuration.PublicBaseURL == "" {
		missingParameters = append(missingParameters, flagNamePublicBaseURL)
	}

	if len(missingParameters) > 0 {
		return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
	}

	if len(configuration.SessionSecret) < minimumSessionSecretLength {
		return fmt.Errorf("%s: %s must be at least %d bytes", invalidConfigurationMessage, flagNameSessionSecret, minimumSessionSecretLength)
	}

	return nil
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
