package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	prometheuscollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temirov/GAuss/pkg/constants"
	"github.com/temirov/GAuss/pkg/gauss"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/auth"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/httpapi"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/metrics"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

const (
	apiRoutePrefix             = "/api"
	apiRouteMe                 = "/me"
	apiRouteWidgetConfig       = "/widget-config"
	apiRouteEmbedCode          = "/widget-config/embed-code"
	apiRouteRegenerateWidgetID = "/widget-config/regenerate"
	apiRouteSyncEvents         = "/widget-config/events"
	apiRouteTestimonials       = "/testimonials"
	apiRouteTestimonial        = "/testimonials/:id"
	apiRouteTestimonialStats   = "/testimonial-stats"

	publicRouteWidgetData        = "/api/widget/:widgetId"
	publicRouteSubmitTestimonial = "/api/public/testimonials"
	publicRouteWidgetScript      = "/widget.js"
	publicRouteWidgetFrame       = "/widget/:widgetId"

	operationsRouteMetrics = "/metrics"
	operationsRouteHealth  = "/healthz"

	signInRedirectPath = "/"

	corsOriginWildcard      = "*"
	corsHeaderContentType   = "Content-Type"
	corsHeaderRetryAfter    = "Retry-After"
	corsMaxAge              = 12 * time.Hour
	healthCheckTimeout      = 2 * time.Second
	healthStatusOK          = "ok"
	healthStatusUnavailable = "storage_unavailable"
)

var (
	corsAllowedMethods    = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	corsWidgetReadMethods = []string{http.MethodGet, http.MethodOptions}
	corsSubmissionMethods = []string{http.MethodPost, http.MethodOptions}
	corsAllowedHeaders    = []string{corsHeaderContentType}
	corsExposedHeaders    = []string{corsHeaderContentType, corsHeaderRetryAfter}

	authenticatedAPIRoutes = []string{
		apiRouteMe,
		apiRouteWidgetConfig,
		apiRouteEmbedCode,
		apiRouteRegenerateWidgetID,
		apiRouteSyncEvents,
		apiRouteTestimonials,
		apiRouteTestimonial,
		apiRouteTestimonialStats,
	}
	publicAPIRoutes = []string{
		publicRouteSubmitTestimonial,
	}
)

// applicationRuntime is the wired server: its router plus the background pieces main starts and stops.
type applicationRuntime struct {
	router     *gin.Engine
	bridge     *widget.PersistenceBridge
	syncEvents *widget.SyncEventBroadcaster
}

type routeHandlers struct {
	authManager    *httpapi.AuthManager
	oauthHandlers  *auth.Handlers
	publicWidgets  *httpapi.PublicWidgetHandlers
	widgetConfig   *httpapi.WidgetConfigHandlers
	testimonials   *httpapi.TestimonialHandlers
	metricsHandler http.Handler
	healthHandler  gin.HandlerFunc
}

func buildServerRuntime(configuration ServerConfig, database *gorm.DB, logger *zap.Logger) (*applicationRuntime, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheuscollectors.NewGoCollector(),
		prometheuscollectors.NewProcessCollector(prometheuscollectors.ProcessCollectorOpts{}),
	)
	collectors, metricsErr := metrics.New(registry)
	if metricsErr != nil {
		return nil, fmt.Errorf("register metrics: %w", metricsErr)
	}

	widgets := storage.NewWidgetRepository(database)
	testimonials := storage.NewTestimonialRepository(database)

	dataService := widget.NewDataService(widgets, testimonials, logger,
		widget.WithPayloadCacheTTL(configuration.WidgetCacheTTL),
		widget.WithDataServiceMetrics(collectors))

	syncEvents := widget.NewSyncEventBroadcaster()
	bridgeOptions := []widget.BridgeOption{
		widget.WithCacheInvalidator(dataService),
		widget.WithSyncEvents(syncEvents),
		widget.WithBridgeMetrics(collectors),
	}
	if configuration.ConfigSyncInterval > 0 {
		bridgeOptions = append(bridgeOptions, widget.WithSyncInterval(configuration.ConfigSyncInterval))
	}
	bridge := widget.NewPersistenceBridge(widgets, logger, bridgeOptions...)

	handlers := routeHandlers{
		authManager:    httpapi.NewAuthManager(logger),
		metricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{ErrorHandling: promhttp.HTTPErrorOnError}),
		healthHandler:  newHealthHandler(database),
	}

	var origins *auth.OriginResolver
	if configuration.ServeMode.ServesWeb() {
		oauthHandlers, oauthErr := auth.NewHandlers(auth.Config{
			GoogleClientID:     configuration.GoogleClientID,
			GoogleClientSecret: configuration.GoogleClientSecret,
			PublicBaseURL:      configuration.PublicBaseURL,
			LocalRedirectPath:  signInRedirectPath,
			Scopes:             gauss.ScopeStrings(gauss.DefaultScopes),
			Logger:             logger,
		})
		if oauthErr != nil {
			return nil, oauthErr
		}
		handlers.oauthHandlers = oauthHandlers
		origins = oauthHandlers.Origins()
	} else {
		resolver, resolverErr := auth.NewOriginResolver(configuration.PublicBaseURL)
		if resolverErr != nil {
			return nil, resolverErr
		}
		origins = resolver
	}

	script, scriptErr := httpapi.RenderWidgetScript(origins.FallbackOrigin(), configuration.WidgetFetchTimeout)
	if scriptErr != nil {
		return nil, scriptErr
	}
	handlers.publicWidgets = httpapi.NewPublicWidgetHandlers(dataService, logger, script)
	handlers.widgetConfig = httpapi.NewWidgetConfigHandlers(widget.NewRegistry(widgets, bridge, logger), origins, syncEvents, logger)
	handlers.testimonials = httpapi.NewTestimonialHandlers(widgets, testimonials, dataService, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	router.Use(httpapi.RequestMetrics(collectors))

	widgetReadCORS := cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsWidgetReadMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           corsMaxAge,
	})
	publicCORS := cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsSubmissionMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           corsMaxAge,
	})
	authenticatedCORS := cors.New(cors.Config{
		AllowOrigins:     []string{origins.FallbackOrigin()},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	})

	registerOperationsRoutes(router, handlers)
	registerWidgetDataRoute(router, handlers, widgetReadCORS)
	if configuration.ServeMode.ServesWeb() {
		registerWebRoutes(router, handlers)
	}
	if configuration.ServeMode.ServesAPI() {
		registerBackendRoutes(router, handlers, publicCORS, authenticatedCORS)
		registerAPIPreflightRoutes(router, publicCORS, authenticatedCORS)
	}

	return &applicationRuntime{
		router:     router,
		bridge:     bridge,
		syncEvents: syncEvents,
	}, nil
}

func registerOperationsRoutes(router *gin.Engine, handlers routeHandlers) {
	router.GET(operationsRouteHealth, handlers.healthHandler)
	router.GET(operationsRouteMetrics, gin.WrapH(handlers.metricsHandler))
}

// registerWidgetDataRoute serves the payload endpoint in every mode, since widget.js
// fetches it from the origin the script was loaded from.
func registerWidgetDataRoute(router *gin.Engine, handlers routeHandlers, widgetReadCORS gin.HandlerFunc) {
	router.GET(publicRouteWidgetData, widgetReadCORS, httpapi.PublicReadHeaders(), handlers.publicWidgets.WidgetData)
	router.OPTIONS(publicRouteWidgetData, widgetReadCORS, respondNoContent)
}

func registerWebRoutes(router *gin.Engine, handlers routeHandlers) {
	router.GET(publicRouteWidgetScript, httpapi.PublicReadHeaders(), handlers.publicWidgets.WidgetScript)
	router.GET(publicRouteWidgetFrame, handlers.publicWidgets.WidgetFrame)

	oauthMux := http.NewServeMux()
	handlers.oauthHandlers.RegisterRoutes(oauthMux)
	for _, path := range []string{constants.LoginPath, constants.GoogleAuthPath, constants.CallbackPath, constants.LogoutPath} {
		router.GET(path, gin.WrapH(oauthMux))
	}
}

func registerBackendRoutes(router *gin.Engine, handlers routeHandlers, publicCORS gin.HandlerFunc, authenticatedCORS gin.HandlerFunc) {
	router.POST(publicRouteSubmitTestimonial, publicCORS, handlers.testimonials.SubmitTestimonial)

	apiGroup := router.Group(apiRoutePrefix)
	apiGroup.Use(authenticatedCORS)
	apiGroup.Use(handlers.authManager.RequireAuthenticatedJSON())
	apiGroup.GET(apiRouteMe, httpapi.CurrentUserHandler)
	apiGroup.GET(apiRouteWidgetConfig, handlers.widgetConfig.GetConfig)
	apiGroup.PATCH(apiRouteWidgetConfig, handlers.widgetConfig.UpdateConfig)
	apiGroup.POST(apiRouteEmbedCode, handlers.widgetConfig.GenerateEmbedCode)
	apiGroup.GET(apiRouteEmbedCode, handlers.widgetConfig.GetEmbedCode)
	apiGroup.POST(apiRouteRegenerateWidgetID, handlers.widgetConfig.RegenerateWidgetID)
	apiGroup.GET(apiRouteSyncEvents, handlers.widgetConfig.StreamSyncEvents)
	apiGroup.GET(apiRouteTestimonials, handlers.testimonials.ListTestimonials)
	apiGroup.PATCH(apiRouteTestimonial, handlers.testimonials.UpdateTestimonialStatus)
	apiGroup.DELETE(apiRouteTestimonial, handlers.testimonials.DeleteTestimonial)
	apiGroup.GET(apiRouteTestimonialStats, handlers.testimonials.Stats)
}

// registerAPIPreflightRoutes answers CORS preflight requests, which never carry a session cookie.
func registerAPIPreflightRoutes(router *gin.Engine, publicCORS gin.HandlerFunc, authenticatedCORS gin.HandlerFunc) {
	for _, route := range publicAPIRoutes {
		router.OPTIONS(route, publicCORS, respondNoContent)
	}
	for _, route := range authenticatedAPIRoutes {
		router.OPTIONS(apiRoutePrefix+route, authenticatedCORS, respondNoContent)
	}
}

func respondNoContent(context *gin.Context) {
	context.Status(http.StatusNoContent)
}

func newHealthHandler(database *gorm.DB) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		sqlDatabase, sqlErr := database.DB()
		if sqlErr != nil {
			ginContext.JSON(http.StatusServiceUnavailable, gin.H{"status": healthStatusUnavailable})
			return
		}
		pingContext, cancelPing := context.WithTimeout(ginContext.Request.Context(), healthCheckTimeout)
		defer cancelPing()
		if pingErr := sqlDatabase.PingContext(pingContext); pingErr != nil {
			ginContext.JSON(http.StatusServiceUnavailable, gin.H{"status": healthStatusUnavailable})
			return
		}
		ginContext.JSON(http.StatusOK, gin.H{"status": healthStatusOK})
	}
}
