// Package auth wires Google sign-in for dashboard owners through GAuss.
package auth

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/temirov/GAuss/pkg/constants"
	"github.com/temirov/GAuss/pkg/gauss"
	"go.uber.org/zap"
)

const (
	logEventResolveHandlers = "resolve_oauth_handlers"
	createServiceError      = "create oauth service"
	createHandlersError     = "create oauth handlers"
	parseBaseURLError       = "parse public base url"
)

// Config captures dependencies for building OAuth handlers.
type Config struct {
	GoogleClientID     string
	GoogleClientSecret string
	PublicBaseURL      string
	LocalRedirectPath  string
	Scopes             []string
	LoginTemplate      string
	Logger             *zap.Logger
}

// Handlers serves the GAuss login flow. Each externally visible origin gets its own
// GAuss service so the OAuth callback returns to the host the owner signed in from.
type Handlers struct {
	configuration     Config
	origins           *OriginResolver
	defaultHandlers   *gauss.Handlers
	defaultServeMux   *http.ServeMux
	handlerCache      map[string]*gauss.Handlers
	handlerCacheMutex sync.RWMutex
	logger            *zap.Logger
}

func NewHandlers(configuration Config) (*Handlers, error) {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origins, originsErr := NewOriginResolver(configuration.PublicBaseURL)
	if originsErr != nil {
		return nil, fmt.Errorf("%s: %w", parseBaseURLError, originsErr)
	}

	defaultHandlers, handlersErr := newGaussHandlers(configuration, configuration.PublicBaseURL)
	if handlersErr != nil {
		return nil, handlersErr
	}

	defaultServeMux := http.NewServeMux()
	defaultHandlers.RegisterRoutes(defaultServeMux)

	return &Handlers{
		configuration:   configuration,
		origins:         origins,
		defaultHandlers: defaultHandlers,
		defaultServeMux: defaultServeMux,
		handlerCache:    make(map[string]*gauss.Handlers),
		logger:          logger,
	}, nil
}

// Origins exposes the resolver the handlers use, so other endpoints derive origins the same way.
func (handlers *Handlers) Origins() *OriginResolver {
	return handlers.origins
}

// RegisterRoutes wires the OAuth endpoints to the provided ServeMux.
func (handlers *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(constants.LoginPath, handlers.defaultServeMux.ServeHTTP)
	mux.HandleFunc(constants.GoogleAuthPath, handlers.handleGoogleAuth)
	mux.HandleFunc(constants.CallbackPath, handlers.handleCallback)
	mux.HandleFunc(constants.LogoutPath, handlers.defaultHandlers.Logout)
}

func (handlers *Handlers) handleGoogleAuth(responseWriter http.ResponseWriter, request *http.Request) {
	dynamicHandlers, ok := handlers.resolve(responseWriter, request)
	if ok {
		dynamicHandlers.Login(responseWriter, request)
	}
}

func (handlers *Handlers) handleCallback(responseWriter http.ResponseWriter, request *http.Request) {
	dynamicHandlers, ok := handlers.resolve(responseWriter, request)
	if ok {
		dynamicHandlers.Callback(responseWriter, request)
	}
}

func (handlers *Handlers) resolve(responseWriter http.ResponseWriter, request *http.Request) (*gauss.Handlers, bool) {
	dynamicHandlers, resolutionErr := handlers.handlersForRequest(request)
	if resolutionErr != nil {
		handlers.logger.Warn(logEventResolveHandlers, zap.Error(resolutionErr))
		http.Error(responseWriter, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	return dynamicHandlers, true
}

func (handlers *Handlers) handlersForRequest(request *http.Request) (*gauss.Handlers, error) {
	baseURL, baseErr := handlers.origins.BaseURL(request)
	if baseErr != nil {
		return nil, baseErr
	}

	handlers.handlerCacheMutex.RLock()
	cachedHandlers := handlers.handlerCache[baseURL]
	handlers.handlerCacheMutex.RUnlock()
	if cachedHandlers != nil {
		return cachedHandlers, nil
	}

	handlers.handlerCacheMutex.Lock()
	defer handlers.handlerCacheMutex.Unlock()
	if cachedHandlers = handlers.handlerCache[baseURL]; cachedHandlers != nil {
		return cachedHandlers, nil
	}

	gaussHandlers, handlersErr := newGaussHandlers(handlers.configuration, baseURL)
	if handlersErr != nil {
		return nil, handlersErr
	}
	handlers.handlerCache[baseURL] = gaussHandlers
	return gaussHandlers, nil
}

func newGaussHandlers(configuration Config, baseURL string) (*gauss.Handlers, error) {
	serviceInstance, serviceErr := gauss.NewService(
		configuration.GoogleClientID,
		configuration.GoogleClientSecret,
		baseURL,
		configuration.LocalRedirectPath,
		configuration.Scopes,
		configuration.LoginTemplate,
	)
	if serviceErr != nil {
		return nil, fmt.Errorf("%s: %w", createServiceError, serviceErr)
	}

	gaussHandlers, handlersErr := gauss.NewHandlers(serviceInstance)
	if handlersErr != nil {
		return nil, fmt.Errorf("%s: %w", createHandlersError, handlersErr)
	}
	return gaussHandlers, nil
}
