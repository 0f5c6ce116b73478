package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/temirov/GAuss/pkg/constants"
	"github.com/temirov/GAuss/pkg/session"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/auth"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/httpapi"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/metrics"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/testutil"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

const (
	testOwnerEmail         = "owner@example.com"
	testOtherOwnerEmail    = "other@example.com"
	testOwnerName          = "Owner Example"
	testPublicBaseURL      = "https://walls.example.com"
	testWidgetFetchTimeout = 2 * time.Second
)

var fastRetryPolicy = widget.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxRetries: 1}

type apiHarness struct {
	router       *gin.Engine
	database     *gorm.DB
	widgets      *storage.WidgetRepository
	testimonials *storage.TestimonialRepository
	dataService  *widget.DataService
	bridge       *widget.PersistenceBridge
	registry     *widget.Registry
	syncEvents   *widget.SyncEventBroadcaster
	collectors   *metrics.Collectors
}

func buildAPIHarness(testingT *testing.T) apiHarness {
	testingT.Helper()

	logger := zap.NewNop()
	database := testutil.OpenMigratedDatabase(testingT)
	widgets := storage.NewWidgetRepository(database)
	testimonials := storage.NewTestimonialRepository(database)

	collectors, metricsErr := metrics.New(prometheus.NewRegistry())
	require.NoError(testingT, metricsErr)

	dataService := widget.NewDataService(widgets, testimonials, logger,
		widget.WithDataServiceMetrics(collectors),
		widget.WithReadRetryPolicy(fastRetryPolicy))
	syncEvents := widget.NewSyncEventBroadcaster()
	testingT.Cleanup(syncEvents.Close)
	bridge := widget.NewPersistenceBridge(widgets, logger,
		widget.WithCacheInvalidator(dataService),
		widget.WithSyncEvents(syncEvents),
		widget.WithBridgeMetrics(collectors),
		widget.WithSaveRetryPolicy(fastRetryPolicy))
	registry := widget.NewRegistry(widgets, bridge, logger)

	origins, originsErr := auth.NewOriginResolver(testPublicBaseURL)
	require.NoError(testingT, originsErr)

	script, scriptErr := httpapi.RenderWidgetScript(origins.FallbackOrigin(), testWidgetFetchTimeout)
	require.NoError(testingT, scriptErr)

	publicHandlers := httpapi.NewPublicWidgetHandlers(dataService, logger, script)
	configHandlers := httpapi.NewWidgetConfigHandlers(registry, origins, syncEvents, logger)
	testimonialHandlers := httpapi.NewTestimonialHandlers(widgets, testimonials, dataService, logger)
	authManager := httpapi.NewAuthManager(logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestMetrics(collectors))

	publicGroup := router.Group("/")
	publicGroup.Use(httpapi.PublicReadHeaders())
	publicGroup.GET("/widget.js", publicHandlers.WidgetScript)
	publicGroup.GET("/widget/:widgetId", publicHandlers.WidgetFrame)
	publicGroup.GET("/api/widget/:widgetId", publicHandlers.WidgetData)
	publicGroup.POST("/api/public/testimonials", testimonialHandlers.SubmitTestimonial)

	apiGroup := router.Group("/api")
	apiGroup.Use(authManager.RequireAuthenticatedJSON())
	apiGroup.GET("/me", httpapi.CurrentUserHandler)
	apiGroup.GET("/widget-config", configHandlers.GetConfig)
	apiGroup.PATCH("/widget-config", configHandlers.UpdateConfig)
	apiGroup.POST("/widget-config/embed-code", configHandlers.GenerateEmbedCode)
	apiGroup.GET("/widget-config/embed-code", configHandlers.GetEmbedCode)
	apiGroup.POST("/widget-config/regenerate", configHandlers.RegenerateWidgetID)
	apiGroup.GET("/widget-config/events", configHandlers.StreamSyncEvents)
	apiGroup.GET("/testimonials", testimonialHandlers.ListTestimonials)
	apiGroup.PATCH("/testimonials/:id", testimonialHandlers.UpdateTestimonialStatus)
	apiGroup.DELETE("/testimonials/:id", testimonialHandlers.DeleteTestimonial)
	apiGroup.GET("/testimonial-stats", testimonialHandlers.Stats)

	return apiHarness{
		router:       router,
		database:     database,
		widgets:      widgets,
		testimonials: testimonials,
		dataService:  dataService,
		bridge:       bridge,
		registry:     registry,
		syncEvents:   syncEvents,
		collectors:   collectors,
	}
}

// seedWidget stores an active widget for ownerID and returns its identifier.
func (harness apiHarness) seedWidget(testingT *testing.T, ownerID string, configDocument string) string {
	testingT.Helper()
	widgetID := storage.NewWidgetID()
	require.NoError(testingT, harness.widgets.SaveWidget(context.Background(), widgetID, ownerID, []byte(configDocument)))
	return widgetID
}

func (harness apiHarness) flush(testingT *testing.T) {
	testingT.Helper()
	require.NoError(testingT, harness.bridge.Flush(context.Background()))
}

func performJSONRequest(testingT *testing.T, router *gin.Engine, method string, path string, body any, cookie *http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	testingT.Helper()
	var requestBody io.Reader
	if body != nil {
		encoded, encodeErr := json.Marshal(body)
		require.NoError(testingT, encodeErr)
		requestBody = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, requestBody)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSONResponse(testingT *testing.T, recorder *httptest.ResponseRecorder, target any) {
	testingT.Helper()
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), target))
}

func createAuthenticatedSessionCookie(testingT *testing.T, email string, name string) *http.Cookie {
	testingT.Helper()

	store := session.Store()
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	recorder := httptest.NewRecorder()

	sessionInstance, err := store.Get(request, constants.SessionName)
	require.NoError(testingT, err)

	sessionInstance.Values[constants.SessionKeyUserEmail] = email
	sessionInstance.Values[constants.SessionKeyUserName] = name
	sessionInstance.Values[constants.SessionKeyUserPicture] = ""
	sessionInstance.Values[constants.SessionKeyOAuthToken] = "test-token"

	require.NoError(testingT, sessionInstance.Save(request, recorder))

	response := recorder.Result()
	for _, cookie := range response.Cookies() {
		if cookie.Name == constants.SessionName {
			return cookie
		}
	}
	require.FailNow(testingT, "session cookie not found in recorder")
	return nil
}
