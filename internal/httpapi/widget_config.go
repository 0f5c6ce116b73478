package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

const (
	widgetSyncEventName = "widget_sync"

	headerContentType = "Content-Type"
	headerConnection  = "Connection"
)

// ConfigStoreProvider hands out the configuration store of an owner.
type ConfigStoreProvider interface {
	Store(ctx context.Context, ownerID string) (*widget.ConfigStore, error)
}

// OriginSource derives the externally visible origin of a request.
type OriginSource interface {
	Origin(request *http.Request) (string, error)
	FallbackOrigin() string
}

type embedCodeResponse struct {
	WidgetID  string `json:"widgetId"`
	Origin    string `json:"origin"`
	EmbedCode string `json:"embedCode"`
}

// WidgetConfigHandlers serves the dashboard endpoints that edit the signed-in owner's widget.
type WidgetConfigHandlers struct {
	stores     ConfigStoreProvider
	origins    OriginSource
	syncEvents *widget.SyncEventBroadcaster
	logger     *zap.Logger
}

func NewWidgetConfigHandlers(stores ConfigStoreProvider, origins OriginSource, syncEvents *widget.SyncEventBroadcaster, logger *zap.Logger) *WidgetConfigHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WidgetConfigHandlers{
		stores:     stores,
		origins:    origins,
		syncEvents: syncEvents,
		logger:     logger,
	}
}

// GetConfig answers GET /api/widget-config.
func (handlers *WidgetConfigHandlers) GetConfig(context *gin.Context) {
	store, ok := handlers.currentStore(context)
	if !ok {
		return
	}
	context.JSON(http.StatusOK, store.Snapshot())
}

// UpdateConfig answers PATCH /api/widget-config. Every successful update discards the embed code.
func (handlers *WidgetConfigHandlers) UpdateConfig(context *gin.Context) {
	store, ok := handlers.currentStore(context)
	if !ok {
		return
	}
	var patch widget.Patch
	if bindErr := context.ShouldBindJSON(&patch); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	snapshot, updateErr := store.Update(patch)
	if updateErr != nil {
		respondWithError(context, updateErr)
		return
	}
	context.JSON(http.StatusOK, snapshot)
}

// GenerateEmbedCode answers POST /api/widget-config/embed-code.
func (handlers *WidgetConfigHandlers) GenerateEmbedCode(context *gin.Context) {
	store, ok := handlers.currentStore(context)
	if !ok {
		return
	}
	origin := handlers.requestOrigin(context.Request)
	if origin == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueOriginUnresolvable})
		return
	}
	embedCode, generateErr := store.GenerateEmbedCode(origin)
	if generateErr != nil {
		respondWithError(context, generateErr)
		return
	}
	normalizedOrigin, _ := widget.NormalizeOrigin(origin)
	context.JSON(http.StatusOK, embedCodeResponse{
		WidgetID:  store.Snapshot().WidgetID,
		Origin:    normalizedOrigin,
		EmbedCode: embedCode,
	})
}

// GetEmbedCode answers GET /api/widget-config/embed-code with the last generated snippet,
// or 409 when the configuration changed since.
func (handlers *WidgetConfigHandlers) GetEmbedCode(context *gin.Context) {
	store, ok := handlers.currentStore(context)
	if !ok {
		return
	}
	embedCode, embedErr := store.EmbedCode()
	if embedErr != nil {
		respondWithError(context, embedErr)
		return
	}
	context.JSON(http.StatusOK, gin.H{
		"widgetId":  store.Snapshot().WidgetID,
		"embedCode": embedCode,
	})
}

// RegenerateWidgetID answers POST /api/widget-config/regenerate.
func (handlers *WidgetConfigHandlers) RegenerateWidgetID(context *gin.Context) {
	store, ok := handlers.currentStore(context)
	if !ok {
		return
	}
	snapshot := store.RegenerateWidgetID()
	handlers.logger.Info("widget_id_regenerated", zap.String("owner_id", store.OwnerID()), zap.String("widget_id", snapshot.WidgetID))
	context.JSON(http.StatusOK, snapshot)
}

// StreamSyncEvents answers GET /api/widget-config/events with server-sent events reporting
// when the owner's configuration reached storage.
func (handlers *WidgetConfigHandlers) StreamSyncEvents(ginContext *gin.Context) {
	currentUser, ok := CurrentUserFromContext(ginContext)
	if !ok {
		ginContext.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
		return
	}
	subscription := handlers.syncEvents.Subscribe(currentUser.OwnerID)
	if subscription == nil {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	defer subscription.Close()

	ginContext.Header(headerContentType, "text/event-stream")
	ginContext.Header(headerCacheControl, "no-cache")
	ginContext.Header(headerConnection, "keep-alive")

	flusher, flushable := ginContext.Writer.(http.Flusher)
	if !flushable {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}

	ginContext.Writer.WriteHeaderNow()
	flusher.Flush()

	requestContext := ginContext.Request.Context()
	for {
		select {
		case <-requestContext.Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			serializedEvent, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				handlers.logger.Debug("marshal_sync_event_failed", zap.Error(marshalErr))
				continue
			}
			var buffer bytes.Buffer
			buffer.WriteString("event: ")
			buffer.WriteString(widgetSyncEventName)
			buffer.WriteString("\n")
			buffer.WriteString("data: ")
			buffer.Write(serializedEvent)
			buffer.WriteString("\n\n")
			if _, writeErr := ginContext.Writer.Write(buffer.Bytes()); writeErr != nil {
				return
			}
			flusher.Flush()
			handlers.logger.Debug("stream_sync_event",
				zap.String("owner_id", currentUser.OwnerID),
				zap.String("widget_id", event.WidgetID),
				zap.String("status", event.Status))
		}
	}
}

func (handlers *WidgetConfigHandlers) currentStore(context *gin.Context) (*widget.ConfigStore, bool) {
	currentUser, ok := CurrentUserFromContext(context)
	if !ok {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
		return nil, false
	}
	store, storeErr := handlers.stores.Store(context.Request.Context(), currentUser.OwnerID)
	if storeErr != nil {
		handlers.logger.Warn("load_widget_config", zap.String("owner_id", currentUser.OwnerID), zap.Error(storeErr))
		respondWithError(context, storeErr)
		return nil, false
	}
	return store, true
}

func (handlers *WidgetConfigHandlers) requestOrigin(request *http.Request) string {
	if handlers.origins == nil {
		return ""
	}
	origin, originErr := handlers.origins.Origin(request)
	if originErr == nil && origin != "" {
		return origin
	}
	if originErr != nil {
		handlers.logger.Debug("request_origin_fallback", zap.Error(originErr))
	}
	return handlers.origins.FallbackOrigin()
}
