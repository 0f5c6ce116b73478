package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

const (
	contentTypeJavaScript = "application/javascript; charset=utf-8"
	contentTypeHTML       = "text/html; charset=utf-8"

	widgetScriptCacheControl  = "public, max-age=300"
	widgetPayloadCacheControl = "no-cache"

	frameMessageNotFound    = "Widget not found"
	frameMessageUnavailable = "Failed to load widget"
)

// WidgetDataProvider assembles the public payload of a widget.
type WidgetDataProvider interface {
	WidgetData(ctx context.Context, widgetID string) (widget.Payload, error)
}

// PublicWidgetHandlers serves the unauthenticated widget surfaces: the JSON payload,
// the standalone script, and the iframe page.
type PublicWidgetHandlers struct {
	provider WidgetDataProvider
	logger   *zap.Logger
	script   []byte
}

func NewPublicWidgetHandlers(provider WidgetDataProvider, logger *zap.Logger, script []byte) *PublicWidgetHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublicWidgetHandlers{
		provider: provider,
		logger:   logger,
		script:   script,
	}
}

// WidgetData answers GET /api/widget/:widgetId.
func (handlers *PublicWidgetHandlers) WidgetData(context *gin.Context) {
	widgetID := strings.TrimSpace(context.Param("widgetId"))
	payload, dataErr := handlers.provider.WidgetData(context.Request.Context(), widgetID)
	if dataErr != nil {
		switch {
		case errors.Is(dataErr, storage.ErrWidgetNotFound):
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownWidget})
		case errors.Is(dataErr, storage.ErrUnavailable):
			context.Header(headerRetryAfter, retryAfterSeconds)
			context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueWidgetUnavailable})
		default:
			handlers.logger.Error("widget_data_request_failed", zap.String("widget_id", widgetID), zap.Error(dataErr))
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInternal})
		}
		return
	}
	context.Header(headerCacheControl, widgetPayloadCacheControl)
	context.JSON(http.StatusOK, payload)
}

// WidgetScript answers GET /widget.js.
func (handlers *PublicWidgetHandlers) WidgetScript(context *gin.Context) {
	context.Header(headerCacheControl, widgetScriptCacheControl)
	context.Data(http.StatusOK, contentTypeJavaScript, handlers.script)
}

// WidgetFrame answers GET /widget/:widgetId with a server-rendered page for iframe embeds.
func (handlers *PublicWidgetHandlers) WidgetFrame(context *gin.Context) {
	widgetID := strings.TrimSpace(context.Param("widgetId"))
	payload, dataErr := handlers.provider.WidgetData(context.Request.Context(), widgetID)

	var buffer bytes.Buffer
	status := http.StatusOK
	var renderErr error
	switch {
	case dataErr == nil:
		renderErr = widget.RenderFrame(&buffer, widgetID, payload)
	case errors.Is(dataErr, storage.ErrWidgetNotFound):
		status = http.StatusNotFound
		renderErr = widget.RenderFrameError(&buffer, widgetID, frameMessageNotFound)
	default:
		status = http.StatusServiceUnavailable
		context.Header(headerRetryAfter, retryAfterSeconds)
		renderErr = widget.RenderFrameError(&buffer, widgetID, frameMessageUnavailable)
	}
	if renderErr != nil {
		handlers.logger.Error("render_widget_frame", zap.String("widget_id", widgetID), zap.Error(renderErr))
		context.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	context.Data(status, contentTypeHTML, buffer.Bytes())
}
