package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

const (
	jsonKeyError = "error"

	errorValueUnauthorized        = "unauthorized"
	errorValueInvalidJSON         = "invalid_json"
	errorValueMissingFields       = "missing_fields"
	errorValueRateLimited         = "rate_limited"
	errorValueUnknownWidget       = "unknown_widget"
	errorValueWidgetUnavailable   = "widget_unavailable"
	errorValueStorageUnavailable  = "storage_unavailable"
	errorValueTestimonialNotFound = "testimonial_not_found"
	errorValueInvalidStatus       = "invalid_status"
	errorValueStreamUnavailable   = "stream_unavailable"
	errorValueOriginUnresolvable  = "origin_unresolvable"
	errorValueInternal            = "internal_error"

	retryAfterSeconds = "5"
)

// respondWithError maps the error taxonomy onto status codes and snake_case error values.
func respondWithError(context *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrWidgetNotFound):
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownWidget})
	case errors.Is(err, storage.ErrTestimonialNotFound):
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueTestimonialNotFound})
	case errors.Is(err, storage.ErrUnavailable):
		context.Header(headerRetryAfter, retryAfterSeconds)
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStorageUnavailable})
	case errors.Is(err, widget.ErrEmbedCodeStale):
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: widget.ErrEmbedCodeStale.Error()})
	case errors.Is(err, widget.ErrEmbedCodeMissing):
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: widget.ErrEmbedCodeMissing.Error()})
	case errors.Is(err, model.ErrInvalidStatusTransition):
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: model.ErrInvalidStatusTransition.Error()})
	default:
		if code, ok := validationErrorCode(err); ok {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: code})
			return
		}
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInternal})
	}
}

func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range []error{
		widget.ErrEmptyPatch,
		widget.ErrInvalidTheme,
		widget.ErrInvalidLayout,
		widget.ErrInvalidColor,
		widget.ErrInvalidBorderRadius,
		widget.ErrInvalidMaxTestimonials,
		widget.ErrInvalidOrigin,
		widget.ErrInvalidWidgetID,
		model.ErrInvalidTestimonialCustomer,
		model.ErrInvalidTestimonialRating,
		model.ErrInvalidTestimonialMessage,
		model.ErrInvalidTestimonialCategory,
		model.ErrInvalidTestimonialStatus,
		model.ErrInvalidTestimonialOwner,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}
