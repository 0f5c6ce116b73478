package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/metrics"
)

const (
	headerAllowOrigin  = "Access-Control-Allow-Origin"
	headerAllowMethods = "Access-Control-Allow-Methods"
	headerCacheControl = "Cache-Control"
	headerRetryAfter   = "Retry-After"

	unmatchedRouteLabel = "unmatched"
)

func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		logger.Info("http",
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		)
	}
}

// RequestMetrics records request latency labelled by route template, never by raw path.
func RequestMetrics(collectors *metrics.Collectors) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		route := context.FullPath()
		if route == "" {
			route = unmatchedRouteLabel
		}
		collectors.ObserveHTTPRequest(context.Request.Method, route, strconv.Itoa(context.Writer.Status()), time.Since(start).Seconds())
	}
}

// PublicReadHeaders marks a response as readable from any page, with or without an Origin header.
func PublicReadHeaders() gin.HandlerFunc {
	return func(context *gin.Context) {
		context.Header(headerAllowOrigin, "*")
		context.Header(headerAllowMethods, http.MethodGet)
		context.Next()
	}
}
