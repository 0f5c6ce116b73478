package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

const (
	defaultSubmissionRateWindow      = 30 * time.Second
	defaultSubmissionsPerIPPerWindow = 6
)

// WidgetOwnerResolver maps a public widget identifier to its owner.
type WidgetOwnerResolver interface {
	ResolveWidgetOwner(ctx context.Context, widgetID string) (storage.WidgetOwner, error)
}

// TestimonialStore persists and moderates testimonials.
type TestimonialStore interface {
	Create(ctx context.Context, testimonial model.Testimonial) (model.Testimonial, error)
	ListByOwner(ctx context.Context, ownerID string, status string) ([]model.Testimonial, error)
	UpdateStatus(ctx context.Context, ownerID string, testimonialID string, status string) (model.Testimonial, error)
	Delete(ctx context.Context, ownerID string, testimonialID string) error
	Stats(ctx context.Context, ownerID string) (storage.TestimonialStats, error)
}

type submitTestimonialRequest struct {
	WidgetID      string `json:"widget_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	Rating        int    `json:"rating"`
	Message       string `json:"message"`
	Category      string `json:"category"`
}

type updateTestimonialRequest struct {
	Status string `json:"status"`
}

type testimonialResponse struct {
	ID            string    `json:"id"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	Rating        int       `json:"rating"`
	Message       string    `json:"message"`
	Status        string    `json:"status"`
	Category      string    `json:"category,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type testimonialStatsResponse struct {
	Total         int64   `json:"total"`
	Approved      int64   `json:"approved"`
	Pending       int64   `json:"pending"`
	Rejected      int64   `json:"rejected"`
	AverageRating float64 `json:"averageRating"`
}

// TestimonialHandlers serves public submission and owner moderation of testimonials.
// Every mutation evicts the owner's memoized widget payloads.
type TestimonialHandlers struct {
	resolver    WidgetOwnerResolver
	store       TestimonialStore
	invalidator widget.CacheInvalidator
	logger      *zap.Logger

	rateWindow                time.Duration
	maxRequestsPerIPPerWindow int
	rateCounters              *cache.Cache
}

// TestimonialHandlersOption customizes TestimonialHandlers.
type TestimonialHandlersOption func(*TestimonialHandlers)

// WithSubmissionRateLimit allows maxRequests submissions per client IP in each window.
func WithSubmissionRateLimit(window time.Duration, maxRequests int) TestimonialHandlersOption {
	return func(handlers *TestimonialHandlers) {
		if window < time.Second || maxRequests <= 0 {
			return
		}
		handlers.rateWindow = window
		handlers.maxRequestsPerIPPerWindow = maxRequests
	}
}

func NewTestimonialHandlers(resolver WidgetOwnerResolver, store TestimonialStore, invalidator widget.CacheInvalidator, logger *zap.Logger, options ...TestimonialHandlersOption) *TestimonialHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	handlers := &TestimonialHandlers{
		resolver:                  resolver,
		store:                     store,
		invalidator:               invalidator,
		logger:                    logger,
		rateWindow:                defaultSubmissionRateWindow,
		maxRequestsPerIPPerWindow: defaultSubmissionsPerIPPerWindow,
	}
	for _, option := range options {
		option(handlers)
	}
	handlers.rateCounters = cache.New(handlers.rateWindow, handlers.rateWindow*2)
	return handlers
}

// SubmitTestimonial answers POST /api/public/testimonials. New testimonials wait for moderation.
func (handlers *TestimonialHandlers) SubmitTestimonial(context *gin.Context) {
	clientIP := context.ClientIP()
	if handlers.isRateLimited(clientIP) {
		context.JSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}

	var payload submitTestimonialRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	payload.WidgetID = strings.TrimSpace(payload.WidgetID)
	payload.CustomerName = strings.TrimSpace(payload.CustomerName)
	payload.Message = strings.TrimSpace(payload.Message)
	if payload.WidgetID == "" || payload.CustomerName == "" || payload.Message == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFields})
		return
	}

	owner, resolveErr := handlers.resolver.ResolveWidgetOwner(context.Request.Context(), payload.WidgetID)
	if resolveErr != nil {
		respondWithError(context, resolveErr)
		return
	}

	testimonial, buildErr := model.NewTestimonial(model.TestimonialInput{
		OwnerID:       owner.OwnerID,
		CustomerName:  payload.CustomerName,
		CustomerEmail: payload.CustomerEmail,
		Rating:        payload.Rating,
		Message:       payload.Message,
		Category:      payload.Category,
	})
	if buildErr != nil {
		respondWithError(context, buildErr)
		return
	}

	created, createErr := handlers.store.Create(context.Request.Context(), testimonial)
	if createErr != nil {
		handlers.logger.Error("create_testimonial", zap.String("widget_id", payload.WidgetID), zap.Error(createErr))
		respondWithError(context, createErr)
		return
	}

	handlers.logger.Info("testimonial_submitted",
		zap.String("owner_id", created.OwnerID),
		zap.String("testimonial_id", created.ID),
		zap.String("ip", clientIP))
	context.JSON(http.StatusCreated, gin.H{"id": created.ID, "status": created.Status})
}

// ListTestimonials answers GET /api/testimonials, optionally filtered by ?status=.
func (handlers *TestimonialHandlers) ListTestimonials(context *gin.Context) {
	currentUser, ok := requireCurrentUser(context)
	if !ok {
		return
	}
	status := strings.ToLower(strings.TrimSpace(context.Query("status")))
	if status != "" && !model.IsTestimonialStatus(status) {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidStatus})
		return
	}

	testimonials, listErr := handlers.store.ListByOwner(context.Request.Context(), currentUser.OwnerID, status)
	if listErr != nil {
		respondWithError(context, listErr)
		return
	}

	responses := make([]testimonialResponse, 0, len(testimonials))
	for _, testimonial := range testimonials {
		responses = append(responses, newTestimonialResponse(testimonial))
	}
	context.JSON(http.StatusOK, gin.H{"testimonials": responses})
}

// UpdateTestimonialStatus answers PATCH /api/testimonials/:id.
func (handlers *TestimonialHandlers) UpdateTestimonialStatus(context *gin.Context) {
	currentUser, ok := requireCurrentUser(context)
	if !ok {
		return
	}
	var payload updateTestimonialRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	status := strings.ToLower(strings.TrimSpace(payload.Status))
	if status == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFields})
		return
	}

	testimonialID := strings.TrimSpace(context.Param("id"))
	updated, updateErr := handlers.store.UpdateStatus(context.Request.Context(), currentUser.OwnerID, testimonialID, status)
	if updateErr != nil {
		respondWithError(context, updateErr)
		return
	}
	handlers.invalidate(currentUser.OwnerID)
	handlers.logger.Info("testimonial_moderated",
		zap.String("owner_id", currentUser.OwnerID),
		zap.String("testimonial_id", updated.ID),
		zap.String("status", updated.Status))
	context.JSON(http.StatusOK, newTestimonialResponse(updated))
}

// DeleteTestimonial answers DELETE /api/testimonials/:id.
func (handlers *TestimonialHandlers) DeleteTestimonial(context *gin.Context) {
	currentUser, ok := requireCurrentUser(context)
	if !ok {
		return
	}
	testimonialID := strings.TrimSpace(context.Param("id"))
	if deleteErr := handlers.store.Delete(context.Request.Context(), currentUser.OwnerID, testimonialID); deleteErr != nil {
		respondWithError(context, deleteErr)
		return
	}
	handlers.invalidate(currentUser.OwnerID)
	context.Status(http.StatusNoContent)
}

// Stats answers GET /api/testimonial-stats.
func (handlers *TestimonialHandlers) Stats(context *gin.Context) {
	currentUser, ok := requireCurrentUser(context)
	if !ok {
		return
	}
	stats, statsErr := handlers.store.Stats(context.Request.Context(), currentUser.OwnerID)
	if statsErr != nil {
		respondWithError(context, statsErr)
		return
	}
	context.JSON(http.StatusOK, testimonialStatsResponse{
		Total:         stats.Total,
		Approved:      stats.Approved,
		Pending:       stats.Pending,
		Rejected:      stats.Rejected,
		AverageRating: stats.AverageRating,
	})
}

func (handlers *TestimonialHandlers) isRateLimited(ip string) bool {
	nowBucket := time.Now().Unix() / int64(handlers.rateWindow.Seconds())
	key := fmt.Sprintf("%s:%d", ip, nowBucket)

	if addErr := handlers.rateCounters.Add(key, 1, cache.DefaultExpiration); addErr == nil {
		return false
	}
	count, incrementErr := handlers.rateCounters.IncrementInt(key, 1)
	if incrementErr != nil {
		handlers.rateCounters.Set(key, 1, cache.DefaultExpiration)
		return false
	}
	return count > handlers.maxRequestsPerIPPerWindow
}

func (handlers *TestimonialHandlers) invalidate(ownerID string) {
	if handlers.invalidator != nil {
		handlers.invalidator.InvalidateOwner(ownerID)
	}
}

func requireCurrentUser(context *gin.Context) (*CurrentUser, bool) {
	currentUser, ok := CurrentUserFromContext(context)
	if !ok {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
		return nil, false
	}
	return currentUser, true
}

func newTestimonialResponse(testimonial model.Testimonial) testimonialResponse {
	return testimonialResponse{
		ID:            testimonial.ID,
		CustomerName:  testimonial.CustomerName,
		CustomerEmail: testimonial.CustomerEmail,
		Rating:        testimonial.Rating,
		Message:       testimonial.Message,
		Status:        testimonial.Status,
		Category:      testimonial.Category,
		CreatedAt:     testimonial.CreatedAt.UTC(),
	}
}
