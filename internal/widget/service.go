package widget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/metrics"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
)

// DefaultPayloadCacheTTL bounds how long a widget payload is memoized.
const DefaultPayloadCacheTTL = 30 * time.Second

// OwnerResolver maps a public widget identifier to its owner and stored configuration.
type OwnerResolver interface {
	ResolveWidgetOwner(ctx context.Context, widgetID string) (storage.WidgetOwner, error)
}

// TestimonialSource lists the testimonials an owner has approved.
type TestimonialSource interface {
	ListApprovedTestimonials(ctx context.Context, ownerID string) ([]model.Testimonial, error)
}

// TestimonialView is the public projection of a testimonial. It never carries the customer email.
type TestimonialView struct {
	ID           string    `json:"id"`
	CustomerName string    `json:"customerName"`
	Rating       int       `json:"rating"`
	Message      string    `json:"message"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	Category     string    `json:"category,omitempty"`
}

// Payload is the body served to embedded widgets.
type Payload struct {
	Testimonials []TestimonialView `json:"testimonials"`
	Config       Config            `json:"config"`
}

type cachedPayload struct {
	ownerID string
	payload Payload
}

// DataService assembles widget payloads for the public read path.
type DataService struct {
	resolver    OwnerResolver
	source      TestimonialSource
	logger      *zap.Logger
	collectors  *metrics.Collectors
	payloads    *cache.Cache
	retryPolicy RetryPolicy

	// invalidations counts evictions. A fill that started before an eviction is discarded.
	cacheMutex    sync.Mutex
	invalidations uint64
}

// DataServiceOption customizes a DataService.
type DataServiceOption func(*DataService)

// WithPayloadCacheTTL memoizes payloads for ttl. A non-positive ttl disables memoization.
func WithPayloadCacheTTL(ttl time.Duration) DataServiceOption {
	return func(service *DataService) {
		if ttl <= 0 {
			service.payloads = nil
			return
		}
		service.payloads = cache.New(ttl, ttl*2)
	}
}

func WithDataServiceMetrics(collectors *metrics.Collectors) DataServiceOption {
	return func(service *DataService) {
		service.collectors = collectors
	}
}

func WithReadRetryPolicy(policy RetryPolicy) DataServiceOption {
	return func(service *DataService) {
		service.retryPolicy = policy
	}
}

func NewDataService(resolver OwnerResolver, source TestimonialSource, logger *zap.Logger, options ...DataServiceOption) *DataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &DataService{
		resolver:    resolver,
		source:      source,
		logger:      logger,
		payloads:    cache.New(DefaultPayloadCacheTTL, DefaultPayloadCacheTTL*2),
		retryPolicy: DefaultReadRetryPolicy,
	}
	for _, option := range options {
		option(service)
	}
	return service
}

// WidgetData returns the approved testimonials and display configuration of a widget.
// Unknown identifiers yield storage.ErrWidgetNotFound; storage outages yield storage.ErrUnavailable.
func (service *DataService) WidgetData(ctx context.Context, widgetID string) (Payload, error) {
	trimmedWidgetID := strings.TrimSpace(widgetID)
	if cached, found := service.cachedPayload(trimmedWidgetID); found {
		service.collectors.ObservePayloadCache(metrics.CacheResultHit)
		service.observeOutcome(cached)
		return cached, nil
	}
	if service.payloads != nil {
		service.collectors.ObservePayloadCache(metrics.CacheResultMiss)
	}

	generation := service.invalidationGeneration()

	var owner storage.WidgetOwner
	var testimonials []model.Testimonial
	loadErr := retryTransient(ctx, service.retryPolicy, func() error {
		resolvedOwner, resolveErr := service.resolver.ResolveWidgetOwner(ctx, trimmedWidgetID)
		if resolveErr != nil {
			return resolveErr
		}
		listed, listErr := service.source.ListApprovedTestimonials(ctx, resolvedOwner.OwnerID)
		if listErr != nil {
			return listErr
		}
		owner = resolvedOwner
		testimonials = listed
		return nil
	}, func(retryErr error) {
		service.logger.Debug("widget_data_retry", zap.String("widget_id", trimmedWidgetID), zap.Error(retryErr))
	})
	if loadErr != nil {
		return Payload{}, service.classifyLoadError(trimmedWidgetID, loadErr)
	}

	config, issues := DecodeStoredConfig(owner.ConfigDocument)
	for _, issue := range issues {
		service.collectors.ObserveMalformedRecord(metrics.RecordKindConfigField)
		service.logger.Warn("widget_config_malformed_field",
			zap.String("widget_id", owner.WidgetID),
			zap.String("field", issue.Field),
			zap.String("reason", issue.Reason))
	}

	payload := Payload{
		Testimonials: service.publicTestimonials(owner.WidgetID, testimonials, config.MaxTestimonials),
		Config:       config,
	}
	service.storePayload(trimmedWidgetID, cachedPayload{ownerID: owner.OwnerID, payload: payload}, generation)
	service.observeOutcome(payload)
	return clonePayload(payload), nil
}

// InvalidateOwner evicts every memoized payload that belongs to ownerID.
func (service *DataService) InvalidateOwner(ownerID string) {
	if service == nil || service.payloads == nil {
		return
	}
	normalizedOwnerID := model.NormalizeOwnerID(ownerID)
	service.cacheMutex.Lock()
	defer service.cacheMutex.Unlock()
	service.invalidations++
	for key, item := range service.payloads.Items() {
		entry, ok := item.Object.(cachedPayload)
		if ok && entry.ownerID == normalizedOwnerID {
			service.payloads.Delete(key)
		}
	}
}

func (service *DataService) invalidationGeneration() uint64 {
	service.cacheMutex.Lock()
	defer service.cacheMutex.Unlock()
	return service.invalidations
}

func (service *DataService) storePayload(widgetID string, entry cachedPayload, generation uint64) {
	if service.payloads == nil {
		return
	}
	service.cacheMutex.Lock()
	defer service.cacheMutex.Unlock()
	if service.invalidations != generation {
		return
	}
	service.payloads.Set(widgetID, entry, cache.DefaultExpiration)
}

func (service *DataService) cachedPayload(widgetID string) (Payload, bool) {
	if service.payloads == nil {
		return Payload{}, false
	}
	value, found := service.payloads.Get(widgetID)
	if !found {
		return Payload{}, false
	}
	entry, ok := value.(cachedPayload)
	if !ok {
		return Payload{}, false
	}
	return clonePayload(entry.payload), true
}

func (service *DataService) classifyLoadError(widgetID string, loadErr error) error {
	switch {
	case errors.Is(loadErr, storage.ErrWidgetNotFound):
		service.collectors.ObserveWidgetData(metrics.OutcomeNotFound)
		return loadErr
	case errors.Is(loadErr, storage.ErrUnavailable):
		service.collectors.ObserveWidgetData(metrics.OutcomeUnavailable)
		service.logger.Error("widget_data_unavailable", zap.String("widget_id", widgetID), zap.Error(loadErr))
		return loadErr
	case errors.Is(loadErr, context.Canceled), errors.Is(loadErr, context.DeadlineExceeded):
		service.collectors.ObserveWidgetData(metrics.OutcomeUnavailable)
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, loadErr)
	default:
		service.collectors.ObserveWidgetData(metrics.OutcomeUnavailable)
		service.logger.Error("widget_data_failed", zap.String("widget_id", widgetID), zap.Error(loadErr))
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, loadErr)
	}
}

func (service *DataService) publicTestimonials(widgetID string, testimonials []model.Testimonial, limit int) []TestimonialView {
	eligible := make([]model.Testimonial, 0, len(testimonials))
	for _, testimonial := range testimonials {
		if validationErr := testimonial.Validate(); validationErr != nil {
			service.collectors.ObserveMalformedRecord(metrics.RecordKindTestimonial)
			service.logger.Warn("widget_data_malformed_record",
				zap.String("widget_id", widgetID),
				zap.String("testimonial_id", testimonial.ID),
				zap.Error(validationErr))
			continue
		}
		if !testimonial.IsApproved() {
			continue
		}
		eligible = append(eligible, testimonial)
	}

	slices.SortStableFunc(eligible, func(left model.Testimonial, right model.Testimonial) int {
		if compared := right.CreatedAt.Compare(left.CreatedAt); compared != 0 {
			return compared
		}
		return strings.Compare(left.ID, right.ID)
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	views := make([]TestimonialView, 0, len(eligible))
	for _, testimonial := range eligible {
		views = append(views, TestimonialView{
			ID:           testimonial.ID,
			CustomerName: strings.TrimSpace(testimonial.CustomerName),
			Rating:       testimonial.Rating,
			Message:      strings.TrimSpace(testimonial.Message),
			Status:       testimonial.Status,
			CreatedAt:    testimonial.CreatedAt.UTC(),
			Category:     strings.TrimSpace(testimonial.Category),
		})
	}
	return views
}

func (service *DataService) observeOutcome(payload Payload) {
	if len(payload.Testimonials) == 0 {
		service.collectors.ObserveWidgetData(metrics.OutcomeEmpty)
		return
	}
	service.collectors.ObserveWidgetData(metrics.OutcomeServed)
}

func clonePayload(payload Payload) Payload {
	return Payload{
		Testimonials: slices.Clone(payload.Testimonials),
		Config:       payload.Config,
	}
}
