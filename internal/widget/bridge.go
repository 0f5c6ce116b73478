package widget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/metrics"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/task"
)

// DefaultSyncInterval is how often the bridge sweeps for saves that failed transiently.
const DefaultSyncInterval = 15 * time.Second

var ErrMissingOwner = errors.New("missing_owner")

// ConfigWriter upserts a widget record.
type ConfigWriter interface {
	SaveWidget(ctx context.Context, widgetID string, ownerID string, document []byte) error
}

// CacheInvalidator drops memoized state derived from an owner's widget.
type CacheInvalidator interface {
	InvalidateOwner(ownerID string)
}

// SaveRequest is one queued configuration save.
type SaveRequest struct {
	OwnerID  string
	WidgetID string
	Config   Config
}

// PersistenceBridge propagates in-memory widget configuration to storage.
type PersistenceBridge struct {
	writer      ConfigWriter
	invalidator CacheInvalidator
	events      *SyncEventBroadcaster
	logger      *zap.Logger
	collectors  *metrics.Collectors
	retryPolicy RetryPolicy
	newWidgetID func() string
	scheduler   *task.Scheduler

	pendingMutex sync.Mutex
	pending      map[string]SaveRequest
	flushMutex   sync.Mutex

	rejectionMutex    sync.Mutex
	rejectionHandlers []func(ownerID string, widgetID string)
}

// BridgeOption customizes a PersistenceBridge.
type BridgeOption func(*PersistenceBridge)

func WithCacheInvalidator(invalidator CacheInvalidator) BridgeOption {
	return func(bridge *PersistenceBridge) {
		bridge.invalidator = invalidator
	}
}

func WithSyncEvents(events *SyncEventBroadcaster) BridgeOption {
	return func(bridge *PersistenceBridge) {
		bridge.events = events
	}
}

func WithBridgeMetrics(collectors *metrics.Collectors) BridgeOption {
	return func(bridge *PersistenceBridge) {
		bridge.collectors = collectors
	}
}

func WithSaveRetryPolicy(policy RetryPolicy) BridgeOption {
	return func(bridge *PersistenceBridge) {
		bridge.retryPolicy = policy
	}
}

// WithWidgetIDGenerator replaces storage.NewWidgetID.
func WithWidgetIDGenerator(generator func() string) BridgeOption {
	return func(bridge *PersistenceBridge) {
		if generator != nil {
			bridge.newWidgetID = generator
		}
	}
}

// WithSyncInterval sets the sweep interval of the background flush.
func WithSyncInterval(interval time.Duration) BridgeOption {
	return func(bridge *PersistenceBridge) {
		bridge.scheduler = task.NewScheduler(interval, bridge.runFlush).WithFinalRun()
	}
}

func NewPersistenceBridge(writer ConfigWriter, logger *zap.Logger, options ...BridgeOption) *PersistenceBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	bridge := &PersistenceBridge{
		writer:      writer,
		logger:      logger,
		retryPolicy: DefaultSaveRetryPolicy,
		newWidgetID: storage.NewWidgetID,
		pending:     make(map[string]SaveRequest),
	}
	bridge.scheduler = task.NewScheduler(DefaultSyncInterval, bridge.runFlush).WithFinalRun()
	for _, option := range options {
		option(bridge)
	}
	return bridge
}

// Save upserts the configuration under widgetID for ownerID, retrying transient failures.
// Saving the same arguments twice leaves storage unchanged.
func (bridge *PersistenceBridge) Save(ctx context.Context, widgetID string, config Config, ownerID string) error {
	normalizedOwnerID := model.NormalizeOwnerID(ownerID)
	if normalizedOwnerID == "" {
		return ErrMissingOwner
	}
	if validationErr := config.Validate(); validationErr != nil {
		return validationErr
	}
	document, encodeErr := config.Document()
	if encodeErr != nil {
		return fmt.Errorf("encode widget config: %w", encodeErr)
	}

	saveErr := retryTransient(ctx, bridge.retryPolicy, func() error {
		return bridge.writer.SaveWidget(ctx, widgetID, normalizedOwnerID, document)
	}, func(retryErr error) {
		bridge.collectors.ObserveConfigSave(metrics.SaveResultRetried)
		bridge.logger.Debug("widget_config_save_retry", zap.String("widget_id", widgetID), zap.Error(retryErr))
	})
	if saveErr != nil {
		bridge.collectors.ObserveConfigSave(metrics.SaveResultFailed)
		return saveErr
	}

	bridge.collectors.ObserveConfigSave(metrics.SaveResultSaved)
	if bridge.invalidator != nil {
		bridge.invalidator.InvalidateOwner(normalizedOwnerID)
	}
	return nil
}

// Regenerate returns a fresh widget identifier that differs from widgetID.
func (bridge *PersistenceBridge) Regenerate(widgetID string) string {
	current := strings.TrimSpace(widgetID)
	for {
		candidate := bridge.newWidgetID()
		if candidate != current {
			return candidate
		}
	}
}

// Enqueue schedules an asynchronous save. A later request for the same owner replaces an earlier one.
func (bridge *PersistenceBridge) Enqueue(request SaveRequest) {
	request.OwnerID = model.NormalizeOwnerID(request.OwnerID)
	if request.OwnerID == "" {
		return
	}
	bridge.pendingMutex.Lock()
	bridge.pending[request.OwnerID] = request
	pendingCount := len(bridge.pending)
	bridge.pendingMutex.Unlock()

	bridge.collectors.SetPendingSaves(pendingCount)
	bridge.scheduler.Trigger()
}

// OnWidgetRejected registers handler to run when storage refuses a save because the widget
// identifier was retired or belongs to another owner.
func (bridge *PersistenceBridge) OnWidgetRejected(handler func(ownerID string, widgetID string)) {
	if handler == nil {
		return
	}
	bridge.rejectionMutex.Lock()
	defer bridge.rejectionMutex.Unlock()
	bridge.rejectionHandlers = append(bridge.rejectionHandlers, handler)
}

// Pending returns the number of owners with a queued save.
func (bridge *PersistenceBridge) Pending() int {
	bridge.pendingMutex.Lock()
	defer bridge.pendingMutex.Unlock()
	return len(bridge.pending)
}

// Flush saves every queued request. Requests that failed transiently are requeued
// unless a newer request for the same owner arrived meanwhile.
func (bridge *PersistenceBridge) Flush(ctx context.Context) error {
	bridge.flushMutex.Lock()
	defer bridge.flushMutex.Unlock()

	bridge.pendingMutex.Lock()
	drained := bridge.pending
	bridge.pending = make(map[string]SaveRequest)
	bridge.pendingMutex.Unlock()
	bridge.collectors.SetPendingSaves(0)

	ownerIDs := make([]string, 0, len(drained))
	for ownerID := range drained {
		ownerIDs = append(ownerIDs, ownerID)
	}
	slices.Sort(ownerIDs)

	var flushErrs []error
	for _, ownerID := range ownerIDs {
		request := drained[ownerID]
		saveErr := bridge.Save(ctx, request.WidgetID, request.Config, request.OwnerID)
		bridge.broadcast(request, saveErr)
		if saveErr == nil {
			continue
		}
		flushErrs = append(flushErrs, fmt.Errorf("owner %s: %w", ownerID, saveErr))
		if isTransient(saveErr) {
			bridge.requeue(request)
			bridge.logger.Warn("widget_config_save_deferred", zap.String("widget_id", request.WidgetID), zap.Error(saveErr))
			continue
		}
		bridge.logger.Error("widget_config_save_failed", zap.String("widget_id", request.WidgetID), zap.Error(saveErr))
		if errors.Is(saveErr, storage.ErrWidgetRetired) || errors.Is(saveErr, storage.ErrWidgetOwnerMismatch) {
			bridge.notifyRejected(request)
		}
	}

	bridge.collectors.SetPendingSaves(bridge.Pending())
	return errors.Join(flushErrs...)
}

func (bridge *PersistenceBridge) Start(ctx context.Context) {
	bridge.scheduler.Start(ctx)
}

// Stop halts the background loop after a final flush.
func (bridge *PersistenceBridge) Stop() {
	bridge.scheduler.Stop()
}

func (bridge *PersistenceBridge) runFlush(ctx context.Context) {
	_ = bridge.Flush(ctx)
}

func (bridge *PersistenceBridge) requeue(request SaveRequest) {
	bridge.pendingMutex.Lock()
	defer bridge.pendingMutex.Unlock()
	if _, newer := bridge.pending[request.OwnerID]; newer {
		return
	}
	bridge.pending[request.OwnerID] = request
}

func (bridge *PersistenceBridge) notifyRejected(request SaveRequest) {
	bridge.rejectionMutex.Lock()
	handlers := slices.Clone(bridge.rejectionHandlers)
	bridge.rejectionMutex.Unlock()
	for _, handler := range handlers {
		handler(request.OwnerID, request.WidgetID)
	}
}

func (bridge *PersistenceBridge) broadcast(request SaveRequest, saveErr error) {
	event := SyncEvent{
		OwnerID:    request.OwnerID,
		WidgetID:   request.WidgetID,
		Status:     SyncStatusSaved,
		OccurredAt: time.Now().UTC(),
	}
	if saveErr != nil {
		event.Status = SyncStatusFailed
		event.Error = syncErrorCode(saveErr)
	}
	bridge.events.Broadcast(event)
}

func isTransient(err error) bool {
	return errors.Is(err, storage.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func syncErrorCode(err error) string {
	switch {
	case isTransient(err):
		return "storage_unavailable"
	case errors.Is(err, storage.ErrWidgetRetired):
		return "widget_retired"
	case errors.Is(err, storage.ErrWidgetOwnerMismatch):
		return "widget_owner_mismatch"
	default:
		return "save_failed"
	}
}
