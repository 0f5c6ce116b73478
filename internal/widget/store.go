package widget

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
)

var (
	// ErrEmbedCodeStale indicates the configuration changed after the embed code was generated.
	ErrEmbedCodeStale = errors.New("embed_code_stale")
	// ErrEmbedCodeMissing indicates no embed code was generated yet.
	ErrEmbedCodeMissing = errors.New("embed_code_not_generated")
)

type embedCodeState int

const (
	embedCodeAbsent embedCodeState = iota
	embedCodeFresh
	embedCodeOutdated
)

// SaveQueue accepts asynchronous saves and mints widget identifiers.
type SaveQueue interface {
	Enqueue(request SaveRequest)
	Regenerate(widgetID string) string
}

// rejectionNotifier is implemented by queues that report saves refused for a stale widget identifier.
type rejectionNotifier interface {
	OnWidgetRejected(handler func(ownerID string, widgetID string))
}

// Snapshot is a consistent view of a ConfigStore.
type Snapshot struct {
	WidgetID       string `json:"widgetId"`
	Config         Config `json:"config"`
	EmbedCode      string `json:"embedCode"`
	EmbedCodeStale bool   `json:"embedCodeStale"`
}

// ConfigStore holds one owner's widget configuration. All methods are safe for concurrent use.
type ConfigStore struct {
	mutex      sync.Mutex
	ownerID    string
	widgetID   string
	config     Config
	embedCode  string
	embedState embedCodeState
	queue      SaveQueue
}

func NewConfigStore(ownerID string, widgetID string, config Config, queue SaveQueue) *ConfigStore {
	return &ConfigStore{
		ownerID:  model.NormalizeOwnerID(ownerID),
		widgetID: widgetID,
		config:   config,
		queue:    queue,
	}
}

func (store *ConfigStore) OwnerID() string {
	return store.ownerID
}

func (store *ConfigStore) Snapshot() Snapshot {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.snapshotLocked()
}

// Update merges patch into the configuration, invalidates the embed code, and enqueues a save.
func (store *ConfigStore) Update(patch Patch) (Snapshot, error) {
	if patch.IsEmpty() {
		return store.Snapshot(), ErrEmptyPatch
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	updated, applyErr := store.config.Apply(patch)
	if applyErr != nil {
		return store.snapshotLocked(), applyErr
	}
	store.config = updated
	store.invalidateEmbedCodeLocked()
	store.enqueueLocked()
	return store.snapshotLocked(), nil
}

// GenerateEmbedCode renders and remembers the embed snippet for origin.
func (store *ConfigStore) GenerateEmbedCode(origin string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	embedCode, generateErr := GenerateEmbedCode(EmbedInput{
		WidgetID: store.widgetID,
		Config:   store.config,
		Origin:   origin,
	})
	if generateErr != nil {
		return "", generateErr
	}
	store.embedCode = embedCode
	store.embedState = embedCodeFresh
	return embedCode, nil
}

// EmbedCode returns the last generated snippet while it still matches the configuration.
func (store *ConfigStore) EmbedCode() (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	switch store.embedState {
	case embedCodeFresh:
		return store.embedCode, nil
	case embedCodeOutdated:
		return "", ErrEmbedCodeStale
	default:
		return "", ErrEmbedCodeMissing
	}
}

// RegenerateWidgetID replaces the widget identifier. The previous identifier stops resolving once the save lands.
func (store *ConfigStore) RegenerateWidgetID() Snapshot {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.widgetID = store.queue.Regenerate(store.widgetID)
	store.invalidateEmbedCodeLocked()
	store.enqueueLocked()
	return store.snapshotLocked()
}

func (store *ConfigStore) invalidateEmbedCodeLocked() {
	store.embedCode = ""
	if store.embedState != embedCodeAbsent {
		store.embedState = embedCodeOutdated
	}
}

func (store *ConfigStore) enqueueLocked() {
	store.queue.Enqueue(SaveRequest{OwnerID: store.ownerID, WidgetID: store.widgetID, Config: store.config})
}

func (store *ConfigStore) snapshotLocked() Snapshot {
	return Snapshot{
		WidgetID:       store.widgetID,
		Config:         store.config,
		EmbedCode:      store.embedCode,
		EmbedCodeStale: store.embedState == embedCodeOutdated,
	}
}

// WidgetLocator finds the active widget of an owner.
type WidgetLocator interface {
	FindActiveWidget(ctx context.Context, ownerID string) (storage.WidgetOwner, error)
}

// Registry keeps one ConfigStore per owner, loading it from storage on first use.
type Registry struct {
	locator WidgetLocator
	queue   SaveQueue
	logger  *zap.Logger

	mutex  sync.Mutex
	stores map[string]*ConfigStore
}

func NewRegistry(locator WidgetLocator, queue SaveQueue, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := &Registry{
		locator: locator,
		queue:   queue,
		logger:  logger,
		stores:  make(map[string]*ConfigStore),
	}
	if notifier, ok := queue.(rejectionNotifier); ok {
		notifier.OnWidgetRejected(registry.Evict)
	}
	return registry
}

// Evict drops the owner's cached store if it still holds widgetID, so the next
// request reloads the owner's active widget from storage.
func (registry *Registry) Evict(ownerID string, widgetID string) {
	normalizedOwnerID := model.NormalizeOwnerID(ownerID)
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	existing, found := registry.stores[normalizedOwnerID]
	if !found || existing.Snapshot().WidgetID != widgetID {
		return
	}
	delete(registry.stores, normalizedOwnerID)
	registry.logger.Info("widget_store_evicted", zap.String("owner_id", normalizedOwnerID), zap.String("widget_id", widgetID))
}

// Store returns the owner's ConfigStore. An owner without a widget gets a new identifier
// with the default configuration, saved in the background.
func (registry *Registry) Store(ctx context.Context, ownerID string) (*ConfigStore, error) {
	normalizedOwnerID := model.NormalizeOwnerID(ownerID)
	if normalizedOwnerID == "" {
		return nil, ErrMissingOwner
	}
	if existing := registry.lookup(normalizedOwnerID); existing != nil {
		return existing, nil
	}

	loaded, created, loadErr := registry.load(ctx, normalizedOwnerID)
	if loadErr != nil {
		return nil, loadErr
	}

	registry.mutex.Lock()
	if existing, found := registry.stores[normalizedOwnerID]; found {
		registry.mutex.Unlock()
		return existing, nil
	}
	registry.stores[normalizedOwnerID] = loaded
	registry.mutex.Unlock()

	if created {
		loaded.mutex.Lock()
		loaded.enqueueLocked()
		loaded.mutex.Unlock()
	}
	return loaded, nil
}

func (registry *Registry) lookup(ownerID string) *ConfigStore {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return registry.stores[ownerID]
}

func (registry *Registry) load(ctx context.Context, ownerID string) (*ConfigStore, bool, error) {
	owner, findErr := registry.locator.FindActiveWidget(ctx, ownerID)
	if errors.Is(findErr, storage.ErrWidgetNotFound) {
		widgetID := registry.queue.Regenerate("")
		registry.logger.Info("widget_created", zap.String("owner_id", ownerID), zap.String("widget_id", widgetID))
		return NewConfigStore(ownerID, widgetID, DefaultConfig(), registry.queue), true, nil
	}
	if findErr != nil {
		return nil, false, findErr
	}

	config, issues := DecodeStoredConfig(owner.ConfigDocument)
	for _, issue := range issues {
		registry.logger.Warn("widget_config_malformed_field",
			zap.String("widget_id", owner.WidgetID),
			zap.String("field", issue.Field),
			zap.String("reason", issue.Reason))
	}
	return NewConfigStore(ownerID, owner.WidgetID, config, registry.queue), false, nil
}
