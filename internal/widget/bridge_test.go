package widget_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	prometheustestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/metrics"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/testutil"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

const bridgeEventTimeout = 2 * time.Second

type savedWidget struct {
	widgetID string
	ownerID  string
	document []byte
}

type recordingWriter struct {
	mutex    sync.Mutex
	failures []error
	calls    int
	saves    []savedWidget
}

func (writer *recordingWriter) SaveWidget(_ context.Context, widgetID string, ownerID string, document []byte) error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	writer.calls++
	if len(writer.failures) > 0 {
		failure := writer.failures[0]
		writer.failures = writer.failures[1:]
		if failure != nil {
			return failure
		}
	}
	writer.saves = append(writer.saves, savedWidget{widgetID: widgetID, ownerID: ownerID, document: document})
	return nil
}

func (writer *recordingWriter) snapshot() (int, []savedWidget) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	return writer.calls, append([]savedWidget(nil), writer.saves...)
}

type recordingInvalidator struct {
	mutex  sync.Mutex
	owners []string
}

func (invalidator *recordingInvalidator) InvalidateOwner(ownerID string) {
	invalidator.mutex.Lock()
	defer invalidator.mutex.Unlock()
	invalidator.owners = append(invalidator.owners, ownerID)
}

func TestBridgeSaveIsIdempotentAgainstStorage(testingT *testing.T) {
	database := testutil.OpenMigratedDatabase(testingT)
	repository := storage.NewWidgetRepository(database)
	bridge := widget.NewPersistenceBridge(repository, zap.NewNop(), widget.WithSaveRetryPolicy(quickRetryPolicy))
	ctx := context.Background()
	widgetID := storage.NewWidgetID()
	config := widget.DefaultConfig()
	config.Layout = widget.LayoutList

	require.NoError(testingT, bridge.Save(ctx, widgetID, config, testOwnerEmail))
	require.NoError(testingT, bridge.Save(ctx, widgetID, config, testOwnerEmail))

	var recordCount int64
	require.NoError(testingT, database.Model(&model.WidgetRecord{}).Count(&recordCount).Error)
	require.Equal(testingT, int64(1), recordCount)

	owner, resolveErr := repository.ResolveWidgetOwner(ctx, widgetID)
	require.NoError(testingT, resolveErr)
	decoded, issues := widget.DecodeStoredConfig(owner.ConfigDocument)
	require.Empty(testingT, issues)
	require.Equal(testingT, config, decoded)
}

func TestBridgeRegenerateOrphansPreviousIdentifier(testingT *testing.T) {
	database := testutil.OpenMigratedDatabase(testingT)
	repository := storage.NewWidgetRepository(database)
	bridge := widget.NewPersistenceBridge(repository, zap.NewNop(), widget.WithSaveRetryPolicy(quickRetryPolicy))
	ctx := context.Background()
	originalID := storage.NewWidgetID()
	require.NoError(testingT, bridge.Save(ctx, originalID, widget.DefaultConfig(), testOwnerEmail))

	regeneratedID := bridge.Regenerate(originalID)
	require.NotEqual(testingT, originalID, regeneratedID)
	require.True(testingT, storage.IsWidgetID(regeneratedID))
	require.NoError(testingT, bridge.Save(ctx, regeneratedID, widget.DefaultConfig(), testOwnerEmail))

	_, resolveErr := repository.ResolveWidgetOwner(ctx, originalID)
	require.ErrorIs(testingT, resolveErr, storage.ErrWidgetNotFound)

	reactivateErr := bridge.Save(ctx, originalID, widget.DefaultConfig(), testOwnerEmail)
	require.ErrorIs(testingT, reactivateErr, storage.ErrWidgetRetired)
}

func TestBridgeRegenerateSkipsCollidingIdentifiers(testingT *testing.T) {
	generated := []string{"widget_same", "widget_same", "widget_fresh"}
	bridge := widget.NewPersistenceBridge(&recordingWriter{}, zap.NewNop(), widget.WithWidgetIDGenerator(func() string {
		next := generated[0]
		generated = generated[1:]
		return next
	}))

	require.Equal(testingT, "widget_fresh", bridge.Regenerate("widget_same"))
}

func TestBridgeSaveRetriesTransientFailures(testingT *testing.T) {
	collectors, metricsErr := metrics.New(prometheus.NewRegistry())
	require.NoError(testingT, metricsErr)
	writer := &recordingWriter{failures: []error{storage.ErrUnavailable, storage.ErrUnavailable}}
	invalidator := &recordingInvalidator{}
	bridge := widget.NewPersistenceBridge(writer, zap.NewNop(),
		widget.WithSaveRetryPolicy(quickRetryPolicy),
		widget.WithBridgeMetrics(collectors),
		widget.WithCacheInvalidator(invalidator))

	require.NoError(testingT, bridge.Save(context.Background(), "widget_a", widget.DefaultConfig(), " Owner@Example.com "))

	calls, saves := writer.snapshot()
	require.Equal(testingT, 3, calls)
	require.Len(testingT, saves, 1)
	require.Equal(testingT, testOwnerEmail, saves[0].ownerID)

	var storedConfig widget.Config
	require.NoError(testingT, json.Unmarshal(saves[0].document, &storedConfig))
	require.Equal(testingT, widget.DefaultConfig(), storedConfig)

	require.Equal(testingT, []string{testOwnerEmail}, invalidator.owners)
	require.Equal(testingT, float64(2), prometheustestutil.ToFloat64(collectors.ConfigSaves().WithLabelValues(metrics.SaveResultRetried)))
	require.Equal(testingT, float64(1), prometheustestutil.ToFloat64(collectors.ConfigSaves().WithLabelValues(metrics.SaveResultSaved)))
}

func TestBridgeSaveDoesNotRetryPermanentFailures(testingT *testing.T) {
	writer := &recordingWriter{failures: []error{storage.ErrWidgetOwnerMismatch}}
	bridge := widget.NewPersistenceBridge(writer, zap.NewNop(), widget.WithSaveRetryPolicy(quickRetryPolicy))

	saveErr := bridge.Save(context.Background(), "widget_a", widget.DefaultConfig(), testOwnerEmail)
	require.ErrorIs(testingT, saveErr, storage.ErrWidgetOwnerMismatch)
	calls, _ := writer.snapshot()
	require.Equal(testingT, 1, calls)
}

func TestBridgeSaveRejectsMissingOwnerAndInvalidConfig(testingT *testing.T) {
	writer := &recordingWriter{}
	bridge := widget.NewPersistenceBridge(writer, zap.NewNop())

	require.ErrorIs(testingT, bridge.Save(context.Background(), "widget_a", widget.DefaultConfig(), "  "), widget.ErrMissingOwner)

	invalid := widget.DefaultConfig()
	invalid.MaxTestimonials = 0
	require.ErrorIs(testingT, bridge.Save(context.Background(), "widget_a", invalid, testOwnerEmail), widget.ErrInvalidMaxTestimonials)

	calls, _ := writer.snapshot()
	require.Zero(testingT, calls)
}

func TestBridgeEnqueueCoalescesPerOwner(testingT *testing.T) {
	writer := &recordingWriter{}
	bridge := widget.NewPersistenceBridge(writer, zap.NewNop(), widget.WithSaveRetryPolicy(quickRetryPolicy))

	first := widget.DefaultConfig()
	second := widget.DefaultConfig()
	second.Theme = widget.ThemeDark
	bridge.Enqueue(widget.SaveRequest{OwnerID: testOwnerEmail, WidgetID: "widget_a", Config: first})
	bridge.Enqueue(widget.SaveRequest{OwnerID: testOwnerEmail, WidgetID: "widget_a", Config: second})
	bridge.Enqueue(widget.SaveRequest{OwnerID: testOtherOwnerEmail, WidgetID: "widget_b", Config: first})
	require.Equal(testingT, 2, bridge.Pending())

	require.NoError(testingT, bridge.Flush(context.Background()))
	require.Zero(testingT, bridge.Pending())

	_, saves := writer.snapshot()
	require.Len(testingT, saves, 2)
	savedByWidget := map[string]widget.Config{}
	for _, save := range saves {
		var stored widget.Config
		require.NoError(testingT, json.Unmarshal(save.document, &stored))
		savedByWidget[save.widgetID] = stored
	}
	require.Equal(testingT, widget.ThemeDark, savedByWidget["widget_a"].Theme)
	require.Equal(testingT, widget.ThemeLight, savedByWidget["widget_b"].Theme)
}

func TestBridgeFlushRequeuesTransientFailuresAndBroadcasts(testingT *testing.T) {
	attemptsPerSave := int(quickRetryPolicy.MaxRetries) + 1
	failures := make([]error, 0, attemptsPerSave)
	for range attemptsPerSave {
		failures = append(failures, storage.ErrUnavailable)
	}
	writer := &recordingWriter{failures: failures}
	events := widget.NewSyncEventBroadcaster()
	testingT.Cleanup(events.Close)
	subscription := events.Subscribe(testOwnerEmail)
	testingT.Cleanup(subscription.Close)
	bridge := widget.NewPersistenceBridge(writer, zap.NewNop(),
		widget.WithSaveRetryPolicy(quickRetryPolicy),
		widget.WithSyncEvents(events))

	bridge.Enqueue(widget.SaveRequest{OwnerID: testOwnerEmail, WidgetID: "widget_a", Config: widget.DefaultConfig()})
	flushErr := bridge.Flush(context.Background())
	require.ErrorIs(testingT, flushErr, storage.ErrUnavailable)
	require.Equal(testingT, 1, bridge.Pending())

	select {
	case event := <-subscription.Events():
		require.Equal(testingT, widget.SyncStatusFailed, event.Status)
		require.Equal(testingT, "widget_a", event.WidgetID)
		require.Equal(testingT, "storage_unavailable", event.Error)
	case <-time.After(bridgeEventTimeout):
		testingT.Fatal("expected failed sync event")
	}

	require.NoError(testingT, bridge.Flush(context.Background()))
	require.Zero(testingT, bridge.Pending())
	select {
	case event := <-subscription.Events():
		require.Equal(testingT, widget.SyncStatusSaved, event.Status)
	case <-time.After(bridgeEventTimeout):
		testingT.Fatal("expected saved sync event")
	}
}

func TestBridgeFlushDropsPermanentFailures(testingT *testing.T) {
	writer := &recordingWriter{failures: []error{storage.ErrWidgetRetired}}
	bridge := widget.NewPersistenceBridge(writer, zap.NewNop(), widget.WithSaveRetryPolicy(quickRetryPolicy))

	bridge.Enqueue(widget.SaveRequest{OwnerID: testOwnerEmail, WidgetID: "widget_a", Config: widget.DefaultConfig()})
	require.ErrorIs(testingT, bridge.Flush(context.Background()), storage.ErrWidgetRetired)
	require.Zero(testingT, bridge.Pending())
}

func TestBridgeBackgroundLoopPersistsEnqueuedSaves(testingT *testing.T) {
	database := testutil.OpenMigratedDatabase(testingT)
	repository := storage.NewWidgetRepository(database)
	bridge := widget.NewPersistenceBridge(repository, zap.NewNop(),
		widget.WithSaveRetryPolicy(quickRetryPolicy),
		widget.WithSyncInterval(time.Hour))
	bridge.Start(context.Background())
	testingT.Cleanup(bridge.Stop)

	widgetID := storage.NewWidgetID()
	bridge.Enqueue(widget.SaveRequest{OwnerID: testOwnerEmail, WidgetID: widgetID, Config: widget.DefaultConfig()})

	require.Eventually(testingT, func() bool {
		_, resolveErr := repository.ResolveWidgetOwner(context.Background(), widgetID)
		return resolveErr == nil
	}, bridgeEventTimeout, 10*time.Millisecond)
}

func TestBridgeStopFlushesPendingSaves(testingT *testing.T) {
	writer := &recordingWriter{}
	bridge := widget.NewPersistenceBridge(writer, zap.NewNop(), widget.WithSyncInterval(time.Hour))
	bridge.Start(context.Background())
	bridge.Enqueue(widget.SaveRequest{OwnerID: testOwnerEmail, WidgetID: "widget_a", Config: widget.DefaultConfig()})
	bridge.Stop()

	require.Zero(testingT, bridge.Pending())
	_, saves := writer.snapshot()
	require.Len(testingT, saves, 1)
}
