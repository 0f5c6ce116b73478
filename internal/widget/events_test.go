package widget_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

func TestSyncEventBroadcasterDeliversOnlyToOwner(testingT *testing.T) {
	broadcaster := widget.NewSyncEventBroadcaster()
	testingT.Cleanup(broadcaster.Close)

	ownerSubscription := broadcaster.Subscribe(testOwnerEmail)
	otherSubscription := broadcaster.Subscribe(testOtherOwnerEmail)
	testingT.Cleanup(ownerSubscription.Close)
	testingT.Cleanup(otherSubscription.Close)

	broadcaster.Broadcast(widget.SyncEvent{OwnerID: testOwnerEmail, WidgetID: "widget_a", Status: widget.SyncStatusSaved, OccurredAt: time.Now()})

	select {
	case event := <-ownerSubscription.Events():
		require.Equal(testingT, "widget_a", event.WidgetID)
	case <-time.After(bridgeEventTimeout):
		testingT.Fatal("expected event for owner")
	}

	select {
	case event := <-otherSubscription.Events():
		testingT.Fatalf("unexpected event %+v", event)
	default:
	}
}

func TestSyncEventBroadcasterCloseEndsSubscriptions(testingT *testing.T) {
	broadcaster := widget.NewSyncEventBroadcaster()
	subscription := broadcaster.Subscribe(testOwnerEmail)
	broadcaster.Close()

	_, open := <-subscription.Events()
	require.False(testingT, open)
	require.Nil(testingT, broadcaster.Subscribe(testOwnerEmail))

	subscription.Close()
	broadcaster.Broadcast(widget.SyncEvent{OwnerID: testOwnerEmail})
}

func TestSyncEventSubscriptionCloseIsIdempotent(testingT *testing.T) {
	broadcaster := widget.NewSyncEventBroadcaster()
	testingT.Cleanup(broadcaster.Close)
	subscription := broadcaster.Subscribe(testOwnerEmail)

	subscription.Close()
	subscription.Close()
	_, open := <-subscription.Events()
	require.False(testingT, open)

	var nilSubscription *widget.SyncEventSubscription
	require.Nil(testingT, nilSubscription.Events())
	nilSubscription.Close()
}
