// internal/handler/event_bus_test.go
package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial2rudics/internal/model"
)

func receive(t *testing.T, events <-chan model.BridgeEvent) model.BridgeEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return model.BridgeEvent{}
	}
}

func TestEventBusDistributesByType(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	connected := bus.Subscribe(model.EventConnected)
	all := bus.Subscribe(AllEvents)

	bus.Publish(model.NewBridgeEvent(model.EventConnectAttempt, model.StateConnecting))
	bus.Publish(model.NewBridgeEvent(model.EventConnected, model.StateConnected))

	assert.Equal(t, model.EventConnectAttempt, receive(t, all).Type)
	assert.Equal(t, model.EventConnected, receive(t, all).Type)
	assert.Equal(t, model.EventConnected, receive(t, connected).Type)

	select {
	case event := <-connected:
		t.Fatalf("unexpected event %s", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	events := bus.Subscribe(AllEvents)

	bus.Unsubscribe(events)

	_, ok := <-events
	assert.False(t, ok)
}

func TestEventBusPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			bus.Publish(model.NewBridgeEvent(model.EventReconnectWait, model.StateDisconnected))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked without a running bus")
	}
}

func TestEventBusRunStopsOnCancel(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		require.Fail(t, "Run did not return after cancel")
	}
}
