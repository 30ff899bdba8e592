package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversToAllHandlers(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(CreditReceived, func(e Event) {
		tenant, _ := e.Payload["tenant_id"].(string)
		got = append(got, "first:"+tenant)
	})
	bus.Subscribe(CreditReceived, func(e Event) {
		tenant, _ := e.Payload["tenant_id"].(string)
		got = append(got, "second:"+tenant)
	})

	bus.Publish(CreditReceived, map[string]interface{}{"tenant_id": "t1"})
	assert.Equal(t, []string{"first:t1", "second:t1"}, got)
}

func TestBusIgnoresOtherEventTypes(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.Subscribe(CreditReceived, func(Event) { calls++ })

	bus.Publish(CreditDebited, map[string]interface{}{"tenant_id": "t1"})
	assert.Equal(t, 0, calls)
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.Publish(NodeOffline, map[string]interface{}{"node_id": "n1"})
	})
}

func TestBusStampsTimestampAndType(t *testing.T) {
	bus := NewBus()
	var seen Event
	bus.Subscribe(NodeRegistered, func(e Event) { seen = e })

	bus.Publish(NodeRegistered, nil)
	assert.Equal(t, NodeRegistered, seen.Type)
	assert.False(t, seen.Timestamp.IsZero())
}
