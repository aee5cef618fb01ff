package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishByType(t *testing.T) {
	bus := NewBus()
	var refreshed, ended []Event
	bus.Subscribe(QueueRefreshed, func(e Event) { refreshed = append(refreshed, e) })
	bus.Subscribe(SessionEnded, func(e Event) { ended = append(ended, e) })

	bus.Publish(Event{Type: QueueRefreshed, Session: "chat:1", StoreID: 3})
	bus.Publish(Event{Type: QueueRefreshed, Session: "chat:2"})

	assert.Len(t, refreshed, 2)
	assert.Empty(t, ended)
	assert.Equal(t, int64(3), refreshed[0].StoreID)
	assert.False(t, refreshed[0].CreatedAt.IsZero())
}

func TestBus_NilIsSafe(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(Event{Type: SessionStarted}) })
}
