package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversToSubscribers(t *testing.T) {
	dispatcher := NewInMemoryDispatcher()

	var got []string
	dispatcher.Subscribe(EventTicketCreated, func(_ context.Context, event Event) error {
		got = append(got, event.TicketID)
		return nil
	})
	dispatcher.Subscribe(EventTicketCreated, func(_ context.Context, event Event) error {
		got = append(got, event.TicketID)
		return nil
	})
	dispatcher.Subscribe(EventTicketClosed, func(_ context.Context, _ Event) error {
		t.Fatal("closed handler must not fire for created events")
		return nil
	})

	err := dispatcher.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "ticket-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ticket-1", "ticket-1"}, got)
}

func TestDispatcherSwallowsHandlerErrors(t *testing.T) {
	dispatcher := NewInMemoryDispatcher()

	fired := false
	dispatcher.Subscribe(EventTicketAssigned, func(_ context.Context, _ Event) error {
		return errors.New("subscriber exploded")
	})
	dispatcher.Subscribe(EventTicketAssigned, func(_ context.Context, _ Event) error {
		fired = true
		return nil
	})

	err := dispatcher.Publish(context.Background(), Event{Type: EventTicketAssigned})
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestDispatcherIgnoresUnknownEventType(t *testing.T) {
	dispatcher := NewInMemoryDispatcher()
	assert.NoError(t, dispatcher.Publish(context.Background(), Event{Type: EventTicketDeleted}))
}
