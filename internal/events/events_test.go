package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kodex/internal/events"
)

func TestBus_PublishDeliversToMatchingTypeSubscriber(t *testing.T) {
	bus := events.New(2, 16)
	defer bus.Close()

	received := make(chan events.Event, 1)
	bus.Subscribe(events.TypeLoginSucceeded, events.Subscriber{
		Name: "login-watcher",
		Handle: func(ctx context.Context, ev events.Event) error {
			received <- ev
			return nil
		},
	})

	bus.Publish(context.Background(), events.Event{Type: events.TypeLoginSucceeded, Realm: "tenant-a", Payload: "alice"})

	select {
	case ev := <-received:
		require.Equal(t, events.TypeLoginSucceeded, ev.Type)
		require.Equal(t, "tenant-a", ev.Realm)
		require.NotEqual(t, "", ev.ID.String())
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive published event")
	}
}

func TestBus_SubscriberOnlyReceivesItsOwnType(t *testing.T) {
	bus := events.New(2, 16)
	defer bus.Close()

	received := make(chan events.Event, 1)
	bus.Subscribe(events.TypeLoginSucceeded, events.Subscriber{
		Name: "login-watcher",
		Handle: func(ctx context.Context, ev events.Event) error {
			received <- ev
			return nil
		},
	})

	bus.Publish(context.Background(), events.Event{Type: events.TypeUserCreated})

	select {
	case <-received:
		t.Fatal("subscriber received an event of a type it never subscribed to")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_SubscribeAllReceivesEveryType(t *testing.T) {
	bus := events.New(2, 16)
	defer bus.Close()

	received := make(chan events.Event, 2)
	bus.SubscribeAll(events.Subscriber{
		Name: "audit",
		Handle: func(ctx context.Context, ev events.Event) error {
			received <- ev
			return nil
		},
	})

	bus.Publish(context.Background(), events.Event{Type: events.TypeUserCreated})
	bus.Publish(context.Background(), events.Event{Type: events.TypeLoginSucceeded})

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("wildcard subscriber missed an event")
		}
	}
}

func TestBus_SubscriberPanicDoesNotStopDelivery(t *testing.T) {
	bus := events.New(2, 16)
	defer bus.Close()

	received := make(chan events.Event, 1)
	bus.Subscribe(events.TypeUserCreated, events.Subscriber{
		Name:     "panicker",
		Priority: 10,
		Handle: func(ctx context.Context, ev events.Event) error {
			panic("boom")
		},
	})
	bus.Subscribe(events.TypeUserCreated, events.Subscriber{
		Name:     "survivor",
		Priority: 0,
		Handle: func(ctx context.Context, ev events.Event) error {
			received <- ev
			return nil
		},
	})

	bus.Publish(context.Background(), events.Event{Type: events.TypeUserCreated})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("a panicking subscriber prevented delivery to the next one")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.New(2, 16)
	defer bus.Close()

	received := make(chan events.Event, 1)
	bus.Subscribe(events.TypeUserDeleted, events.Subscriber{
		Name: "temp",
		Handle: func(ctx context.Context, ev events.Event) error {
			received <- ev
			return nil
		},
	})
	bus.Unsubscribe("temp")

	bus.Publish(context.Background(), events.Event{Type: events.TypeUserDeleted})

	select {
	case <-received:
		t.Fatal("unsubscribed subscriber still received an event")
	case <-time.After(100 * time.Millisecond):
	}
}
