package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmrl/induction/shared/events"
)

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	t.Run("a topic-scoped subscriber only receives matching events", func(t *testing.T) {
		bus := New(nil, nil)
		sub := bus.Subscribe(events.TopicPlanStarted)
		other := bus.Subscribe(events.TopicAlertCritical)

		evt, err := events.New(events.TopicPlanStarted, "p1", "d1", map[string]string{"x": "y"})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(events.TopicPlanStarted, evt))

		select {
		case got := <-sub.Events:
			assert.Equal(t, evt.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatal("expected event on matching subscriber")
		}

		select {
		case <-other.Events:
			t.Fatal("non-matching subscriber should not receive the event")
		default:
		}
	})
}

func TestPublishDeliversToWildcardSubscriber(t *testing.T) {
	t.Run("an empty-topic subscription receives every event", func(t *testing.T) {
		bus := New(nil, nil)
		sub := bus.Subscribe("")

		evt, _ := events.New(events.TopicAlertWarning, "", "", nil)
		require.NoError(t, bus.Publish(events.TopicAlertWarning, evt))

		select {
		case got := <-sub.Events:
			assert.Equal(t, events.TopicAlertWarning, got.Topic)
		case <-time.After(time.Second):
			t.Fatal("expected event on wildcard subscriber")
		}
	})
}

func TestPublishDoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	t.Run("a slow subscriber's full buffer drops events instead of blocking Publish", func(t *testing.T) {
		bus := New(nil, nil)
		sub := bus.Subscribe("")

		done := make(chan struct{})
		go func() {
			for i := 0; i < subscriberBufferSize+10; i++ {
				evt, _ := events.New(events.TopicAlertWarning, "", "", nil)
				bus.Publish(events.TopicAlertWarning, evt)
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Publish blocked on a slow subscriber")
		}
		assert.NotEmpty(t, sub.Events)
	})
}

func TestUnsubscribeClosesDone(t *testing.T) {
	t.Run("unsubscribing closes the Done channel and drops the subscription", func(t *testing.T) {
		bus := New(nil, nil)
		sub := bus.Subscribe("")
		assert.Equal(t, 1, bus.SubscriberCount())

		bus.Unsubscribe(sub.ID)
		assert.Equal(t, 0, bus.SubscriberCount())

		select {
		case _, ok := <-sub.Done:
			assert.False(t, ok)
		default:
			t.Fatal("expected Done to be closed")
		}
	})
}
