package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDispatchesIntentsAndEvents(t *testing.T) {
	r, err := NewEventRouter()
	require.NoError(t, err)

	var mu sync.Mutex
	var got []Event
	received := make(chan struct{}, 1)

	sink := r.EventSink()
	r.AddIntentHandler("intents", IntentHandlerFunc(func(ctx context.Context, intent Intent) error {
		stop := intent.(*StopGenerating)
		return sink.PublishEvent(NewShowInProgressEvent(stop.ConversationID, false))
	}))
	r.AddEventHandler("events", func(ctx context.Context, ev Event) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		received <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = r.Run(ctx)
	}()
	<-r.Running()

	// rejected without reaching the handler
	require.NoError(t, r.Publisher.Publish(TopicIntents, newRawMessage(`{"type":"nope"}`)))

	require.NoError(t, r.PublishIntent(&StopGenerating{
		IntentImpl:     IntentImpl{Type_: IntentTypeStopGenerating},
		ConversationID: "c1",
	}))

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	ev, ok := got[0].(*EventShowInProgress)
	require.True(t, ok)
	assert.Equal(t, "c1", ev.ConversationID())
	assert.False(t, ev.InProgress)

	require.NoError(t, r.Close())
}

func newRawMessage(payload string) *message.Message {
	return message.NewMessage(watermill.NewUUID(), []byte(payload))
}
