package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type EventSink interface {
	// PublishEvent publishes an event to the sink.
	// Returns an error if the event could not be published.
	PublishEvent(event Event) error
}

const (
	MetadataConversationID = "conversation_id"
	MetadataEventType      = "event_type"
)

// WatermillSink publishes events as JSON to a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataEventType, string(event.Type()))
	if id := event.ConversationID(); id != "" {
		msg.Metadata.Set(MetadataConversationID, id)
	}

	err = w.publisher.Publish(w.topic, msg)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)

// ChannelSink hands events to an in-process consumer. PublishEvent blocks
// until the consumer takes the event or the sink's context is done.
type ChannelSink struct {
	ctx context.Context
	ch  chan Event
}

func NewChannelSink(ctx context.Context, size int) *ChannelSink {
	return &ChannelSink{
		ctx: ctx,
		ch:  make(chan Event, size),
	}
}

func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}

func (c *ChannelSink) PublishEvent(event Event) error {
	select {
	case c.ch <- event:
		return nil
	case <-c.ctx.Done():
		return errors.Wrap(c.ctx.Err(), "channel sink closed")
	}
}

var _ EventSink = (*ChannelSink)(nil)

// CollectingSink keeps every event in memory.
type CollectingSink struct {
	mu     sync.Mutex
	events []Event
}

func NewCollectingSink() *CollectingSink {
	return &CollectingSink{}
}

func (c *CollectingSink) PublishEvent(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *CollectingSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Types returns the event types in publication order.
func (c *CollectingSink) Types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]EventType, 0, len(c.events))
	for _, e := range c.events {
		ret = append(ret, e.Type())
	}
	return ret
}

// ForConversation returns the events of one conversation in order.
func (c *CollectingSink) ForConversation(id string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ret []Event
	for _, e := range c.events {
		if e.ConversationID() == id {
			ret = append(ret, e)
		}
	}
	return ret
}

func (c *CollectingSink) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

var _ EventSink = (*CollectingSink)(nil)

// MultiSink publishes to every sink and returns the first error.
type MultiSink []EventSink

func (m MultiSink) PublishEvent(event Event) error {
	var first error
	for _, s := range m {
		if err := s.PublishEvent(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ EventSink = MultiSink(nil)
