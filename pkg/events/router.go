package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/helpers"
)

const (
	TopicEvents  = "chat.events"
	TopicIntents = "chat.intents"
)

// IntentHandler is implemented by the session manager.
type IntentHandler interface {
	Handle(ctx context.Context, intent Intent) error
}

type IntentHandlerFunc func(ctx context.Context, intent Intent) error

func (f IntentHandlerFunc) Handle(ctx context.Context, intent Intent) error {
	return f(ctx, intent)
}

// EventRouter is the in-process bus between the chat panel and the engine:
// events flow on TopicEvents, intents on TopicIntents.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		if verbose {
			r.logger = helpers.NewWatermill(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

// EventSink returns a sink publishing on TopicEvents.
func (e *EventRouter) EventSink() *WatermillSink {
	return NewWatermillSink(e.Publisher, TopicEvents)
}

// PublishIntent sends an intent on TopicIntents.
func (e *EventRouter) PublishIntent(intent Intent) error {
	b, err := MarshalIntent(intent)
	if err != nil {
		return err
	}
	return e.Publisher.Publish(TopicIntents, message.NewMessage(watermill.NewUUID(), b))
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	err := e.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}
	log.Debug().Msg("Publisher closed")

	log.Debug().Msg("Closing router")
	err = e.router.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	log.Debug().Msg("Router closed")

	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddEventHandler subscribes f to decoded events. Undecodable payloads are
// logged and dropped.
func (e *EventRouter) AddEventHandler(name string, f func(ctx context.Context, ev Event) error) {
	e.AddHandler(name, TopicEvents, func(msg *message.Message) error {
		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse event from message payload")
			return nil
		}
		return f(msg.Context(), ev)
	})
}

// AddIntentHandler dispatches intents to h. Invalid intents and handler
// errors are logged and acked; a bad request from the panel must not stall
// the bus.
func (e *EventRouter) AddIntentHandler(name string, h IntentHandler) {
	e.AddHandler(name, TopicIntents, func(msg *message.Message) error {
		intent, err := NewIntentFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Str("payload", string(msg.Payload)).Msg("Rejected intent")
			return nil
		}
		log.Debug().Str("message_id", msg.UUID).Str("intent", string(intent.Type())).Msg("Dispatching intent")
		if err := h.Handle(msg.Context(), intent); err != nil {
			log.Warn().Err(err).Str("intent", string(intent.Type())).Msg("Intent failed")
		}
		return nil
	})
}

func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	err := json.Unmarshal(msg.Payload, &s)
	if err != nil {
		return err
	}
	if !e.verbose {
		// message lists dominate the output
		delete(s, "messages")
	}
	s_, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	log.Info().RawJSON("event", s_).Msg("event")
	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
