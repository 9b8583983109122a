package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

type ctxKey int

const (
	ctxKeySink ctxKey = iota
)

// WithSink attaches a sink to ctx so that code without access to the engine,
// such as ad-hoc actions, can report progress.
func WithSink(ctx context.Context, sink EventSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKeySink, sink)
}

func SinkFromContext(ctx context.Context) (EventSink, bool) {
	s, ok := ctx.Value(ctxKeySink).(EventSink)
	return s, ok
}

// PublishToContext publishes e to the sink stored in ctx. Without a sink it
// does nothing.
func PublishToContext(ctx context.Context, e Event) {
	sink, ok := SinkFromContext(ctx)
	if !ok {
		log.Trace().Str("event_type", string(e.Type())).Msg("no sink in context")
		return
	}
	if err := sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("could not publish event")
	}
}
