// Package stream accumulates a streamed completion into its placeholder
// message and forwards throttled updates to the chat panel.
package stream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/render"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const DefaultInterval = 100 * time.Millisecond

type Mode string

const (
	ModeChat Mode = "chat"
	// ModeNone disables generation; Run returns without calling the provider.
	ModeNone Mode = "none"
)

// Result describes how a run ended. A cancelled run is not an error.
type Result struct {
	Raw       string
	Deltas    int
	Cancelled bool
	Skipped   bool
	Duration  time.Duration
}

type Aggregator struct {
	provider provider.Provider
	sink     events.EventSink
	renderer render.Renderer
	interval time.Duration
	mode     Mode
	// guards the message being streamed into; shared with its owner
	lock sync.Locker
}

type Option func(*Aggregator)

// WithInterval sets the minimum time between two streamMessage events. Zero
// or less forwards every delta.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		a.interval = d
	}
}

func WithRenderer(r render.Renderer) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.renderer = r
		}
	}
}

func WithMode(m Mode) Option {
	return func(a *Aggregator) {
		if m != "" {
			a.mode = m
		}
	}
}

func WithLock(l sync.Locker) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.lock = l
		}
	}
}

func NewAggregator(p provider.Provider, sink events.EventSink, options ...Option) *Aggregator {
	ret := &Aggregator{
		provider: p,
		sink:     sink,
		renderer: render.Plain{},
		interval: DefaultInterval,
		mode:     ModeChat,
		lock:     &sync.Mutex{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (a *Aggregator) Mode() Mode {
	return a.mode
}

func (a *Aggregator) newThrottle() *rate.Sometimes {
	if a.interval <= 0 {
		return &rate.Sometimes{Every: 1}
	}
	return &rate.Sometimes{Interval: a.interval}
}

func (a *Aggregator) publish(e events.Event) {
	if err := a.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("could not publish event")
	}
}

// Run streams the completion of history into msg. Deltas are appended to
// msg.RawContent in arrival order. On cancellation the partial content stays
// on the message.
func (a *Aggregator) Run(
	ctx context.Context,
	conversationID string,
	msg *conversation.Message,
	history []*conversation.Message,
	params provider.Params,
) (Result, error) {
	start := time.Now()
	if a.mode == ModeNone {
		log.Debug().Str("conversation_id", conversationID).Msg("generation disabled, skipping provider call")
		return Result{Skipped: true}, nil
	}

	s, err := a.provider.StreamChatCompletion(ctx, history, params)
	if err != nil {
		if isCancelled(ctx, err) {
			return a.finish(conversationID, msg, Result{Cancelled: true, Duration: time.Since(start)}), nil
		}
		return Result{Duration: time.Since(start)}, err
	}
	defer func() {
		_ = s.Close()
	}()

	throttle := a.newThrottle()
	res := Result{}

	for {
		select {
		case <-ctx.Done():
			res.Cancelled = true
			res.Duration = time.Since(start)
			return a.finish(conversationID, msg, res), nil
		default:
		}

		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Duration = time.Since(start)
			if isCancelled(ctx, err) {
				res.Cancelled = true
				return a.finish(conversationID, msg, res), nil
			}
			a.locked(func() {
				res.Raw = msg.RawContent
			})
			return res, err
		}
		if delta == "" {
			continue
		}
		res.Deltas++

		var id, content string
		a.locked(func() {
			msg.RawContent += delta
			msg.Content = a.renderer.Render(msg.RawContent)
			id, content = msg.ID, msg.Content
		})

		throttle.Do(func() {
			a.publish(events.NewStreamMessageEvent(conversationID, id, content))
		})
	}

	res.Duration = time.Since(start)
	return a.finish(conversationID, msg, res), nil
}

// finish marks the message done, renders it one last time and announces it.
func (a *Aggregator) finish(conversationID string, msg *conversation.Message, res Result) Result {
	var snapshot *conversation.Message
	a.locked(func() {
		msg.Done = true
		msg.Content = a.renderer.Render(msg.RawContent)
		res.Raw = msg.RawContent
		snapshot = clone.Clone(msg).(*conversation.Message)
	})

	a.publish(events.NewUpdateMessageEvent(conversationID, snapshot))
	log.Debug().
		Str("conversation_id", conversationID).
		Str("message_id", snapshot.ID).
		Int("deltas", res.Deltas).
		Bool("cancelled", res.Cancelled).
		Dur("duration", res.Duration).
		Msg("stream finished")
	return res
}

// locked runs f with the message lock held. The lock is released even when f
// panics, the lock being shared with the message's owner.
func (a *Aggregator) locked(f func()) {
	a.lock.Lock()
	defer a.lock.Unlock()
	f()
}

func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
