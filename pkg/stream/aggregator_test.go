package stream

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperRenderer struct{}

func (upperRenderer) Render(raw string) string { return strings.ToUpper(raw) }

func history() []*conversation.Message {
	return []*conversation.Message{conversation.NewMessage(conversation.RoleUser, "hi")}
}

func TestRunThrottlesAndFinishes(t *testing.T) {
	sink := events.NewCollectingSink()
	p := &provider.Scripted{Deltas: []string{"Hello", " world", "!"}}
	a := NewAggregator(p, sink, WithInterval(time.Hour), WithRenderer(upperRenderer{}))

	msg := conversation.NewPlaceholder("m1")
	res, err := a.Run(context.Background(), "c1", msg, history(), provider.Params{Model: "gpt-4"})
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, 3, res.Deltas)
	assert.Equal(t, "Hello world!", res.Raw)

	assert.Equal(t, []events.EventType{events.EventTypeStreamMessage, events.EventTypeUpdateMessage}, sink.Types())
	evs := sink.Events()
	first := evs[0].(*events.EventStreamMessage)
	assert.Equal(t, "m1", first.MessageID)
	assert.Equal(t, "HELLO", first.Content)

	final := evs[1].(*events.EventUpdateMessage)
	assert.Equal(t, "Hello world!", final.Message.RawContent)
	assert.Equal(t, "HELLO WORLD!", final.Message.Content)
	assert.True(t, final.Message.Done)

	assert.True(t, msg.Done)
	assert.Equal(t, "Hello world!", msg.RawContent)
	// the published message is a copy
	final.Message.RawContent = "changed"
	assert.Equal(t, "Hello world!", msg.RawContent)
}

func TestRunWithoutThrottleForwardsEveryDelta(t *testing.T) {
	sink := events.NewCollectingSink()
	p := &provider.Scripted{Deltas: []string{"a", "", "b", "c"}}
	a := NewAggregator(p, sink, WithInterval(0))

	res, err := a.Run(context.Background(), "c1", conversation.NewPlaceholder("m1"), history(), provider.Params{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deltas)

	var contents []string
	for _, e := range sink.Events() {
		if sm, ok := e.(*events.EventStreamMessage); ok {
			contents = append(contents, sm.Content)
		}
	}
	assert.Equal(t, []string{"a", "ab", "abc"}, contents)
}

func TestRunKeepsPartialContentOnCancel(t *testing.T) {
	sink := events.NewCollectingSink()
	gate := make(chan struct{})
	p := &provider.Scripted{Deltas: []string{"par", "tial", "never"}, Gate: gate}
	a := NewAggregator(p, sink, WithInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	msg := conversation.NewPlaceholder("m1")

	done := make(chan Result, 1)
	go func() {
		res, err := a.Run(ctx, "c1", msg, history(), provider.Params{})
		assert.NoError(t, err)
		done <- res
	}()

	gate <- struct{}{}
	gate <- struct{}{}
	cancel()

	var res Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	assert.True(t, res.Cancelled)
	assert.Equal(t, "partial", res.Raw)
	assert.Equal(t, "partial", msg.RawContent)
	assert.True(t, msg.Done)
	types := sink.Types()
	assert.Equal(t, events.EventTypeUpdateMessage, types[len(types)-1])
}

func TestRunReturnsTransportErrorWithPartial(t *testing.T) {
	sink := events.NewCollectingSink()
	boom := errors.New("connection reset")
	p := &provider.Scripted{Deltas: []string{"half"}, Err: boom}
	a := NewAggregator(p, sink, WithInterval(0))

	msg := conversation.NewPlaceholder("m1")
	res, err := a.Run(context.Background(), "c1", msg, history(), provider.Params{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "half", res.Raw)
	assert.Equal(t, "half", msg.RawContent)
	assert.False(t, msg.Done)
	assert.NotContains(t, sink.Types(), events.EventTypeUpdateMessage)
}

func TestRunOpenFailure(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	p := &provider.Scripted{Err: boom, FailOnOpen: true}
	a := NewAggregator(p, events.NewCollectingSink())
	_, err := a.Run(context.Background(), "c1", conversation.NewPlaceholder("m1"), history(), provider.Params{})
	require.ErrorIs(t, err, boom)
}

func TestModeNoneSkipsProvider(t *testing.T) {
	sink := events.NewCollectingSink()
	p := &provider.Scripted{Deltas: []string{"x"}}
	a := NewAggregator(p, sink, WithMode(ModeNone))

	res, err := a.Run(context.Background(), "c1", conversation.NewPlaceholder("m1"), history(), provider.Params{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, p.Requests())
	assert.Empty(t, sink.Events())
}

type panickingRenderer struct{}

func (panickingRenderer) Render(raw string) string { panic("render failed") }

func TestRunReleasesSharedLockWhenRendererPanics(t *testing.T) {
	var mu sync.Mutex
	a := NewAggregator(&provider.Scripted{Deltas: []string{"x"}}, events.NewCollectingSink(),
		WithInterval(0), WithRenderer(panickingRenderer{}), WithLock(&mu))

	msg := conversation.NewPlaceholder("m1")
	assert.Panics(t, func() {
		_, _ = a.Run(context.Background(), "c1", msg, history(), provider.Params{})
	})

	require.True(t, mu.TryLock())
	mu.Unlock()
	assert.Equal(t, "x", msg.RawContent)
}
