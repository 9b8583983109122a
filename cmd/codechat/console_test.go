package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleStreamsOnlyNewContent(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, nil)
	ctx := context.Background()

	require.NoError(t, c.HandleEvent(ctx, events.NewStreamMessageEvent("c1", "m1", "Hel")))
	require.NoError(t, c.HandleEvent(ctx, events.NewStreamMessageEvent("c1", "m1", "Hello")))

	final := conversation.NewMessage(conversation.RoleAssistant, "Hello world", conversation.WithID("m1"))
	require.NoError(t, c.HandleEvent(ctx, events.NewUpdateMessageEvent("c1", final)))

	assert.Equal(t, "Hello world\n", buf.String())
	assert.Equal(t, "Hello world", c.LastAnswer("c1"))
}

func TestConsoleTracksContinuationAndIdle(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, nil)
	ctx := context.Background()

	require.NoError(t, c.HandleEvent(ctx, events.NewOfferContinuationEvent("c1", "m1")))
	require.NoError(t, c.HandleEvent(ctx, events.NewActionInProgressEvent("a1", false)))
	require.NoError(t, c.HandleEvent(ctx, events.NewShowInProgressEvent("c1", false)))

	select {
	case id := <-c.idle:
		assert.Equal(t, "c1", id)
	default:
		t.Fatal("no idle signal")
	}
	assert.Empty(t, c.idle)

	assert.True(t, c.takeContinuation("c1"))
	assert.False(t, c.takeContinuation("c1"))
}

func TestConsoleKeepsExportAndTokenCount(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, nil)
	ctx := context.Background()

	tc := conversation.TokenCount{Messages: 10, MinTotal: 12, MaxTotal: 100}
	require.NoError(t, c.HandleEvent(ctx, events.NewTokenCountEvent("c1", tc, nil)))
	got, cost, ok := c.TokenCount("c1")
	require.True(t, ok)
	assert.Equal(t, tc, got)
	assert.Nil(t, cost)

	require.NoError(t, c.HandleEvent(ctx, events.NewActionResultEvent("c1", "", "exportConversation", "# Chat", nil)))
	ev := c.takeExport()
	require.NotNil(t, ev)
	assert.Equal(t, "# Chat", ev.Result)
	assert.Nil(t, c.takeExport())

	require.NoError(t, c.HandleEvent(ctx, events.NewActionResultEvent("c1", "a1", "generateTitle", "Title", nil)))
	action := <-c.actions
	assert.Equal(t, "a1", action.ActionID)
}

type recordingPublisher struct {
	intents []events.Intent
}

func (r *recordingPublisher) PublishIntent(intent events.Intent) error {
	r.intents = append(r.intents, intent)
	return nil
}

func TestDispatchTranslatesCommands(t *testing.T) {
	var buf bytes.Buffer
	pub := &recordingPublisher{}
	r := &repl{
		out:            &buf,
		router:         pub,
		console:        newConsole(&buf, nil),
		results:        make(chan error, 1),
		conversationID: "c1",
	}
	ctx := context.Background()

	quit, err := r.dispatch(ctx, "/model gpt-4")
	require.NoError(t, err)
	assert.False(t, quit)
	_, err = r.dispatch(ctx, "/verbosity concise")
	require.NoError(t, err)
	_, err = r.dispatch(ctx, "/clear")
	require.NoError(t, err)

	require.Len(t, pub.intents, 3)
	setModel := pub.intents[0].(*events.SetModel)
	assert.Equal(t, events.IntentTypeSetModel, setModel.Type())
	assert.Equal(t, "gpt-4", setModel.Model)
	assert.Equal(t, "c1", setModel.ConversationID)
	assert.Equal(t, "concise", pub.intents[1].(*events.SetVerbosity).Verbosity)

	_, err = r.dispatch(ctx, "/bogus")
	require.Error(t, err)

	quit, err = r.dispatch(ctx, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestDispatchListsCodeBlocks(t *testing.T) {
	var buf bytes.Buffer
	con := newConsole(&bytes.Buffer{}, nil)
	answer := conversation.NewMessage(conversation.RoleAssistant, "See:\n\n```go\nx := 1\n```\n")
	require.NoError(t, con.HandleEvent(context.Background(), events.NewUpdateMessageEvent("c1", answer)))

	r := &repl{out: &buf, router: &recordingPublisher{}, console: con, results: make(chan error, 1), conversationID: "c1"}
	_, err := r.dispatch(context.Background(), "/blocks")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "--- [1] go\nx := 1")
}
