package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTripKeepsConcreteType(t *testing.T) {
	m := conversation.NewMessage(conversation.RoleAssistant, "partial", conversation.Pending())
	evs := []Event{
		NewMessagesUpdatedEvent("c1", []*conversation.Message{m}),
		NewAddMessageEvent("c1", m),
		NewStreamMessageEvent("c1", m.ID, "<p>partial</p>"),
		NewShowInProgressEvent("c1", true),
		NewTokenCountEvent("c1", conversation.TokenCount{Messages: 3, UserInput: 2, MinTotal: 5, MaxTotal: 100}, nil),
		NewAddErrorEvent("c1", m.ID, "boom"),
		NewOfferContinuationEvent("c1", m.ID),
		NewActionResultEvent("", "a1", "generateTitle", "Title", nil),
	}

	for _, ev := range evs {
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		decoded, err := NewEventFromJson(b)
		require.NoError(t, err, string(ev.Type()))
		assert.Equal(t, ev.Type(), decoded.Type())
		assert.Equal(t, ev.ConversationID(), decoded.ConversationID())
		assert.IsType(t, ev, decoded)
	}

	b, _ := json.Marshal(NewStreamMessageEvent("c1", "m1", "x"))
	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)
	sm := decoded.(*EventStreamMessage)
	assert.Equal(t, "m1", sm.MessageID)
	assert.Equal(t, b, sm.Payload())
}

func TestNewEventFromJsonRejectsUnknownTag(t *testing.T) {
	_, err := NewEventFromJson([]byte(`{"type":"explode"}`))
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = NewEventFromJson([]byte(`not json`))
	require.Error(t, err)
}

func TestNewIntentFromJson(t *testing.T) {
	i, err := NewIntentFromJson([]byte(`{"type":"addFreeTextQuestion","value":"hi","conversationId":"c1","questionId":"q1"}`))
	require.NoError(t, err)
	q, ok := i.(*AddFreeTextQuestion)
	require.True(t, ok)
	assert.Equal(t, "hi", q.Value)
	assert.Equal(t, "q1", q.QuestionID)
	assert.Equal(t, IntentTypeAddFreeTextQuestion, q.Type())

	i, err = NewIntentFromJson([]byte(`{"type":"stop-generating","conversationId":"c1"}`))
	require.NoError(t, err)
	assert.Equal(t, IntentTypeStopGenerating, i.Type())

	i, err = NewIntentFromJson([]byte(`{"type":"resetApiKey"}`))
	require.NoError(t, err)
	assert.IsType(t, &ResetApiKey{}, i)
}

func TestNewIntentFromJsonValidates(t *testing.T) {
	_, err := NewIntentFromJson([]byte(`{"type":"doSomethingElse"}`))
	require.ErrorIs(t, err, ErrUnknownIntent)

	_, err = NewIntentFromJson([]byte(`{"type":"addFreeTextQuestion","conversationId":"c1"}`))
	require.ErrorIs(t, err, ErrInvalidIntent)

	_, err = NewIntentFromJson([]byte(`{"type":"addFreeTextQuestion","value":"","conversationId":"c1"}`))
	require.ErrorIs(t, err, ErrInvalidIntent)

	_, err = NewIntentFromJson([]byte(`{"type":"setVerbosity","conversationId":"c1","verbosity":"chatty"}`))
	require.ErrorIs(t, err, ErrInvalidIntent)

	_, err = NewIntentFromJson([]byte(`{"type":"stopGenerating","conversationId":42}`))
	require.ErrorIs(t, err, ErrInvalidIntent)
}

func TestMarshalIntentRoundTrip(t *testing.T) {
	i, err := NewIntent(IntentTypeSetModel)
	require.NoError(t, err)
	sm := i.(*SetModel)
	sm.ConversationID = "c1"
	sm.Model = "gpt-4"

	b, err := MarshalIntent(sm)
	require.NoError(t, err)
	back, err := NewIntentFromJson(b)
	require.NoError(t, err)
	assert.Equal(t, sm, back)

	_, err = MarshalIntent(&SetModel{})
	require.Error(t, err)
}

func TestIntentSchemaListsAllTypes(t *testing.T) {
	types := IntentTypes()
	assert.Len(t, types, 13)
	for _, it := range types {
		s, err := IntentSchema(it)
		require.NoError(t, err)
		require.NotNil(t, s.Properties)
		_, ok := s.Properties.Get("type")
		assert.True(t, ok, it)
	}
	_, err := IntentSchema("nope")
	require.ErrorIs(t, err, ErrUnknownIntent)
}

func TestCollectingSink(t *testing.T) {
	s := NewCollectingSink()
	require.NoError(t, s.PublishEvent(NewFocusEvent("a")))
	require.NoError(t, s.PublishEvent(NewFocusEvent("b")))
	require.NoError(t, s.PublishEvent(NewShowInProgressEvent("a", false)))

	assert.Equal(t, []EventType{EventTypeFocus, EventTypeFocus, EventTypeShowInProgress}, s.Types())
	assert.Len(t, s.ForConversation("a"), 2)
	s.Reset()
	assert.Empty(t, s.Events())
}

type failingSink struct{}

func (failingSink) PublishEvent(Event) error { return errors.New("down") }

func TestMultiSinkPublishesToAll(t *testing.T) {
	a := NewCollectingSink()
	b := NewCollectingSink()
	err := MultiSink{a, failingSink{}, b}.PublishEvent(NewFocusEvent("c"))
	require.Error(t, err)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestChannelSinkStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewChannelSink(ctx, 1)
	require.NoError(t, s.PublishEvent(NewFocusEvent("c")))
	cancel()
	require.Error(t, s.PublishEvent(NewFocusEvent("c")))
	ev := <-s.Events()
	assert.Equal(t, EventTypeFocus, ev.Type())
}

func TestPublishToContext(t *testing.T) {
	s := NewCollectingSink()
	ctx := WithSink(context.Background(), s)
	PublishToContext(ctx, NewFocusEvent("c"))
	PublishToContext(context.Background(), NewFocusEvent("c"))
	assert.Len(t, s.Events(), 1)
}
