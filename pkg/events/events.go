package events

import (
	"encoding/json"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeMessagesUpdated EventType = "messagesUpdated"
	EventTypeAddMessage      EventType = "addMessage"
	EventTypeUpdateMessage   EventType = "updateMessage"
	EventTypeStreamMessage   EventType = "streamMessage"
	EventTypeShowInProgress  EventType = "showInProgress"
	EventTypeTokenCount      EventType = "tokenCount"
	EventTypeAddError        EventType = "addError"

	// Panel should move input focus to the conversation.
	EventTypeFocus EventType = "focus"
	// One-off notices to the user, e.g. a missing API key.
	EventTypeAdvisory EventType = "advisory"
	// The last answer looks truncated; the user can ask to continue it.
	EventTypeOfferContinuation EventType = "offerContinuation"
	EventTypeActionResult      EventType = "actionResult"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Event is a notification from the engine to the chat panel.
type Event interface {
	Type() EventType
	ConversationID() string
	Payload() []byte
}

type EventImpl struct {
	Type_           EventType `json:"type"`
	ConversationID_ string    `json:"conversationId,omitempty"`

	// set when the event was decoded with NewEventFromJson
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) ConversationID() string {
	return e.ConversationID_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	if e.ConversationID_ != "" {
		ev.Str("conversation_id", e.ConversationID_)
	}
}

var _ Event = &EventImpl{}

func newImpl(t EventType, conversationID string) EventImpl {
	return EventImpl{Type_: t, ConversationID_: conversationID}
}

type EventMessagesUpdated struct {
	EventImpl
	Messages []*conversation.Message `json:"messages"`
}

func NewMessagesUpdatedEvent(conversationID string, messages []*conversation.Message) *EventMessagesUpdated {
	if messages == nil {
		messages = []*conversation.Message{}
	}
	return &EventMessagesUpdated{
		EventImpl: newImpl(EventTypeMessagesUpdated, conversationID),
		Messages:  messages,
	}
}

type EventAddMessage struct {
	EventImpl
	Message *conversation.Message `json:"message"`
}

func NewAddMessageEvent(conversationID string, m *conversation.Message) *EventAddMessage {
	return &EventAddMessage{
		EventImpl: newImpl(EventTypeAddMessage, conversationID),
		Message:   m,
	}
}

type EventUpdateMessage struct {
	EventImpl
	Message *conversation.Message `json:"message"`
}

func NewUpdateMessageEvent(conversationID string, m *conversation.Message) *EventUpdateMessage {
	return &EventUpdateMessage{
		EventImpl: newImpl(EventTypeUpdateMessage, conversationID),
		Message:   m,
	}
}

// EventStreamMessage carries the rendering-ready content accumulated so far,
// not just the latest delta.
type EventStreamMessage struct {
	EventImpl
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

func NewStreamMessageEvent(conversationID, messageID, content string) *EventStreamMessage {
	return &EventStreamMessage{
		EventImpl: newImpl(EventTypeStreamMessage, conversationID),
		MessageID: messageID,
		Content:   content,
	}
}

type EventShowInProgress struct {
	EventImpl
	InProgress bool `json:"inProgress"`
	// ActionID is set when the progress belongs to an ad-hoc action instead
	// of a conversation generation.
	ActionID string `json:"actionId,omitempty"`
}

func NewShowInProgressEvent(conversationID string, inProgress bool) *EventShowInProgress {
	return &EventShowInProgress{
		EventImpl:  newImpl(EventTypeShowInProgress, conversationID),
		InProgress: inProgress,
	}
}

func NewActionInProgressEvent(actionID string, inProgress bool) *EventShowInProgress {
	return &EventShowInProgress{
		EventImpl:  newImpl(EventTypeShowInProgress, ""),
		InProgress: inProgress,
		ActionID:   actionID,
	}
}

type EventTokenCount struct {
	EventImpl
	TokenCount conversation.TokenCount `json:"tokenCount"`
	Cost       *tokens.CostEstimate    `json:"cost,omitempty"`
}

func NewTokenCountEvent(conversationID string, tc conversation.TokenCount, cost *tokens.CostEstimate) *EventTokenCount {
	return &EventTokenCount{
		EventImpl:  newImpl(EventTypeTokenCount, conversationID),
		TokenCount: tc,
		Cost:       cost,
	}
}

type EventAddError struct {
	EventImpl
	MessageID string `json:"messageId,omitempty"`
	Value     string `json:"value"`
	Kind      string `json:"kind,omitempty"`
	Status    int    `json:"status,omitempty"`
}

func NewAddErrorEvent(conversationID, messageID, value string) *EventAddError {
	return &EventAddError{
		EventImpl: newImpl(EventTypeAddError, conversationID),
		MessageID: messageID,
		Value:     value,
	}
}

type EventFocus struct {
	EventImpl
}

func NewFocusEvent(conversationID string) *EventFocus {
	return &EventFocus{EventImpl: newImpl(EventTypeFocus, conversationID)}
}

type AdvisoryCode string

const (
	AdvisoryMissingCredential AdvisoryCode = "missingCredential"
	AdvisoryResponseReady     AdvisoryCode = "responseReady"
	AdvisoryCredentialReset   AdvisoryCode = "credentialReset"
	AdvisoryTitleUpdated      AdvisoryCode = "titleUpdated"
)

type EventAdvisory struct {
	EventImpl
	Code    AdvisoryCode `json:"code"`
	Message string       `json:"message"`
}

func NewAdvisoryEvent(conversationID string, code AdvisoryCode, message string) *EventAdvisory {
	return &EventAdvisory{
		EventImpl: newImpl(EventTypeAdvisory, conversationID),
		Code:      code,
		Message:   message,
	}
}

type EventOfferContinuation struct {
	EventImpl
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

func NewOfferContinuationEvent(conversationID, messageID string) *EventOfferContinuation {
	return &EventOfferContinuation{
		EventImpl: newImpl(EventTypeOfferContinuation, conversationID),
		MessageID: messageID,
		Message:   "It looks like the answer was not completed. You can ask to continue and combine the answers.",
	}
}

type EventActionResult struct {
	EventImpl
	ActionID string `json:"actionId"`
	Name     string `json:"name"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

func NewActionResultEvent(conversationID, actionID, name, result string, err error) *EventActionResult {
	ret := &EventActionResult{
		EventImpl: newImpl(EventTypeActionResult, conversationID),
		ActionID:  actionID,
		Name:      name,
		Result:    result,
	}
	if err != nil {
		ret.Error = err.Error()
	}
	return ret
}

// NewEventFromJson decodes an event by its type tag.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "could not decode event")
	}
	if e == nil {
		return nil, errors.New("empty event")
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeMessagesUpdated:
		return decodeEvent[EventMessagesUpdated](e)
	case EventTypeAddMessage:
		return decodeEvent[EventAddMessage](e)
	case EventTypeUpdateMessage:
		return decodeEvent[EventUpdateMessage](e)
	case EventTypeStreamMessage:
		return decodeEvent[EventStreamMessage](e)
	case EventTypeShowInProgress:
		return decodeEvent[EventShowInProgress](e)
	case EventTypeTokenCount:
		return decodeEvent[EventTokenCount](e)
	case EventTypeAddError:
		return decodeEvent[EventAddError](e)
	case EventTypeFocus:
		return decodeEvent[EventFocus](e)
	case EventTypeAdvisory:
		return decodeEvent[EventAdvisory](e)
	case EventTypeOfferContinuation:
		return decodeEvent[EventOfferContinuation](e)
	case EventTypeActionResult:
		return decodeEvent[EventActionResult](e)
	}

	return nil, errors.Wrapf(ErrUnknownEvent, "%q", e.Type_)
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil || ret == nil {
		return nil, false
	}
	return ret, true
}

type payloadSetter interface {
	setPayload([]byte)
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func decodeEvent[T any, PT interface {
	*T
	Event
	payloadSetter
}](e Event) (Event, error) {
	ret, ok := ToTypedEvent[T](e)
	if !ok {
		return nil, errors.Errorf("could not cast event to %s", e.Type())
	}
	PT(ret).setPayload(e.Payload())
	return PT(ret), nil
}
