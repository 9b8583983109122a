package events

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

type IntentType string

const (
	IntentTypeAddFreeTextQuestion IntentType = "addFreeTextQuestion"
	IntentTypeStopGenerating      IntentType = "stopGenerating"
	IntentTypeGetTokenCount       IntentType = "getTokenCount"
	IntentTypeRunAction           IntentType = "runAction"
	IntentTypeStopAction          IntentType = "stopAction"

	IntentTypeNewConversation    IntentType = "newConversation"
	IntentTypeCloseConversation  IntentType = "closeConversation"
	IntentTypeClearConversation  IntentType = "clearConversation"
	IntentTypeSetModel           IntentType = "setModel"
	IntentTypeSetVerbosity       IntentType = "setVerbosity"
	IntentTypeContinueGeneration IntentType = "continueGeneration"
	IntentTypeExportConversation IntentType = "exportConversation"
	IntentTypeResetApiKey        IntentType = "resetApiKey"
)

var (
	ErrUnknownIntent = errors.New("unknown intent type")
	ErrInvalidIntent = errors.New("invalid intent payload")
)

// Intent is a request from the chat panel to the engine.
type Intent interface {
	Type() IntentType
}

type IntentImpl struct {
	Type_ IntentType `json:"type"`
}

func (i *IntentImpl) Type() IntentType {
	return i.Type_
}

func (i *IntentImpl) setType(t IntentType) {
	i.Type_ = t
}

type AddFreeTextQuestion struct {
	IntentImpl
	Value          string `json:"value" jsonschema:"minLength=1"`
	ConversationID string `json:"conversationId" jsonschema:"minLength=1"`
	// QuestionID names an existing user message to edit and resend.
	QuestionID string `json:"questionId,omitempty"`
	// MessageID names the assistant message to regenerate.
	MessageID              string `json:"messageId,omitempty"`
	IncludeEditorSelection bool   `json:"includeEditorSelection,omitempty"`
	Code                   string `json:"code,omitempty"`
	Language               string `json:"language,omitempty"`
	Command                string `json:"command,omitempty"`
}

type StopGenerating struct {
	IntentImpl
	ConversationID string `json:"conversationId" jsonschema:"minLength=1"`
}

type GetTokenCount struct {
	IntentImpl
	ConversationID         string `json:"conversationId" jsonschema:"minLength=1"`
	UserInput              string `json:"userInput,omitempty"`
	IncludeEditorSelection bool   `json:"includeEditorSelection,omitempty"`
}

type RunAction struct {
	IntentImpl
	ActionID       string `json:"actionId" jsonschema:"minLength=1"`
	Name           string `json:"name" jsonschema:"minLength=1"`
	ConversationID string `json:"conversationId,omitempty"`
}

type StopAction struct {
	IntentImpl
	ActionID string `json:"actionId" jsonschema:"minLength=1"`
}

type NewConversation struct {
	IntentImpl
	ConversationID string `json:"conversationId,omitempty"`
	Title          string `json:"title,omitempty"`
	Model          string `json:"model,omitempty"`
	Verbosity      string `json:"verbosity,omitempty" jsonschema:"enum=code,enum=concise,enum=normal,enum=full"`
}

type CloseConversation struct {
	IntentImpl
	ConversationID string `json:"conversationId" jsonschema:"minLength=1"`
}

type ClearConversation struct {
	IntentImpl
	ConversationID string `json:"conversationId" jsonschema:"minLength=1"`
}

type SetModel struct {
	IntentImpl
	ConversationID string `json:"conversationId" jsonschema:"minLength=1"`
	Model          string `json:"model" jsonschema:"minLength=1"`
}

type SetVerbosity struct {
	IntentImpl
	ConversationID string `json:"conversationId" jsonschema:"minLength=1"`
	Verbosity      string `json:"verbosity" jsonschema:"enum=code,enum=concise,enum=normal,enum=full"`
}

type ContinueGeneration struct {
	IntentImpl
	ConversationID string `json:"conversationId" jsonschema:"minLength=1"`
}

type ExportConversation struct {
	IntentImpl
	ConversationID string `json:"conversationId" jsonschema:"minLength=1"`
}

type ResetApiKey struct {
	IntentImpl
}

type intentFactory func() Intent

var intentFactories = map[IntentType]intentFactory{
	IntentTypeAddFreeTextQuestion: func() Intent { return &AddFreeTextQuestion{} },
	IntentTypeStopGenerating:      func() Intent { return &StopGenerating{} },
	IntentTypeGetTokenCount:       func() Intent { return &GetTokenCount{} },
	IntentTypeRunAction:           func() Intent { return &RunAction{} },
	IntentTypeStopAction:          func() Intent { return &StopAction{} },
	IntentTypeNewConversation:     func() Intent { return &NewConversation{} },
	IntentTypeCloseConversation:   func() Intent { return &CloseConversation{} },
	IntentTypeClearConversation:   func() Intent { return &ClearConversation{} },
	IntentTypeSetModel:            func() Intent { return &SetModel{} },
	IntentTypeSetVerbosity:        func() Intent { return &SetVerbosity{} },
	IntentTypeContinueGeneration:  func() Intent { return &ContinueGeneration{} },
	IntentTypeExportConversation:  func() Intent { return &ExportConversation{} },
	IntentTypeResetApiKey:         func() Intent { return &ResetApiKey{} },
}

// NewIntent returns an empty intent of the given type with its tag set.
func NewIntent(t IntentType) (Intent, error) {
	f, ok := intentFactories[t]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownIntent, "%q", t)
	}
	ret := f()
	ret.(interface{ setType(IntentType) }).setType(t)
	return ret, nil
}

// IntentTypes lists the known intent tags in alphabetical order.
func IntentTypes() []IntentType {
	ret := make([]IntentType, 0, len(intentFactories))
	for t := range intentFactories {
		ret = append(ret, t)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// NormalizeIntentType accepts kebab, snake and camel case spellings of a tag.
func NormalizeIntentType(s string) IntentType {
	return IntentType(strcase.ToLowerCamel(strings.TrimSpace(s)))
}

var (
	schemasOnce sync.Once
	schemas     map[IntentType]*gojsonschema.Schema
	schemaDocs  map[IntentType]*jsonschema.Schema
	schemasErr  error
)

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
}

func loadSchemas() error {
	schemasOnce.Do(func() {
		schemas = map[IntentType]*gojsonschema.Schema{}
		schemaDocs = map[IntentType]*jsonschema.Schema{}
		r := newReflector()
		for t, f := range intentFactories {
			doc := r.Reflect(f())
			// the validator only knows up to draft 7; the keywords used here
			// mean the same in both
			validatorDoc := *doc
			validatorDoc.Version = ""
			b, err := json.Marshal(&validatorDoc)
			if err != nil {
				schemasErr = errors.Wrapf(err, "could not marshal schema for %s", t)
				return
			}
			s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
			if err != nil {
				schemasErr = errors.Wrapf(err, "could not compile schema for %s", t)
				return
			}
			schemas[t] = s
			schemaDocs[t] = doc
		}
	})
	return schemasErr
}

// IntentSchema returns the JSON schema of an intent payload.
func IntentSchema(t IntentType) (*jsonschema.Schema, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	s, ok := schemaDocs[t]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownIntent, "%q", t)
	}
	return s, nil
}

// NewIntentFromJson decodes an intent by its type tag after validating the
// payload against the intent's schema.
func NewIntentFromJson(b []byte) (Intent, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "could not decode intent")
	}
	t := NormalizeIntentType(hdr.Type)
	ret, err := NewIntent(t)
	if err != nil {
		return nil, err
	}

	if err := loadSchemas(); err != nil {
		return nil, err
	}
	result, err := schemas[t].Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return nil, errors.Wrap(err, "could not validate intent")
	}
	if !result.Valid() {
		var descs []string
		for _, desc := range result.Errors() {
			descs = append(descs, desc.String())
		}
		return nil, errors.Wrapf(ErrInvalidIntent, "%s: %s", t, strings.Join(descs, "; "))
	}

	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrap(err, "could not decode intent")
	}
	ret.(interface{ setType(IntentType) }).setType(t)
	return ret, nil
}

// MarshalIntent encodes an intent with its type tag.
func MarshalIntent(i Intent) ([]byte, error) {
	if i == nil || i.Type() == "" {
		return nil, errors.New("intent has no type")
	}
	if _, ok := intentFactories[i.Type()]; !ok {
		return nil, errors.Wrapf(ErrUnknownIntent, "%q", i.Type())
	}
	return json.Marshal(i)
}
