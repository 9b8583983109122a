// Package openai implements the provider boundary on top of an
// OpenAI-compatible HTTP API.
package openai

import (
	"context"
	"math"
	"strings"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const DefaultBaseURL = "https://api.openai.com/v1"

var ErrNoAPIKey = errors.New("no API key configured")

// KeyFunc returns the current API key. It is consulted on every request so a
// reset credential takes effect immediately.
type KeyFunc func() (string, bool)

type Provider struct {
	key     KeyFunc
	baseURL string
}

var _ provider.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

func New(key KeyFunc, options ...Option) *Provider {
	ret := &Provider{
		key:     key,
		baseURL: DefaultBaseURL,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func MakeClient(apiKey string, baseURL string) *go_openai.Client {
	config := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return go_openai.NewClientWithConfig(config)
}

// IsChatModel reports whether model is served by the chat completions
// endpoint. Older davinci, curie, babbage, ada and codex models only speak the
// plain completions endpoint.
func IsChatModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"text-", "code-", "davinci", "curie", "babbage", "ada"} {
		if strings.HasPrefix(m, prefix) {
			return false
		}
	}
	return true
}

func (p *Provider) StreamChatCompletion(
	ctx context.Context,
	messages []*conversation.Message,
	params provider.Params,
) (provider.Stream, error) {
	apiKey, ok := p.key()
	if !ok || apiKey == "" {
		return nil, ErrNoAPIKey
	}
	client := MakeClient(apiKey, p.baseURL)

	log.Debug().
		Str("model", params.Model).
		Int("messages", len(messages)).
		Int("max_tokens", params.MaxTokens).
		Msg("starting completion stream")

	if !IsChatModel(params.Model) {
		req := makeCompletionRequest(messages, params)
		s, err := client.CreateCompletionStream(ctx, req)
		if err != nil {
			return nil, err
		}
		return &completionStream{ctx: ctx, stream: s}, nil
	}

	req := makeChatCompletionRequest(messages, params)
	s, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &chatStream{ctx: ctx, stream: s}, nil
}

func makeChatCompletionRequest(messages []*conversation.Message, params provider.Params) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    roleToOpenAI(m.Role),
			Content: m.RawContent,
		})
	}

	req := go_openai.ChatCompletionRequest{
		Model:     params.Model,
		Messages:  msgs,
		MaxTokens: params.MaxTokens,
		Stream:    true,
	}
	if params.Temperature != nil {
		req.Temperature = sampling(*params.Temperature)
	}
	if params.TopP != nil {
		req.TopP = sampling(*params.TopP)
	}
	return req
}

// makeCompletionRequest flattens the conversation into a single prompt, the
// system message acting as a prefix.
func makeCompletionRequest(messages []*conversation.Message, params provider.Params) go_openai.CompletionRequest {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case conversation.RoleSystem:
			sb.WriteString(m.RawContent)
			sb.WriteString("\n\n")
		case conversation.RoleUser:
			sb.WriteString("User: ")
			sb.WriteString(m.RawContent)
			sb.WriteString("\n")
		case conversation.RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(m.RawContent)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("Assistant: ")

	req := go_openai.CompletionRequest{
		Model:     params.Model,
		Prompt:    sb.String(),
		MaxTokens: params.MaxTokens,
		Stream:    true,
	}
	if params.Temperature != nil {
		req.Temperature = sampling(*params.Temperature)
	}
	if params.TopP != nil {
		req.TopP = sampling(*params.TopP)
	}
	return req
}

// sampling converts a temperature or top_p value for the request. go-openai
// omits zero values from the request body, which would leave the server
// default in place, so an explicit zero is sent as the smallest float32.
func sampling(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func roleToOpenAI(r conversation.Role) string {
	switch r {
	case conversation.RoleSystem:
		return go_openai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant
	default:
		return go_openai.ChatMessageRoleUser
	}
}

type chatStream struct {
	ctx    context.Context
	stream *go_openai.ChatCompletionStream
}

func (s *chatStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	response, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Delta.Content, nil
}

func (s *chatStream) Close() error {
	s.stream.Close()
	return nil
}

type completionStream struct {
	ctx    context.Context
	stream *go_openai.CompletionStream
}

func (s *completionStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	response, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Text, nil
}

func (s *completionStream) Close() error {
	s.stream.Close()
	return nil
}
