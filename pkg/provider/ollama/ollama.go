// Package ollama implements the provider boundary on top of a local Ollama
// server. The server address comes from OLLAMA_HOST.
package ollama

import (
	"context"
	"io"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/apierrors"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Provider struct {
	client *api.Client
}

var _ provider.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithClient(c *api.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

func New(options ...Option) (*Provider, error) {
	ret := &Provider{}
	for _, o := range options {
		o(ret)
	}
	if ret.client == nil {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrap(err, "could not create ollama client")
		}
		ret.client = c
	}
	return ret, nil
}

func makeChatRequest(messages []*conversation.Message, params provider.Params) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{
			Role:    string(m.Role),
			Content: m.RawContent,
		})
	}

	options := map[string]interface{}{}
	if params.MaxTokens > 0 {
		options["num_predict"] = params.MaxTokens
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}

	stream := true
	return &api.ChatRequest{
		Model:    params.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}
}

// StreamChatCompletion starts the chat call in its own goroutine and hands its
// callbacks over to Recv through a channel.
func (p *Provider) StreamChatCompletion(
	ctx context.Context,
	messages []*conversation.Message,
	params provider.Params,
) (provider.Stream, error) {
	req := makeChatRequest(messages, params)

	log.Debug().
		Str("model", params.Model).
		Int("messages", len(messages)).
		Msg("starting ollama chat stream")

	sctx, cancel := context.WithCancel(ctx)
	s := &chatStream{
		ctx:    sctx,
		cancel: cancel,
		deltas: make(chan string),
	}

	go func() {
		defer close(s.deltas)
		s.err = p.client.Chat(sctx, req, func(resp api.ChatResponse) error {
			if resp.Done {
				return nil
			}
			select {
			case s.deltas <- resp.Message.Content:
				return nil
			case <-sctx.Done():
				return sctx.Err()
			}
		})
	}()

	return s, nil
}

type chatStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	deltas chan string
	// written before deltas is closed
	err error
}

func (s *chatStream) Recv() (string, error) {
	select {
	case d, ok := <-s.deltas:
		if ok {
			return d, nil
		}
		if s.err != nil {
			if err := s.ctx.Err(); err != nil {
				return "", err
			}
			return "", asFailure(s.err)
		}
		return "", io.EOF
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	}
}

func (s *chatStream) Close() error {
	s.cancel()
	return nil
}

// asFailure turns an HTTP status reported by the server into a failure the
// classifier understands.
func asFailure(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		return apierrors.NewFailureError(map[string]any{
			"message": se.ErrorMessage,
			"response": map[string]any{
				"status": se.StatusCode,
			},
		})
	}
	return err
}
