// Package provider is the boundary to the remote completion API.
package provider

import (
	"context"
	"io"
	"strings"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/pkg/errors"
)

// Params are the per-request model parameters. Nil pointers and a zero
// MaxTokens leave the provider's default.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// Stream yields the text deltas of one completion in arrival order. Recv
// returns io.EOF once the completion is exhausted and the context's error
// after cancellation.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Provider interface {
	StreamChatCompletion(ctx context.Context, messages []*conversation.Message, params Params) (Stream, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context, messages []*conversation.Message, params Params) (Stream, error)

func (f Func) StreamChatCompletion(ctx context.Context, messages []*conversation.Message, params Params) (Stream, error) {
	return f(ctx, messages, params)
}

// Collect drains a completion into a single string.
func Collect(ctx context.Context, p Provider, messages []*conversation.Message, params Params) (string, error) {
	s, err := p.StreamChatCompletion(ctx, messages, params)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = s.Close()
	}()

	var sb strings.Builder
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(delta)
	}
}
