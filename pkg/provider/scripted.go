package provider

import (
	"context"
	"io"
	"sync"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
)

// Scripted replays a fixed list of deltas, optionally failing after them. It
// is used by the tests and by the host's --dry-run mode.
type Scripted struct {
	Deltas []string
	// Err is returned by the call itself when FailOnOpen is set, otherwise
	// by Recv after the deltas.
	Err        error
	FailOnOpen bool
	// Gate, if set, must yield once before every delta is released.
	Gate <-chan struct{}

	mu       sync.Mutex
	requests [][]*conversation.Message
	params   []Params
}

var _ Provider = (*Scripted)(nil)

func (s *Scripted) StreamChatCompletion(ctx context.Context, messages []*conversation.Message, params Params) (Stream, error) {
	s.mu.Lock()
	s.requests = append(s.requests, messages)
	s.params = append(s.params, params)
	s.mu.Unlock()

	if s.FailOnOpen && s.Err != nil {
		return nil, s.Err
	}
	return &scriptedStream{
		ctx:    ctx,
		deltas: append([]string(nil), s.Deltas...),
		err:    s.Err,
		gate:   s.Gate,
	}, nil
}

// Requests returns the message lists the provider was called with.
func (s *Scripted) Requests() [][]*conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]*conversation.Message(nil), s.requests...)
}

func (s *Scripted) Params() []Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Params(nil), s.params...)
}

type scriptedStream struct {
	ctx    context.Context
	deltas []string
	err    error
	gate   <-chan struct{}
}

func (s *scriptedStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if len(s.deltas) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *scriptedStream) Close() error {
	return nil
}
