package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/apierrors"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticKey(k string) KeyFunc {
	return func() (string, bool) { return k, k != "" }
}

func TestIsChatModel(t *testing.T) {
	assert.True(t, IsChatModel("gpt-4"))
	assert.True(t, IsChatModel("gpt-3.5-turbo-16k"))
	assert.False(t, IsChatModel("text-davinci-003"))
	assert.False(t, IsChatModel("code-cushman-001"))
}

func TestMakeChatCompletionRequest(t *testing.T) {
	temp := 0.5
	req := makeChatCompletionRequest([]*conversation.Message{
		conversation.NewMessage(conversation.RoleSystem, "sys"),
		conversation.NewMessage(conversation.RoleUser, "q", conversation.WithContent("<p>q</p>")),
	}, provider.Params{Model: "gpt-4", MaxTokens: 100, Temperature: &temp})

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "q", req.Messages[1].Content)
	assert.True(t, req.Stream)
	assert.InDelta(t, 0.5, req.Temperature, 1e-6)
	assert.Zero(t, req.TopP)
}

func TestExplicitZeroSamplingSurvivesOmitempty(t *testing.T) {
	zero := 0.0
	req := makeChatCompletionRequest(nil, provider.Params{Model: "gpt-4", Temperature: &zero, TopP: &zero})
	assert.NotZero(t, req.Temperature)
	assert.InDelta(t, 0, req.Temperature, 1e-30)

	body, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"temperature"`)
	assert.Contains(t, string(body), `"top_p"`)
}

func TestMakeCompletionRequestFlattens(t *testing.T) {
	req := makeCompletionRequest([]*conversation.Message{
		conversation.NewMessage(conversation.RoleSystem, "sys"),
		conversation.NewMessage(conversation.RoleUser, "q"),
	}, provider.Params{Model: "text-davinci-003"})
	prompt, ok := req.Prompt.(string)
	require.True(t, ok)
	assert.Equal(t, "sys\n\nUser: q\nAssistant: ", prompt)
}

func TestStreamAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := New(staticKey("sk-test"), WithBaseURL(srv.URL))
	out, err := provider.Collect(context.Background(), p, []*conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "hi"),
	}, provider.Params{Model: "gpt-3.5-turbo"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestErrorStatusIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	p := New(staticKey("sk-test"), WithBaseURL(srv.URL))
	_, err := p.StreamChatCompletion(context.Background(), nil, provider.Params{Model: "gpt-4"})
	require.Error(t, err)

	c := apierrors.Classify(err)
	assert.Equal(t, 429, c.Status)
	assert.Equal(t, apierrors.KindRateLimited, c.Kind)
	assert.True(t, strings.Contains(c.Message, "slow down"))
}

func TestMissingKey(t *testing.T) {
	p := New(staticKey(""))
	_, err := p.StreamChatCompletion(context.Background(), nil, provider.Params{Model: "gpt-4"})
	require.ErrorIs(t, err, ErrNoAPIKey)
}
