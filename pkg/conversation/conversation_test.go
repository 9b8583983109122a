package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSystemMessageOnlyOnce(t *testing.T) {
	c := New()
	require.True(t, c.EnsureSystemMessage("be helpful"))
	require.False(t, c.EnsureSystemMessage("be helpful"))
	require.Len(t, c.Messages, 1)
	assert.Equal(t, RoleSystem, c.Messages[0].Role)
	assert.Equal(t, "be helpful", c.Messages[0].RawContent)
}

func TestReplaceFromDropsFollowingMessages(t *testing.T) {
	q := NewMessage(RoleUser, "first question")
	c := New(WithMessages(
		NewMessage(RoleSystem, "sys"),
		q,
		NewMessage(RoleAssistant, "first answer"),
		NewMessage(RoleUser, "second question"),
	))

	_, idx, ok := c.FindMessage(q.ID)
	require.True(t, ok)

	m, err := c.ReplaceFrom(idx, "edited question")
	require.NoError(t, err)
	assert.Equal(t, q.ID, m.ID)
	assert.Equal(t, "edited question", m.RawContent)
	require.Len(t, c.Messages, 2)

	_, err = c.ReplaceFrom(5, "nope")
	require.Error(t, err)
}

func TestSnapshotDoesNotAlias(t *testing.T) {
	c := New(WithMessages(NewMessage(RoleUser, "hi")))
	snap := c.Snapshot()
	snap.Messages[0].RawContent = "changed"
	snap.Title = "other"

	assert.Equal(t, "hi", c.Messages[0].RawContent)
	assert.NotEqual(t, "other", c.Title)

	msgs := c.SnapshotMessages()
	msgs[0].Content = "changed"
	assert.Equal(t, "hi", c.Messages[0].Content)
}

func TestParseVerbosity(t *testing.T) {
	v, err := ParseVerbosity("Concise")
	require.NoError(t, err)
	assert.Equal(t, VerbosityConcise, v)

	v, err = ParseVerbosity("")
	require.NoError(t, err)
	assert.Equal(t, VerbosityNormal, v)

	_, err = ParseVerbosity("verbose")
	require.ErrorIs(t, err, ErrUnknownVerbosity)
}

func TestSetListOrderAndLookup(t *testing.T) {
	s := NewSet()
	a := New(WithConversationID("a"))
	b := New(WithConversationID("b"))
	b.CreatedAt = a.CreatedAt.Add(1)
	require.NoError(t, s.Add(b))
	require.NoError(t, s.Add(a))
	require.ErrorIs(t, s.Add(a), ErrConversationExists)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrConversationNotFound)

	_, ok := s.Remove("a")
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestExportMarkdownSkipsSystem(t *testing.T) {
	c := New(WithTitle("Demo"), WithModel("gpt-4"), WithMessages(
		NewMessage(RoleSystem, "secret system prompt"),
		NewMessage(RoleUser, "explain"),
		NewMessage(RoleAssistant, "```go\nfmt.Println()\n```"),
	))

	md := c.ExportMarkdown()
	assert.Contains(t, md, "# Demo")
	assert.Contains(t, md, "## You\n\nexplain")
	assert.Contains(t, md, "## Assistant\n\n\n```go")
	assert.NotContains(t, md, "secret system prompt")
}
