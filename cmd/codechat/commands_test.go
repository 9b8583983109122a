package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCommandListsIntents(t *testing.T) {
	var out bytes.Buffer
	cmd := newSchemaCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "addFreeTextQuestion\n")

	out.Reset()
	cmd.SetArgs([]string{"set-model"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"conversationId"`)
}

func TestTokensCountReadsStdin(t *testing.T) {
	var out bytes.Buffer
	cmd := newTokensCommand()
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("hello world"))
	cmd.SetArgs([]string{"count"})
	require.NoError(t, cmd.Execute())
	assert.NotEqual(t, "0\n", out.String())
}

func TestTokensCostFlagsReview(t *testing.T) {
	var out bytes.Buffer
	cmd := newTokensCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"cost", "--model", "gpt-4-32k", "explain this"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "cost: $")
	assert.Contains(t, out.String(), "flagged for review")
}
