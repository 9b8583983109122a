package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptWritesEventsAsJSONLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transcript := events.NewChannelSink(ctx, 0)
	collected := events.NewCollectingSink()
	sink := events.MultiSink{collected, transcript}

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- writeTranscript(ctx, transcript, &buf)
	}()

	require.NoError(t, sink.PublishEvent(events.NewFocusEvent("c1")))
	require.NoError(t, sink.PublishEvent(events.NewShowInProgressEvent("c1", true)))
	require.NoError(t, sink.PublishEvent(events.NewShowInProgressEvent("c1", false)))
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, collected.Events(), 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "focus", first["type"])
	assert.Equal(t, "c1", first["conversationId"])

	require.Error(t, transcript.PublishEvent(events.NewFocusEvent("c1")))
}
