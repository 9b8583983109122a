package helpers

import (
	"bytes"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWatermillAdapterWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	a := NewWatermill(logger).With(watermill.LogFields{"topic": "chat.events"})

	a.Info("subscribed", watermill.LogFields{"handler": "dispatcher"})
	a.Error("publish failed", errors.New("closed"), nil)
	a.Trace("hidden", nil)

	out := buf.String()
	assert.Contains(t, out, `"topic":"chat.events"`)
	assert.Contains(t, out, `"handler":"dispatcher"`)
	assert.Contains(t, out, `"level":"debug"`)
	assert.Contains(t, out, `"error":"closed"`)
	assert.NotContains(t, out, "hidden")
}
