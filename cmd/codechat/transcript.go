package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/pkg/errors"
)

// writeTranscript appends every event taken from s to w, one JSON object per
// line, until ctx is done.
func writeTranscript(ctx context.Context, s *events.ChannelSink, w io.Writer) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case e := <-s.Events():
			if err := enc.Encode(e); err != nil {
				return errors.Wrapf(err, "could not write %s event", e.Type())
			}
		case <-ctx.Done():
			return nil
		}
	}
}
