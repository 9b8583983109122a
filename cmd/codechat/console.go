package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/events"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/tokens"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
)

// console prints the engine's events to a terminal. It only ever sees
// events, the same way the chat panel does.
type console struct {
	out io.Writer
	// markdown, if set, renders finished answers instead of streaming them.
	markdown *glamour.TermRenderer

	mu           sync.Mutex
	printed      map[string]string
	lastAnswer   map[string]string
	continuation map[string]bool
	tokenCount   map[string]*events.EventTokenCount
	export       *events.EventActionResult

	idle    chan string
	actions chan *events.EventActionResult
}

func newConsole(out io.Writer, markdown *glamour.TermRenderer) *console {
	return &console{
		out:          out,
		markdown:     markdown,
		printed:      map[string]string{},
		lastAnswer:   map[string]string{},
		continuation: map[string]bool{},
		tokenCount:   map[string]*events.EventTokenCount{},
		idle:         make(chan string, 16),
		actions:      make(chan *events.EventActionResult, 16),
	}
}

func (c *console) HandleEvent(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := e.(type) {
	case *events.EventStreamMessage:
		if c.markdown == nil {
			c.printSuffix(ev.MessageID, ev.Content)
		}

	case *events.EventUpdateMessage:
		m := ev.Message
		if m == nil || m.Role != conversation.RoleAssistant || !m.Done {
			return nil
		}
		c.lastAnswer[ev.ConversationID()] = m.RawContent
		if c.markdown != nil {
			rendered, err := c.markdown.Render(m.RawContent)
			if err != nil {
				rendered = m.RawContent
			}
			fmt.Fprint(c.out, rendered)
			return nil
		}
		c.printSuffix(m.ID, m.RawContent)
		fmt.Fprintln(c.out)

	case *events.EventAddError:
		fmt.Fprintf(c.out, "\nerror: %s\n", ev.Value)

	case *events.EventAdvisory:
		// /title prints the title itself
		if ev.Code == events.AdvisoryTitleUpdated {
			return nil
		}
		fmt.Fprintf(c.out, "\n[%s] %s\n", ev.Code, ev.Message)

	case *events.EventOfferContinuation:
		c.continuation[ev.ConversationID()] = true

	case *events.EventShowInProgress:
		if ev.ActionID == "" && !ev.InProgress {
			c.signal(ev.ConversationID())
		}

	case *events.EventTokenCount:
		c.tokenCount[ev.ConversationID()] = ev

	case *events.EventActionResult:
		if ev.ActionID == "" {
			c.export = ev
			return nil
		}
		select {
		case c.actions <- ev:
		default:
			log.Warn().Str("action_id", ev.ActionID).Msg("dropping action result")
		}

	default:
		log.Trace().Str("event_type", string(e.Type())).Msg("ignoring event")
	}
	return nil
}

// printSuffix prints the part of content that was not printed yet. Content
// that no longer extends what was printed is printed again in full.
func (c *console) printSuffix(messageID string, content string) {
	prev := c.printed[messageID]
	if strings.HasPrefix(content, prev) {
		fmt.Fprint(c.out, content[len(prev):])
	} else {
		fmt.Fprint(c.out, "\n"+content)
	}
	c.printed[messageID] = content
}

func (c *console) signal(conversationID string) {
	select {
	case c.idle <- conversationID:
	default:
	}
}

// drain forgets idle signals left over from earlier requests.
func (c *console) drain() {
	for {
		select {
		case <-c.idle:
		default:
			return
		}
	}
}

// takeContinuation reports and clears a pending continuation offer.
func (c *console) takeContinuation(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.continuation[conversationID]
	delete(c.continuation, conversationID)
	return ok
}

func (c *console) LastAnswer(conversationID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAnswer[conversationID]
}

func (c *console) TokenCount(conversationID string) (conversation.TokenCount, *tokens.CostEstimate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.tokenCount[conversationID]
	if !ok {
		return conversation.TokenCount{}, nil, false
	}
	return ev.TokenCount, ev.Cost, true
}

func (c *console) takeExport() *events.EventActionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := c.export
	c.export = nil
	return ret
}
