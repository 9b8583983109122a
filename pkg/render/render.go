// Package render turns raw model output into the rendering-ready form the chat
// panel displays.
package render

import (
	"bytes"
	"html"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

type Renderer interface {
	Render(raw string) string
}

// Markdown renders GitHub flavored markdown to HTML. Raw HTML in the input is
// escaped. It is safe for concurrent use.
type Markdown struct {
	md goldmark.Markdown
}

var _ Renderer = (*Markdown)(nil)

func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

func (m *Markdown) Render(raw string) string {
	if raw == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(raw), &buf); err != nil {
		log.Warn().Err(err).Msg("could not render markdown, falling back to escaped text")
		return "<pre>" + html.EscapeString(raw) + "</pre>"
	}
	return buf.String()
}

// Plain leaves the text untouched.
type Plain struct{}

func (Plain) Render(raw string) string {
	return raw
}

type CodeBlock struct {
	Language string
	Code     string
}

// CodeBlocks extracts the fenced code blocks of a markdown document in order.
// An unterminated trailing fence still yields its block.
func CodeBlocks(raw string) []CodeBlock {
	source := []byte(raw)
	document := goldmark.DefaultParser().Parse(text.NewReader(source))

	var ret []CodeBlock
	_ = ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		v, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		lines := v.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(source))
		}
		ret = append(ret, CodeBlock{
			Language: string(v.Language(source)),
			Code:     sb.String(),
		})
		return ast.WalkSkipChildren, nil
	})
	return ret
}
