package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownRender(t *testing.T) {
	m := NewMarkdown()
	assert.Equal(t, "", m.Render(""))

	out := m.Render("Use `make`:\n\n```go\nfmt.Println(\"hi\")\n```\n")
	assert.Contains(t, out, "<code>make</code>")
	assert.Contains(t, out, `<code class="language-go">`)
	assert.Contains(t, out, "fmt.Println(&quot;hi&quot;)")

	out = m.Render("| a | b |\n|---|---|\n| 1 | 2 |\n")
	assert.Contains(t, out, "<table>")

	out = m.Render("<script>alert(1)</script>")
	assert.NotContains(t, out, "<script>")
}

func TestPlainIsIdentity(t *testing.T) {
	assert.Equal(t, "**x**", Plain{}.Render("**x**"))
}

func TestCodeBlocks(t *testing.T) {
	blocks := CodeBlocks("intro\n\n```python\nprint(1)\n```\n\ntext\n\n```\nraw\n")
	require.Len(t, blocks, 2)
	assert.Equal(t, "python", blocks[0].Language)
	assert.Equal(t, "print(1)\n", blocks[0].Code)
	assert.Equal(t, "", blocks[1].Language)
	assert.Equal(t, "raw\n", blocks[1].Code)

	assert.Empty(t, CodeBlocks("no code here"))
}
