package continuation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		truncated bool
	}{
		{"no fences", "plain answer", false},
		{"two fences", "```go\nfmt.Println()\n```", true},
		{"three fences", "```a``` then ```b", false},
		{"one fence", "```go\nfunc main() {", false},
		{"four fences", "```a```\n```b```", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.truncated, Detect(tt.text))
		})
	}
}

func TestFixAppendsClosingFence(t *testing.T) {
	in := "here:\n```go\nfmt.Println()\n```"
	out, truncated := Fix(in)
	assert.True(t, truncated)
	assert.Equal(t, in+"\n```\n", out)
	assert.Equal(t, 3, FenceCount(out))
}

func TestFixOddCountUnchanged(t *testing.T) {
	in := "```a``` and ```"
	out, truncated := Fix(in)
	assert.False(t, truncated)
	assert.Equal(t, in, out)
}

func TestFixIsIdempotent(t *testing.T) {
	once, truncated := Fix("```x```")
	assert.True(t, truncated)

	twice, truncated := Fix(once)
	assert.False(t, truncated)
	assert.Equal(t, once, twice)
}
