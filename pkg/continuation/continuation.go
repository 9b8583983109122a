// Package continuation detects answers that were cut off in the middle of a
// fenced code block.
package continuation

import "strings"

const Fence = "```"

// Closing is appended to a truncated answer so that the open block renders.
const Closing = "\n" + Fence + "\n"

// FenceCount returns the number of fence delimiters in text.
func FenceCount(text string) int {
	return strings.Count(text, Fence)
}

// Detect reports whether text looks truncated. An even, non-zero number of
// fences means the answer ended inside a block that the model opened last.
func Detect(text string) bool {
	n := FenceCount(text)
	return n > 0 && n%2 == 0
}

// Fix appends a closing fence when text is truncated. It returns the possibly
// amended text and whether a continuation should be offered. Running Fix on
// its own output never reports truncation again.
func Fix(text string) (string, bool) {
	if !Detect(text) {
		return text, false
	}
	return text + Closing, true
}
