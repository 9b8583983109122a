package apierrors

import (
	"encoding/json"
	"fmt"
)

// FailureError carries a loosely-typed failure object, typically the decoded
// JSON error body of a provider that is not reached through go-openai.
type FailureError struct {
	Fields map[string]any
}

func NewFailureError(fields map[string]any) *FailureError {
	return &FailureError{Fields: fields}
}

// NewFailureErrorFromJSON decodes body into a FailureError. Bodies that are not
// a JSON object are kept verbatim under "message".
func NewFailureErrorFromJSON(body []byte) *FailureError {
	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		fields = map[string]any{"message": string(body)}
	}
	return &FailureError{Fields: fields}
}

func (f *FailureError) Error() string {
	if f == nil {
		return "<nil failure>"
	}
	if d := detailFromMap(f.Fields); d != "" {
		return d
	}
	if code, ok := statusFromMap(f.Fields); ok {
		return fmt.Sprintf("provider failure (status %d)", code)
	}
	return "provider failure"
}
