// Package apierrors maps failures raised by the model provider onto a small
// taxonomy and the message shown to the user.
//
// Classification is a pure function. It accepts anything (errors, decoded
// JSON maps, nil) and always returns a non-empty message.
package apierrors

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cast"
)

type Kind string

const (
	KindBadRequest   Kind = "bad-request"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not-found"
	KindRateLimited  Kind = "rate-limited"
	KindServerError  Kind = "server-error"
	KindCancelled    Kind = "cancelled"
	KindUnknown      Kind = "unknown"
)

const (
	MessageBadRequest   = "The selected model and the request parameters may be incompatible, or one of the parameters is unknown. Try resetting your settings to their defaults. (HTTP 400 Bad Request)"
	MessageUnauthorized = "Authentication failed. Make sure your API key and organization are correct. If the key is only stored for this session, reset it and enter it again. (HTTP 401 Unauthorized)"
	MessageForbidden    = "Your credential or session has expired. Please authenticate again. (HTTP 403 Forbidden)"
	MessageNotFound     = "The model or the endpoint was not found. Check the API base URL and path in your settings. (HTTP 404 Not Found)"
	MessageRateLimited  = "Too many requests, try again later. You may have exceeded your quota, be sending requests too quickly, or the model may be overloaded. (HTTP 429 Too Many Requests)"
	MessageServerError  = "The server had an error while processing your request, please try again. (HTTP 500 Internal Server Error)"
	MessageCancelled    = "The request was cancelled."
	MessageUnknown      = "An unknown error occurred. Check your internet connection and try again."
)

// Classification is the result of Classify. Status is 0 when no status code
// could be found.
type Classification struct {
	Status  int    `json:"status,omitempty"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Detail is the provider's own message, if any was embedded in the failure.
	Detail string `json:"detail,omitempty"`
}

// Message returns the display string for failure.
func Message(failure any) string {
	return Classify(failure).Message
}

// Classify never panics. A failure whose shape trips the extraction falls back
// to the generic message.
func Classify(failure any) (ret Classification) {
	defer func() {
		if r := recover(); r != nil {
			ret = Classification{Kind: KindUnknown, Message: MessageUnknown}
		}
	}()

	if err, ok := failure.(error); ok && IsCancellation(err) {
		return Classification{Kind: KindCancelled, Message: MessageCancelled}
	}

	status, _ := StatusCode(failure)
	detail := strings.TrimSpace(Detail(failure))
	ret = Classification{Status: status, Detail: detail}

	var base string
	switch status {
	case http.StatusBadRequest:
		ret.Kind, base = KindBadRequest, MessageBadRequest
	case http.StatusUnauthorized:
		ret.Kind, base = KindUnauthorized, MessageUnauthorized
	case http.StatusForbidden:
		ret.Kind, base = KindForbidden, MessageForbidden
	case http.StatusNotFound:
		ret.Kind, base = KindNotFound, MessageNotFound
	case http.StatusTooManyRequests:
		ret.Kind, base = KindRateLimited, MessageRateLimited
	case http.StatusInternalServerError:
		ret.Kind, base = KindServerError, MessageServerError
	default:
		ret.Kind = KindUnknown
		switch {
		case detail != "" && status != 0:
			ret.Message = fmt.Sprintf("%s (HTTP %d)", detail, status)
		case detail != "":
			ret.Message = detail
		case status != 0:
			ret.Message = fmt.Sprintf("%s (HTTP %d)", MessageUnknown, status)
		default:
			ret.Message = MessageUnknown
		}
		return ret
	}

	ret.Message = base
	if detail != "" && detail != base {
		ret.Message = base + "\n\n" + detail
	}
	return ret
}

// IsCancellation reports whether err stems from a user-initiated stop.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

type statusCoder interface {
	StatusCode() int
}

type responder interface {
	Response() *http.Response
}

// StatusCode extracts an HTTP status from failure. The lookup order is: a
// direct numeric status, then the status of a nested response, then the status
// nested in the response body's error object.
func StatusCode(failure any) (int, bool) {
	if failure == nil {
		return 0, false
	}

	switch f := failure.(type) {
	case error:
		return statusFromError(f)
	case map[string]any:
		return statusFromMap(f)
	case *http.Response:
		if f != nil && f.StatusCode != 0 {
			return f.StatusCode, true
		}
	case int:
		if f != 0 {
			return f, true
		}
	}
	return 0, false
}

func statusFromError(err error) (int, bool) {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code != 0 {
			return code, true
		}
	}
	var r responder
	if errors.As(err, &r) {
		if resp := r.Response(); resp != nil && resp.StatusCode != 0 {
			return resp.StatusCode, true
		}
	}
	var fe *FailureError
	if errors.As(err, &fe) && fe != nil {
		return statusFromMap(fe.Fields)
	}
	return 0, false
}

var directStatusKeys = []string{"status", "statusCode", "status_code", "httpStatusCode"}

func statusFromMap(m map[string]any) (int, bool) {
	if code, ok := intField(m, directStatusKeys...); ok {
		return code, true
	}
	response, ok := mapField(m, "response")
	if !ok {
		return 0, false
	}
	if code, ok := intField(response, directStatusKeys...); ok {
		return code, true
	}
	for _, bodyKey := range []string{"data", "body"} {
		body, ok := mapField(response, bodyKey)
		if !ok {
			continue
		}
		errObj, ok := mapField(body, "error")
		if !ok {
			continue
		}
		if code, ok := intField(errObj, directStatusKeys...); ok {
			return code, true
		}
	}
	return 0, false
}

// Detail returns the most specific human-readable message embedded in failure.
func Detail(failure any) string {
	switch f := failure.(type) {
	case nil:
		return ""
	case *FailureError:
		if f == nil {
			return ""
		}
		return detailFromMap(f.Fields)
	case error:
		var apiErr *go_openai.APIError
		if errors.As(f, &apiErr) && apiErr.Message != "" {
			return apiErr.Message
		}
		var fe *FailureError
		if errors.As(f, &fe) && fe != nil {
			if d := detailFromMap(fe.Fields); d != "" {
				return d
			}
		}
		return f.Error()
	case map[string]any:
		return detailFromMap(f)
	case string:
		return f
	case fmt.Stringer:
		return f.String()
	}
	return ""
}

func detailFromMap(m map[string]any) string {
	if response, ok := mapField(m, "response"); ok {
		for _, bodyKey := range []string{"data", "body"} {
			if body, ok := mapField(response, bodyKey); ok {
				if errObj, ok := mapField(body, "error"); ok {
					if s := stringField(errObj, "message"); s != "" {
						return s
					}
				}
			}
		}
		if s := stringField(response, "statusText"); s != "" {
			return s
		}
	}
	if s := stringField(m, "message"); s != "" {
		return s
	}
	if s := stringField(m, "error"); s != "" {
		return s
	}
	return stringField(m, "name")
}

func mapField(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	ret, ok := v.(map[string]any)
	return ret, ok
}

func intField(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		code, err := cast.ToIntE(v)
		if err == nil && code != 0 {
			return code, true
		}
	}
	return 0, false
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
