// Package http serves the JSON API: sync triggers, provider webhooks and the
// user and item lifecycle.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"wheresmymoney/internal/core"
)

// JSONResponseBuilder provides a fluent API for writing JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil body writes no content.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error","error_kind":"internal_error"}` + "\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(payload, '\n'))
}

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Error     string         `json:"error"`
	ErrorKind core.ErrorKind `json:"error_kind"`
	RequestID string         `json:"request_id,omitempty"`
	Details   any            `json:"details,omitempty"`
}

// StatusForError maps an error kind onto an HTTP status.
func StatusForError(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindTransient:
		return http.StatusServiceUnavailable
	case core.KindAuthorization:
		return http.StatusUnauthorized
	case core.KindConflict:
		return http.StatusConflict
	case core.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse builds the response for err. Internal errors are not echoed
// to the caller.
func ErrorResponse(err error, requestID string) *JSONResponseBuilder {
	status := StatusForError(err)
	body := ErrorBody{
		Error:     err.Error(),
		ErrorKind: core.KindOf(err),
		RequestID: requestID,
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
		body.ErrorKind = core.KindInternal
	}

	b := NewJSONResponse().Status(status).Body(body)
	if status == http.StatusServiceUnavailable {
		b.Header("Retry-After", "5")
	}
	return b
}

func MethodNotAllowedError(allowedMethods string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(http.StatusMethodNotAllowed).
		Header("Allow", allowedMethods).
		Body(ErrorBody{Error: "method not allowed", ErrorKind: core.KindValidation})
}
