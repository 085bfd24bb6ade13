package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// Problem is the error payload returned on every failed request.
type Problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

func statusFor(kind schema.ErrorKind) int {
	switch kind {
	case schema.ErrValidation:
		return http.StatusBadRequest
	case schema.ErrNotFound:
		return http.StatusNotFound
	case schema.ErrConflict:
		return http.StatusConflict
	case schema.ErrUpstreamAgent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func titleFor(kind schema.ErrorKind) string {
	switch kind {
	case schema.ErrValidation:
		return "Validation Failed"
	case schema.ErrNotFound:
		return "Not Found"
	case schema.ErrConflict:
		return "Conflict"
	case schema.ErrUpstreamAgent:
		return "Upstream Agent Error"
	default:
		return "Internal Error"
	}
}

// writeProblem maps err through the error taxonomy and writes it as a
// problem-details response. Internal errors get a generic detail so defects
// don't leak internals to clients.
func writeProblem(w http.ResponseWriter, err error) {
	kind := schema.KindOf(err)
	detail := err.Error()

	var classified *schema.Error
	if !errors.As(err, &classified) {
		detail = "unexpected error"
	}

	p := Problem{
		Title:  titleFor(kind),
		Detail: detail,
		Status: statusFor(kind),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
