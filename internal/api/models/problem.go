package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError points at one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemKind fixes the type URI, title and status of a class of problems.
type ProblemKind struct {
	Type   string
	Title  string
	Status int
}

const problemBase = "https://navcore.dev/problems/"

// Problem kinds served by the API. The trip kinds let clients tell a
// finished trip from a missing one without parsing the detail.
var (
	KindValidation       = ProblemKind{problemBase + "validation-error", "Validation error", http.StatusBadRequest}
	KindUnauthorized     = ProblemKind{problemBase + "unauthorized", "Unauthorized", http.StatusUnauthorized}
	KindTLSRequired      = ProblemKind{problemBase + "tls-required", "TLS required", http.StatusForbidden}
	KindNotFound         = ProblemKind{problemBase + "not-found", "Not found", http.StatusNotFound}
	KindMethodNotAllowed = ProblemKind{problemBase + "method-not-allowed", "Method not allowed", http.StatusMethodNotAllowed}
	KindTripNotFound     = ProblemKind{problemBase + "trip-not-found", "Trip not found", http.StatusNotFound}
	KindTripNotActive    = ProblemKind{problemBase + "trip-not-active", "Trip not active", http.StatusConflict}
	KindRerouteInFlight  = ProblemKind{problemBase + "reroute-in-flight", "Reroute in progress", http.StatusConflict}
	KindUnsupportedMedia = ProblemKind{problemBase + "unsupported-media-type", "Unsupported media type", http.StatusUnsupportedMediaType}
	KindNoRoute          = ProblemKind{problemBase + "no-route", "No route", http.StatusUnprocessableEntity}
	KindTooManyRequests  = ProblemKind{problemBase + "too-many-requests", "Too many requests", http.StatusTooManyRequests}
	KindInternal         = ProblemKind{problemBase + "internal-error", "Internal server error", http.StatusInternalServerError}
	KindRoutingDown      = ProblemKind{problemBase + "routing-unavailable", "Routing unavailable", http.StatusServiceUnavailable}
	KindUnavailable      = ProblemKind{problemBase + "service-unavailable", "Service unavailable", http.StatusServiceUnavailable}
)

// New builds a problem of kind k for one request.
func (k ProblemKind) New(traceID, detail string) *Problem {
	return &Problem{
		Type:    k.Type,
		Title:   k.Title,
		Status:  k.Status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write sends p with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	h.Del("Content-Length")
	if p.TraceID != "" {
		h.Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
