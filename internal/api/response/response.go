// Package response writes API responses with the request ID echoed back.
package response

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/breatheroute/navcore/internal/api/middleware"
	"github.com/breatheroute/navcore/internal/api/models"
)

// Content types served by the API.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeGeoJSON = "application/geo+json"
)

// JSON writes data as JSON with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	encoded(w, r, status, ContentTypeJSON, data)
}

// Created writes a 201 pointing at the new resource.
func Created(w http.ResponseWriter, r *http.Request, location string, data any) {
	setLocation(w, location)
	encoded(w, r, http.StatusCreated, ContentTypeJSON, data)
}

// Accepted writes a 202 for work that was queued, pointing at the resource
// where its outcome will show up.
func Accepted(w http.ResponseWriter, r *http.Request, location string, data any) {
	setLocation(w, location)
	encoded(w, r, http.StatusAccepted, ContentTypeJSON, data)
}

// GeoJSON writes a GeoJSON document such as a route feature collection.
func GeoJSON(w http.ResponseWriter, r *http.Request, data json.Marshaler) {
	encoded(w, r, http.StatusOK, ContentTypeGeoJSON, data)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	setRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Problem writes a problem of kind k about the current request.
func Problem(w http.ResponseWriter, r *http.Request, k models.ProblemKind, detail string) {
	write(w, r, k.New(middleware.GetRequestID(r.Context()), detail))
}

// Invalid writes a 400 validation problem listing the offending fields.
func Invalid(w http.ResponseWriter, r *http.Request, detail string, errs ...models.FieldError) {
	p := models.KindValidation.New(middleware.GetRequestID(r.Context()), detail)
	p.Errors = errs
	write(w, r, p)
}

func write(w http.ResponseWriter, r *http.Request, p *models.Problem) {
	p.Instance = r.URL.Path
	p.Write(w)
}

// encoded marshals data before any header goes out, so an encoding failure
// still produces a well formed 500.
func encoded(w http.ResponseWriter, r *http.Request, status int, contentType string, data any) {
	var body bytes.Buffer
	if data != nil {
		if err := json.NewEncoder(&body).Encode(data); err != nil {
			write(w, r, models.KindInternal.New(middleware.GetRequestID(r.Context()), "failed to encode response"))
			return
		}
	}

	setRequestID(w, r)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
}

func setLocation(w http.ResponseWriter, location string) {
	if location != "" {
		w.Header().Set("Location", location)
	}
}
