package middleware

import (
	"mime"
	"net/http"

	"github.com/breatheroute/navcore/internal/api/models"
)

// acceptedBodyTypes are the request media types the trip endpoints decode.
// Reroute bodies are plain GeoJSON feature collections.
var acceptedBodyTypes = map[string]bool{
	"application/json":     true,
	"application/geo+json": true,
}

// RequireJSON answers 415 to POST, PUT and PATCH requests whose body is
// declared as anything but JSON or GeoJSON. A missing Content-Type passes
// so bodyless reroute requests work.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if ct := r.Header.Get("Content-Type"); ct != "" {
				mediaType, _, err := mime.ParseMediaType(ct)
				if err != nil || !acceptedBodyTypes[mediaType] {
					writeProblem(w, r, models.KindUnsupportedMedia, "Content-Type must be application/json or application/geo+json")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
