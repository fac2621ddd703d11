// Package httpapi exposes a small local status surface so operators and
// smoke tests can observe a running client without attaching a debugger.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parques-online/client-go/internal/session"
)

func SetupRoutes(s *session.Session) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/status", Status(s))
	return r
}
