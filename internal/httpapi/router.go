// Package httpapi is the gateway's client-facing HTTP surface: liveness and
// readiness probes, the bundled browser test page, and the WebSocket
// upgrade route that hands connections off to internal/wsapi.
package httpapi

import (
	"embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

//go:embed static/index.html
var staticFS embed.FS

// Router constructs the gateway's HTTP router. ws is mounted at /ws/asr;
// everything else is the teacher's liveness/readiness/test-page pattern.
func Router(ws http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data, err := staticFS.ReadFile("static/index.html")
		if err != nil {
			http.Error(w, "test page unavailable", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(data)
	})

	r.Handle("/ws/asr", ws)

	return r
}
