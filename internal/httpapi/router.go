// Package httpapi exposes the engine's read-only query endpoints (§6:
// stats, graph, clusters, patterns, timeline, memories, search, export)
// behind a chi router (interfaces/http/rest): GET handlers plus one
// read-only POST /search over the façade — there is no write path here, and nothing in
// this package binds a net.Listener: that decision belongs to cmd/slmd.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"slm-core/internal/facade"
)

// Router builds the loopback-only query surface over f.
type Router struct {
	f   *facade.Facade
	log *zap.SugaredLogger
}

func NewRouter(f *facade.Facade, log *zap.SugaredLogger) *Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Router{f: f, log: log}
}

// Handler assembles the full chi.Router. Callers decide whether and how to
// serve it (e.g. http.Serve on a 127.0.0.1-bound listener only).
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(rt.logMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://127.0.0.1:*", "http://localhost:*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", rt.handleStats)
		r.Get("/graph", rt.handleGraph)
		r.Get("/clusters", rt.handleClusters)
		r.Get("/clusters/{id}", rt.handleClusterDetail)
		r.Get("/patterns", rt.handlePatterns)
		r.Get("/timeline", rt.handleTimeline)
		r.Get("/memories", rt.handleMemories)
		r.Get("/memories/{id}", rt.handleMemory)
		r.Get("/related/{id}", rt.handleRelated)
		r.Post("/search", rt.handleSearch)
		r.Get("/export", rt.handleExport)
	})
	return r
}

func (rt *Router) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rt.log.Debugw("http request", "method", req.Method, "path", req.URL.Path)
		next.ServeHTTP(w, req)
	})
}
