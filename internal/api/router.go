package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/fabula/internal/storyservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *storyservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Projects.
	r.Get("/projects", h.ListProjects)
	r.Post("/projects", h.CreateProject)
	r.Get("/projects/{projectID}/story-tree", h.GetStoryTree)

	// Node content.
	r.Post("/nodes/{nodeID}/events", h.CreateEvent)
	r.Post("/nodes/{nodeID}/actions", h.CreateAction)
	r.Put("/nodes/{nodeID}/batch", h.BatchUpdateNode)
	r.Delete("/events/{eventID}", h.DeleteEvent)
	r.Delete("/actions/{actionID}", h.DeleteAction)

	// Edit history.
	r.Post("/projects/{projectID}/history/snapshot", h.CreateSnapshot)
	r.Get("/projects/{projectID}/history", h.GetHistory)
	r.Post("/projects/{projectID}/history/rollback", h.Rollback)
	r.Delete("/projects/{projectID}/history/{snapshotID}", h.DeleteSnapshot)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
