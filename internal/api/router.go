package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Domains.
	r.Get("/domains", h.ListDomains)
	r.Post("/domains", h.CreateDomain)
	r.Get("/domains/{name}", h.GetDomain)
	r.Patch("/domains/{name}", h.UpdateDomain)
	r.Delete("/domains/{name}", h.DeleteDomain)
	r.Get("/domains/{name}/stats", h.DomainStats)

	// Items.
	r.Get("/items", h.ListItems)
	r.Post("/items", h.CreateItem)
	r.Get("/items/{id}", h.GetItem)
	r.Patch("/items/{id}", h.UpdateItem)
	r.Delete("/items/{id}", h.DeleteItem)

	// Search and classification.
	r.Get("/search", h.SearchItems)
	r.Post("/detect", h.Detect)

	// Memory files. The static segments (index, episodic) take priority
	// over the {kind} routes.
	r.Get("/memory/index", h.MemoryIndex)
	r.Post("/memory/index", h.RebuildIndex)
	r.Get("/memory/episodic", h.EpisodicDates)
	r.Post("/memory/episodic", h.LogEpisode)
	r.Get("/memory/episodic/{date}", h.EpisodicDay)
	r.Get("/memory/{kind}", h.ListNotes)
	r.Get("/memory/{kind}/{name}", h.GetNote)
	r.Put("/memory/{kind}/{name}", h.UpdateNote)
	r.Delete("/memory/{kind}/{name}", h.DeleteNote)

	// Engines.
	r.Post("/consolidate", h.Consolidate)
	r.Post("/forget", h.Forget)

	// Audit trail.
	r.Get("/actions", h.Actions)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
