package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

// SearchHandler serves search, saved searches and role grants.
type SearchHandler struct {
	service simpledoc.Service
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(service simpledoc.Service) *SearchHandler {
	return &SearchHandler{service: service}
}

// Routes returns the routes for search
func (h *SearchHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.SearchQueryString)
	r.Post("/", h.Search)
	r.Get("/saved", h.ListSavedSearches)
	r.Post("/saved", h.SaveSearch)

	return r
}

// SearchQueryString runs a search from ?q=&file_type=&tags=&status=&limit=&cursor=.
func (h *SearchHandler) SearchQueryString(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.search(w, r, simpledoc.SearchQuery{
		Text:      q.Get("q"),
		FileTypes: splitList(q.Get("file_type")),
		Tags:      splitList(q.Get("tags")),
		Status:    simpledoc.DocumentStatus(q.Get("status")),
		Limit:     int(limit),
		Cursor:    q.Get("cursor"),
	})
}

// Search runs a search from a JSON SearchQuery body.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var query simpledoc.SearchQuery
	if !decodeJSON(w, r, &query) {
		return
	}
	h.search(w, r, query)
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request, query simpledoc.SearchQuery) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	page, err := h.service.Search(r.Context(), p, query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page.Results == nil {
		page.Results = []*simpledoc.DocumentSummary{}
	}
	render.JSON(w, r, page)
}

// SaveSearchRequest is the request body for saving a search
type SaveSearchRequest struct {
	Name  string                `json:"name"`
	Query simpledoc.SearchQuery `json:"query"`
}

func (h *SearchHandler) SaveSearch(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req SaveSearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	saved, err := h.service.SaveSearch(r.Context(), simpledoc.SaveSearchRequest{
		Principal: p,
		Name:      req.Name,
		Query:     req.Query,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, saved)
}

func (h *SearchHandler) ListSavedSearches(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	searches, err := h.service.ListSavedSearches(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if searches == nil {
		searches = []*simpledoc.SavedSearch{}
	}
	render.JSON(w, r, searches)
}

// RoleHandler manages capabilities a role holds on every document.
type RoleHandler struct {
	service simpledoc.Service
}

// NewRoleHandler creates a new role handler
func NewRoleHandler(service simpledoc.Service) *RoleHandler {
	return &RoleHandler{service: service}
}

// Routes returns the routes for roles
func (h *RoleHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{role}/grants", h.GrantRole)
	r.Post("/{role}/grants/revoke", h.RevokeRole)

	return r
}

// RoleGrantRequest is the request body for role grants
type RoleGrantRequest struct {
	Capabilities simpledoc.CapabilitySet `json:"capabilities"`
}

func (h *RoleHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req RoleGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grant, err := h.service.GrantRole(r.Context(), simpledoc.RoleGrantRequest{
		Actor:        p,
		Role:         chi.URLParam(r, "role"),
		Capabilities: req.Capabilities,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, grant)
}

func (h *RoleHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req RoleGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.service.RevokeRole(r.Context(), simpledoc.RoleGrantRequest{
		Actor:        p,
		Role:         chi.URLParam(r, "role"),
		Capabilities: req.Capabilities,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
