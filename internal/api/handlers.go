package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/consolidate"
	"github.com/magpielabs/magpie/internal/forget"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInvalidName):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrConfirmationRequired):
		writeJSON(w, http.StatusPreconditionRequired, errorBody("confirmation required"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// --- Domains ---

// ListDomains handles GET /api/domains.
//
//	@Summary	List domains
//	@Tags		domains
//	@Produce	json
//	@Success	200	{object}	DomainListResponse
//	@Security	BearerAuth
//	@Router		/domains [get]
func (h *Handler) ListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.svc.ListDomains()
	if err != nil {
		writeError(w, "list domains", err)
		return
	}
	writeJSON(w, http.StatusOK, DomainListResponse{Domains: domains, Total: len(domains)})
}

// CreateDomain handles POST /api/domains.
//
//	@Summary	Create a domain
//	@Tags		domains
//	@Accept		json
//	@Produce	json
//	@Param		body	body		CreateDomainRequest	true	"Domain to create"
//	@Success	201		{object}	store.Domain
//	@Failure	409		{object}	errResponse
//	@Security	BearerAuth
//	@Router		/domains [post]
func (h *Handler) CreateDomain(w http.ResponseWriter, r *http.Request) {
	var req CreateDomainRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.svc.CreateDomain(store.Domain{
		Name:         req.Name,
		Description:  req.Description,
		Keywords:     req.Keywords,
		Instructions: req.Instructions,
	})
	if err != nil {
		writeError(w, "create domain", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetDomain handles GET /api/domains/{name}.
func (h *Handler) GetDomain(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetDomain(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, "get domain", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateDomain handles PATCH /api/domains/{name}.
func (h *Handler) UpdateDomain(w http.ResponseWriter, r *http.Request) {
	var req UpdateDomainRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.svc.UpdateDomain(chi.URLParam(r, "name"), store.DomainPatch{
		Name:         req.Name,
		Description:  req.Description,
		Keywords:     req.Keywords,
		Instructions: req.Instructions,
	})
	if err != nil {
		writeError(w, "update domain", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeleteDomain handles DELETE /api/domains/{name}. Domains holding
// items refuse deletion unless ?force=true.
func (h *Handler) DeleteDomain(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := h.svc.DeleteDomain(chi.URLParam(r, "name"), force); err != nil {
		writeError(w, "delete domain", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DomainStats handles GET /api/domains/{name}/stats.
func (h *Handler) DomainStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.DomainStats(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, "domain stats", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// --- Items ---

// ListItems handles GET /api/items.
//
//	@Summary	List items with optional filtering
//	@Tags		items
//	@Produce	json
//	@Param		domain	query		string	false	"Filter by domain"
//	@Param		type	query		string	false	"Filter by type"
//	@Param		status	query		string	false	"Filter by status"
//	@Param		tag		query		string	false	"Filter by tag"
//	@Param		sort	query		string	false	"Sort field"	Enums(created, updated, due, priority)
//	@Param		limit	query		int		false	"Max results"
//	@Success	200		{object}	ItemListResponse
//	@Security	BearerAuth
//	@Router		/items [get]
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, err := h.svc.ListItems(store.ItemFilter{
		Domain: q.Get("domain"),
		Type:   q.Get("type"),
		Status: q.Get("status"),
		Tag:    q.Get("tag"),
		Sort:   q.Get("sort"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemListResponse{Items: items, Total: len(items)})
}

// CreateItem handles POST /api/items.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !decode(w, r, &req) {
		return
	}
	it := store.Item{
		Title:    req.Title,
		Type:     req.Type,
		Data:     req.Data,
		Tags:     req.Tags,
		Status:   req.Status,
		Priority: req.Priority,
	}
	if req.Due != nil {
		due, err := time.Parse(time.RFC3339, *req.Due)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("due must be RFC 3339"))
			return
		}
		it.Due = &due
	}
	domain := req.Domain
	if domain == "" {
		domain = models.GeneralDomain
	}
	created, err := h.svc.CreateItem(domain, it)
	if err != nil {
		writeError(w, "create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetItem handles GET /api/items/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.svc.GetItem(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// UpdateItem handles PATCH /api/items/{id}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if !decode(w, r, &req) {
		return
	}
	patch := store.ItemPatch{
		Title:    req.Title,
		Type:     req.Type,
		Data:     req.Data,
		Tags:     req.Tags,
		Status:   req.Status,
		Priority: req.Priority,
	}
	if req.Due != nil {
		due, err := time.Parse(time.RFC3339, *req.Due)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("due must be RFC 3339"))
			return
		}
		patch.Due = &due
	}
	it, err := h.svc.UpdateItem(chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, "update item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// DeleteItem handles DELETE /api/items/{id}.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteItem(chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchItems handles GET /api/search.
//
//	@Summary	Full-text search across items
//	@Tags		search
//	@Produce	json
//	@Param		q		query		string	true	"Search query"
//	@Param		domain	query		string	false	"Restrict to domain"
//	@Param		limit	query		int		false	"Max results"
//	@Success	200		{object}	ItemListResponse
//	@Failure	400		{object}	errResponse
//	@Security	BearerAuth
//	@Router		/search [get]
func (h *Handler) SearchItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.svc.SearchItems(q, r.URL.Query().Get("domain"), limit)
	if err != nil {
		writeError(w, "search items", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemListResponse{Items: items, Total: len(items)})
}

// --- Memory ---

// Detect handles POST /api/detect.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}
	domain, err := h.svc.Detect(req.Text)
	if err != nil {
		writeError(w, "detect", err)
		return
	}
	writeJSON(w, http.StatusOK, DetectResponse{Domain: domain})
}

// LogEpisode handles POST /api/memory/episodic.
func (h *Handler) LogEpisode(w http.ResponseWriter, r *http.Request) {
	var req LogEpisodeRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.svc.LogEpisode(models.Entry{
		Date:       req.Date,
		Agent:      req.Agent,
		Domain:     req.Domain,
		Task:       req.Task,
		Outcome:    req.Outcome,
		Importance: req.Importance,
		Artifacts:  req.Artifacts,
		Followup:   req.Followup,
	})
	if err != nil {
		writeError(w, "log episode", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// EpisodicDates handles GET /api/memory/episodic.
func (h *Handler) EpisodicDates(w http.ResponseWriter, r *http.Request) {
	live, archived, err := h.svc.EpisodicDates()
	if err != nil {
		writeError(w, "list episodic", err)
		return
	}
	if live == nil {
		live = []string{}
	}
	if archived == nil {
		archived = []string{}
	}
	writeJSON(w, http.StatusOK, EpisodicDatesResponse{Dates: live, Archived: archived})
}

// EpisodicDay handles GET /api/memory/episodic/{date}.
func (h *Handler) EpisodicDay(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	entries, err := h.svc.ReadEpisodic(date)
	if err != nil {
		writeError(w, "read episodic", err)
		return
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	writeJSON(w, http.StatusOK, EpisodicDayResponse{Date: date, Entries: entries})
}

// noteKind pulls the {kind} route param, accepting only semantic and
// procedural.
func noteKind(r *http.Request) (models.Kind, bool) {
	kind := models.Kind(chi.URLParam(r, "kind"))
	if kind != models.KindSemantic && kind != models.KindProcedural {
		return "", false
	}
	return kind, true
}

// ListNotes handles GET /api/memory/{kind}.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	kind, ok := noteKind(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("kind must be semantic or procedural"))
		return
	}
	notes, err := h.svc.ListNotes(kind, r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	if notes == nil {
		notes = []models.NoteMeta{}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// GetNote handles GET /api/memory/{kind}/{name}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	kind, ok := noteKind(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("kind must be semantic or procedural"))
		return
	}
	note, err := h.svc.GetNote(kind, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// UpdateNote handles PUT /api/memory/{kind}/{name} with optimistic
// concurrency via the If-Match header.
//
//	@Summary	Replace a memory note
//	@Tags		memory
//	@Accept		json
//	@Produce	json
//	@Param		kind		path	string				true	"semantic or procedural"
//	@Param		name		path	string				true	"Note name"
//	@Param		If-Match	header	string				false	"SHA-256 checksum of the expected current content"
//	@Param		body		body	UpdateNoteRequest	true	"Replacement content"
//	@Success	200			{object}	NoteDetail
//	@Failure	409			{object}	errResponse
//	@Security	BearerAuth
//	@Router		/memory/{kind}/{name} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	kind, ok := noteKind(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("kind must be semantic or procedural"))
		return
	}
	var req UpdateNoteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	note, err := h.svc.UpdateNote(kind, chi.URLParam(r, "name"), []byte(req.Content), ifMatch)
	if err != nil {
		writeError(w, "update note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/memory/{kind}/{name}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	kind, ok := noteKind(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("kind must be semantic or procedural"))
		return
	}
	if err := h.svc.DeleteNote(kind, chi.URLParam(r, "name")); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MemoryIndex handles GET /api/memory/index.
func (h *Handler) MemoryIndex(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ReadIndex()
	if err != nil {
		writeError(w, "read index", err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// RebuildIndex handles POST /api/memory/index.
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RebuildIndex(); err != nil {
		writeError(w, "rebuild index", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// --- Engines ---

// Consolidate handles POST /api/consolidate. Dry-run unless apply=true.
func (h *Handler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req ConsolidateRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := h.svc.Consolidate(r.Context(), req.Today, consolidate.Options{
		Days:          req.Days,
		MinImportance: req.MinImportance,
		Domain:        req.Domain,
		Apply:         req.Apply,
	})
	if err != nil {
		writeError(w, "consolidate", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Forget handles POST /api/forget. Dry-run unless apply=true;
// procedural deletions additionally require confirm=true.
func (h *Handler) Forget(w http.ResponseWriter, r *http.Request) {
	var req ForgetRequest
	if !decode(w, r, &req) {
		return
	}
	sel, err := h.svc.Forget(forget.Filters{
		Search: req.Search,
		Domain: req.Domain,
		Type:   req.Type,
		Before: req.Before,
		File:   req.File,
		All:    req.All,
	}, req.Apply, req.Confirm)
	if err != nil {
		writeError(w, "forget", err)
		return
	}
	writeJSON(w, http.StatusOK, ForgetResponse{Applied: req.Apply, Count: sel.Count(), Selection: sel})
}

// Actions handles GET /api/actions.
func (h *Handler) Actions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	actions, err := h.svc.ListActions(limit)
	if err != nil {
		writeError(w, "list actions", err)
		return
	}
	if actions == nil {
		actions = []store.Action{}
	}
	writeJSON(w, http.StatusOK, ActionListResponse{Actions: actions})
}
