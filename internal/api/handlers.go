package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/fabula/internal/apperr"
	"github.com/starford/fabula/internal/story"
	"github.com/starford/fabula/internal/storyservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *storyservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *storyservice.Service) *Handler {
	return &Handler{svc: svc}
}

// decode parses and validates a JSON request body.
func decode[T interface{ Validate() error }](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

// fail maps service errors onto HTTP statuses.
func fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrProtected):
		writeError(w, http.StatusConflict, "current state marker cannot be deleted")
	case errors.Is(err, apperr.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ListProjects handles GET /projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.ListProjects(r.Context())
	if err != nil {
		fail(w, "list projects", err)
		return
	}
	if projects == nil {
		projects = []storyservice.Project{}
	}
	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: projects})
}

// CreateProject handles POST /projects.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[CreateProjectRequest](w, r)
	if !ok {
		return
	}
	p, err := h.svc.CreateProject(r.Context(), req.Title, req.RootScene)
	if err != nil {
		fail(w, "create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetStoryTree handles GET /projects/{projectID}/story-tree.
func (h *Handler) GetStoryTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.FetchTree(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, "fetch tree", err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// CreateEvent handles POST /nodes/{nodeID}/events.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[CreateEventRequest](w, r)
	if !ok {
		return
	}
	typ := story.EventType(req.EventType)
	if req.EventType == "" {
		typ = story.EventDialogue
	}
	id, err := h.svc.CreateEvent(r.Context(), chi.URLParam(r, "nodeID"), req.Speaker, req.Content, typ)
	if err != nil {
		fail(w, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// CreateAction handles POST /nodes/{nodeID}/actions.
func (h *Handler) CreateAction(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[CreateActionRequest](w, r)
	if !ok {
		return
	}
	id, err := h.svc.CreateAction(r.Context(), chi.URLParam(r, "nodeID"), req.Description, req.IsKeyAction)
	if err != nil {
		fail(w, "create action", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// DeleteEvent handles DELETE /events/{eventID}.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteEvent(r.Context(), chi.URLParam(r, "eventID")); err != nil {
		fail(w, "delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAction handles DELETE /actions/{actionID}.
func (h *Handler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAction(r.Context(), chi.URLParam(r, "actionID")); err != nil {
		fail(w, "delete action", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchUpdateNode handles PUT /nodes/{nodeID}/batch.
func (h *Handler) BatchUpdateNode(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[BatchUpdateRequest](w, r)
	if !ok {
		return
	}
	results, err := h.svc.BatchUpdateNode(r.Context(), chi.URLParam(r, "nodeID"), req.toService())
	if err != nil {
		fail(w, "batch update", err)
		return
	}
	writeJSON(w, http.StatusOK, BatchUpdateResponse{Results: results})
}

// CreateSnapshot handles POST /projects/{projectID}/history/snapshot.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[CreateSnapshotRequest](w, r)
	if !ok {
		return
	}
	entry, err := h.svc.CreateSnapshot(r.Context(), chi.URLParam(r, "projectID"),
		req.OperationType, req.OperationDescription, req.AffectedNodeID)
	if err != nil {
		fail(w, "create snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, SnapshotResponse{ID: entry.ID, CreatedAt: entry.CreatedAt})
}

// GetHistory handles GET /projects/{projectID}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		fail(w, "get history", err)
		return
	}
	if entries == nil {
		entries = []story.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{History: entries})
}

// Rollback handles POST /projects/{projectID}/history/rollback.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[RollbackRequest](w, r)
	if !ok {
		return
	}
	if err := h.svc.Rollback(r.Context(), chi.URLParam(r, "projectID"), req.SnapshotID); err != nil {
		fail(w, "rollback", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSnapshot handles DELETE /projects/{projectID}/history/{snapshotID}.
func (h *Handler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteSnapshot(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "snapshotID"))
	if err != nil {
		fail(w, "delete snapshot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
