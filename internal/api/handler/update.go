package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/resource"
	"github.com/bcnelson/stack-executor/internal/storage"
)

const maxUpdatesPage = 100

// UpdateHandler serves the execution history.
type UpdateHandler struct {
	store    storage.Storage
	resolver *resource.Resolver
}

// NewUpdateHandler creates a new UpdateHandler.
func NewUpdateHandler(store storage.Storage, resolver *resource.Resolver) *UpdateHandler {
	return &UpdateHandler{store: store, resolver: resolver}
}

func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// List lists updates, newest first. Supports target_id, limit and offset.
func (h *UpdateHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if limit == 0 || limit > maxUpdatesPage {
		limit = maxUpdatesPage
	}

	updates, err := h.store.ListUpdates(r.Context(), domain.UpdateListQuery{
		TargetID: r.URL.Query().Get("target_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	user := currentUser(r)
	visible := make([]*domain.Update, 0, len(updates))
	for _, u := range updates {
		level, err := h.resolver.PermissionLevel(r.Context(), user, u.Target.Type, u.Target.ID)
		if err != nil {
			handleError(w, err)
			return
		}
		if level >= domain.PermissionRead {
			visible = append(visible, u)
		}
	}

	respondJSON(w, http.StatusOK, visible)
}

// Get gets one update.
func (h *UpdateHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	u, err := h.store.GetUpdate(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := h.resolver.CheckPermission(r.Context(), currentUser(r), u.Target.Type, u.Target.ID, domain.PermissionRead); err != nil {
		handleError(w, err)
		return
	}

	SetUpdateETag(w, u)
	if CheckUpdateIfNoneMatch(r, u) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	respondJSON(w, http.StatusOK, u)
}
