package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/resource"
	"github.com/bcnelson/stack-executor/internal/service"
	"github.com/bcnelson/stack-executor/internal/storage"
)

// StackHandler handles stack endpoints.
type StackHandler struct {
	store    storage.Storage
	resolver *resource.Resolver
	executor *service.StackExecutor
}

// NewStackHandler creates a new StackHandler.
func NewStackHandler(store storage.Storage, resolver *resource.Resolver, executor *service.StackExecutor) *StackHandler {
	return &StackHandler{store: store, resolver: resolver, executor: executor}
}

// Create creates a new stack.
func (h *StackHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req domain.CreateStackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Config.ServerID != "" {
		if _, err := h.store.GetServer(r.Context(), req.Config.ServerID); err != nil {
			handleError(w, err)
			return
		}
	}

	now := time.Now()
	stack := &domain.Stack{
		ID:          generateID(),
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.CreateStack(r.Context(), stack); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, stack)
}

// List lists the stacks the caller can read.
func (h *StackHandler) List(w http.ResponseWriter, r *http.Request) {
	stacks, err := h.store.ListStacks(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	user := currentUser(r)
	visible := make([]*domain.Stack, 0, len(stacks))
	for _, stack := range stacks {
		level, err := h.resolver.PermissionLevel(r.Context(), user, domain.ResourceStack, stack.ID)
		if err != nil {
			handleError(w, err)
			return
		}
		if level >= domain.PermissionRead {
			visible = append(visible, stack)
		}
	}

	respondJSON(w, http.StatusOK, visible)
}

// Get gets a stack by id or name.
func (h *StackHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "stack_id")
	if ref == "" {
		respondError(w, http.StatusBadRequest, "stack_id is required")
		return
	}

	stack, err := h.resolver.GetStack(r.Context(), ref)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := h.resolver.CheckPermission(r.Context(), currentUser(r), domain.ResourceStack, stack.ID, domain.PermissionRead); err != nil {
		handleError(w, err)
		return
	}

	SetStackETag(w, stack)
	if CheckStackIfNoneMatch(r, stack) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	respondJSON(w, http.StatusOK, stack)
}

// ActionState returns which operations are running against a stack.
func (h *StackHandler) ActionState(w http.ResponseWriter, r *http.Request) {
	state, err := h.executor.ActionState(r.Context(), currentUser(r), chi.URLParam(r, "stack_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// Refresh recomputes a stack's latest contents and returns the stack.
func (h *StackHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	stack, err := h.executor.RefreshStackCache(r.Context(), currentUser(r), chi.URLParam(r, "stack_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stack)
}
