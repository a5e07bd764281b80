package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/storage"
)

// AdminHandler manages servers, repos, variables, users and permissions.
// Every endpoint requires an admin.
type AdminHandler struct {
	store storage.Storage
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(store storage.Storage) *AdminHandler {
	return &AdminHandler{store: store}
}

// CreateServer registers a server running the agent.
func (h *AdminHandler) CreateServer(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req domain.CreateServerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Address == "" {
		respondError(w, http.StatusBadRequest, "name and address are required")
		return
	}

	server := &domain.Server{
		ID:        generateID(),
		Name:      req.Name,
		Address:   req.Address,
		Passkey:   req.Passkey,
		Enabled:   req.Enabled,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateServer(r.Context(), server); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, server)
}

// ListServers lists the registered servers.
func (h *AdminHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	servers, err := h.store.ListServers(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, servers)
}

// CreateRepo creates a repo stacks can link to.
func (h *AdminHandler) CreateRepo(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req domain.CreateRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Config.Repo == "" {
		respondError(w, http.StatusBadRequest, "name and config.repo are required")
		return
	}

	repo := &domain.Repo{
		ID:        generateID(),
		Name:      req.Name,
		Config:    req.Config,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateRepo(r.Context(), repo); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, repo)
}

// SetVariable creates or replaces a variable.
func (h *AdminHandler) SetVariable(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var v domain.Variable
	if err := decodeJSON(r, &v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v.Name = chi.URLParam(r, "name")
	if v.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.store.SetVariable(r.Context(), &v); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, maskSecret(&v))
}

// ListVariables lists variables. Secret values are never returned.
func (h *AdminHandler) ListVariables(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	vars, err := h.store.ListVariables(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	for i, v := range vars {
		vars[i] = maskSecret(v)
	}

	respondJSON(w, http.StatusOK, vars)
}

func maskSecret(v *domain.Variable) *domain.Variable {
	if !v.IsSecret {
		return v
	}
	masked := *v
	masked.Value = ""
	return &masked
}

// CreateUser creates a user that API keys and permissions can refer to.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req domain.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	user := &domain.User{ID: generateID(), Username: req.Username, Admin: req.Admin}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// SetPermission grants a user a level on a resource.
func (h *AdminHandler) SetPermission(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var perm domain.Permission
	if err := decodeJSON(r, &perm); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch perm.ResourceType {
	case domain.ResourceStack, domain.ResourceServer, domain.ResourceRepo:
	default:
		respondError(w, http.StatusBadRequest, "unknown resource_type")
		return
	}
	if perm.UserID == "" || perm.ResourceID == "" {
		respondError(w, http.StatusBadRequest, "user_id and resource_id are required")
		return
	}
	if perm.Level < domain.PermissionNone || perm.Level > domain.PermissionWrite {
		respondError(w, http.StatusBadRequest, "level must be between 0 and 3")
		return
	}
	if _, err := h.store.GetUser(r.Context(), perm.UserID); err != nil {
		handleError(w, err)
		return
	}

	if err := h.store.SetPermission(r.Context(), &perm); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &perm)
}
